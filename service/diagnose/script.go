package diagnose

import (
	"strings"
	"time"
)

// Step is one scripted action: emit an event, wait for a named reply, or both.
// Pause holds afterwards while recording whatever the relay pushes.
type Step struct {
	Emit    string
	Data    any
	Expect  string
	Timeout time.Duration
	Pause   time.Duration
}

type Script []Step

type StepResult struct {
	Index   int
	Emit    string
	Expect  string
	OK      bool
	Elapsed time.Duration
	Err     error
}

// DefaultScript joins the instance room (when one is given), probes once more and
// optionally listens for pushed room events.
func DefaultScript(instance string, wait, listen time.Duration) Script {
	var s Script
	if instance = strings.TrimSpace(instance); instance != "" {
		s = append(s, Step{Emit: "join", Data: map[string]string{"room": instance}, Expect: "joined", Timeout: wait})
	}
	s = append(s, Step{Emit: "ping", Expect: "pong", Timeout: wait, Pause: listen})
	return s
}

// Candidates expands base and instance into the endpoint shapes gateways have been
// seen to use, then appends extra URLs. Order is kept, duplicates dropped.
func Candidates(base, instance string, extra []string) []string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	instance = strings.Trim(strings.TrimSpace(instance), "/")

	var out []string
	seen := map[string]bool{}
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}

	if base != "" {
		add(base + "/relay")
		if instance != "" {
			add(base + "/relay/" + instance)
		}
		add(base + "/socket")
		if instance != "" {
			add(base + "/" + instance)
		}
		add(base)
	}
	for _, u := range extra {
		add(strings.TrimRight(u, "/"))
	}
	return out
}
