package diagnose

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Report is the outcome of one harness run.
type Report struct {
	ID         string
	Started    time.Time
	Elapsed    time.Duration
	Candidates []CandidateResult
	Pass       bool
}

func (r *Report) finish() {
	r.Pass = false
	for _, c := range r.Candidates {
		if c.Passed() {
			r.Pass = true
			return
		}
	}
}

// ExitCode follows the CLI convention: 0 pass, 1 any failure.
func (r *Report) ExitCode() int {
	if r.Pass {
		return 0
	}
	return 1
}

// Best returns the first passing candidate, if any.
func (r *Report) Best() (CandidateResult, bool) {
	for _, c := range r.Candidates {
		if c.Passed() {
			return c, true
		}
	}
	return CandidateResult{}, false
}

var (
	passStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	urlWidth   = 44
	transWidth = 10
)

func mark(ok bool) string {
	if ok {
		return passStyle.Render("ok  ")
	}
	return failStyle.Render("FAIL")
}

func pad(s string, w int) string {
	if n := lipgloss.Width(s); n < w {
		return s + strings.Repeat(" ", w-n)
	}
	return s
}

// Render prints one row per candidate and the verdict. A failing run always ends
// with at least one remediation line.
func (r *Report) Render(w io.Writer) {
	fmt.Fprintln(w, headStyle.Render("relay diagnostics")+" "+dimStyle.Render("run "+r.ID))
	for _, c := range r.Candidates {
		transport := c.Transport
		if transport == "" {
			transport = "-"
		}
		row := fmt.Sprintf("%s %s %s", mark(c.Passed()), pad(c.URL, urlWidth), pad(transport, transWidth))
		if c.Verified {
			row += fmt.Sprintf(" rtt=%s", c.Latency.Round(time.Millisecond))
		}
		if c.Err != nil {
			row += " " + failStyle.Render(c.Kind) + dimStyle.Render(" ["+string(c.Category)+"]")
		}
		fmt.Fprintln(w, row)

		for _, a := range c.Attempts {
			line := fmt.Sprintf("       attempt %-9s %s", a.Mode, a.Elapsed.Round(time.Millisecond))
			if a.Err != nil {
				line += " " + a.Err.Error()
			}
			fmt.Fprintln(w, dimStyle.Render(line))
		}
		for _, s := range c.Steps {
			line := fmt.Sprintf("       step %d %s -> %s %s", s.Index+1, dash(s.Emit), dash(s.Expect), s.Elapsed.Round(time.Millisecond))
			if s.Err != nil {
				line += " " + s.Err.Error()
			}
			fmt.Fprintln(w, dimStyle.Render(line))
		}
		if names := c.ObservedNames(); len(names) > 0 {
			parts := make([]string, 0, len(names))
			for _, n := range names {
				parts = append(parts, fmt.Sprintf("%s×%d", n, c.Observed[n]))
			}
			fmt.Fprintln(w, dimStyle.Render("       observed "+strings.Join(parts, " ")))
		}
	}

	fmt.Fprintln(w)
	if r.Pass {
		best, _ := r.Best()
		fmt.Fprintf(w, "%s %s via %s (%s)\n", passStyle.Render("PASS"), best.URL, best.Transport, r.Elapsed.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(w, "%s no candidate verified (%d tried, %s)\n", failStyle.Render("FAIL"), len(r.Candidates), r.Elapsed.Round(time.Millisecond))
	for _, h := range r.Hints() {
		fmt.Fprintln(w, hintStyle.Render("  -> "+h))
	}
}

// Hints lists distinct remediation lines of failed candidates; never empty on failure.
func (r *Report) Hints() []string {
	var out []string
	seen := map[string]bool{}
	for _, c := range r.Candidates {
		if c.Hint != "" && !seen[c.Hint] {
			seen[c.Hint] = true
			out = append(out, c.Hint)
		}
	}
	if len(out) == 0 && !r.Pass {
		out = append(out, Remediation("", CategoryUnknown))
	}
	return out
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
