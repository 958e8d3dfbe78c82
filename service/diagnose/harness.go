package diagnose

import (
	"context"
	"sort"
	"time"

	"PRelay/logger"
	"PRelay/service/negotiator"
	"PRelay/tools/errs"
	"PRelay/tools/timer"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

type Options struct {
	Credential string
	ProbeWait  time.Duration // test -> test_response window
	Script     Script
	Clock      clock.Clock
}

// CandidateResult is the verdict for one endpoint shape.
type CandidateResult struct {
	URL       string
	Reachable bool
	Verified  bool
	Transport string
	Latency   time.Duration
	Attempts  []negotiator.Attempt
	Steps     []StepResult
	Observed  map[string]int // events pushed by the relay outside any expectation
	Err       error
	Kind      string
	Category  Category
	Hint      string
}

// Passed reports a verified connection whose scripted steps all succeeded.
func (c CandidateResult) Passed() bool {
	if !c.Verified || c.Err != nil {
		return false
	}
	for _, s := range c.Steps {
		if !s.OK {
			return false
		}
	}
	return true
}

// Harness runs connect, verify and the probe script against each candidate in turn.
type Harness struct {
	neg  *negotiator.Negotiator
	opts Options
}

func NewHarness(neg *negotiator.Negotiator, opts Options) *Harness {
	if opts.ProbeWait <= 0 {
		opts.ProbeWait = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Harness{neg: neg, opts: opts}
}

func (h *Harness) Run(ctx context.Context, urls []string) *Report {
	rep := &Report{ID: uuid.NewString(), Started: h.opts.Clock.Now()}
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		cr := h.runCandidate(ctx, u)
		logger.Infof("[Diag] run=%s url=%s verified=%v transport=%s kind=%s", rep.ID, u, cr.Verified, cr.Transport, cr.Kind)
		rep.Candidates = append(rep.Candidates, cr)
	}
	rep.Elapsed = h.opts.Clock.Since(rep.Started)
	rep.finish()
	return rep
}

func (h *Harness) runCandidate(ctx context.Context, url string) CandidateResult {
	cr := CandidateResult{URL: url, Observed: map[string]int{}}

	res, err := h.neg.Connect(ctx, negotiator.Endpoint{URL: url, Credential: h.opts.Credential})
	if res != nil {
		cr.Attempts = res.Attempts
	}
	if err != nil {
		cr.fail(err)
		cr.Reachable = reached(err)
		return cr
	}
	sess := res.Session
	defer sess.Close()
	cr.Reachable = true
	cr.Transport = res.Mode

	rtt, err := h.neg.Verify(ctx, sess, h.opts.ProbeWait)
	if err != nil {
		cr.fail(err)
		return cr
	}
	cr.Verified = true
	cr.Latency = rtt

	for i, step := range h.opts.Script {
		sr := h.runStep(ctx, sess, i, step, cr.Observed)
		cr.Steps = append(cr.Steps, sr)
		if !sr.OK {
			cr.fail(sr.Err)
			break
		}
	}
	return cr
}

func (h *Harness) runStep(ctx context.Context, sess negotiator.Session, i int, st Step, observed map[string]int) StepResult {
	sr := StepResult{Index: i, Emit: st.Emit, Expect: st.Expect}
	start := h.opts.Clock.Now()
	note := func(ev negotiator.Event) { observed[ev.Name]++ }

	if st.Emit != "" {
		if err := sess.Emit(ctx, st.Emit, st.Data); err != nil {
			sr.Err = err
			sr.Elapsed = h.opts.Clock.Since(start)
			return sr
		}
	}
	if st.Expect != "" {
		wait := st.Timeout
		if wait <= 0 {
			wait = h.opts.ProbeWait
		}
		if _, err := negotiator.Await(ctx, sess, st.Expect, wait, h.opts.Clock, note); err != nil {
			if errs.ErrTransportTimeout.Is(err) {
				err = errs.ErrProtocolMismatch.WrapMsg("no "+st.Expect, "after", st.Emit, "wait", wait)
			}
			sr.Err = err
			sr.Elapsed = h.opts.Clock.Since(start)
			return sr
		}
	}
	sr.Elapsed = h.opts.Clock.Since(start)
	if st.Pause > 0 {
		listen(ctx, sess, st.Pause, h.opts.Clock, note)
	}
	sr.OK = true
	return sr
}

// listen records pushed events for d. It is a bounded wait, not a failure point.
func listen(ctx context.Context, sess negotiator.Session, d time.Duration, clk clock.Clock, note func(negotiator.Event)) {
	dl := timer.Start(ctx, d, clk)
	defer dl.Stop()
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			note(ev)
		case <-dl.Done():
			return
		}
	}
}

func (c *CandidateResult) fail(err error) {
	c.Err = err
	c.Kind, c.Category = Classify(err)
	c.Hint = Remediation(c.Kind, c.Category)
}

// reached reports whether the failure came from something that answered.
func reached(err error) bool {
	switch errs.Code(err) {
	case errs.AuthRejectedCode, errs.NotAdmittedCode, errs.NotFoundCode, errs.ProtocolMismatchCode:
		return true
	}
	return false
}

// ObservedNames lists observed event names, sorted, for rendering.
func (c CandidateResult) ObservedNames() []string {
	out := make([]string, 0, len(c.Observed))
	for k := range c.Observed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
