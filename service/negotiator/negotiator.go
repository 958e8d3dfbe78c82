package negotiator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"PRelay/logger"
	"PRelay/tools/errs"
	"PRelay/tools/timer"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

type Options struct {
	Transports []Transport   // tried in order; the first is preferred
	Attempt    time.Duration // per-transport bound, handshake through the connected frame
	Deadline   time.Duration // absolute bound over all attempts
	Clock      clock.Clock
}

// Attempt records one transport try.
type Attempt struct {
	Mode    string
	Elapsed time.Duration
	Err     error
}

type Result struct {
	Session  Session
	Mode     string
	ID       string
	Attempts []Attempt
	Elapsed  time.Duration
}

// Negotiator connects with two bounds: one per transport attempt and one for the whole
// call. A timed out or failed attempt downgrades to the next transport; an auth
// rejection ends the call since no transport can fix a credential.
type Negotiator struct {
	opts Options
}

func New(opts Options) *Negotiator {
	if len(opts.Transports) == 0 {
		opts.Transports = []Transport{NewWebSocket(), NewPolling()}
	}
	if opts.Attempt <= 0 {
		opts.Attempt = 5 * time.Second
	}
	if opts.Deadline <= 0 {
		opts.Deadline = opts.Attempt * time.Duration(len(opts.Transports)+1)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Negotiator{opts: opts}
}

// TransportsFor maps mode names to transports, keeping the given order.
func TransportsFor(modes []string) ([]Transport, error) {
	out := make([]Transport, 0, len(modes))
	for _, m := range modes {
		switch strings.ToLower(strings.TrimSpace(m)) {
		case ModeWebSocket, "ws":
			out = append(out, NewWebSocket())
		case ModePolling, "poll":
			out = append(out, NewPolling())
		case "":
		default:
			return nil, errs.ErrBadRequest.WrapMsg("unknown transport", "mode", m)
		}
	}
	if len(out) == 0 {
		return nil, errs.ErrBadRequest.WrapMsg("no transports")
	}
	return out, nil
}

// Connect returns a session that has received the relay's connected frame.
// The caller owns the session and must Close it.
func (n *Negotiator) Connect(ctx context.Context, ep Endpoint) (*Result, error) {
	abs := timer.Start(ctx, n.opts.Deadline, n.opts.Clock)
	defer abs.Stop()

	res := &Result{}
	var lastErr error
	for i, tr := range n.opts.Transports {
		if abs.Context().Err() != nil {
			break
		}
		sess, att := n.attempt(abs, tr, ep)
		res.Attempts = append(res.Attempts, att)
		if att.Err == nil {
			res.Session = sess
			res.Mode = tr.Mode()
			res.ID = sess.ID()
			res.Elapsed = abs.Elapsed()
			logger.Infof("[Negotiator] connected url=%s mode=%s id=%s elapsed=%s", ep.URL, res.Mode, res.ID, res.Elapsed)
			return res, nil
		}
		lastErr = att.Err
		if errs.ErrAuthRejected.Is(lastErr) {
			logger.Warnf("[Negotiator] auth rejected url=%s mode=%s", ep.URL, tr.Mode())
			break
		}
		if i+1 < len(n.opts.Transports) {
			logger.Infof("[Negotiator] downgrade url=%s from=%s to=%s kind=%s", ep.URL, tr.Mode(), n.opts.Transports[i+1].Mode(), errs.Kind(lastErr))
		}
	}

	res.Elapsed = abs.Elapsed()
	if abs.Expired() && !errs.ErrAuthRejected.Is(lastErr) {
		lastErr = errs.ErrTransportTimeout.WrapErr(lastErr, "absolute deadline", "deadline", n.opts.Deadline)
	}
	if lastErr == nil {
		lastErr = errs.ErrTransportTimeout.WrapErr(ctx.Err(), "connect cancelled")
	}
	return res, lastErr
}

// attempt runs one transport under its own deadline. On expiry the timer callback
// closes whatever session is in flight, so a hung handshake cannot outlive the bound.
func (n *Negotiator) attempt(abs *timer.Deadline, tr Transport, ep Endpoint) (Session, Attempt) {
	dl := timer.Start(abs.Context(), n.opts.Attempt, n.opts.Clock)
	defer dl.Stop()
	att := Attempt{Mode: tr.Mode()}

	sess, err := tr.Open(dl.Context(), ep)
	if err != nil {
		if dl.Context().Err() != nil && !errs.ErrAuthRejected.Is(err) {
			err = errs.ErrTransportTimeout.WrapErr(err, tr.Mode()+" handshake", "timeout", n.opts.Attempt)
		}
		att.Elapsed, att.Err = dl.Elapsed(), err
		return nil, att
	}
	dl.OnExpire(func() { _ = sess.Close() })
	abs.OnExpire(func() { _ = sess.Close() })

	_, err = Await(dl.Context(), sess, EventConnected, 0, n.opts.Clock, nil)
	att.Elapsed = dl.Elapsed()
	if err != nil {
		_ = sess.Close()
		if dl.Context().Err() != nil && !errs.ErrAuthRejected.Is(err) {
			err = errs.ErrTransportTimeout.WrapMsg("no connected frame", "mode", tr.Mode(), "timeout", n.opts.Attempt)
		}
		att.Err = err
		return nil, att
	}
	return sess, att
}

// Verify runs one application level round trip: emit test with a nonce and wait for
// test_response. An open session that never answers is a ProtocolMismatch.
func (n *Negotiator) Verify(ctx context.Context, sess Session, wait time.Duration) (time.Duration, error) {
	start := n.opts.Clock.Now()
	nonce := uuid.NewString()
	if err := sess.Emit(ctx, EventTest, map[string]string{"nonce": nonce}); err != nil {
		return 0, err
	}
	_, err := Await(ctx, sess, EventTestResponse, wait, n.opts.Clock, nil)
	if err != nil {
		if errs.ErrTransportTimeout.Is(err) {
			return 0, errs.ErrProtocolMismatch.WrapMsg(fmt.Sprintf("no %s within %s", EventTestResponse, wait), "nonce", nonce)
		}
		return 0, err
	}
	return n.opts.Clock.Since(start), nil
}
