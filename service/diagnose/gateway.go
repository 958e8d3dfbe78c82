package diagnose

import (
	"context"
	"fmt"
	"io"
	"time"

	"PRelay/service/gateway"
	"PRelay/tools/errs"

	"github.com/google/uuid"
)

// Check is one HTTP collaborator check.
type Check struct {
	Name     string
	OK       bool
	Detail   string
	Elapsed  time.Duration
	Err      error
	Kind     string
	Category Category
	Hint     string
}

type GatewayReport struct {
	ID       string
	Checks   []Check
	Messages []gateway.Message // parsed for display only
	Unparsed int
	Pass     bool
}

// CheckGateway runs health, instance listing, then chat and message listing for
// instance. Message parsing is best effort and never fails the run.
func CheckGateway(ctx context.Context, c gateway.Client, instance string) *GatewayReport {
	rep := &GatewayReport{ID: uuid.NewString()}
	run := func(name string, f func() (string, error)) bool {
		start := time.Now()
		detail, err := f()
		ck := Check{Name: name, OK: err == nil, Detail: detail, Elapsed: time.Since(start), Err: err}
		if err != nil {
			ck.Kind, ck.Category = Classify(err)
			ck.Hint = Remediation(ck.Kind, ck.Category)
		}
		rep.Checks = append(rep.Checks, ck)
		return ck.OK
	}

	if !run("health", func() (string, error) { return "", c.Health(ctx) }) {
		rep.finish()
		return rep
	}

	var insts []gateway.Instance
	ok := run("instances", func() (string, error) {
		var err error
		insts, err = c.Instances(ctx)
		if err != nil {
			return "", err
		}
		if instance == "" {
			return fmt.Sprintf("%d instances", len(insts)), nil
		}
		for _, in := range insts {
			if in.Name == instance {
				return fmt.Sprintf("%s status=%s", in.Name, in.Status), nil
			}
		}
		return "", errs.ErrNotFound.WrapMsg("instance not listed", "instance", instance, "listed", len(insts))
	})
	if !ok || instance == "" {
		rep.finish()
		return rep
	}

	var chats []gateway.Chat
	run("chats", func() (string, error) {
		var err error
		chats, err = c.Chats(ctx, instance)
		return fmt.Sprintf("%d chats", len(chats)), err
	})
	if len(chats) > 0 {
		run("messages", func() (string, error) {
			raws, err := c.Messages(ctx, instance, chats[0].ID)
			if err != nil {
				return "", err
			}
			rep.Messages, rep.Unparsed = gateway.ParseMessages(raws)
			return fmt.Sprintf("%d messages in %s (%d unparsed)", len(rep.Messages), chats[0].ID, rep.Unparsed), nil
		})
	}
	rep.finish()
	return rep
}

func (r *GatewayReport) finish() {
	r.Pass = len(r.Checks) > 0
	for _, c := range r.Checks {
		if !c.OK {
			r.Pass = false
		}
	}
}

func (r *GatewayReport) ExitCode() int {
	if r.Pass {
		return 0
	}
	return 1
}

func (r *GatewayReport) Render(w io.Writer) {
	fmt.Fprintln(w, headStyle.Render("gateway diagnostics")+" "+dimStyle.Render("run "+r.ID))
	for _, c := range r.Checks {
		row := fmt.Sprintf("%s %s %s", mark(c.OK), pad(c.Name, 12), c.Detail)
		if c.Err != nil {
			row += " " + failStyle.Render(c.Kind) + dimStyle.Render(" ["+string(c.Category)+"] "+c.Err.Error())
		}
		fmt.Fprintln(w, row)
	}
	for i, m := range r.Messages {
		if i == 5 {
			fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("       ... %d more", len(r.Messages)-5)))
			break
		}
		who := m.PushName
		if m.FromMe {
			who = "me"
		}
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("       %s %-12s %s", m.Timestamp.Format(time.RFC3339), who, m.Text)))
	}

	fmt.Fprintln(w)
	if r.Pass {
		fmt.Fprintln(w, passStyle.Render("PASS"))
		return
	}
	fmt.Fprintln(w, failStyle.Render("FAIL"))
	hinted := false
	for _, c := range r.Checks {
		if c.Hint != "" {
			fmt.Fprintln(w, hintStyle.Render("  -> "+c.Name+": "+c.Hint))
			hinted = true
		}
	}
	if !hinted {
		fmt.Fprintln(w, hintStyle.Render("  -> "+Remediation("", CategoryUnknown)))
	}
}
