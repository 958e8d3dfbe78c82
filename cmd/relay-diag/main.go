package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"PRelay/global/config"
	"PRelay/logger"
	"PRelay/service/diagnose"
	"PRelay/service/negotiator"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run returns the process exit code: 0 when a transport passed the script, 1 otherwise.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	conf, err := config.LoadDiag()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	fs := flag.NewFlagSet("relay-diag", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&conf.BaseURL, "url", conf.BaseURL, "relay base URL")
	fs.StringVar(&conf.APIKey, "apikey", conf.APIKey, "shared credential")
	fs.StringVar(&conf.Instance, "instance", conf.Instance, "instance / room to join")
	fs.DurationVar(&conf.Attempt, "attempt-timeout", conf.Attempt, "per-transport connect bound")
	fs.DurationVar(&conf.Deadline, "deadline", conf.Deadline, "absolute connect bound over all transports")
	fs.DurationVar(&conf.ProbeWait, "probe-wait", conf.ProbeWait, "wait for each scripted reply")
	fs.DurationVar(&conf.Listen, "listen", conf.Listen, "listen for pushed events after the script")
	fs.StringSliceVar(&conf.Transports, "transports", conf.Transports, "transports in preference order")
	extra := fs.StringArray("candidate", nil, "extra endpoint URL to try (repeatable)")
	verbose := fs.BoolP("verbose", "v", false, "log every attempt")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	conf.Finish()

	logger.SetLevel(conf.LogLevel)
	if *verbose {
		logger.SetLevel("debug")
	}

	transports, err := negotiator.TransportsFor(conf.Transports)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	neg := negotiator.New(negotiator.Options{
		Transports: transports,
		Attempt:    conf.Attempt,
		Deadline:   conf.Deadline,
	})
	h := diagnose.NewHarness(neg, diagnose.Options{
		Credential: conf.APIKey,
		ProbeWait:  conf.ProbeWait,
		Script:     diagnose.DefaultScript(conf.Instance, conf.ProbeWait, conf.Listen),
	})

	rep := h.Run(ctx, diagnose.Candidates(conf.BaseURL, conf.Instance, *extra))
	rep.Render(stdout)
	return rep.ExitCode()
}
