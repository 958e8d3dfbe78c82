package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PRelay/global/config"
	"PRelay/logger"
	"PRelay/service/diagnose"
	"PRelay/service/gateway"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	conf, err := config.LoadDiag()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	fs := flag.NewFlagSet("gateway-diag", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&conf.GatewayURL, "url", conf.GatewayURL, "gateway base URL")
	fs.StringVar(&conf.APIKey, "apikey", conf.APIKey, "gateway apikey")
	fs.StringVar(&conf.Instance, "instance", conf.Instance, "instance to inspect")
	timeout := fs.Duration("timeout", 10*time.Second, "per-request timeout")
	verbose := fs.BoolP("verbose", "v", false, "debug logging")
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

	client := gateway.NewHTTPClient(conf.GatewayURL, conf.APIKey, *timeout)
	rep := diagnose.CheckGateway(ctx, client, conf.Instance)
	rep.Render(stdout)
	return rep.ExitCode()
}
