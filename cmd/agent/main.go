package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"edge-telemetry-agent/pkg/agent"
)

func main() {
	var opts agent.Options
	pflag.StringVarP(&opts.ConfigPath, "config", "c", "config/agent.yaml", "path to YAML config")
	pflag.StringVar(&opts.LogLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	pflag.StringVar(&opts.LogFile, "log-file", "", "override log.file")
	pflag.StringVar(&opts.StatusListen, "status-listen", "", "override status.listen, e.g. :8080")
	pflag.StringVar(&opts.BaseURL, "base-url", "", "override server.base_url")
	pflag.IntVar(&opts.Steps, "steps", 0, "stop after this many controller steps (0 runs until signalled)")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := agent.Run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		os.Exit(1)
	}
}
