// Command sample reads every configured channel once and prints the values.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"edge-telemetry-agent/internal/config"
	"edge-telemetry-agent/internal/logging"
	"edge-telemetry-agent/internal/sensor"
	"edge-telemetry-agent/internal/tasks"
)

func main() {
	var (
		configPath string
		timeout    time.Duration
		level      string
	)
	pflag.StringVarP(&configPath, "config", "c", "config/agent.yaml", "path to YAML config")
	pflag.DurationVar(&timeout, "timeout", 10*time.Second, "give up after this long")
	pflag.StringVar(&level, "log-level", "warn", "log level")
	pflag.Parse()

	if err := run(os.Stdout, configPath, level, timeout); err != nil {
		fmt.Fprintf(os.Stderr, "sample: %v\n", err)
		os.Exit(1)
	}
}

func run(w io.Writer, configPath, level string, timeout time.Duration) error {
	cfg, err := config.LoadYAML(configPath)
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(level, "")
	if err != nil {
		return err
	}
	defer closer.Close()

	s, c, err := tasks.BuildSampler(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return printSnapshot(w, cfg, s.Sample(ctx))
}

func printSnapshot(w io.Writer, cfg config.Config, snap sensor.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tKIND\tVALUE")
	row := func(name, kind string) {
		v := "-"
		if p := snap[name]; p != nil {
			v = strconv.FormatFloat(*p, 'f', -1, 64)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, kind, v)
	}
	for _, n := range cfg.Device.Sensors {
		row(n, "sensor")
	}
	for _, n := range cfg.Device.Actuators {
		row(n, "actuator")
	}
	return tw.Flush()
}
