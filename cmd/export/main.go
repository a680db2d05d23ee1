// Command export writes archived readings from the local archive database to
// JSON and/or CSV files.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"edge-telemetry-agent/internal/config"
	dbpkg "edge-telemetry-agent/internal/db"
	"edge-telemetry-agent/internal/output"
)

type options struct {
	configPath string
	dbPath     string
	outJSON    string
	outCSV     string
	since      time.Duration
}

func main() {
	var o options
	pflag.StringVarP(&o.configPath, "config", "c", "config/agent.yaml", "path to YAML config (locates the archive)")
	pflag.StringVar(&o.dbPath, "db", "", "archive database, overrides the config")
	pflag.StringVar(&o.outJSON, "json", "", "path to write JSON (optional)")
	pflag.StringVar(&o.outCSV, "csv", "", "path to write CSV (optional)")
	pflag.DurationVar(&o.since, "since", 24*time.Hour, "export readings newer than this")
	pflag.Parse()

	n, err := run(context.Background(), o, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("exported %d readings\n", n)
}

func run(ctx context.Context, o options, now time.Time) (int, error) {
	if o.outJSON == "" && o.outCSV == "" {
		return 0, errors.New("no output specified: set --json and/or --csv")
	}
	path := o.dbPath
	if path == "" {
		cfg, err := config.LoadYAML(o.configPath)
		if err != nil {
			return 0, err
		}
		path = cfg.ArchivePath()
	}

	db, err := dbpkg.Open(path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	rs, err := db.Range(ctx, now.Add(-o.since), now)
	if err != nil {
		return 0, err
	}
	if o.outJSON != "" {
		if err := output.WriteJSON(o.outJSON, rs); err != nil {
			return 0, fmt.Errorf("write json: %w", err)
		}
	}
	if o.outCSV != "" {
		if err := output.WriteCSV(o.outCSV, rs); err != nil {
			return 0, fmt.Errorf("write csv: %w", err)
		}
	}
	return len(rs), nil
}
