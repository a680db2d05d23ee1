// Command benchbus serves the agent's configured bus channels over Modbus
// TCP, replaying rows of a CSV file so the agent can run on a bench.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"edge-telemetry-agent/internal/config"
	"edge-telemetry-agent/internal/logging"
	"edge-telemetry-agent/internal/sensorbus"
)

func main() {
	var (
		configPath string
		listen     string
		csvFile    string
		level      string
	)
	pflag.StringVarP(&configPath, "config", "c", "config/agent.yaml", "path to YAML config")
	pflag.StringVar(&listen, "listen", "", "override bench.listen")
	pflag.StringVar(&csvFile, "csv", "", "override bench.csv_file")
	pflag.StringVar(&level, "log-level", "info", "log level")
	pflag.Parse()

	if err := run(configPath, listen, csvFile, level); err != nil {
		fmt.Fprintf(os.Stderr, "benchbus: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, listen, csvFile, level string) error {
	cfg, err := config.LoadYAML(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Bench.Listen = listen
	}
	if csvFile != "" {
		cfg.Bench.CSVFile = csvFile
	}
	logger, closer, err := logging.New(level, "")
	if err != nil {
		return err
	}
	defer closer.Close()

	rows, err := loadCSV(cfg.Bench.CSVFile)
	if err != nil {
		return fmt.Errorf("load csv: %w", err)
	}
	r, err := newReplay(cfg, rows, logger)
	if err != nil {
		return err
	}
	defer r.bus.Close()
	if err := r.bus.Listen(cfg.Bench.Listen); err != nil {
		return fmt.Errorf("start bus: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info("bench bus listening", "addr", r.bus.Addr().String(), "rows", len(rows), "channels", len(r.columns))
	r.run(ctx, cfg.Bench.UpdateInterval)
	logger.Info("shutting down bench bus")
	return nil
}

// replay cycles CSV rows onto the bus.
type replay struct {
	bus     *sensorbus.Bus
	columns map[string]string // channel -> csv column
	rows    []row
	log     *slog.Logger

	mu    sync.Mutex
	index int
}

func newReplay(cfg config.Config, rows []row, logger *slog.Logger) (*replay, error) {
	channels := make([]sensorbus.Channel, 0, len(cfg.Bus.Points))
	columns := make(map[string]string, len(cfg.Bus.Points))
	for _, p := range cfg.Bus.Points {
		reg := strings.ToLower(p.RegisterType)
		if reg == "" {
			reg = "holding"
		}
		if (reg == "holding" || reg == "input") && !strings.EqualFold(p.DataType, "float32") {
			logger.Warn("bench bus serves analogue channels as float32", "channel", p.Name, "data_type", p.DataType)
		}
		channels = append(channels, sensorbus.Channel{Name: p.Name, Address: p.Address, Register: reg})
		col := cfg.Bench.Columns[p.Name]
		if col == "" {
			col = p.Name
		}
		columns[p.Name] = col
	}
	bus, err := sensorbus.New(channels, logger)
	if err != nil {
		return nil, err
	}
	r := &replay{bus: bus, columns: columns, rows: rows, log: logger}
	r.apply(0)
	return r, nil
}

func (r *replay) run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.next()
		}
	}
}

func (r *replay) next() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index = (r.index + 1) % len(r.rows)
	r.applyLocked(r.index)
}

func (r *replay) apply(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyLocked(i)
}

// applyLocked writes row i. A blank cell makes the channel fail its reads.
func (r *replay) applyLocked(i int) {
	if len(r.rows) == 0 {
		return
	}
	rw := r.rows[i]
	for name, col := range r.columns {
		v, ok := rw[col]
		if !ok {
			continue
		}
		var err error
		if v == nil {
			err = r.bus.Fail(name)
		} else {
			err = r.bus.Set(name, *v)
		}
		if err != nil {
			r.log.Warn("set channel", "channel", name, "err", err)
		}
	}
}
