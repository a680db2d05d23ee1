// Package tasks assembles the agent from its configuration.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"edge-telemetry-agent/internal/archive"
	"edge-telemetry-agent/internal/clock"
	"edge-telemetry-agent/internal/config"
	"edge-telemetry-agent/internal/controller"
	"edge-telemetry-agent/internal/logging"
	"edge-telemetry-agent/internal/probe"
	"edge-telemetry-agent/internal/queue"
	"edge-telemetry-agent/internal/registration"
	"edge-telemetry-agent/internal/status"
	"edge-telemetry-agent/internal/transport"
	"edge-telemetry-agent/internal/uploader"
)

// Options are the command-line overrides of cmd/agent.
type Options struct {
	ConfigPath   string
	LogLevel     string
	LogFile      string
	StatusListen string
	BaseURL      string
	// Steps stops the agent after this many controller steps when > 0.
	Steps int
}

// InitAndRunAgent loads the config, applies overrides, builds every component
// and runs the controller until ctx is cancelled.
func InitAndRunAgent(ctx context.Context, opts Options) error {
	cfg, err := config.LoadYAML(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFile != "" {
		cfg.Log.File = opts.LogFile
	}
	if opts.StatusListen != "" {
		cfg.Status.Listen = opts.StatusListen
	}
	if opts.BaseURL != "" {
		cfg.Server.BaseURL = opts.BaseURL
	}

	logger, closer, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger.Info("agent starting", "device", cfg.Device.Name, "server", cfg.Server.BaseURL,
		"bus", cfg.Bus.Protocol, "archive", cfg.Storage.Archive.Enabled, "status", cfg.Status.Listen)

	a, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Run(ctx, opts.Steps)
}

// Agent is a fully wired controller plus its optional status endpoint.
type Agent struct {
	Controller *controller.Controller
	cfg        config.Config
	log        *slog.Logger
	closers    []func()
}

// Build wires every component described by cfg.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Agent, error) {
	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		return nil, err
	}
	a := &Agent{cfg: cfg, log: logger}

	sampler, samplerCloser, err := BuildSampler(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = samplerCloser.Close() })

	disp, closeDisplay := BuildDisplay(cfg, logger)
	a.closers = append(a.closers, closeDisplay)

	deps := controller.Deps{Sampler: sampler, Display: disp, Logger: logger}
	if cfg.Storage.Archive.Enabled {
		arc, err := archive.Open(ctx, archive.Options{
			Dir:      cfg.Storage.Dir,
			FileType: cfg.Storage.Archive.FileType,
			DBPath:   cfg.ArchivePath(),
			CacheTTL: cfg.Storage.Archive.CacheTTL,
			Channels: Channels(cfg),
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = arc.Close() })
		deps.Archive = arc
	}

	tc := transport.New(cfg.Server.BaseURL, cfg.Server.Timeout, logger)
	regs := registration.NewStore(cfg.RegistrationPath())
	deps.Queue = queue.New(cfg.QueuePath(), logger)
	deps.Registrations = regs
	deps.Registrar = registration.NewClient(tc, regs, logger)
	deps.Uploader = uploader.New(tc, logger)
	deps.Sleeper = clock.Real()
	deps.Probe = probe.New(BuildAssociator(cfg), tc, probe.Options{
		JoinAttempts: cfg.Network.JoinAttempts,
		JoinInterval: cfg.Network.JoinInterval,
	}, deps.Sleeper, logger)

	a.Controller = controller.New(deps, controller.Settings{
		Identity:            registration.Identity{Name: cfg.Device.Name, Status: cfg.Device.Status},
		Sensors:             cfg.Device.Sensors,
		Actuators:           cfg.Device.Actuators,
		SampleInterval:      cfg.Cadence.SampleInterval,
		CacheBatchSize:      cfg.Cadence.CacheBatchSize,
		ProbeInterval:       cfg.Cadence.ProbeInterval,
		MaxUploadFailures:   cfg.Cadence.MaxUploadFailures,
		RelayCooldownCycles: cfg.Cadence.RelayCooldownCycles,
		HotspotSSID:         cfg.Network.HotspotSSID,
		HotspotPassword:     cfg.Network.HotspotPassword,
	})
	return a, nil
}

// Run drives the controller and, when configured, the status endpoint. A
// positive steps bounds the number of controller steps. A status endpoint that
// fails to serve is logged and never stops the controller.
func (a *Agent) Run(ctx context.Context, steps int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Status.Listen != "" {
		srv := status.New(a.cfg.Status.Listen, status.NewRouter(a.Controller, time.Now(), nil), a.log)
		g.Go(func() error {
			if err := srv.Serve(gctx); err != nil {
				a.log.Warn("status endpoint unavailable, continuing without it", "addr", a.cfg.Status.Listen, "err", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer cancel()
		if steps <= 0 {
			a.Controller.Run(gctx)
			return nil
		}
		for i := 0; i < steps && gctx.Err() == nil; i++ {
			a.Controller.Step(gctx)
		}
		return nil
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases every component in reverse order of construction.
func (a *Agent) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
