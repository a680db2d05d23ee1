// Package probe decides whether the device can reach the remote service,
// distinguishing a missing wireless association from an unreachable service.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"edge-telemetry-agent/internal/clock"
	"edge-telemetry-agent/internal/fault"
	"edge-telemetry-agent/internal/transport"
)

// HelloPath is the reachability endpoint.
const HelloPath = "/hello"

// Connectivity is the closed result set of a probe.
type Connectivity int

const (
	Connected Connectivity = iota
	NoWireless
	NoInternet
)

func (c Connectivity) String() string {
	switch c {
	case Connected:
		return "connected"
	case NoWireless:
		return "no_wireless"
	case NoInternet:
		return "no_internet"
	default:
		return fmt.Sprintf("connectivity(%d)", int(c))
	}
}

func (c Connectivity) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Checker is what the mode controller needs from a probe.
type Checker interface {
	Check(ctx context.Context) Connectivity
}

// Options bounds the wireless join wait.
type Options struct {
	JoinAttempts int
	JoinInterval time.Duration
}

// Prober runs the two-tier connectivity check.
type Prober struct {
	assoc   Associator
	http    *transport.Client
	opts    Options
	sleeper clock.Sleeper
	log     *slog.Logger
}

// New builds a Prober. Zero options default to 20 attempts at 1s.
func New(assoc Associator, h *transport.Client, opts Options, sleeper clock.Sleeper, logger *slog.Logger) *Prober {
	if opts.JoinAttempts <= 0 {
		opts.JoinAttempts = 20
	}
	if opts.JoinInterval <= 0 {
		opts.JoinInterval = time.Second
	}
	if sleeper == nil {
		sleeper = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{assoc: assoc, http: h, opts: opts, sleeper: sleeper, log: logger.With("component", "probe")}
}

// Check joins the wireless network if needed, then asks the service for /hello.
func (p *Prober) Check(ctx context.Context) Connectivity {
	if err := p.associate(ctx); err != nil {
		p.log.Warn("wireless unavailable", "kind", fault.Kind(err), "err", err)
		return NoWireless
	}
	resp, err := p.http.Get(ctx, HelloPath)
	if err != nil {
		p.log.Info("service unreachable", "kind", fault.Kind(err), "err", err)
		return NoInternet
	}
	if !resp.OK() {
		err := transport.Rejected(resp)
		p.log.Info("service unhealthy", "kind", fault.Kind(err), "status", resp.Status)
		return NoInternet
	}
	return Connected
}

// associate returns nil once associated, or an error wrapping fault.ErrNotAssociated
// after the attempt cap.
func (p *Prober) associate(ctx context.Context) error {
	if ok, err := p.assoc.Associated(ctx); err == nil && ok {
		return nil
	}
	p.log.Info("joining wireless network")
	if err := p.assoc.Join(ctx); err != nil {
		p.log.Debug("join request failed", "err", err)
	}
	for attempt := 1; attempt <= p.opts.JoinAttempts; attempt++ {
		ok, err := p.assoc.Associated(ctx)
		if err == nil && ok {
			p.log.Info("wireless associated", "attempts", attempt)
			return nil
		}
		if attempt == p.opts.JoinAttempts {
			break
		}
		if err := p.sleeper.Sleep(ctx, p.opts.JoinInterval); err != nil {
			return fmt.Errorf("%w: %w", fault.ErrNotAssociated, err)
		}
	}
	return fmt.Errorf("%w after %d attempts", fault.ErrNotAssociated, p.opts.JoinAttempts)
}
