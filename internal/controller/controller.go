// Package controller is the agent's scheduler. Each step probes connectivity,
// selects an operating mode from the registration and queue state, and performs
// one unit of that mode's work.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"edge-telemetry-agent/internal/clock"
	"edge-telemetry-agent/internal/display"
	"edge-telemetry-agent/internal/fault"
	"edge-telemetry-agent/internal/model"
	"edge-telemetry-agent/internal/probe"
	"edge-telemetry-agent/internal/registration"
	"edge-telemetry-agent/internal/sensor"
)

// Queue is the durable store of unacknowledged readings.
type Queue interface {
	Read() (model.QueueState, error)
	Append(batch model.Batch) error
	Clear() error
}

// RegistrationStore reads the persisted registration.
type RegistrationStore interface {
	Load() (model.RegistrationRecord, bool, error)
}

// Registrar performs the registration handshake.
type Registrar interface {
	Register(ctx context.Context, id registration.Identity, sensors, actuators []string) (model.RegistrationRecord, error)
}

// Uploader submits the queue to the remote service.
type Uploader interface {
	Upload(ctx context.Context, state model.QueueState, reg model.RegistrationRecord) error
}

// Archiver keeps a local record of samples. Optional.
type Archiver interface {
	Record(ctx context.Context, rs []model.ArchivedReading) error
}

// Deps are the collaborators of the controller.
type Deps struct {
	Queue         Queue
	Registrations RegistrationStore
	Registrar     Registrar
	Probe         probe.Checker
	Uploader      Uploader
	Sampler       sensor.Sampler
	Display       display.Display
	Archive       Archiver
	Sleeper       clock.Sleeper
	Logger        *slog.Logger
	Now           func() time.Time
}

// Settings are the identity, channel layout and cadence of the device.
type Settings struct {
	Identity  registration.Identity
	Sensors   []string
	Actuators []string
	// Title heads every screen.
	Title string

	SampleInterval      time.Duration
	CacheBatchSize      int
	ProbeInterval       time.Duration
	MaxUploadFailures   int
	RelayCooldownCycles int

	HotspotSSID     string
	HotspotPassword string
}

func (s *Settings) applyDefaults() {
	if s.Title == "" {
		s.Title = "HYDROPONICS"
	}
	if s.CacheBatchSize <= 0 {
		s.CacheBatchSize = 5
	}
	if s.SampleInterval <= 0 {
		s.SampleInterval = time.Second
	}
	if s.ProbeInterval <= 0 {
		s.ProbeInterval = 5 * time.Second
	}
	if s.MaxUploadFailures <= 0 {
		s.MaxUploadFailures = 5
	}
	if s.RelayCooldownCycles < 0 {
		s.RelayCooldownCycles = 0
	}
}

// Status is a point-in-time view of the controller for observers.
type Status struct {
	Mode                Mode               `json:"mode"`
	Connectivity        probe.Connectivity `json:"connectivity"`
	Registered          bool               `json:"registered"`
	QueueDepth          int                `json:"queue_depth"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	CooldownRemaining   int                `json:"cooldown_remaining"`
	Latched             bool               `json:"latched"`
	Steps               int64              `json:"steps"`
	Uploads             int64              `json:"uploads"`
	LastUpload          *time.Time         `json:"last_upload,omitempty"`
	LastError           string             `json:"last_error,omitempty"`
}

// Controller owns the single logical thread of the agent. Step and Run must not
// be called concurrently; Snapshot may be called from any goroutine.
type Controller struct {
	d   Deps
	s   Settings
	log *slog.Logger

	// scheduling state, touched only by Step
	relayActive bool
	reg         model.RegistrationRecord
	cooldown    int
	latched     bool
	pending     *probe.Connectivity
	seq         int64
	seqSeeded   bool
	failures    int

	mu     sync.Mutex
	status Status
}

// New builds a controller. Display, Archive, Sleeper, Logger and Now are optional.
func New(d Deps, s Settings) *Controller {
	s.applyDefaults()
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Sleeper == nil {
		d.Sleeper = clock.Real()
	}
	if d.Display == nil {
		d.Display = display.Func(func(...string) {})
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Controller{d: d, s: s, log: d.Logger.With("component", "controller")}
}

// Run steps until ctx is cancelled. It never fails.
func (c *Controller) Run(ctx context.Context) {
	c.log.Info("controller started", "sensors", len(c.s.Sensors), "actuators", len(c.s.Actuators))
	for ctx.Err() == nil {
		c.Step(ctx)
	}
	c.log.Info("controller stopped", "mode", c.Snapshot().Mode)
}

// Snapshot returns the current status.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	if st.LastUpload != nil {
		t := *st.LastUpload
		st.LastUpload = &t
	}
	return st
}

func (c *Controller) update(fn func(*Status)) {
	c.mu.Lock()
	fn(&c.status)
	c.mu.Unlock()
}

// Step performs one unit of work and returns the mode it ran in.
func (c *Controller) Step(ctx context.Context) Mode {
	c.update(func(s *Status) { s.Steps++ })

	switch {
	case c.latched:
		c.dataLogging(ctx)
		return DataLogging
	case c.cooldown > 0:
		c.cooldown--
		c.update(func(s *Status) { s.CooldownRemaining = c.cooldown })
		c.dataBank(ctx)
		return DataBank
	case c.relayActive:
		c.relay(ctx)
		return Relay
	}

	conn := c.connectivity(ctx)
	if ctx.Err() != nil {
		// an interrupted probe says nothing about the link
		return c.Snapshot().Mode
	}
	reg, registered := c.loadRegistration()
	state := c.readQueue()
	mode, cleared := Resolve(registered, !state.Empty(), conn)
	if cleared {
		c.reset(state)
	}
	c.enter(mode, conn, registered)

	switch mode {
	case Registration:
		c.register(ctx)
	case Relay:
		c.reg = reg
		c.relayActive = true
		c.failures = 0
		c.update(func(s *Status) { s.ConsecutiveFailures = 0 })
		c.relay(ctx)
	case DataBank:
		c.dataBank(ctx)
	case DataLogging:
		c.latched = true
		c.update(func(s *Status) { s.Latched = true })
		c.d.Display.Show(c.s.Title, "wifi failure", "create new hotspot", "N="+c.s.HotspotSSID, "P="+c.s.HotspotPassword)
		c.dataLogging(ctx)
	case Standby:
		c.standby(ctx)
	}
	return mode
}

// connectivity returns a connectivity result carried over from the previous
// step, or probes.
func (c *Controller) connectivity(ctx context.Context) probe.Connectivity {
	if c.pending != nil {
		conn := *c.pending
		c.pending = nil
		return conn
	}
	return c.d.Probe.Check(ctx)
}

func (c *Controller) enter(m Mode, conn probe.Connectivity, registered bool) {
	var (
		prev  Mode
		first bool
	)
	c.update(func(s *Status) {
		prev, first = s.Mode, s.Steps == 1
		s.Mode = m
		s.Connectivity = conn
		s.Registered = registered
	})
	if prev != m || first {
		c.log.Info("mode selected", "mode", m, "connectivity", conn, "registered", registered)
	} else {
		c.log.Debug("mode selected", "mode", m, "connectivity", conn)
	}
}

func (c *Controller) loadRegistration() (model.RegistrationRecord, bool) {
	rec, ok, err := c.d.Registrations.Load()
	if err != nil {
		c.log.Warn("registration unreadable, treating as unregistered", "kind", fault.Kind(err), "err", err)
		return model.RegistrationRecord{}, false
	}
	return rec, ok
}

func (c *Controller) readQueue() model.QueueState {
	st, err := c.d.Queue.Read()
	if err != nil {
		c.log.Warn("queue unreadable, treating as empty", "kind", fault.Kind(err), "err", err)
	}
	c.update(func(s *Status) { s.QueueDepth = st.Len() })
	return st
}

// reset drops readings gathered under a registration that no longer exists.
func (c *Controller) reset(stale model.QueueState) {
	c.log.Warn("clearing queue without registration", "mode", Reset, "readings", stale.Len())
	c.d.Display.Show(c.s.Title, "RESET", "clearing queue")
	if err := c.d.Queue.Clear(); err != nil {
		c.log.Error("clear queue failed", "kind", fault.Kind(err), "err", err)
	}
	c.update(func(s *Status) { s.QueueDepth = 0 })
}

func (c *Controller) register(ctx context.Context) {
	c.d.Display.Show(c.s.Title, "REGISTRATION MODE")
	rec, err := c.d.Registrar.Register(ctx, c.s.Identity, c.s.Sensors, c.s.Actuators)
	if err != nil {
		c.fail(err)
		c.log.Warn("registration failed", "mode", Registration, "kind", fault.Kind(err), "err", err)
		c.d.Display.Show(c.s.Title, "REGISTRATION FAILED")
		_ = c.d.Sleeper.Sleep(ctx, c.s.ProbeInterval)
		return
	}
	c.log.Info("registration complete", "device_id", rec.DeviceID, "sensors", len(rec.Sensors), "actuators", len(rec.Actuators))
	c.d.Display.Show(c.s.Title, "REGISTRATION SUCCESSFUL")
	c.update(func(s *Status) { s.Registered = true; s.LastError = "" })
}

// relay runs one relay cycle: cache a batch, upload the whole queue, and on
// acknowledgement clear it.
func (c *Controller) relay(ctx context.Context) {
	if rec, ok := c.loadRegistration(); ok {
		c.reg = rec
	} else {
		err := fmt.Errorf("relay: %w", fault.ErrRegistrationMissing)
		c.fail(err)
		c.log.Warn("leaving relay", "kind", fault.Kind(err), "err", err)
		c.relayActive = false
		return
	}

	c.d.Display.Show(c.s.Title, "Data MODE", "sending..")
	c.cache(ctx, Relay)
	if ctx.Err() != nil {
		return
	}

	state := c.readQueue()
	err := c.d.Uploader.Upload(ctx, state, c.reg)
	c.update(func(s *Status) { s.Uploads++ })
	if err == nil {
		if err := c.d.Queue.Clear(); err != nil {
			c.log.Error("clear queue after upload failed", "kind", fault.Kind(err), "err", err)
		}
		now := c.d.Now()
		c.failures = 0
		c.update(func(s *Status) {
			s.QueueDepth = 0
			s.ConsecutiveFailures = 0
			s.LastUpload = &now
			s.LastError = ""
		})
		c.d.Display.Show(c.s.Title, "Data MODE", "sent...")
		return
	}

	c.failures++
	n := c.failures
	c.fail(err)
	c.update(func(s *Status) { s.ConsecutiveFailures = n })
	c.log.Warn("upload failed", "mode", Relay, "kind", fault.Kind(err), "failures", n, "queued", state.Len(), "err", err)
	c.d.Display.Show(c.s.Title, "Data MODE", "retries:"+strconv.Itoa(n))

	if n >= c.s.MaxUploadFailures {
		c.log.Warn("upload failure ceiling reached, banking", "failures", n, "cooldown_cycles", c.s.RelayCooldownCycles)
		c.d.Display.Show(c.s.Title, "max retries ", "banking data")
		c.relayActive = false
		c.failures = 0
		c.cooldown = c.s.RelayCooldownCycles
		c.update(func(s *Status) {
			s.Mode = DataBank
			s.ConsecutiveFailures = 0
			s.CooldownRemaining = c.cooldown
		})
		return
	}
	if errors.Is(err, fault.ErrTransport) {
		conn := c.d.Probe.Check(ctx)
		if ctx.Err() != nil {
			return
		}
		c.update(func(s *Status) { s.Connectivity = conn })
		if conn != probe.Connected {
			c.log.Info("leaving relay", "connectivity", conn, "failures", n)
			c.relayActive = false
			c.failures = 0
			c.pending = &conn
			c.update(func(s *Status) { s.ConsecutiveFailures = 0 })
		}
	}
}

// dataBank runs one caching cycle without uploading.
func (c *Controller) dataBank(ctx context.Context) {
	c.d.Display.Show(c.s.Title, "DATA BANK MODE", "storing..")
	c.cache(ctx, DataBank)
}

// dataLogging samples once and records locally. The queue is never written.
func (c *Controller) dataLogging(ctx context.Context) {
	snap := c.d.Sampler.Sample(ctx)
	seq := c.nextSequence()
	c.archive(ctx, DataLogging, seq, snap)
	c.d.Display.Show(c.screen(snap)...)
	_ = c.d.Sleeper.Sleep(ctx, c.s.SampleInterval)
}

func (c *Controller) standby(ctx context.Context) {
	snap := c.d.Sampler.Sample(ctx)
	c.archive(ctx, Standby, c.nextSequence(), snap)
	c.d.Display.Show(append([]string{c.s.Title, "server unreachable"}, c.values(snap)...)...)
	_ = c.d.Sleeper.Sleep(ctx, c.s.ProbeInterval)
}

// cache samples CacheBatchSize times at SampleInterval and appends the batch to
// the queue. Samples taken before a cancellation are still flushed.
func (c *Controller) cache(ctx context.Context, m Mode) {
	var batch model.Batch
	for i := 0; i < c.s.CacheBatchSize; i++ {
		snap := c.d.Sampler.Sample(ctx)
		seq := c.nextSequence()
		for _, n := range c.s.Sensors {
			batch.Sensors = append(batch.Sensors, model.NewReading(n, snap[n], seq))
		}
		for _, n := range c.s.Actuators {
			batch.Actuators = append(batch.Actuators, model.NewReading(n, snap[n], seq))
		}
		c.archive(ctx, m, seq, snap)
		if err := c.d.Sleeper.Sleep(ctx, c.s.SampleInterval); err != nil {
			break
		}
	}
	if err := c.d.Queue.Append(batch); err != nil {
		c.fail(err)
		c.log.Error("queue append failed", "mode", m, "kind", fault.Kind(err), "err", err)
		return
	}
	c.readQueue()
}

func (c *Controller) archive(ctx context.Context, m Mode, seq int64, snap sensor.Snapshot) {
	if c.d.Archive == nil {
		return
	}
	now := c.d.Now()
	rs := make([]model.ArchivedReading, 0, len(c.s.Sensors)+len(c.s.Actuators))
	for _, n := range c.s.Sensors {
		rs = append(rs, model.ArchivedReading{Channel: n, Kind: model.KindSensor, Sequence: seq, Value: snap[n], Mode: m.String(), Timestamp: now})
	}
	for _, n := range c.s.Actuators {
		rs = append(rs, model.ArchivedReading{Channel: n, Kind: model.KindActuator, Sequence: seq, Value: snap[n], Mode: m.String(), Timestamp: now})
	}
	if err := c.d.Archive.Record(context.WithoutCancel(ctx), rs); err != nil {
		c.log.Warn("archive write failed", "mode", m, "err", err)
	}
}

// nextSequence numbers sampling ticks. The counter continues after the highest
// sequence still queued so numbers stay monotonic across restarts.
func (c *Controller) nextSequence() int64 {
	if !c.seqSeeded {
		st, err := c.d.Queue.Read()
		if err != nil {
			c.log.Warn("queue unreadable, sequence starts at 1", "kind", fault.Kind(err), "err", err)
		}
		c.seq = st.MaxSequence()
		c.seqSeeded = true
	}
	c.seq++
	return c.seq
}

func (c *Controller) fail(err error) {
	c.update(func(s *Status) { s.LastError = fault.Kind(err) + ": " + err.Error() })
}

func (c *Controller) screen(snap sensor.Snapshot) []string {
	return append([]string{c.s.Title}, c.values(snap)...)
}

func (c *Controller) values(snap sensor.Snapshot) []string {
	out := make([]string, 0, len(c.s.Sensors)+len(c.s.Actuators))
	for _, n := range append(append([]string{}, c.s.Sensors...), c.s.Actuators...) {
		v := "--"
		if p := snap[n]; p != nil {
			v = strconv.FormatFloat(*p, 'f', 2, 64)
		}
		out = append(out, n+"="+v)
	}
	return out
}
