package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"edge-telemetry-agent/internal/clock"
	"edge-telemetry-agent/internal/display"
	"edge-telemetry-agent/internal/fault"
	"edge-telemetry-agent/internal/logging"
	"edge-telemetry-agent/internal/model"
	"edge-telemetry-agent/internal/probe"
	"edge-telemetry-agent/internal/queue"
	"edge-telemetry-agent/internal/registration"
	"edge-telemetry-agent/internal/sensor"
	"edge-telemetry-agent/internal/transport"
	"edge-telemetry-agent/internal/uploader"
)

func TestSelectModeTable(t *testing.T) {
	type key struct {
		registered, queued bool
		conn               probe.Connectivity
	}
	want := map[key]Mode{
		{false, false, probe.Connected}:  Registration,
		{false, false, probe.NoInternet}: Standby,
		{false, false, probe.NoWireless}: DataLogging,
		{false, true, probe.Connected}:   Reset,
		{false, true, probe.NoInternet}:  Reset,
		{false, true, probe.NoWireless}:  Reset,
		{true, false, probe.Connected}:   Relay,
		{true, false, probe.NoInternet}:  DataBank,
		{true, false, probe.NoWireless}:  DataLogging,
		{true, true, probe.Connected}:    Relay,
		{true, true, probe.NoInternet}:   DataBank,
		{true, true, probe.NoWireless}:   DataLogging,
	}
	if len(want) != 12 {
		t.Fatalf("table must cover all 12 combinations")
	}
	for k, m := range want {
		if got := SelectMode(k.registered, k.queued, k.conn); got != m {
			t.Fatalf("SelectMode(%v, %v, %s) = %s, want %s", k.registered, k.queued, k.conn, got, m)
		}
		got, cleared := Resolve(k.registered, k.queued, k.conn)
		if m == Reset {
			if !cleared || got == Reset {
				t.Fatalf("Resolve(%v, %v, %s) must pass through reset, got %s cleared=%v", k.registered, k.queued, k.conn, got, cleared)
			}
			if after := SelectMode(k.registered, false, k.conn); got != after {
				t.Fatalf("reset must re-evaluate with an empty queue: got %s want %s", got, after)
			}
		} else if cleared || got != m {
			t.Fatalf("Resolve(%v, %v, %s) = %s cleared=%v, want %s", k.registered, k.queued, k.conn, got, cleared, m)
		}
	}
}

// scripted returns connectivity results in order, repeating the last one.
type scripted struct {
	mu      sync.Mutex
	results []probe.Connectivity
	calls   int
}

func (s *scripted) Check(context.Context) probe.Connectivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i]
}

func (s *scripted) set(c ...probe.Connectivity) {
	s.mu.Lock()
	s.results, s.calls = c, 0
	s.mu.Unlock()
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type countingArchive struct {
	mu    sync.Mutex
	rows  []model.ArchivedReading
	modes map[string]int
}

func (a *countingArchive) Record(_ context.Context, rs []model.ArchivedReading) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.modes == nil {
		a.modes = map[string]int{}
	}
	for _, r := range rs {
		a.modes[r.Mode]++
	}
	a.rows = append(a.rows, rs...)
	return nil
}

type fakeUploader struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (u *fakeUploader) Upload(context.Context, model.QueueState, model.RegistrationRecord) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	var err error
	if u.calls < len(u.errs) {
		err = u.errs[u.calls]
	} else if len(u.errs) > 0 {
		err = u.errs[len(u.errs)-1]
	}
	u.calls++
	return err
}

// fakeService is the remote collection service.
type fakeService struct {
	mu        sync.Mutex
	statuses  []int // answers for /readings, last one repeats
	uploads   []uploader.Payload
	registers atomic.Int32
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(registration.Path, func(w http.ResponseWriter, req *http.Request) {
		f.registers.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"dev-1","sensors":[{"name":"ph","_id":"abc"},{"name":"tds","_id":"def"}],"actuators":[{"name":"pump","_id":"p1"}]}`))
	}).Methods(http.MethodPost)
	r.HandleFunc(uploader.Path, func(w http.ResponseWriter, req *http.Request) {
		var p uploader.Payload
		if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
			t.Errorf("decode upload: %v", err)
		}
		f.mu.Lock()
		f.uploads = append(f.uploads, p)
		status := http.StatusCreated
		if n := len(f.statuses); n > 0 {
			i := len(f.uploads) - 1
			if i >= n {
				i = n - 1
			}
			status = f.statuses[i]
		}
		f.mu.Unlock()
		w.WriteHeader(status)
	}).Methods(http.MethodPost)
	return r
}

func (f *fakeService) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

type harness struct {
	ctrl    *Controller
	queue   *queue.Store
	regs    *registration.Store
	probe   *scripted
	service *fakeService
	screen  *display.Recorder
	sleeper *clock.Recorder
	archive *countingArchive
	samples atomic.Int32
}

const batchSize = 2

func newHarness(t *testing.T, up Uploader, conn ...probe.Connectivity) *harness {
	t.Helper()
	dir := t.TempDir()
	log := logging.Discard()
	h := &harness{
		queue:   queue.New(filepath.Join(dir, "queue.json"), log),
		regs:    registration.NewStore(filepath.Join(dir, "registration.json")),
		probe:   &scripted{results: conn},
		service: &fakeService{},
		screen:  &display.Recorder{},
		sleeper: &clock.Recorder{},
		archive: &countingArchive{},
	}
	srv := httptest.NewServer(h.service.handler(t))
	t.Cleanup(srv.Close)
	tc := transport.New(srv.URL, time.Second, log)
	if up == nil {
		up = uploader.New(tc, log)
	}
	sampler := sensor.Func(func(context.Context) sensor.Snapshot {
		n := float64(h.samples.Add(1))
		ph, tds, pump := 6+n/10, 800+n, 1.0
		return sensor.Snapshot{"ph": &ph, "tds": &tds, "pump": &pump}
	})
	h.ctrl = New(Deps{
		Queue:         h.queue,
		Registrations: h.regs,
		Registrar:     registration.NewClient(tc, h.regs, log),
		Probe:         h.probe,
		Uploader:      up,
		Sampler:       sampler,
		Display:       h.screen,
		Archive:       h.archive,
		Sleeper:       h.sleeper,
		Logger:        log,
	}, Settings{
		Identity:            registration.Identity{Name: "iot-pico", Status: "active"},
		Sensors:             []string{"ph", "tds"},
		Actuators:           []string{"pump"},
		SampleInterval:      time.Second,
		CacheBatchSize:      batchSize,
		ProbeInterval:       5 * time.Second,
		MaxUploadFailures:   5,
		RelayCooldownCycles: 3,
		HotspotSSID:         "farm-setup",
		HotspotPassword:     "12345678",
	})
	return h
}

func (h *harness) register(t *testing.T) {
	t.Helper()
	if err := h.regs.Save([]byte(`{"sensors":[{"name":"ph","_id":"abc"},{"name":"tds","_id":"def"}],"actuators":[{"name":"pump","_id":"p1"}]}`)); err != nil {
		t.Fatalf("seed registration: %v", err)
	}
}

func (h *harness) queued(t *testing.T) model.QueueState {
	t.Helper()
	st, err := h.queue.Read()
	if err != nil {
		t.Fatalf("read queue: %v", err)
	}
	return st
}

func TestRegistrationThenRelay(t *testing.T) {
	h := newHarness(t, nil, probe.Connected)
	ctx := context.Background()

	if m := h.ctrl.Step(ctx); m != Registration {
		t.Fatalf("first step: got %s, want registration", m)
	}
	rec, ok, err := h.regs.Load()
	if err != nil || !ok {
		t.Fatalf("registration not persisted: ok=%v err=%v", ok, err)
	}
	if id, _ := rec.SensorID("ph"); id != "abc" {
		t.Fatalf("expected ph -> abc, got %q", id)
	}
	if !h.screen.Contains("REGISTRATION MODE") || !h.screen.Contains("REGISTRATION SUCCESSFUL") {
		t.Fatalf("missing registration screens: %v", h.screen.Screens())
	}

	if m := h.ctrl.Step(ctx); m != Relay {
		t.Fatalf("second step: got %s, want relay", m)
	}
	if h.service.uploadCount() != 1 {
		t.Fatalf("expected one upload, got %d", h.service.uploadCount())
	}
	p := h.service.uploads[0]
	if len(p.Sensors) != 2*batchSize || len(p.Actuators) != batchSize {
		t.Fatalf("unexpected payload sizes %d/%d", len(p.Sensors), len(p.Actuators))
	}
	if p.Sensors[0].Sensor != "abc" || p.Sensors[1].Sensor != "def" || p.Actuators[0].Actuator != "p1" {
		t.Fatalf("names not translated: %+v", p)
	}
	if p.Sensors[0].Sequence != p.Sensors[1].Sequence || p.Sensors[2].Sequence != p.Sensors[0].Sequence+1 {
		t.Fatalf("readings of one tick must share a sequence: %+v", p.Sensors)
	}
	if !h.queued(t).Empty() {
		t.Fatalf("queue must be cleared after acknowledgement")
	}
	st := h.ctrl.Snapshot()
	if st.Mode != Relay || !st.Registered || st.LastUpload == nil || st.ConsecutiveFailures != 0 {
		t.Fatalf("unexpected status %+v", st)
	}
	if !h.screen.Contains("sent...") {
		t.Fatalf("expected sent screen")
	}
}

func TestNoInternetBanksEveryCycleWithoutUploading(t *testing.T) {
	h := newHarness(t, nil, probe.NoInternet)
	h.register(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if m := h.ctrl.Step(ctx); m != DataBank {
			t.Fatalf("step %d: got %s, want data_bank", i, m)
		}
	}
	if n := h.service.uploadCount(); n != 0 {
		t.Fatalf("expected zero uploads, got %d", n)
	}
	if h.probe.count() != 3 {
		t.Fatalf("every data bank step must re-probe, got %d probes", h.probe.count())
	}
	st := h.queued(t)
	if len(st.Sensors) != 3*batchSize*2 || len(st.Actuators) != 3*batchSize {
		t.Fatalf("expected 3 cycles of readings, got %d sensors %d actuators", len(st.Sensors), len(st.Actuators))
	}
	if st.Sensors[0].DelayCount != 2 || st.Sensors[len(st.Sensors)-1].DelayCount != 0 {
		t.Fatalf("unexpected delay counts: first %d last %d", st.Sensors[0].DelayCount, st.Sensors[len(st.Sensors)-1].DelayCount)
	}
	if h.ctrl.Snapshot().QueueDepth != st.Len() {
		t.Fatalf("status queue depth out of date")
	}
}

func TestRejectedTwiceThenAcknowledged(t *testing.T) {
	h := newHarness(t, nil, probe.Connected)
	h.register(t)
	h.service.statuses = []int{http.StatusInternalServerError, http.StatusBadRequest, http.StatusCreated}
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if m := h.ctrl.Step(ctx); m != Relay {
			t.Fatalf("step %d: got %s", i, m)
		}
		if h.queued(t).Empty() {
			t.Fatalf("queue must survive a rejected upload (step %d)", i)
		}
		if f := h.ctrl.Snapshot().ConsecutiveFailures; f != i {
			t.Fatalf("step %d: failures=%d", i, f)
		}
	}
	if !h.screen.Contains("retries:2") {
		t.Fatalf("expected retries screen, got %v", h.screen.Screens())
	}

	h.ctrl.Step(ctx)
	if !h.queued(t).Empty() {
		t.Fatalf("queue must be empty after acknowledgement")
	}
	if f := h.ctrl.Snapshot().ConsecutiveFailures; f != 0 {
		t.Fatalf("failure counter must reset, got %d", f)
	}
	third := h.service.uploads[2]
	if len(third.Sensors) != 3*batchSize*2 {
		t.Fatalf("third upload must carry all queued readings, got %d", len(third.Sensors))
	}
	if third.Sensors[0].DelayCount != 2 {
		t.Fatalf("oldest reading must show two delays, got %d", third.Sensors[0].DelayCount)
	}
	if h.probe.count() != 1 {
		t.Fatalf("relay must not re-probe after rejections, got %d probes", h.probe.count())
	}
}

func TestTransportFailuresFallBackToDataBank(t *testing.T) {
	up := &fakeUploader{errs: []error{fault.Transport("POST /readings", errors.New("connection reset"))}}
	h := newHarness(t, up, probe.Connected)
	h.register(t)
	ctx := context.Background()

	var modes []Mode
	for i := 0; i < 9; i++ {
		modes = append(modes, h.ctrl.Step(ctx))
	}
	want := []Mode{Relay, Relay, Relay, Relay, Relay, DataBank, DataBank, DataBank, Relay}
	for i := range want {
		if modes[i] != want[i] {
			t.Fatalf("step %d: got %s, want %s (all: %v)", i, modes[i], want[i], modes)
		}
	}
	if up.calls != 6 {
		t.Fatalf("expected 5 uploads before the cooldown and 1 after, got %d", up.calls)
	}
	// entering relay, after each of the first four failures, after the cooldown, and after the sixth failure
	if h.probe.count() != 7 {
		t.Fatalf("unexpected probe count %d", h.probe.count())
	}
	st := h.queued(t)
	if len(st.Sensors) != 9*batchSize*2 {
		t.Fatalf("no readings may be lost, got %d sensors", len(st.Sensors))
	}
	if !h.screen.Contains("max retries ") {
		t.Fatalf("expected max retries screen")
	}
}

func TestTransportFailureLeavesRelayWhenOffline(t *testing.T) {
	up := &fakeUploader{errs: []error{fault.Transport("POST /readings", errors.New("timeout"))}}
	h := newHarness(t, up, probe.Connected, probe.NoInternet)
	h.register(t)
	ctx := context.Background()

	if m := h.ctrl.Step(ctx); m != Relay {
		t.Fatalf("got %s", m)
	}
	if m := h.ctrl.Step(ctx); m != DataBank {
		t.Fatalf("expected data bank after losing the service, got %s", m)
	}
	if h.probe.count() != 2 {
		t.Fatalf("the re-probe result must be reused, got %d probes", h.probe.count())
	}
	if up.calls != 1 {
		t.Fatalf("expected a single upload attempt, got %d", up.calls)
	}
}

func TestDataLoggingLatches(t *testing.T) {
	h := newHarness(t, nil, probe.NoWireless)
	h.register(t)
	ctx := context.Background()

	if m := h.ctrl.Step(ctx); m != DataLogging {
		t.Fatalf("got %s", m)
	}
	h.probe.set(probe.Connected)
	for i := 0; i < 3; i++ {
		if m := h.ctrl.Step(ctx); m != DataLogging {
			t.Fatalf("data logging must latch, got %s", m)
		}
	}
	if h.probe.count() != 0 {
		t.Fatalf("latched controller must not probe, got %d", h.probe.count())
	}
	if !h.queued(t).Empty() {
		t.Fatalf("data logging must never write the queue")
	}
	if h.archive.modes["data_logging"] != 4*3 {
		t.Fatalf("expected 4 archived samples of 3 channels, got %v", h.archive.modes)
	}
	if !h.screen.Contains("wifi failure") || !h.screen.Contains("N=farm-setup") {
		t.Fatalf("expected hotspot hint, got %v", h.screen.Screens())
	}
	if !h.ctrl.Snapshot().Latched {
		t.Fatalf("status must report the latch")
	}
}

func TestResetClearsStaleQueue(t *testing.T) {
	h := newHarness(t, nil, probe.NoInternet)
	one := 1.0
	if err := h.queue.Append(model.Batch{Sensors: []model.Reading{model.NewReading("ph", &one, 41)}}); err != nil {
		t.Fatalf("seed queue: %v", err)
	}
	if m := h.ctrl.Step(context.Background()); m != Standby {
		t.Fatalf("expected standby after reset, got %s", m)
	}
	if !h.queued(t).Empty() {
		t.Fatalf("reset must clear the queue")
	}
	if !h.screen.Contains("RESET") {
		t.Fatalf("expected reset screen")
	}
	if got := h.sleeper.Sleeps(); len(got) != 1 || got[0] != 5*time.Second {
		t.Fatalf("standby must wait one probe interval, slept %v", got)
	}
}

func TestRegistrationFailureWaitsAndRetries(t *testing.T) {
	h := newHarness(t, nil, probe.Connected)
	// Replace the service with one that refuses registration.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	h.ctrl.d.Registrar = registration.NewClient(transport.New(srv.URL, time.Second, nil), h.regs, logging.Discard())

	for i := 0; i < 2; i++ {
		if m := h.ctrl.Step(context.Background()); m != Registration {
			t.Fatalf("step %d: got %s", i, m)
		}
	}
	if _, ok, _ := h.regs.Load(); ok {
		t.Fatalf("nothing may be persisted on a refused registration")
	}
	if !h.screen.Contains("REGISTRATION FAILED") {
		t.Fatalf("expected failure screen")
	}
	if h.sleeper.Total() != 10*time.Second {
		t.Fatalf("expected two probe-interval waits, got %s", h.sleeper.Total())
	}
	if st := h.ctrl.Snapshot(); st.LastError == "" {
		t.Fatalf("status must carry the last error")
	}
}

func TestSequenceContinuesAfterQueuedReadings(t *testing.T) {
	h := newHarness(t, nil, probe.NoInternet)
	h.register(t)
	one := 1.0
	if err := h.queue.Append(model.Batch{Sensors: []model.Reading{model.NewReading("ph", &one, 41)}}); err != nil {
		t.Fatalf("seed queue: %v", err)
	}
	h.ctrl.Step(context.Background())
	st := h.queued(t)
	if got := st.Sensors[1].Sequence; got != 42 {
		t.Fatalf("expected sequence to continue at 42, got %d", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil, probe.NoInternet)
	h.register(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.ctrl.d.Sampler = sensor.Func(func(context.Context) sensor.Snapshot {
		if h.samples.Add(1) == 3 {
			cancel()
		}
		return sensor.Snapshot{}
	})

	done := make(chan struct{})
	go func() {
		h.ctrl.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop after cancellation")
	}
	if st := h.queued(t); st.Len() != 3*3 {
		t.Fatalf("samples taken before shutdown must be queued, got %d", st.Len())
	}
}

func TestFailureCountRestartsOnEachRelayEntry(t *testing.T) {
	up := &fakeUploader{errs: []error{fault.Transport("POST /readings", errors.New("connection reset"))}}
	h := newHarness(t, up, probe.Connected, probe.Connected, probe.Connected, probe.Connected, probe.NoInternet, probe.Connected)
	h.register(t)
	ctx := context.Background()

	var modes []Mode
	for i := 0; i < 6; i++ {
		modes = append(modes, h.ctrl.Step(ctx))
		if i == 3 {
			if n := h.ctrl.Snapshot().ConsecutiveFailures; n != 0 {
				t.Fatalf("leaving relay must reset the failure count, got %d", n)
			}
		}
	}
	want := []Mode{Relay, Relay, Relay, Relay, DataBank, Relay}
	for i := range want {
		if modes[i] != want[i] {
			t.Fatalf("step %d: got %s, want %s (all: %v)", i, modes[i], want[i], modes)
		}
	}
	if h.screen.Contains("max retries ") {
		t.Fatalf("a fresh relay entry must not hit the ceiling after one failure")
	}
	screens := h.screen.Screens()
	if last := screens[len(screens)-1]; last[len(last)-1] != "retries:1" {
		t.Fatalf("last screen = %v, want retries:1", last)
	}
	if st := h.ctrl.Snapshot(); st.ConsecutiveFailures != 1 || st.CooldownRemaining != 0 {
		t.Fatalf("status = %+v", st)
	}
	if m := h.ctrl.Step(ctx); m != Relay {
		t.Fatalf("relay must continue after a single failure, got %s", m)
	}
}

// cancelling interrupts the join poll the way a shutdown signal would.
type cancelling struct {
	cancel context.CancelFunc
}

func (c cancelling) Check(context.Context) probe.Connectivity {
	c.cancel()
	return probe.NoWireless
}

func TestInterruptedProbeDoesNotLatch(t *testing.T) {
	h := newHarness(t, nil, probe.Connected)
	h.register(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.ctrl.d.Probe = cancelling{cancel: cancel}

	h.ctrl.Step(ctx)
	if h.ctrl.Snapshot().Latched || h.ctrl.latched {
		t.Fatalf("shutdown during the probe must not latch data logging")
	}
	if h.screen.Contains("wifi failure") {
		t.Fatalf("unexpected hotspot screen %v", h.screen.Screens())
	}
	if len(h.archive.rows) != 0 {
		t.Fatalf("nothing may be sampled after shutdown, got %d rows", len(h.archive.rows))
	}
}

func TestCorruptQueueSequenceLogged(t *testing.T) {
	h := newHarness(t, nil, probe.Connected)
	if err := os.WriteFile(h.queue.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	h.ctrl.log = logging.NewWithWriter(&buf, slog.LevelDebug)

	if seq := h.ctrl.nextSequence(); seq != 1 {
		t.Fatalf("sequence = %d, want 1", seq)
	}
	if !strings.Contains(buf.String(), "queue unreadable") || !strings.Contains(buf.String(), "kind=") {
		t.Fatalf("expected a warning naming the error kind, got %q", buf.String())
	}
}
