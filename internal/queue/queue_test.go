package queue

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"edge-telemetry-agent/internal/fault"
	"edge-telemetry-agent/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "queue.json"), nil)
}

func str(s string) *string { return &s }

func sensor(name, v string, seq int64) model.Reading {
	return model.Reading{Name: name, Value: str(v), Sequence: seq}
}

func TestReadMissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t)
	st, err := s.Read()
	if err != nil {
		t.Fatalf("Read on missing file: %v", err)
	}
	if !st.Empty() {
		t.Fatalf("expected empty state, got %+v", st)
	}
}

func TestAppendPreservesOrderAndAgesPreviousReadings(t *testing.T) {
	s := newTestStore(t)

	batches := []model.Batch{
		{Sensors: []model.Reading{sensor("ph", "6.1", 1), sensor("tds", "410", 1)}, Actuators: []model.Reading{sensor("pump", "1", 1)}},
		{Sensors: []model.Reading{sensor("ph", "6.2", 2)}, Actuators: []model.Reading{sensor("pump", "0", 2)}},
		{Sensors: []model.Reading{sensor("ph", "6.3", 3), sensor("tds", "415", 3)}, Actuators: []model.Reading{sensor("fan", "1", 3)}},
	}
	for i, b := range batches {
		if err := s.Append(b); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}

	st, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	wantSensors := []struct {
		name  string
		seq   int64
		delay int
	}{
		{"ph", 1, 2}, {"tds", 1, 2}, {"ph", 2, 1}, {"ph", 3, 0}, {"tds", 3, 0},
	}
	if len(st.Sensors) != len(wantSensors) {
		t.Fatalf("expected %d sensors, got %d", len(wantSensors), len(st.Sensors))
	}
	for i, w := range wantSensors {
		got := st.Sensors[i]
		if got.Name != w.name || got.Sequence != w.seq || got.DelayCount != w.delay {
			t.Fatalf("sensor %d: got %s/seq=%d/delay=%d, want %s/seq=%d/delay=%d",
				i, got.Name, got.Sequence, got.DelayCount, w.name, w.seq, w.delay)
		}
	}

	wantActuatorDelays := []int{2, 1, 0}
	if len(st.Actuators) != len(wantActuatorDelays) {
		t.Fatalf("expected %d actuators, got %d", len(wantActuatorDelays), len(st.Actuators))
	}
	for i, d := range wantActuatorDelays {
		if st.Actuators[i].DelayCount != d {
			t.Fatalf("actuator %d: delay %d, want %d", i, st.Actuators[i].DelayCount, d)
		}
	}
}

func TestAppendOnlyAgesKindsPresentInBatch(t *testing.T) {
	s := newTestStore(t)
	if err := s.Append(model.Batch{Sensors: []model.Reading{sensor("ph", "6.1", 1)}, Actuators: []model.Reading{sensor("pump", "1", 1)}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(model.Batch{Sensors: []model.Reading{sensor("ph", "6.2", 2)}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	st, _ := s.Read()
	if st.Sensors[0].DelayCount != 1 {
		t.Fatalf("expected stored sensor aged once, got %d", st.Sensors[0].DelayCount)
	}
	if st.Actuators[0].DelayCount != 0 {
		t.Fatalf("expected actuator untouched, got %d", st.Actuators[0].DelayCount)
	}
}

func TestAppendEmptyBatchDoesNotWrite(t *testing.T) {
	s := newTestStore(t)
	if err := s.Append(model.Batch{}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Fatalf("empty append must not create the file: %v", err)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Append(model.Batch{Sensors: []model.Reading{sensor("ph", "6.1", 1)}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Clear(); err != nil {
			t.Fatalf("Clear #%d: %v", i, err)
		}
		st, err := s.Read()
		if err != nil {
			t.Fatalf("Read after Clear: %v", err)
		}
		if !st.Empty() {
			t.Fatalf("expected empty after Clear #%d, got %+v", i, st)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	want := model.QueueState{
		Sensors:   []model.Reading{sensor("ph", "6.1", 7), {Name: "tds", Sequence: 7}},
		Actuators: []model.Reading{sensor("pump", "1", 7)},
	}
	if err := s.save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := New(s.Path(), nil).Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, want)
	}
	if got.Sensors[1].Value != nil {
		t.Fatalf("absent value must stay absent")
	}
}

func TestCorruptFileReadsEmptyAndAppendRecreates(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("{\"sensors\":[{\"name\":"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	st, err := s.Read()
	if !errors.Is(err, fault.ErrStorageCorrupt) {
		t.Fatalf("expected ErrStorageCorrupt, got %v", err)
	}
	if !st.Empty() {
		t.Fatalf("corrupt store must read as empty, got %+v", st)
	}

	if err := s.Append(model.Batch{Sensors: []model.Reading{sensor("ph", "6.4", 1)}}); err != nil {
		t.Fatalf("Append over corrupt file: %v", err)
	}
	st, err = s.Read()
	if err != nil {
		t.Fatalf("Read after recreate: %v", err)
	}
	if len(st.Sensors) != 1 || st.Sensors[0].DelayCount != 0 {
		t.Fatalf("expected a fresh queue with one reading, got %+v", st)
	}
}

func TestConcurrentAppendsKeepEveryReading(t *testing.T) {
	s := newTestStore(t)
	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			if err := s.Append(model.Batch{Sensors: []model.Reading{sensor("ph", "7", seq)}}); err != nil {
				t.Errorf("Append: %v", err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	st, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(st.Sensors) != writers {
		t.Fatalf("expected %d readings, got %d", writers, len(st.Sensors))
	}
	seen := map[int64]bool{}
	total := 0
	for _, r := range st.Sensors {
		seen[r.Sequence] = true
		total += r.DelayCount
	}
	if len(seen) != writers {
		t.Fatalf("expected every sequence exactly once, got %v", seen)
	}
	// The k-th appended reading is aged by every later append.
	if want := writers * (writers - 1) / 2; total != want {
		t.Fatalf("expected total delay %d, got %d", want, total)
	}
}
