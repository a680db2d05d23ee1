// Package queue is the durable store of readings that have not been acknowledged
// by the remote service. It is the only path from a sample to the network.
package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"edge-telemetry-agent/internal/fault"
	"edge-telemetry-agent/internal/model"
	"edge-telemetry-agent/internal/utils"
)

// Store persists a model.QueueState as a single JSON line in one file.
// All operations are serialised by a mutex scoped to the store.
type Store struct {
	path string
	log  *slog.Logger

	mu sync.Mutex
}

// New returns a store backed by path. The file need not exist.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, log: logger.With("component", "queue")}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Read returns the current state without mutating it. A missing file is an empty
// queue. A corrupt file also yields an empty queue together with an error wrapping
// fault.ErrStorageCorrupt, which callers log and otherwise ignore.
func (s *Store) Read() (model.QueueState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Append merges batch into the persisted state. For each kind present in batch,
// every previously stored reading of that kind has its delay count incremented
// once before the new readings are appended in order.
func (s *Store) Append(batch model.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		if !errors.Is(err, fault.ErrStorageCorrupt) {
			return err
		}
		s.log.Warn("recreating corrupt queue file", "kind", fault.Kind(err), "err", err)
		st = model.QueueState{}
	}

	if len(batch.Sensors) > 0 {
		st.Sensors = age(st.Sensors)
		st.Sensors = append(st.Sensors, batch.Sensors...)
	}
	if len(batch.Actuators) > 0 {
		st.Actuators = age(st.Actuators)
		st.Actuators = append(st.Actuators, batch.Actuators...)
	}
	return s.save(st)
}

// Clear resets the queue to empty. Calling it on an empty queue is harmless.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(model.QueueState{})
}

func age(rs []model.Reading) []model.Reading {
	for i := range rs {
		rs[i].DelayCount++
	}
	return rs
}

func (s *Store) load() (model.QueueState, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.QueueState{}, nil
		}
		return model.QueueState{}, fmt.Errorf("read queue: %w", err)
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return model.QueueState{}, nil
	}
	var st model.QueueState
	if err := json.Unmarshal(b, &st); err != nil {
		return model.QueueState{}, fault.Corrupt(s.path, err)
	}
	return st, nil
}

func (s *Store) save(st model.QueueState) error {
	if st.Sensors == nil {
		st.Sensors = []model.Reading{}
	}
	if st.Actuators == nil {
		st.Actuators = []model.Reading{}
	}
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	b = append(b, '\n')
	if err := utils.WriteFileAtomic(s.path, b, 0o644); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	return nil
}
