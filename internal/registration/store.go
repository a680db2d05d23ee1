package registration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"edge-telemetry-agent/internal/fault"
	"edge-telemetry-agent/internal/model"
	"edge-telemetry-agent/internal/utils"
)

// Store keeps the server's registration answer on local storage.
type Store struct {
	path string
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store { return &Store{path: path} }

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load returns the persisted record. ok is false when no registration exists.
// A file that cannot be parsed is reported as fault.ErrStorageCorrupt with ok=false.
func (s *Store) Load() (model.RegistrationRecord, bool, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.RegistrationRecord{}, false, nil
		}
		return model.RegistrationRecord{}, false, fmt.Errorf("read registration: %w", err)
	}
	rec, err := parse(b)
	if err != nil {
		return model.RegistrationRecord{}, false, fault.Corrupt(s.path, err)
	}
	return rec, true, nil
}

// Save persists raw as one compact JSON line.
func (s *Store) Save(raw []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return fmt.Errorf("compact registration: %w", err)
	}
	buf.WriteByte('\n')
	if err := utils.WriteFileAtomic(s.path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write registration: %w", err)
	}
	return nil
}

// Remove deletes the registration. Removing a missing registration is not an error.
func (s *Store) Remove() error {
	if err := utils.RemoveIfExists(s.path); err != nil {
		return fmt.Errorf("remove registration: %w", err)
	}
	return nil
}

func parse(b []byte) (model.RegistrationRecord, error) {
	var rec model.RegistrationRecord
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return rec, fmt.Errorf("empty document")
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}
