// Package output writes archived readings to portable files.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"edge-telemetry-agent/internal/model"
)

type jsonReading struct {
	Channel   string   `json:"channel"`
	Kind      string   `json:"kind"`
	Sequence  int64    `json:"sequence"`
	Mode      string   `json:"mode"`
	Value     *float64 `json:"value"`
	Timestamp string   `json:"timestamp"`
}

// WriteJSON writes readings as an indented JSON array.
func WriteJSON(path string, rs []model.ArchivedReading) error {
	out := make([]jsonReading, 0, len(rs))
	for _, r := range rs {
		out = append(out, jsonReading{Channel: r.Channel, Kind: r.Kind, Sequence: r.Sequence, Mode: r.Mode, Value: r.Value, Timestamp: timeToRFC3339(r.Timestamp)})
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// WriteCSV writes one row per reading.
// Columns: timestamp,channel,kind,sequence,mode,value (empty value = failed read)
func WriteCSV(path string, rs []model.ArchivedReading) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "channel", "kind", "sequence", "mode", "value"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rs {
		var v string
		if r.Value != nil {
			v = strconv.FormatFloat(*r.Value, 'f', -1, 64)
		}
		rec := []string{timeToRFC3339(r.Timestamp), r.Channel, r.Kind, strconv.FormatInt(r.Sequence, 10), r.Mode, v}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func timeToRFC3339(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
