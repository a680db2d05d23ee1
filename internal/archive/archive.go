// Package archive keeps a local record of every sample taken, independent of the
// upload queue. Outputs are JSONL, CSV and SQLite in any combination.
package archive

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	dbpkg "edge-telemetry-agent/internal/db"
	"edge-telemetry-agent/internal/model"
	"edge-telemetry-agent/internal/utils"
)

// Options selects and locates the outputs.
type Options struct {
	Dir      string
	FileType string // jsonl | csv | db, joined with "+", or "all"
	DBPath   string
	CacheTTL time.Duration
	Channels []model.Channel
}

// Archive writes readings synchronously. It is safe for concurrent use.
type Archive struct {
	log   *slog.Logger
	cache *utils.ValueCache

	mu        sync.Mutex
	jsonFile  *os.File
	jsonW     *bufio.Writer
	csvFile   *os.File
	csvW      *csv.Writer
	db        *dbpkg.DB
	skipped   int64
	persisted int64
}

var csvHeader = []string{"timestamp", "channel", "kind", "sequence", "mode", "value"}

// ParseFileType returns which outputs a file_type string enables.
func ParseFileType(ft string) (jsonl, csvOut, db bool, err error) {
	ft = strings.ToLower(strings.TrimSpace(ft))
	switch ft {
	case "", "all":
		return true, true, true, nil
	case "both":
		return true, true, false, nil
	}
	for _, part := range strings.Split(ft, "+") {
		switch strings.TrimSpace(part) {
		case "json", "jsonl":
			jsonl = true
		case "csv":
			csvOut = true
		case "db", "sqlite":
			db = true
		default:
			return false, false, false, fmt.Errorf("unsupported archive file_type %q", ft)
		}
	}
	return jsonl, csvOut, db, nil
}

// Open creates the directory, opens the selected outputs and seeds the channel
// table when the database is enabled.
func Open(ctx context.Context, o Options, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	useJSON, useCSV, useDB, err := ParseFileType(o.FileType)
	if err != nil {
		return nil, err
	}
	if o.Dir == "" {
		o.Dir = "data"
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", o.Dir, err)
	}
	a := &Archive{log: logger.With("component", "archive"), cache: utils.NewValueCache(o.CacheTTL)}

	if useJSON {
		f, err := os.OpenFile(filepath.Join(o.Dir, "readings.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open jsonl output: %w", err)
		}
		a.jsonFile, a.jsonW = f, bufio.NewWriterSize(f, 32*1024)
	}
	if useCSV {
		f, err := os.OpenFile(filepath.Join(o.Dir, "readings.csv"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open csv output: %w", err)
		}
		a.csvFile, a.csvW = f, csv.NewWriter(f)
		if off, _ := f.Seek(0, io.SeekEnd); off == 0 {
			if err := a.csvW.Write(csvHeader); err != nil {
				a.Close()
				return nil, fmt.Errorf("write csv header: %w", err)
			}
			a.csvW.Flush()
		}
	}
	if useDB {
		path := o.DBPath
		if path == "" {
			path = filepath.Join(o.Dir, "archive.sqlite")
		}
		d, err := dbpkg.Open(path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open archive db: %w", err)
		}
		a.db = d
		if err := d.SeedChannels(ctx, o.Channels); err != nil {
			a.log.Warn("seed channels failed", "err", err)
		}
	}
	return a, nil
}

// DB returns the SQLite archive, or nil when it is not enabled.
func (a *Archive) DB() *dbpkg.DB { return a.db }

// Record stores readings whose value differs from the last stored value of the
// same channel (or whose last store has expired). Every enabled output is tried;
// the first error is returned.
func (a *Archive) Record(ctx context.Context, rs []model.ArchivedReading) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	fresh := make([]model.ArchivedReading, 0, len(rs))
	for _, r := range rs {
		if a.cache.Unchanged(r.Channel, r.Value) {
			a.skipped++
			continue
		}
		if r.Timestamp.IsZero() {
			r.Timestamp = time.Now()
		}
		r.Timestamp = r.Timestamp.UTC()
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return nil
	}

	var errs []error
	if a.jsonW != nil {
		errs = append(errs, a.writeJSONL(fresh))
	}
	if a.csvW != nil {
		errs = append(errs, a.writeCSV(fresh))
	}
	if a.db != nil {
		errs = append(errs, a.db.SaveReadings(ctx, fresh, 100))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	for _, r := range fresh {
		a.cache.Set(r.Channel, r.Value)
	}
	a.persisted += int64(len(fresh))
	return nil
}

// Counts returns how many readings were stored and how many were skipped as unchanged.
func (a *Archive) Counts() (persisted, skipped int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.persisted, a.skipped
}

func (a *Archive) writeJSONL(rs []model.ArchivedReading) error {
	for _, r := range rs {
		b, err := json.Marshal(map[string]any{
			"timestamp": r.Timestamp.Format(time.RFC3339Nano),
			"channel":   r.Channel,
			"kind":      r.Kind,
			"sequence":  r.Sequence,
			"mode":      r.Mode,
			"value":     r.Value,
		})
		if err != nil {
			return err
		}
		a.jsonW.Write(b)
		a.jsonW.WriteByte('\n')
	}
	return a.jsonW.Flush()
}

func (a *Archive) writeCSV(rs []model.ArchivedReading) error {
	for _, r := range rs {
		val := ""
		if r.Value != nil {
			val = strconv.FormatFloat(*r.Value, 'f', -1, 64)
		}
		rec := []string{r.Timestamp.Format(time.RFC3339Nano), r.Channel, r.Kind, strconv.FormatInt(r.Sequence, 10), r.Mode, val}
		if err := a.csvW.Write(rec); err != nil {
			return err
		}
	}
	a.csvW.Flush()
	return a.csvW.Error()
}

// Close flushes and closes every output.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	if a.jsonW != nil {
		errs = append(errs, a.jsonW.Flush(), a.jsonFile.Close())
		a.jsonW = nil
	}
	if a.csvW != nil {
		a.csvW.Flush()
		errs = append(errs, a.csvW.Error(), a.csvFile.Close())
		a.csvW = nil
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}
	return errors.Join(errs...)
}
