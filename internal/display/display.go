// Package display shows short status messages on whatever output the device has.
// Implementations must not block or fail the caller.
package display

import (
	"log/slog"
	"strings"
	"sync"
)

// Display shows a few lines of status text.
type Display interface {
	Show(lines ...string)
}

// Func adapts a function to a Display.
type Func func(lines ...string)

func (f Func) Show(lines ...string) { f(lines...) }

// Log writes every screen as an INFO record.
type Log struct {
	log *slog.Logger
}

// NewLog returns a Display backed by logger.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{log: logger.With("component", "display")}
}

func (d *Log) Show(lines ...string) {
	d.log.Info("display", "text", strings.Join(lines, " | "))
}

// Multi fans a screen out to several displays.
type Multi []Display

func (m Multi) Show(lines ...string) {
	for _, d := range m {
		d.Show(lines...)
	}
}

// Recorder keeps every screen it is shown.
type Recorder struct {
	mu      sync.Mutex
	screens [][]string
}

func (r *Recorder) Show(lines ...string) {
	r.mu.Lock()
	r.screens = append(r.screens, append([]string(nil), lines...))
	r.mu.Unlock()
}

// Screens returns a copy of every recorded screen.
func (r *Recorder) Screens() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.screens))
	for i, s := range r.screens {
		out[i] = append([]string(nil), s...)
	}
	return out
}

// Contains reports whether any screen has a line equal to text.
func (r *Recorder) Contains(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.screens {
		for _, l := range s {
			if l == text {
				return true
			}
		}
	}
	return false
}
