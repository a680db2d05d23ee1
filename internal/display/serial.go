package display

import (
	"io"
	"log/slog"
	"strings"
	"sync"

	"edge-telemetry-agent/internal/utils"
)

// clearScreen is the form feed most serial character displays treat as "clear".
const clearScreen = "\f"

// Serial drives a character display attached to a serial port. The port is
// opened on first use and reopened after a write error.
type Serial struct {
	params utils.SerialParams
	width  int
	log    *slog.Logger

	mu   sync.Mutex
	port io.ReadWriteCloser
	open func(utils.SerialParams) (io.ReadWriteCloser, error)
}

// NewSerial returns a serial display. width <= 0 leaves lines untruncated.
func NewSerial(params utils.SerialParams, width int, logger *slog.Logger) *Serial {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serial{params: params, width: width, log: logger.With("component", "display", "port", params.Address), open: utils.OpenSerial}
}

func (d *Serial) Show(lines ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		p, err := d.open(d.params)
		if err != nil {
			d.log.Debug("serial display unavailable", "err", err)
			return
		}
		d.port = p
	}
	var b strings.Builder
	b.WriteString(clearScreen)
	for _, l := range lines {
		if d.width > 0 && len(l) > d.width {
			l = l[:d.width]
		}
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	if _, err := io.WriteString(d.port, b.String()); err != nil {
		d.log.Debug("serial display write failed", "err", err)
		d.port.Close()
		d.port = nil
	}
}

// Close releases the port.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}
