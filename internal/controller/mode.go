package controller

import (
	"fmt"

	"edge-telemetry-agent/internal/probe"
)

// Mode is the operating mode chosen for a scheduling step.
type Mode int

const (
	Registration Mode = iota
	Reset
	Relay
	DataBank
	DataLogging
	// Standby covers an unregistered device with an empty queue whose service is
	// unreachable: nothing to register against and nothing to bank for.
	Standby
)

func (m Mode) String() string {
	switch m {
	case Registration:
		return "registration"
	case Reset:
		return "reset"
	case Relay:
		return "relay"
	case DataBank:
		return "data_bank"
	case DataLogging:
		return "data_logging"
	case Standby:
		return "standby"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// SelectMode picks the mode for the given facts. Rows are evaluated in order.
func SelectMode(registered, queueNonEmpty bool, c probe.Connectivity) Mode {
	switch {
	case !registered && !queueNonEmpty && c == probe.Connected:
		return Registration
	case !registered && queueNonEmpty:
		return Reset
	case registered && c == probe.Connected:
		return Relay
	case registered && c == probe.NoInternet:
		return DataBank
	case c == probe.NoWireless:
		return DataLogging
	default:
		return Standby
	}
}

// Resolve applies SelectMode and follows a Reset through to the mode chosen once
// the queue has been cleared. cleared reports whether a Reset was passed.
func Resolve(registered, queueNonEmpty bool, c probe.Connectivity) (m Mode, cleared bool) {
	m = SelectMode(registered, queueNonEmpty, c)
	if m != Reset {
		return m, false
	}
	return SelectMode(registered, false, c), true
}
