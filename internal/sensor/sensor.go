// Package sensor reads the device's measurement channels. A Sampler returns one
// Snapshot per call; a channel that could not be read maps to nil.
package sensor

import (
	"context"
	"sort"
	"time"
)

// Snapshot maps channel names to values. A nil value is a failed channel.
type Snapshot map[string]*float64

// Names returns the channel names in sorted order.
func (s Snapshot) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Sampler reads every channel once.
type Sampler interface {
	Sample(ctx context.Context) Snapshot
}

// Func adapts a plain function to a Sampler.
type Func func(ctx context.Context) Snapshot

func (f Func) Sample(ctx context.Context) Snapshot { return f(ctx) }

// BusConfig describes the sensor board.
type BusConfig struct {
	Protocol   string        `yaml:"protocol"` // modbus-tcp | modbus-rtu | simulated
	Connection Connection    `yaml:"connection"`
	SlaveID    uint8         `yaml:"slave_id"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
	Points     []Point       `yaml:"points"`
}

type Connection struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	DataBits   int    `yaml:"data_bits"`
	StopBits   int    `yaml:"stop_bits"`
	Parity     string `yaml:"parity"`
}

// Point maps a channel name to a register.
type Point struct {
	Name         string  `yaml:"name"`
	Address      uint16  `yaml:"address"`
	RegisterType string  `yaml:"register_type"` // holding | input | coil | discrete
	DataType     string  `yaml:"data_type"`     // uint16 | int16 | uint32 | int32 | float32
	ByteOrder    string  `yaml:"byte_order"`    // ABCD | DCBA | BADC | CDAB
	Scale        float64 `yaml:"scale"`
	Offset       float64 `yaml:"offset"`
	Unit         string  `yaml:"unit"`
}

// Kind classifies a register type as sensor or actuator reading.
func (p Point) Kind() string {
	switch p.RegisterType {
	case "coil":
		return "actuator"
	default:
		return "sensor"
	}
}
