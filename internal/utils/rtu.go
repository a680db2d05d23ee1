package utils

import (
	"io"
	"time"

	"github.com/goburrow/serial"
)

// SerialParams describes a serial line such as an RS-485 sensor bus or a character display.
type SerialParams struct {
	Address  string        `yaml:"address"`
	BaudRate int           `yaml:"baud_rate"`
	DataBits int           `yaml:"data_bits"`
	StopBits int           `yaml:"stop_bits"`
	Parity   string        `yaml:"parity"`
	Timeout  time.Duration `yaml:"timeout"`
}

func EnsureSerialDefaults(sp *SerialParams) {
	if sp.BaudRate == 0 {
		sp.BaudRate = 9600
	}
	if sp.DataBits == 0 {
		sp.DataBits = 8
	}
	if sp.StopBits == 0 {
		sp.StopBits = 1
	}
	if sp.Parity == "" {
		sp.Parity = "N"
	}
	if sp.Timeout <= 0 {
		sp.Timeout = 2 * time.Second
	}
}

func OpenSerial(sp SerialParams) (io.ReadWriteCloser, error) {
	EnsureSerialDefaults(&sp)
	sc := &serial.Config{
		Address:  sp.Address,
		BaudRate: sp.BaudRate,
		DataBits: sp.DataBits,
		StopBits: sp.StopBits,
		Parity:   sp.Parity,
		Timeout:  sp.Timeout,
	}
	return serial.Open(sc)
}
