package sensor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	mb "github.com/goburrow/modbus"
)

// handlerWithConn is a Modbus client handler with an explicit connection lifecycle.
type handlerWithConn interface {
	mb.ClientHandler
	Connect() error
	Close() error
}

// ModbusSampler reads points from a Modbus TCP or RTU sensor board.
type ModbusSampler struct {
	cfg BusConfig
	log *slog.Logger

	mu        sync.Mutex
	handler   handlerWithConn
	client    mb.Client
	addr      string
	connected bool
}

// NewModbus validates cfg and returns a sampler. The connection is opened lazily.
func NewModbus(cfg BusConfig, logger *slog.Logger) (*ModbusSampler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for i := range cfg.Points {
		if cfg.Points[i].Scale == 0 {
			cfg.Points[i].Scale = 1
		}
	}
	s := &ModbusSampler{cfg: cfg, log: logger.With("component", "sensor")}
	h, addr, err := s.newHandler()
	if err != nil {
		return nil, err
	}
	s.handler, s.addr = h, addr
	s.client = mb.NewClient(h)
	return s, nil
}

func (s *ModbusSampler) newHandler() (handlerWithConn, string, error) {
	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	conn := s.cfg.Connection
	switch strings.ToLower(strings.TrimSpace(s.cfg.Protocol)) {
	case "modbus-tcp", "tcp":
		address := fmt.Sprintf("%s:%d", conn.Host, conn.Port)
		h := mb.NewTCPClientHandler(address)
		h.Timeout = timeout
		h.SlaveId = s.cfg.SlaveID
		return h, address, nil
	case "modbus-rtu", "rtu":
		if strings.TrimSpace(conn.SerialPort) == "" {
			return nil, "", fmt.Errorf("serial_port is required for RTU")
		}
		h := mb.NewRTUClientHandler(conn.SerialPort)
		if conn.BaudRate > 0 {
			h.BaudRate = conn.BaudRate
		}
		if conn.DataBits > 0 {
			h.DataBits = conn.DataBits
		}
		if conn.StopBits > 0 {
			h.StopBits = conn.StopBits
		}
		if p := strings.ToUpper(strings.TrimSpace(conn.Parity)); p != "" {
			h.Parity = p
		}
		h.Timeout = timeout
		h.SlaveId = s.cfg.SlaveID
		return h, conn.SerialPort, nil
	default:
		return nil, "", fmt.Errorf("protocol %q not supported by modbus sampler", s.cfg.Protocol)
	}
}

// Sample reads every configured point. Points that fail even after one reconnect
// come back as nil; Sample itself never fails.
func (s *ModbusSampler) Sample(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := make(Snapshot, len(s.cfg.Points))
	for _, p := range s.cfg.Points {
		snap[p.Name] = nil
	}
	if err := s.ensureConnected(ctx); err != nil {
		s.log.Warn("sensor board unreachable", "addr", s.addr, "err", err)
		return snap
	}
	for _, p := range s.cfg.Points {
		if ctx.Err() != nil {
			break
		}
		v, err := readPoint(s.client, p)
		if err != nil {
			if recErr := s.reconnect(); recErr != nil {
				s.log.Warn("read failed", "point", p.Name, "address", p.Address, "err", err)
				continue
			}
			if v, err = readPoint(s.client, p); err != nil {
				s.log.Warn("read failed after reconnect", "point", p.Name, "address", p.Address, "err", err)
				continue
			}
		}
		snap[p.Name] = &v
	}
	return snap
}

// Close releases the connection.
func (s *ModbusSampler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return s.handler.Close()
}

func (s *ModbusSampler) ensureConnected(ctx context.Context) error {
	if s.connected {
		return nil
	}
	retry := s.cfg.RetryCount
	if retry < 0 {
		retry = 0
	}
	var err error
	for attempt := 0; attempt <= retry; attempt++ {
		if err = s.handler.Connect(); err == nil {
			s.connected = true
			return nil
		}
		if attempt == retry {
			break
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("connect %s: %w", s.addr, err)
}

func (s *ModbusSampler) reconnect() error {
	s.handler.Close()
	s.connected = false
	time.Sleep(100 * time.Millisecond)
	if err := s.handler.Connect(); err != nil {
		return err
	}
	s.connected = true
	return nil
}

func registerCount(dt string) uint16 {
	switch dt {
	case "float32", "uint32", "int32":
		return 2
	default:
		return 1
	}
}

func readPoint(client mb.Client, p Point) (float64, error) {
	dt := strings.ToLower(p.DataType)
	if dt == "" {
		dt = "uint16"
	}
	switch strings.ToLower(p.RegisterType) {
	case "holding", "":
		data, err := client.ReadHoldingRegisters(p.Address, registerCount(dt))
		if err != nil {
			return 0, err
		}
		return decodeRegisters(data, dt, p)
	case "input":
		data, err := client.ReadInputRegisters(p.Address, registerCount(dt))
		if err != nil {
			return 0, err
		}
		return decodeRegisters(data, dt, p)
	case "coil":
		data, err := client.ReadCoils(p.Address, 1)
		if err != nil {
			return 0, err
		}
		return bitValue(data), nil
	case "discrete":
		data, err := client.ReadDiscreteInputs(p.Address, 1)
		if err != nil {
			return 0, err
		}
		return bitValue(data), nil
	default:
		return 0, fmt.Errorf("unsupported register type: %s", p.RegisterType)
	}
}

func bitValue(data []byte) float64 {
	if len(data) > 0 && data[0]&0x01 == 0x01 {
		return 1
	}
	return 0
}

func decodeRegisters(data []byte, dt string, p Point) (float64, error) {
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	need := int(registerCount(dt)) * 2
	if len(data) < need {
		return 0, fmt.Errorf("insufficient data for %s: %d bytes", dt, len(data))
	}
	var raw float64
	switch dt {
	case "uint16":
		raw = float64(binary.BigEndian.Uint16(data[:2]))
	case "int16":
		raw = float64(int16(binary.BigEndian.Uint16(data[:2])))
	case "float32":
		f := math.Float32frombits(binary.BigEndian.Uint32(reorder32(data[:4], p.ByteOrder)))
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return 0, errors.New("register holds no finite value")
		}
		raw = float64(f)
	case "uint32":
		raw = float64(binary.BigEndian.Uint32(reorder32(data[:4], p.ByteOrder)))
	case "int32":
		raw = float64(int32(binary.BigEndian.Uint32(reorder32(data[:4], p.ByteOrder))))
	default:
		return 0, fmt.Errorf("unsupported data type: %s", dt)
	}
	return raw*scale + p.Offset, nil
}

// reorder32 returns the four bytes in ABCD order given the wire order.
func reorder32(in []byte, order string) []byte {
	var out [4]byte
	switch strings.ToUpper(strings.TrimSpace(order)) {
	case "DCBA":
		out[0], out[1], out[2], out[3] = in[3], in[2], in[1], in[0]
	case "BADC":
		out[0], out[1], out[2], out[3] = in[1], in[0], in[3], in[2]
	case "CDAB":
		out[0], out[1], out[2], out[3] = in[2], in[3], in[0], in[1]
	default:
		copy(out[:], in[:4])
	}
	return out[:]
}
