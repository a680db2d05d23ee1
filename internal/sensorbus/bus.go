// Package sensorbus is a bench stand-in for the sensor board: a Modbus TCP
// server whose registers are addressed by channel name.
package sensorbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"sync"
)

const (
	fnReadCoils          = 0x01
	fnReadDiscreteInputs = 0x02
	fnReadHoldingRegs    = 0x03
	fnReadInputRegs      = 0x04
	fnWriteSingleCoil    = 0x05
	fnWriteSingleReg     = 0x06

	exIllegalFunction = 0x01
	exIllegalDataAddr = 0x02
	exIllegalDataVal  = 0x03

	tableSize = 65536
)

var (
	errOutOfRange    = errors.New("out of range")
	errInvalidQty    = errors.New("invalid quantity")
	errInvalidPDULen = errors.New("invalid pdu length")
)

// Channel places a named value on the bus. Analogue channels occupy two
// registers holding a big-endian float32; coil and discrete channels one bit.
type Channel struct {
	Name     string
	Address  uint16
	Register string // holding | input | coil | discrete
}

// Bus serves Modbus TCP reads and single writes.
type Bus struct {
	log *slog.Logger

	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	holding  []uint16
	input    []uint16
	coils    []bool
	discrete []bool
	channels map[string]Channel
}

// New builds a bus with the given channel layout.
func New(channels []Channel, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		log:      logger.With("component", "sensorbus"),
		quit:     make(chan struct{}),
		holding:  make([]uint16, tableSize),
		input:    make([]uint16, tableSize),
		coils:    make([]bool, tableSize),
		discrete: make([]bool, tableSize),
		channels: make(map[string]Channel, len(channels)),
	}
	for _, c := range channels {
		switch c.Register {
		case "holding", "input":
			if int(c.Address)+1 >= tableSize {
				return nil, fmt.Errorf("channel %s: address %d out of range", c.Name, c.Address)
			}
		case "coil", "discrete":
		default:
			return nil, fmt.Errorf("channel %s: unknown register type %q", c.Name, c.Register)
		}
		if _, dup := b.channels[c.Name]; dup {
			return nil, fmt.Errorf("channel %s defined twice", c.Name)
		}
		b.channels[c.Name] = c
	}
	return b, nil
}

// Listen starts accepting connections on address. Use ":0" for an ephemeral port.
func (b *Bus) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	b.listener = l
	b.wg.Add(1)
	go b.acceptLoop()
	b.log.Info("bench bus listening", "addr", l.Addr().String(), "channels", len(b.channels))
	return nil
}

// Addr returns the listening address.
func (b *Bus) Addr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Close stops the listener and waits for open connections to finish.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.quit)
		if b.listener != nil {
			b.listener.Close()
		}
	})
	b.wg.Wait()
}

// Set stores v on the named channel. Bit channels store v != 0.
func (b *Bus) Set(name string, v float64) error {
	c, ok := b.channels[name]
	if !ok {
		return fmt.Errorf("unknown channel %s", name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch c.Register {
	case "holding":
		putFloat(b.holding, c.Address, v)
	case "input":
		putFloat(b.input, c.Address, v)
	case "coil":
		b.coils[c.Address] = v != 0
	case "discrete":
		b.discrete[c.Address] = v != 0
	}
	return nil
}

// Fail makes an analogue channel read as NaN until the next Set.
func (b *Bus) Fail(name string) error {
	return b.Set(name, math.NaN())
}

// Get returns the current value of the named channel.
func (b *Bus) Get(name string) (float64, error) {
	c, ok := b.channels[name]
	if !ok {
		return 0, fmt.Errorf("unknown channel %s", name)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch c.Register {
	case "holding":
		return getFloat(b.holding, c.Address), nil
	case "input":
		return getFloat(b.input, c.Address), nil
	case "coil":
		return boolFloat(b.coils[c.Address]), nil
	default:
		return boolFloat(b.discrete[c.Address]), nil
	}
}

func putFloat(table []uint16, addr uint16, v float64) {
	u := math.Float32bits(float32(v))
	table[addr] = uint16(u >> 16)
	table[addr+1] = uint16(u)
}

func getFloat(table []uint16, addr uint16) float64 {
	u := uint32(table[addr])<<16 | uint32(table[addr+1])
	return float64(math.Float32frombits(u))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (b *Bus) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			select {
			case <-b.quit:
				return
			default:
			}
			continue
		}
		b.wg.Add(1)
		go b.serve(conn)
	}
}

func (b *Bus) serve(conn net.Conn) {
	defer b.wg.Done()
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-b.quit:
			conn.Close()
		case <-done:
		}
	}()

	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint16(header[4:6])
		if length < 2 {
			continue
		}
		pdu := make([]byte, int(length)-1)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}
		resp := b.handlePDU(pdu)
		// Transaction id in header[0:2] is echoed as received.
		binary.BigEndian.PutUint16(header[2:4], 0)
		binary.BigEndian.PutUint16(header[4:6], uint16(len(resp)+1))
		if _, err := conn.Write(append(header, resp...)); err != nil {
			return
		}
	}
}

func (b *Bus) handlePDU(pdu []byte) []byte {
	if len(pdu) == 0 {
		return exception(0, exIllegalFunction)
	}
	fn := pdu[0]
	var (
		data []byte
		err  error
	)
	switch fn {
	case fnReadCoils:
		data, err = b.readBits(b.coils, pdu)
	case fnReadDiscreteInputs:
		data, err = b.readBits(b.discrete, pdu)
	case fnReadHoldingRegs:
		data, err = b.readRegisters(b.holding, pdu)
	case fnReadInputRegs:
		data, err = b.readRegisters(b.input, pdu)
	case fnWriteSingleCoil, fnWriteSingleReg:
		if err = b.writeSingle(fn, pdu); err != nil {
			return exception(fn, code(err))
		}
		return append([]byte(nil), pdu[:5]...)
	default:
		return exception(fn, exIllegalFunction)
	}
	if err != nil {
		return exception(fn, code(err))
	}
	return append([]byte{fn, byte(len(data))}, data...)
}

func span(pdu []byte, maxQty uint16) (start, qty uint16, err error) {
	if len(pdu) < 5 {
		return 0, 0, errInvalidPDULen
	}
	start = binary.BigEndian.Uint16(pdu[1:3])
	qty = binary.BigEndian.Uint16(pdu[3:5])
	if qty == 0 || qty > maxQty {
		return 0, 0, errInvalidQty
	}
	if int(start)+int(qty) > tableSize {
		return 0, 0, errOutOfRange
	}
	return start, qty, nil
}

func (b *Bus) readBits(src []bool, pdu []byte) ([]byte, error) {
	start, qty, err := span(pdu, 2000)
	if err != nil {
		return nil, err
	}
	out := make([]byte, (int(qty)+7)/8)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := 0; i < int(qty); i++ {
		if src[int(start)+i] {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out, nil
}

func (b *Bus) readRegisters(src []uint16, pdu []byte) ([]byte, error) {
	start, qty, err := span(pdu, 125)
	if err != nil {
		return nil, err
	}
	out := make([]byte, int(qty)*2)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := 0; i < int(qty); i++ {
		binary.BigEndian.PutUint16(out[i*2:], src[int(start)+i])
	}
	return out, nil
}

func (b *Bus) writeSingle(fn byte, pdu []byte) error {
	if len(pdu) < 5 {
		return errInvalidPDULen
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	val := binary.BigEndian.Uint16(pdu[3:5])
	b.mu.Lock()
	defer b.mu.Unlock()
	if fn == fnWriteSingleReg {
		b.holding[addr] = val
		return nil
	}
	switch val {
	case 0xFF00:
		b.coils[addr] = true
	case 0x0000:
		b.coils[addr] = false
	default:
		return errInvalidQty
	}
	return nil
}

func exception(fn, c byte) []byte {
	return []byte{fn | 0x80, c}
}

func code(err error) byte {
	switch {
	case errors.Is(err, errOutOfRange):
		return exIllegalDataAddr
	case errors.Is(err, errInvalidQty), errors.Is(err, errInvalidPDULen):
		return exIllegalDataVal
	default:
		return exIllegalFunction
	}
}
