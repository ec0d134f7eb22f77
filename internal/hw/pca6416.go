package hw

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
)

// PCA6416A register pairs. Each command address covers two consecutive
// 8-bit port registers.
const (
	regOutput   = 0x02
	regPolarity = 0x04
	regConfig   = 0x06
)

// Expander switches 16 output FETs through one PCA6416A I2C port
// expander. It keeps a shadow copy of the port state and rewrites both
// port registers on every change, mirroring what the chip latches.
type Expander struct {
	mu      sync.Mutex
	bus     i2c.Bus
	addr    uint16
	portmap [16]bool
}

var _ Switcher = (*Expander)(nil)

// NewExpander configures the PCA6416A at addr: all pins outputs, no
// polarity inversion, everything switched off.
func NewExpander(bus i2c.Bus, addr uint16) (*Expander, error) {
	e := &Expander{bus: bus, addr: addr}

	init := [][]byte{
		{regOutput, 0x00, 0x00},   // outputs low before enabling them
		{regPolarity, 0x00, 0x00}, // no inversion
		{regConfig, 0x00, 0x00},   // all pins outputs
	}
	for _, w := range init {
		if err := bus.Tx(addr, w, nil); err != nil {
			return nil, fmt.Errorf("init expander 0x%02x: %w", addr, err)
		}
	}
	return e, nil
}

// Set switches channel (1-16) on or off, rewriting the full port state.
func (e *Expander) Set(channel int, on bool) error {
	if channel < 1 || channel > 16 {
		return fmt.Errorf("expander channel must be 1-16, not %d", channel)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.portmap[channel-1] = on
	if err := e.write(); err != nil {
		// The chip state is unknown; revert the shadow so a retry
		// rewrites the intended bit again.
		e.portmap[channel-1] = !on
		return fmt.Errorf("set channel %d on expander 0x%02x: %w", channel, e.addr, err)
	}
	return nil
}

// Clear switches every channel off with one bus write.
func (e *Expander) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.portmap = [16]bool{}
	if err := e.write(); err != nil {
		return fmt.Errorf("clear expander 0x%02x: %w", e.addr, err)
	}
	return nil
}

// write pushes the shadow port state to the chip. Caller holds e.mu.
// Channel 1 occupies the most significant bit of port register 1,
// matching the board's FET ordering.
func (e *Expander) write() error {
	var p1, p2 byte
	for i := 0; i < 8; i++ {
		if e.portmap[i] {
			p1 |= 1 << (7 - i)
		}
		if e.portmap[8+i] {
			p2 |= 1 << (7 - i)
		}
	}
	return e.bus.Tx(e.addr, []byte{regOutput, p1, p2}, nil)
}
