package hw

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// chipSelector drives the 74X138 3-to-8 decoder that routes the SPI chip
// select to one of the eight MCP3208 chips. The enable pin is active
// high on the Pi side; the decoder outputs themselves are active low.
type chipSelector struct {
	mu      sync.Mutex
	a, b, c gpio.PinIO // address bits 0-2
	enable  gpio.PinIO
}

func newChipSelector(a, b, c, enable gpio.PinIO) (*chipSelector, error) {
	sel := &chipSelector{a: a, b: b, c: c, enable: enable}
	// Start with every decoder output disabled.
	if err := sel.deselect(); err != nil {
		return nil, fmt.Errorf("init chip selector: %w", err)
	}
	return sel, nil
}

// sel routes the chip select to decoder output n (0-7).
func (s *chipSelector) sel(n int) error {
	if n < 0 || n > 7 {
		return fmt.Errorf("chip select must be 0-7, not %d", n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Disable while the address lines settle.
	if err := s.enable.Out(gpio.Low); err != nil {
		return fmt.Errorf("chip select disable: %w", err)
	}
	if err := s.a.Out(gpio.Level(n&1 != 0)); err != nil {
		return fmt.Errorf("chip select bit A: %w", err)
	}
	if err := s.b.Out(gpio.Level(n&2 != 0)); err != nil {
		return fmt.Errorf("chip select bit B: %w", err)
	}
	if err := s.c.Out(gpio.Level(n&4 != 0)); err != nil {
		return fmt.Errorf("chip select bit C: %w", err)
	}
	if err := s.enable.Out(gpio.High); err != nil {
		return fmt.Errorf("chip select enable: %w", err)
	}
	return nil
}

// deselect disables every decoder output.
func (s *chipSelector) deselect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enable.Out(gpio.Low); err != nil {
		return fmt.Errorf("chip select disable: %w", err)
	}
	return nil
}
