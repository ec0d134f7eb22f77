package hw

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/spi"
)

// adcSettle is how long to wait after routing the chip select before
// clocking the MCP3208.
const adcSettle = 10 * time.Millisecond

// ADCSet reads the eight MCP3208 12-bit ADC chips that carry the
// voltage and current sense lines for all 32 outputs. The chips share
// one SPI bus; the chip select is routed through the 74X138 decoder.
type ADCSet struct {
	mu     sync.Mutex
	conn   spi.Conn
	sel    *chipSelector
	settle time.Duration
}

var _ ADC = (*ADCSet)(nil)

// NewADCSet returns an ADCSet reading over conn with chip selection on
// the given decoder pins.
func NewADCSet(conn spi.Conn, sel *chipSelector) *ADCSet {
	return &ADCSet{conn: conn, sel: sel, settle: adcSettle}
}

// Read returns the raw 12-bit value (0-4095) from the given channel
// (0-7) on the given chip (0-7).
func (a *ADCSet) Read(chip, channel int) (uint16, error) {
	if channel < 0 || channel > 7 {
		return 0, fmt.Errorf("adc channel must be 0-7, not %d", channel)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.sel.sel(chip); err != nil {
		return 0, fmt.Errorf("adc read chip %d: %w", chip, err)
	}
	time.Sleep(a.settle)

	// Single-ended conversion: start bit, SGL/DIFF=1, then the three
	// channel address bits straddling the first two command bytes.
	d2 := byte(channel>>2) & 1
	d1 := byte(channel>>1) & 1
	d0 := byte(channel) & 1
	w := []byte{0x06 | d2, d1<<7 | d0<<6, 0x00}
	r := make([]byte, 3)

	txErr := a.conn.Tx(w, r)
	if err := a.sel.deselect(); err != nil && txErr == nil {
		txErr = err
	}
	if txErr != nil {
		return 0, fmt.Errorf("adc read chip %d channel %d: %w", chip, channel, txErr)
	}

	// Reply: byte 0 is don't-care, byte 1 carries the top four bits.
	return uint16(r[1]&0x0F)<<8 | uint16(r[2]), nil
}
