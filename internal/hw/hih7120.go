package hw

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// envConversion is the HIH7120 measurement time. The datasheet maximum
// is ~37 ms; 50 ms matches the board's proven timing.
const envConversion = 50 * time.Millisecond

// envScale is the full-scale count of the sensor's 14-bit output.
const envScale = 16382.0

// HIH7120 reads the Honeywell humidity/temperature sensor inside the
// unit enclosure.
type HIH7120 struct {
	mu   sync.Mutex
	bus  i2c.Bus
	addr uint16
}

var _ EnvSensor = (*HIH7120)(nil)

// NewHIH7120 returns a sensor reader on the given bus and address
// (normally AddrEnvSensor).
func NewHIH7120(bus i2c.Bus, addr uint16) *HIH7120 {
	return &HIH7120{bus: bus, addr: addr}
}

// ReadEnv triggers a measurement, waits for the conversion, and returns
// relative humidity in percent and temperature in degrees Celsius.
func (h *HIH7120) ReadEnv() (float64, float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// A bare address write is the measurement request.
	if err := h.bus.Tx(h.addr, []byte{}, nil); err != nil {
		return 0, 0, fmt.Errorf("env sensor measurement request: %w", err)
	}
	time.Sleep(envConversion)

	var data [4]byte
	if err := h.bus.Tx(h.addr, nil, data[:]); err != nil {
		return 0, 0, fmt.Errorf("env sensor read: %w", err)
	}

	// Top two bits of byte 0 are status; the remaining 14 bits are
	// humidity. Temperature is the top 14 of the last two bytes.
	hRaw := uint16(data[0]&0x3F)<<8 | uint16(data[1])
	tRaw := (uint16(data[2])<<8 | uint16(data[3])) >> 2

	humidity := float64(hRaw) / envScale * 100.0
	temperature := float64(tRaw)/envScale*165.0 - 40.0
	return humidity, temperature, nil
}
