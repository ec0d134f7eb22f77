package hw

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Default bus names and decoder pin assignments on the Raspberry Pi
// header. The pin names are the physical P1 connector numbers.
const (
	DefaultSPIDev = "SPI0.0"
	DefaultI2CBus = "1"

	DefaultPinDecodeA      = "P1_31"
	DefaultPinDecodeB      = "P1_32"
	DefaultPinDecodeC      = "P1_33"
	DefaultPinDecodeEnable = "P1_37"
)

// adcClock is deliberately slow; the sense lines are heavily filtered
// and the cable run to the analog board is long.
const adcClock = 10 * physic.KiloHertz

// BoardConfig selects the buses and pins used to reach the power board.
type BoardConfig struct {
	SPIDev    string
	I2CBus    string
	PinA      string
	PinB      string
	PinC      string
	PinEnable string
}

// DefaultBoardConfig returns the production wiring.
func DefaultBoardConfig() BoardConfig {
	return BoardConfig{
		SPIDev:    DefaultSPIDev,
		I2CBus:    DefaultI2CBus,
		PinA:      DefaultPinDecodeA,
		PinB:      DefaultPinDecodeB,
		PinC:      DefaultPinDecodeC,
		PinEnable: DefaultPinDecodeEnable,
	}
}

// Board bundles the device handles for one power control unit.
type Board struct {
	ADC       ADC
	Expander1 Switcher
	Expander2 Switcher
	Env       EnvSensor

	spiPort spi.PortCloser
	i2cBus  i2c.BusCloser
}

// OpenBoard initialises the periph host drivers and opens every device
// on the power board. On any failure the already-opened handles are
// closed before returning.
func OpenBoard(cfg BoardConfig) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	pins := make(map[string]gpio.PinIO, 4)
	for _, name := range []string{cfg.PinA, cfg.PinB, cfg.PinC, cfg.PinEnable} {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("gpio pin %q not found", name)
		}
		pins[name] = pin
	}

	sel, err := newChipSelector(pins[cfg.PinA], pins[cfg.PinB], pins[cfg.PinC], pins[cfg.PinEnable])
	if err != nil {
		return nil, err
	}

	spiPort, err := spireg.Open(cfg.SPIDev)
	if err != nil {
		return nil, fmt.Errorf("open spi %q: %w", cfg.SPIDev, err)
	}
	spiConn, err := spiPort.Connect(adcClock, spi.Mode0, 8)
	if err != nil {
		spiPort.Close()
		return nil, fmt.Errorf("connect spi %q: %w", cfg.SPIDev, err)
	}

	i2cBus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		spiPort.Close()
		return nil, fmt.Errorf("open i2c %q: %w", cfg.I2CBus, err)
	}

	b := &Board{
		ADC:     NewADCSet(spiConn, sel),
		Env:     NewHIH7120(i2cBus, AddrEnvSensor),
		spiPort: spiPort,
		i2cBus:  i2cBus,
	}

	if b.Expander1, err = NewExpander(i2cBus, AddrExpander1); err != nil {
		b.Close()
		return nil, err
	}
	if b.Expander2, err = NewExpander(i2cBus, AddrExpander2); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// Close releases the bus handles. The switch state is left as-is; the
// controller is responsible for turning outputs off first.
func (b *Board) Close() error {
	var firstErr error
	if b.spiPort != nil {
		if err := b.spiPort.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close spi: %w", err)
		}
	}
	if b.i2cBus != nil {
		if err := b.i2cBus.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close i2c: %w", err)
		}
	}
	return firstErr
}
