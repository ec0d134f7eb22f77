// Package hw drives the EDA2 power control board from the Raspberry Pi
// header: the eight MCP3208 sense ADCs on SPI behind a 74X138 chip-select
// decoder, the two PCA6416A port expanders switching the output FETs on
// I2C, and the HIH7120 humidity/temperature sensor.
//
// The controller package talks to the board only through the small ADC,
// Switcher and EnvSensor interfaces, so it can run against the real
// board, the Simulator, or test fakes.
package hw

// I2C addresses on the digital board. These are seven-bit addresses;
// 0x20 appears as 0x40/0x41 on the wire once the r/w bit is appended.
const (
	AddrExpander1 uint16 = 0x20
	AddrExpander2 uint16 = 0x21
	AddrEnvSensor uint16 = 0x27
)

// ADC reads raw 12-bit samples from the MCP3208 chips.
type ADC interface {
	// Read returns the raw value (0-4095) from the given input channel
	// (0-7) on the given chip (0-7).
	Read(chip, channel int) (uint16, error)
}

// Switcher drives the 16 output FETs behind one PCA6416A port expander.
type Switcher interface {
	// Set switches a single channel (1-16) on or off.
	Set(channel int, on bool) error
	// Clear switches every channel off with a single bus write.
	Clear() error
}

// EnvSensor reads the unit's internal climate.
type EnvSensor interface {
	// ReadEnv returns relative humidity in percent and temperature in
	// degrees Celsius.
	ReadEnv() (humidity, temperature float64, err error)
}
