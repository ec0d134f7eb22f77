package hw

import (
	"fmt"
	"math/rand"
	"sync"

	"eda2power/internal/output"
)

// Simulator models the power board in memory so the daemon can run on a
// development host with no bus hardware, and so the controller can be
// tested end to end. Sense readings are derived from the simulated
// switch state: an energised output reads close to the 48V rail with a
// plausible load current, a dark one reads near zero.
type Simulator struct {
	mu sync.Mutex
	// on is keyed by (expander instance, switch channel).
	on  map[[2]int]bool
	rng *rand.Rand

	// senseMap resolves an ADC (chip, channel) pair back to the output
	// it senses, and whether the channel is voltage or current.
	senseMap map[[2]int]simSense

	humidity    float64
	temperature float64
}

type simSense struct {
	name    output.Name
	voltage bool
}

// NewSimulator returns a Simulator with all outputs off and a mild
// indoor climate.
func NewSimulator() *Simulator {
	s := &Simulator{
		on:          make(map[[2]int]bool),
		rng:         rand.New(rand.NewSource(1)),
		senseMap:    make(map[[2]int]simSense),
		humidity:    50.9,
		temperature: 22.2,
	}
	for _, n := range output.All() {
		w := n.Wiring()
		s.senseMap[[2]int{w.ADCChip, w.VoltChannel}] = simSense{name: n, voltage: true}
		s.senseMap[[2]int{w.ADCChip, w.CurrChannel}] = simSense{name: n, voltage: false}
	}
	return s
}

var _ ADC = (*Simulator)(nil)
var _ EnvSensor = (*Simulator)(nil)

// Expander returns the Switcher view for expander instance 1 or 2.
func (s *Simulator) Expander(instance int) Switcher {
	return &simSwitcher{sim: s, instance: instance}
}

// Read implements ADC, deriving the raw count from the switch state of
// whichever output the channel senses.
func (s *Simulator) Read(chip, channel int) (uint16, error) {
	if chip < 0 || chip > 7 || channel < 0 || channel > 7 {
		return 0, fmt.Errorf("sim adc read chip %d channel %d out of range", chip, channel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sense, ok := s.senseMap[[2]int{chip, channel}]
	if !ok {
		return 0, nil
	}

	w := sense.name.Wiring()
	energised := s.on[[2]int{sense.name.Expander(), w.SwitchChannel}]

	var raw float64
	switch {
	case sense.voltage && energised:
		// ~48.4 V on a 60 V full-scale.
		raw = 48.4/60.0*4096.0 + s.rng.Float64()*8 - 4
	case sense.voltage:
		raw = 0.25 / 60.0 * 4096.0
	case energised:
		// ~51 mA at 4.096 counts per mA.
		raw = 51.3*4.096 + s.rng.Float64()*4 - 2
	default:
		raw = s.rng.Float64() * 2
	}
	if raw < 0 {
		raw = 0
	}
	if raw > 4095 {
		raw = 4095
	}
	return uint16(raw), nil
}

// ReadEnv implements EnvSensor.
func (s *Simulator) ReadEnv() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.humidity + s.rng.Float64()*0.4 - 0.2,
		s.temperature + s.rng.Float64()*0.2 - 0.1, nil
}

// SetClimate overrides the simulated humidity and temperature; useful
// for exercising monitoring thresholds.
func (s *Simulator) SetClimate(humidity, temperature float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.humidity = humidity
	s.temperature = temperature
}

// IsOn reports the simulated switch state of an output, for tests.
func (s *Simulator) IsOn(n output.Name) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on[[2]int{n.Expander(), n.Wiring().SwitchChannel}]
}

// simSwitcher is the per-expander Switcher view over the Simulator.
type simSwitcher struct {
	sim      *Simulator
	instance int
}

var _ Switcher = (*simSwitcher)(nil)

func (w *simSwitcher) Set(channel int, on bool) error {
	if channel < 1 || channel > 16 {
		return fmt.Errorf("sim expander channel must be 1-16, not %d", channel)
	}
	w.sim.mu.Lock()
	defer w.sim.mu.Unlock()
	w.sim.on[[2]int{w.instance, channel}] = on
	return nil
}

func (w *simSwitcher) Clear() error {
	w.sim.mu.Lock()
	defer w.sim.mu.Unlock()
	for key := range w.sim.on {
		if key[0] == w.instance {
			delete(w.sim.on, key)
		}
	}
	return nil
}
