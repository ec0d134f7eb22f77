package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"eda2power/internal/hw"
	"eda2power/internal/output"
)

// switchStagger is the pause between consecutive FET switches. Turning
// 32 loads on back to back would sag the 48V rail.
const switchStagger = 50 * time.Millisecond

// Sense conversion factors: the voltage divider maps 60V full scale to
// 4096 counts, and the current shunt amplifier gives 4.096 counts/mA.
const (
	voltsFullScale = 60.0
	adcFullScale   = 4096.0
	countsPerMA    = 4.096
)

// Compile-time interface check.
var _ Power = (*Controller)(nil)

// Controller drives one power board. All bus access is serialised
// behind a single mutex, mirroring the shared I2C/SPI wiring.
type Controller struct {
	mu        sync.Mutex
	adc       hw.ADC
	expanders map[int]hw.Switcher
	env       hw.EnvSensor
	log       *zap.Logger
	stagger   time.Duration

	state map[output.Name]bool
}

// Option adjusts Controller construction.
type Option func(*Controller)

// WithStagger overrides the inter-switch delay; tests use zero.
func WithStagger(d time.Duration) Option {
	return func(c *Controller) { c.stagger = d }
}

// New returns a Controller over the given board devices, with every
// output assumed off. Pass a hw.Board's fields, or the Simulator's
// views when running without hardware.
func New(adc hw.ADC, exp1, exp2 hw.Switcher, env hw.EnvSensor, log *zap.Logger, opts ...Option) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Controller{
		adc:       adc,
		expanders: map[int]hw.Switcher{1: exp1, 2: exp2},
		env:       env,
		log:       log,
		stagger:   switchStagger,
		state:     make(map[output.Name]bool, 32),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TurnOn switches each named output on, pausing between switches. A
// per-output result is returned; a bus failure on one output does not
// stop the rest.
func (c *Controller) TurnOn(ctx context.Context, names []output.Name) []SwitchResult {
	c.log.Info("turn on requested", zap.Strings("outputs", output.Strings(names)))
	return c.switchMany(ctx, names, true)
}

// TurnOff switches each named output off, pausing between switches.
func (c *Controller) TurnOff(ctx context.Context, names []output.Name) []SwitchResult {
	c.log.Info("turn off requested", zap.Strings("outputs", output.Strings(names)))
	return c.switchMany(ctx, names, false)
}

func (c *Controller) switchMany(ctx context.Context, names []output.Name, on bool) []SwitchResult {
	results := make([]SwitchResult, 0, len(names))
	for i, n := range names {
		if i > 0 {
			if err := sleep(ctx, c.stagger); err != nil {
				// Report the remaining outputs as not switched.
				for _, rest := range names[i:] {
					results = append(results, SwitchResult{Output: string(rest), Error: err.Error()})
				}
				return results
			}
		}

		res := SwitchResult{Output: string(n)}
		if err := c.switchOne(n, on); err != nil {
			res.Error = err.Error()
			c.log.Error("switch failed", zap.String("output", string(n)), zap.Bool("on", on), zap.Error(err))
		} else {
			res.OK = true
		}
		results = append(results, res)
	}
	return results
}

func (c *Controller) switchOne(n output.Name, on bool) error {
	if !n.Valid() {
		return fmt.Errorf("invalid output name %q", string(n))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sw := c.expanders[n.Expander()]
	if err := sw.Set(n.Wiring().SwitchChannel, on); err != nil {
		return err
	}
	c.state[n] = on
	return nil
}

// IsOn reports the last commanded switch state for each name. The FETs
// have no readback; this is the shadow state, same as the board keeps.
func (c *Controller) IsOn(names []output.Name) map[output.Name]bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[output.Name]bool, len(names))
	for _, n := range names {
		out[n] = c.state[n]
	}
	return out
}

// AllOn turns every output on in name order, staggered.
func (c *Controller) AllOn(ctx context.Context) error {
	c.log.Info("turning all outputs on")
	return firstError(c.switchMany(ctx, output.All(), true))
}

// AllOff turns every output off in name order, staggered.
func (c *Controller) AllOff(ctx context.Context) error {
	c.log.Info("turning all outputs off")
	return firstError(c.switchMany(ctx, output.All(), false))
}

// Shutdown turns every output off without staggering; used on daemon
// exit where speed matters more than rail surge.
func (c *Controller) Shutdown() error {
	c.log.Info("shutdown: clearing all outputs")

	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, sw := range c.expanders {
		if err := sw.Clear(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for n := range c.state {
		c.state[n] = false
	}
	return firstErr
}

// Sense reads the voltage and current for one output.
func (c *Controller) Sense(n output.Name) (Reading, error) {
	if !n.Valid() {
		return Reading{}, fmt.Errorf("invalid output name %q", string(n))
	}
	w := n.Wiring()

	c.mu.Lock()
	defer c.mu.Unlock()

	vRaw, err := c.adc.Read(w.ADCChip, w.VoltChannel)
	if err != nil {
		return Reading{}, fmt.Errorf("sense %s voltage: %w", string(n), err)
	}
	iRaw, err := c.adc.Read(w.ADCChip, w.CurrChannel)
	if err != nil {
		return Reading{}, fmt.Errorf("sense %s current: %w", string(n), err)
	}

	return Reading{
		On:        c.state[n],
		Volts:     voltsFullScale * float64(vRaw) / adcFullScale,
		MilliAmps: float64(iRaw) / countsPerMA,
	}, nil
}

// Status reads every output's sense lines. A read failure aborts the
// whole status; partial maps would hide broken ADC chains.
func (c *Controller) Status(ctx context.Context) (map[output.Name]Reading, error) {
	readings := make(map[output.Name]Reading, 32)
	for _, n := range output.All() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		r, err := c.Sense(n)
		if err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		readings[n] = r
	}
	return readings, nil
}

// Environment reads the enclosure humidity and temperature.
func (c *Controller) Environment(ctx context.Context) (*Environment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	c.mu.Lock()
	hum, temp, err := c.env.ReadEnv()
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return &Environment{Humidity: hum, Temperature: temp}, nil
}

// Version reports the controller software version.
func (c *Controller) Version() string { return Version }

// firstError converts switch results into a single error for the
// all-on/all-off paths, where callers only care whether every switch
// landed.
func firstError(results []SwitchResult) error {
	for _, r := range results {
		if !r.OK {
			return fmt.Errorf("switch %s: %s", r.Output, r.Error)
		}
	}
	return nil
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
