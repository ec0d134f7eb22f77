package controller

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"eda2power/internal/hw"
	"eda2power/internal/output"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// mockADC implements hw.ADC with a func field.
type mockADC struct {
	readFunc func(chip, channel int) (uint16, error)
}

func (m *mockADC) Read(chip, channel int) (uint16, error) {
	return m.readFunc(chip, channel)
}

var _ hw.ADC = (*mockADC)(nil)

// mockSwitcher implements hw.Switcher, recording calls.
type mockSwitcher struct {
	mu      sync.Mutex
	sets    []setCall
	cleared int
	setErr  error
}

type setCall struct {
	channel int
	on      bool
}

func (m *mockSwitcher) Set(channel int, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.sets = append(m.sets, setCall{channel, on})
	return nil
}

func (m *mockSwitcher) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared++
	return nil
}

func (m *mockSwitcher) calls() []setCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]setCall, len(m.sets))
	copy(out, m.sets)
	return out
}

var _ hw.Switcher = (*mockSwitcher)(nil)

// mockEnv implements hw.EnvSensor.
type mockEnv struct {
	readFunc func() (float64, float64, error)
}

func (m *mockEnv) ReadEnv() (float64, float64, error) { return m.readFunc() }

var _ hw.EnvSensor = (*mockEnv)(nil)

// newTestController wires a controller over mocks with no stagger.
func newTestController(adc *mockADC, exp1, exp2 *mockSwitcher, env *mockEnv) *Controller {
	if adc == nil {
		adc = &mockADC{readFunc: func(chip, channel int) (uint16, error) { return 0, nil }}
	}
	if env == nil {
		env = &mockEnv{readFunc: func() (float64, float64, error) { return 50, 22, nil }}
	}
	return New(adc, exp1, exp2, env, nil, WithStagger(0))
}

// ---------------------------------------------------------------------------
// Switching
// ---------------------------------------------------------------------------

func Test_TurnOn_RoutesToCorrectExpander(t *testing.T) {
	exp1 := &mockSwitcher{}
	exp2 := &mockSwitcher{}
	c := newTestController(nil, exp1, exp2, nil)

	// A7 (digit > 4) is on expander 1, channel 2; A1 on expander 2,
	// channel 10.
	results := c.TurnOn(context.Background(), []output.Name{"A7", "A1"})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if !r.OK {
			t.Errorf("result for %s not OK: %s", r.Output, r.Error)
		}
	}

	if calls := exp1.calls(); len(calls) != 1 || calls[0] != (setCall{2, true}) {
		t.Errorf("expander 1 calls = %v, want [{2 true}]", calls)
	}
	if calls := exp2.calls(); len(calls) != 1 || calls[0] != (setCall{10, true}) {
		t.Errorf("expander 2 calls = %v, want [{10 true}]", calls)
	}
}

func Test_TurnOff_UpdatesShadowState(t *testing.T) {
	exp1 := &mockSwitcher{}
	exp2 := &mockSwitcher{}
	c := newTestController(nil, exp1, exp2, nil)
	ctx := context.Background()

	c.TurnOn(ctx, []output.Name{"B6"})
	if on := c.IsOn([]output.Name{"B6"}); !on["B6"] {
		t.Fatal("B6 not reported on after TurnOn")
	}

	c.TurnOff(ctx, []output.Name{"B6"})
	if on := c.IsOn([]output.Name{"B6"}); on["B6"] {
		t.Fatal("B6 still reported on after TurnOff")
	}
}

func Test_TurnOn_BusErrorReportedPerOutput(t *testing.T) {
	exp1 := &mockSwitcher{setErr: errors.New("i2c nak")}
	exp2 := &mockSwitcher{}
	c := newTestController(nil, exp1, exp2, nil)

	results := c.TurnOn(context.Background(), []output.Name{"A7", "A1"})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].OK || results[0].Error == "" {
		t.Errorf("A7 (broken expander) result = %+v, want error", results[0])
	}
	if !results[1].OK {
		t.Errorf("A1 result = %+v, want OK", results[1])
	}

	// Shadow state must not claim the failed output is on.
	if on := c.IsOn([]output.Name{"A7"}); on["A7"] {
		t.Error("A7 reported on despite switch failure")
	}
}

func Test_TurnOn_InvalidNameReported(t *testing.T) {
	c := newTestController(nil, &mockSwitcher{}, &mockSwitcher{}, nil)
	results := c.TurnOn(context.Background(), []output.Name{"Z9"})
	if len(results) != 1 || results[0].OK {
		t.Fatalf("results = %+v, want single failure", results)
	}
}

func Test_TurnOn_CancelledContextStopsRemainder(t *testing.T) {
	exp1 := &mockSwitcher{}
	exp2 := &mockSwitcher{}
	c := New(
		&mockADC{readFunc: func(int, int) (uint16, error) { return 0, nil }},
		exp1, exp2,
		&mockEnv{readFunc: func() (float64, float64, error) { return 0, 0, nil }},
		nil,
		WithStagger(time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := c.TurnOn(ctx, []output.Name{"A1", "A2", "A3"})
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	// The first switch happens before any stagger wait; the rest must
	// report the cancellation.
	if !results[0].OK {
		t.Errorf("first result = %+v, want OK", results[0])
	}
	for _, r := range results[1:] {
		if r.OK {
			t.Errorf("result %+v switched despite cancelled context", r)
		}
	}
}

func Test_AllOn_SwitchesAll32(t *testing.T) {
	exp1 := &mockSwitcher{}
	exp2 := &mockSwitcher{}
	c := newTestController(nil, exp1, exp2, nil)

	if err := c.AllOn(context.Background()); err != nil {
		t.Fatalf("AllOn: %v", err)
	}
	total := len(exp1.calls()) + len(exp2.calls())
	if total != 32 {
		t.Errorf("switched %d channels, want 32", total)
	}
	// 16 outputs per expander.
	if len(exp1.calls()) != 16 || len(exp2.calls()) != 16 {
		t.Errorf("split = %d/%d, want 16/16", len(exp1.calls()), len(exp2.calls()))
	}
}

func Test_AllOff_ReturnsFirstError(t *testing.T) {
	exp1 := &mockSwitcher{setErr: errors.New("dead chip")}
	exp2 := &mockSwitcher{}
	c := newTestController(nil, exp1, exp2, nil)

	if err := c.AllOff(context.Background()); err == nil {
		t.Fatal("AllOff succeeded with a dead expander, want error")
	}
}

func Test_Shutdown_ClearsBothExpanders(t *testing.T) {
	exp1 := &mockSwitcher{}
	exp2 := &mockSwitcher{}
	c := newTestController(nil, exp1, exp2, nil)
	ctx := context.Background()

	c.TurnOn(ctx, []output.Name{"A1", "A7"})
	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if exp1.cleared != 1 || exp2.cleared != 1 {
		t.Errorf("Clear calls = %d/%d, want 1/1", exp1.cleared, exp2.cleared)
	}
	on := c.IsOn([]output.Name{"A1", "A7"})
	if on["A1"] || on["A7"] {
		t.Error("outputs still reported on after Shutdown")
	}
}

// ---------------------------------------------------------------------------
// Sensing
// ---------------------------------------------------------------------------

func Test_Sense_ConvertsRawCounts(t *testing.T) {
	w := output.Name("C7").Wiring()
	adc := &mockADC{readFunc: func(chip, channel int) (uint16, error) {
		if chip != w.ADCChip {
			t.Errorf("read from chip %d, want %d", chip, w.ADCChip)
		}
		switch channel {
		case w.VoltChannel:
			return 3302, nil // 48.37 V
		case w.CurrChannel:
			return 210, nil // 51.27 mA
		default:
			t.Errorf("read from unexpected channel %d", channel)
			return 0, nil
		}
	}}
	c := newTestController(adc, &mockSwitcher{}, &mockSwitcher{}, nil)
	c.TurnOn(context.Background(), []output.Name{"C7"})

	r, err := c.Sense("C7")
	if err != nil {
		t.Fatalf("Sense: %v", err)
	}
	if !r.On {
		t.Error("Reading.On = false, want true")
	}
	if math.Abs(r.Volts-48.37) > 0.05 {
		t.Errorf("Volts = %.3f, want ~48.37", r.Volts)
	}
	if math.Abs(r.MilliAmps-51.27) > 0.05 {
		t.Errorf("MilliAmps = %.3f, want ~51.27", r.MilliAmps)
	}
}

func Test_Sense_ADCErrorPropagates(t *testing.T) {
	adc := &mockADC{readFunc: func(int, int) (uint16, error) {
		return 0, errors.New("spi timeout")
	}}
	c := newTestController(adc, &mockSwitcher{}, &mockSwitcher{}, nil)
	if _, err := c.Sense("A1"); err == nil {
		t.Fatal("expected ADC error, got nil")
	}
}

func Test_Status_CoversAllOutputs(t *testing.T) {
	adc := &mockADC{readFunc: func(int, int) (uint16, error) { return 100, nil }}
	c := newTestController(adc, &mockSwitcher{}, &mockSwitcher{}, nil)

	readings, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(readings) != 32 {
		t.Fatalf("Status returned %d readings, want 32", len(readings))
	}
	for _, n := range output.All() {
		if _, ok := readings[n]; !ok {
			t.Errorf("Status missing %s", n)
		}
	}
}

func Test_Status_AbortsOnReadFailure(t *testing.T) {
	calls := 0
	adc := &mockADC{readFunc: func(int, int) (uint16, error) {
		calls++
		if calls > 10 {
			return 0, errors.New("adc chain broken")
		}
		return 100, nil
	}}
	c := newTestController(adc, &mockSwitcher{}, &mockSwitcher{}, nil)

	if _, err := c.Status(context.Background()); err == nil {
		t.Fatal("Status succeeded with broken ADC chain, want error")
	}
}

func Test_Environment_ReturnsSensorValues(t *testing.T) {
	env := &mockEnv{readFunc: func() (float64, float64, error) { return 50.87, 22.23, nil }}
	c := newTestController(nil, &mockSwitcher{}, &mockSwitcher{}, env)

	got, err := c.Environment(context.Background())
	if err != nil {
		t.Fatalf("Environment: %v", err)
	}
	if got.Humidity != 50.87 || got.Temperature != 22.23 {
		t.Errorf("Environment = %+v, want {50.87 22.23}", got)
	}
}

func Test_Environment_SensorErrorPropagates(t *testing.T) {
	env := &mockEnv{readFunc: func() (float64, float64, error) {
		return 0, 0, errors.New("sensor absent")
	}}
	c := newTestController(nil, &mockSwitcher{}, &mockSwitcher{}, env)
	if _, err := c.Environment(context.Background()); err == nil {
		t.Fatal("expected sensor error, got nil")
	}
}

func Test_Version_MatchesConstant(t *testing.T) {
	c := newTestController(nil, &mockSwitcher{}, &mockSwitcher{}, nil)
	if got := c.Version(); got != Version {
		t.Errorf("Version() = %q, want %q", got, Version)
	}
}

// ---------------------------------------------------------------------------
// Loops
// ---------------------------------------------------------------------------

// mockRecorder implements Recorder.
type mockRecorder struct {
	mu      sync.Mutex
	records int
	lastEnv *Environment
}

func (m *mockRecorder) Record(ctx context.Context, readings map[output.Name]Reading, env *Environment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records++
	m.lastEnv = env
	if len(readings) != 32 {
		return errors.New("short readings map")
	}
	return nil
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records
}

func Test_RunMonitor_RecordsSamples(t *testing.T) {
	sim := hw.NewSimulator()
	c := New(sim, sim.Expander(1), sim.Expander(2), sim, nil, WithStagger(0))
	rec := &mockRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunMonitor(ctx, 5*time.Millisecond, rec) }()

	deadline := time.After(2 * time.Second)
	for rec.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("monitor loop produced no samples in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("RunMonitor returned %v, want context.Canceled", err)
	}
	if rec.lastEnv == nil {
		t.Error("monitor never recorded environment data")
	}
}

func Test_RunRFISweep_StopsOnCancel(t *testing.T) {
	sim := hw.NewSimulator()
	c := New(sim, sim.Expander(1), sim.Expander(2), sim, nil, WithStagger(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunRFISweep(ctx, true) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunRFISweep returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunRFISweep did not stop after cancel")
	}
}
