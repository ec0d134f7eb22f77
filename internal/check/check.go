// Package check evaluates the health of an EDA2 power unit for
// Nagios/Icinga. It maps daemon readings onto the four plugin states
// and renders the single status line with perfdata.
package check

import (
	"fmt"
	"strings"

	"eda2power/internal/client"
	"eda2power/internal/output"
)

// Plugin exit states, in Nagios order. Numeric values are the plugin
// protocol and must not change.
type State int

const (
	StateOK State = iota
	StateWarning
	StateCritical
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StateOK:
		return "OK"
	case StateWarning:
		return "WARNING"
	case StateCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// worse returns the more severe of two states. UNKNOWN outranks
// WARNING but not CRITICAL, matching the usual plugin convention.
func worse(a, b State) State {
	rank := map[State]int{StateOK: 0, StateWarning: 1, StateUnknown: 2, StateCritical: 3}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Thresholds are the warning and critical climate limits.
type Thresholds struct {
	TempWarn     float64
	TempCrit     float64
	HumidityWarn float64
	HumidityCrit float64
}

// DefaultThresholds are the limits the enclosure was specified for.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TempWarn:     70,
		TempCrit:     80,
		HumidityWarn: 90,
		HumidityCrit: 95,
	}
}

// Input is everything the plugin gathered from the daemon. Each fetch
// carries its own error so partial failures degrade instead of
// aborting.
type Input struct {
	PingErr   error
	Env       *client.Environment
	EnvErr    error
	Status    map[string]client.Reading
	StatusErr error
}

// Result is the plugin verdict.
type Result struct {
	State  State
	Output string
}

// Evaluate turns gathered readings into a plugin verdict.
//
// An unreachable daemon is CRITICAL: no power control at a remote site
// is an incident. Missing climate or power data with a live daemon is
// UNKNOWN; individual outputs absent from an otherwise good snapshot
// are WARNING.
func Evaluate(in Input, th Thresholds) Result {
	if in.PingErr != nil {
		return Result{
			State:  StateCritical,
			Output: fmt.Sprintf("EDA2 CRITICAL - daemon unreachable: %v", in.PingErr),
		}
	}

	state := StateOK
	var msgs []string
	var perf []string

	if in.EnvErr != nil || in.Env == nil {
		state = worse(state, StateUnknown)
		msg := "missing temperature and humidity"
		if in.EnvErr != nil {
			msg = fmt.Sprintf("%s: %v", msg, in.EnvErr)
		}
		msgs = append(msgs, msg)
	} else {
		tempState := threshold(in.Env.Temperature, th.TempWarn, th.TempCrit)
		humState := threshold(in.Env.Humidity, th.HumidityWarn, th.HumidityCrit)
		state = worse(state, worse(tempState, humState))

		msgs = append(msgs, fmt.Sprintf("temperature %.1fC", in.Env.Temperature))
		if tempState != StateOK {
			msgs[len(msgs)-1] += fmt.Sprintf(" (%s)", tempState)
		}
		msgs = append(msgs, fmt.Sprintf("humidity %.1f%%", in.Env.Humidity))
		if humState != StateOK {
			msgs[len(msgs)-1] += fmt.Sprintf(" (%s)", humState)
		}

		perf = append(perf,
			fmt.Sprintf("temperature=%.1f;%.0f;%.0f", in.Env.Temperature, th.TempWarn, th.TempCrit),
			fmt.Sprintf("humidity=%.1f;%.0f;%.0f", in.Env.Humidity, th.HumidityWarn, th.HumidityCrit))
	}

	if in.StatusErr != nil || len(in.Status) == 0 {
		state = worse(state, StateUnknown)
		msg := "no power data from device"
		if in.StatusErr != nil {
			msg = fmt.Sprintf("%s: %v", msg, in.StatusErr)
		}
		msgs = append(msgs, msg)
	} else {
		on, missing := 0, 0
		for _, n := range output.All() {
			r, ok := in.Status[string(n)]
			if !ok {
				missing++
				continue
			}
			if r.On {
				on++
			}
			// Per-output perfdata feeds the long-term graphs.
			perf = append(perf,
				fmt.Sprintf("%s_volts=%.3f", n, r.Volts),
				fmt.Sprintf("%s_mA=%.3f", n, r.MilliAmps))
		}
		if missing > 0 {
			state = worse(state, StateWarning)
			msgs = append(msgs, fmt.Sprintf("%d outputs missing power data", missing))
		}
		msgs = append(msgs, fmt.Sprintf("%d/%d outputs on", on, len(output.All())))
		perf = append(perf, fmt.Sprintf("outputs_on=%d", on))
	}

	out := fmt.Sprintf("EDA2 %s - %s", state, strings.Join(msgs, ", "))
	if len(perf) > 0 {
		out += " | " + strings.Join(perf, " ")
	}
	return Result{State: state, Output: out}
}

// threshold compares strictly: a reading sitting exactly on a limit
// has not crossed it.
func threshold(value, warn, crit float64) State {
	switch {
	case value > crit:
		return StateCritical
	case value > warn:
		return StateWarning
	default:
		return StateOK
	}
}
