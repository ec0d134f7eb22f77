package client

import "eda2power/internal/telemetry"

// Reading is one output's state as reported by the daemon.
type Reading struct {
	On        bool
	Volts     float64
	MilliAmps float64
}

// Environment is the enclosure climate as reported by the daemon.
type Environment struct {
	Humidity    float64
	Temperature float64
}

// SwitchResult is the outcome of switching one output.
type SwitchResult struct {
	Output string
	OK     bool
	Error  string
}

// Confirmation is the challenge returned by the first call of a
// reboot or shutdown.
type Confirmation struct {
	Token   string
	Warning string
}

// HistoryPage is one page of archived samples.
type HistoryPage struct {
	Readings    []telemetry.Reading
	Environment []telemetry.EnvSample
}
