// Package controller owns the runtime state of one EDA2 power unit: it
// switches the 32 outputs, reads their sense lines, and runs the
// background monitor and RFI-test sweeps.
package controller

import (
	"context"

	"eda2power/internal/output"
)

// Version is reported over the API and by the version command.
const Version = "1.0.0"

// Reading is one output's switch state and sense measurements.
type Reading struct {
	On        bool    `json:"on"`
	Volts     float64 `json:"volts"`
	MilliAmps float64 `json:"milliamps"`
}

// Environment is the climate inside the unit enclosure.
type Environment struct {
	Humidity    float64 `json:"humidity"`
	Temperature float64 `json:"temperature"`
}

// SwitchResult reports the outcome of switching a single output.
type SwitchResult struct {
	Output string `json:"output"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Power is the control surface the API server drives. *Controller is
// the production implementation.
type Power interface {
	TurnOn(ctx context.Context, names []output.Name) []SwitchResult
	TurnOff(ctx context.Context, names []output.Name) []SwitchResult
	IsOn(names []output.Name) map[output.Name]bool
	AllOn(ctx context.Context) error
	AllOff(ctx context.Context) error
	Status(ctx context.Context) (map[output.Name]Reading, error)
	Environment(ctx context.Context) (*Environment, error)
	Version() string
}
