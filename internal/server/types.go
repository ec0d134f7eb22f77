package server

import (
	"eda2power/internal/controller"
	"eda2power/internal/telemetry"
)

// SwitchRequest names the outputs a switching call operates on. Entries
// are name specs: single outputs ("A1"), banks ("B"), tile numbers
// ("12"), "all", and "-" prefixed exclusions.
type SwitchRequest struct {
	Outputs []string `json:"outputs"`
}

// SwitchResponse carries the per-output outcomes of a switching call.
type SwitchResponse struct {
	Results []controller.SwitchResult `json:"results"`
}

// StateResponse maps output names to their commanded switch state.
type StateResponse struct {
	States map[string]bool `json:"states"`
}

// StatusResponse is the full per-output sense snapshot.
type StatusResponse struct {
	Outputs map[string]controller.Reading `json:"outputs"`
}

// EnvironmentResponse is the enclosure climate.
type EnvironmentResponse struct {
	Humidity    float64 `json:"humidity"`
	Temperature float64 `json:"temperature"`
}

// VersionResponse reports the daemon version.
type VersionResponse struct {
	Version string `json:"version"`
}

// PingResponse answers a liveness probe.
type PingResponse struct {
	Pong bool `json:"pong"`
}

// OKResponse acknowledges a call with no per-output detail.
type OKResponse struct {
	OK bool `json:"ok"`
}

// TelemetryResponse is a page of archived samples, newest first.
type TelemetryResponse struct {
	Readings    []telemetry.Reading   `json:"readings"`
	Environment []telemetry.EnvSample `json:"environment"`
}

// SystemRequest carries the confirmation token for reboot and shutdown.
type SystemRequest struct {
	ConfirmToken string `json:"confirm_token,omitempty"`
}

// ConfirmationResponse is returned when a destructive operation needs a
// second, confirmed call.
type ConfirmationResponse struct {
	ConfirmationRequired bool   `json:"confirmation_required"`
	ConfirmToken         string `json:"confirm_token"`
	Warning              string `json:"warning"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
