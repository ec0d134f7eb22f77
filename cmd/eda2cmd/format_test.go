package main

import (
	"strings"
	"testing"
	"time"

	"eda2power/internal/client"
	"eda2power/internal/output"
	"eda2power/internal/telemetry"
)

func fullStatus(onNames ...string) map[string]client.Reading {
	on := make(map[string]bool, len(onNames))
	for _, n := range onNames {
		on[n] = true
	}
	status := make(map[string]client.Reading, 32)
	for _, n := range output.All() {
		r := client.Reading{Volts: 0.02, MilliAmps: 0.05}
		if on[string(n)] {
			r = client.Reading{On: true, Volts: 48.4, MilliAmps: 51.3}
		}
		status[string(n)] = r
	}
	return status
}

func Test_FormatStatus_TileLayout(t *testing.T) {
	got := formatStatus(fullStatus("A7", "A8"))

	lines := strings.Split(strings.TrimSpace(got), "\n")
	// 16 tile lines, a blank, and the summary.
	if len(lines) != 18 {
		t.Fatalf("%d lines, want 18:\n%s", len(lines), got)
	}
	if !strings.HasPrefix(lines[0], "tile  1:") {
		t.Errorf("first line = %q", lines[0])
	}

	// Tile 1 is the A7/A8 pair and both are on.
	if !strings.Contains(lines[0], "A7") || !strings.Contains(lines[0], "A8") {
		t.Errorf("tile 1 line missing its outputs: %q", lines[0])
	}
	if strings.Count(lines[0], "ON") != 2 {
		t.Errorf("tile 1 line should show both outputs ON: %q", lines[0])
	}

	summary := lines[len(lines)-1]
	if !strings.Contains(summary, "2/32 outputs on") {
		t.Errorf("summary = %q", summary)
	}
	// Spread runs over every measured output, not just the energised
	// ones.
	if !strings.Contains(summary, "volts 0.02-48.40") {
		t.Errorf("summary missing voltage spread: %q", summary)
	}
}

func Test_FormatStatus_NothingOn(t *testing.T) {
	got := formatStatus(fullStatus())
	if !strings.Contains(got, "0/32 outputs on") {
		t.Errorf("summary missing from:\n%s", got)
	}
	if !strings.Contains(got, "volts 0.02-0.02") {
		t.Errorf("spread over measured outputs missing with nothing on:\n%s", got)
	}
}

func Test_FormatStatus_Empty(t *testing.T) {
	got := formatStatus(map[string]client.Reading{})
	if !strings.Contains(got, "0/0 outputs on") {
		t.Errorf("summary = %q", got)
	}
	if strings.Contains(got, "volts") {
		t.Errorf("spread shown with nothing measured:\n%s", got)
	}
}

func Test_FormatHistory(t *testing.T) {
	ts := time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC)
	page := &client.HistoryPage{
		Readings: []telemetry.Reading{
			{TakenAt: ts, Output: "A1", On: true, Volts: 48.21, MilliAmps: 50.4},
		},
		Environment: []telemetry.EnvSample{
			{TakenAt: ts, Humidity: 61.5, Temperature: 33.2},
		},
	}

	got := formatHistory(page)
	if !strings.Contains(got, "climate:") || !strings.Contains(got, "outputs:") {
		t.Fatalf("sections missing:\n%s", got)
	}
	if !strings.Contains(got, "33.2 C") {
		t.Errorf("climate line missing temperature:\n%s", got)
	}
	if !strings.Contains(got, "A1") || !strings.Contains(got, "48.21 V") {
		t.Errorf("output line wrong:\n%s", got)
	}
}

func Test_FormatHistory_Empty(t *testing.T) {
	if got := formatHistory(&client.HistoryPage{}); got != "no samples archived\n" {
		t.Errorf("empty history = %q", got)
	}
}
