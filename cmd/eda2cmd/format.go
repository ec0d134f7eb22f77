package main

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"eda2power/internal/client"
	"eda2power/internal/output"
)

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "off"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatStatus renders the full status snapshot grouped by antenna
// tile, one line per tile, followed by an on-count and the voltage and
// current spread across every measured output.
func formatStatus(status map[string]client.Reading) string {
	var b strings.Builder

	on, measured := 0, 0
	minV, maxV := math.Inf(1), math.Inf(-1)
	minA, maxA := math.Inf(1), math.Inf(-1)

	for t := 1; t <= output.TileCount; t++ {
		pair, ok := output.Tile(t)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "tile %2d:", t)
		for _, n := range pair {
			r, ok := status[string(n)]
			if !ok {
				fmt.Fprintf(&b, "  %-3s  ---", n)
				continue
			}
			fmt.Fprintf(&b, "  %-3s %-3s %6.2f V %7.2f mA", n, onOff(r.On), r.Volts, r.MilliAmps)
			measured++
			if r.On {
				on++
			}
			minV, maxV = math.Min(minV, r.Volts), math.Max(maxV, r.Volts)
			minA, maxA = math.Min(minA, r.MilliAmps), math.Max(maxA, r.MilliAmps)
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "\n%d/%d outputs on", on, len(status))
	if measured > 0 {
		fmt.Fprintf(&b, ", volts %.2f-%.2f, current %.2f-%.2f mA", minV, maxV, minA, maxA)
	}
	b.WriteByte('\n')
	return b.String()
}

// formatHistory renders archived samples newest first.
func formatHistory(page *client.HistoryPage) string {
	var b strings.Builder

	if len(page.Environment) > 0 {
		b.WriteString("climate:\n")
		for _, e := range page.Environment {
			fmt.Fprintf(&b, "  %s  %5.1f C  %5.1f %%\n",
				e.TakenAt.Local().Format("2006-01-02 15:04:05"), e.Temperature, e.Humidity)
		}
	}

	if len(page.Readings) > 0 {
		b.WriteString("outputs:\n")
		for _, r := range page.Readings {
			fmt.Fprintf(&b, "  %s  %-3s %-3s %6.2f V %7.2f mA\n",
				r.TakenAt.Local().Format("2006-01-02 15:04:05"),
				r.Output, onOff(r.On), r.Volts, r.MilliAmps)
		}
	}

	if b.Len() == 0 {
		return "no samples archived\n"
	}
	return b.String()
}
