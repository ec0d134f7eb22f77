// Package output defines the 32 switchable 48V outputs of an EDA2/FNDH
// power unit: their names, the fixed wiring that maps each name to a
// switch channel and ADC channels, and the name-spec expansion used by
// clients to address groups of outputs.
package output

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Name identifies one output port: a bank letter (A-D) followed by a
// digit from 1-8, e.g. "A2" or "D7". The canonical form is upper case.
type Name string

// Wiring holds the hardware addressing for one output.
type Wiring struct {
	// SwitchChannel is the channel (1-16) on the output's PCA6416A
	// port expander.
	SwitchChannel int
	// ADCChip selects which of the eight MCP3208 chips (0-7) carries
	// this output's sense channels.
	ADCChip int
	// VoltChannel and CurrChannel are the MCP3208 input channels (0-7)
	// for the voltage and current sense lines.
	VoltChannel int
	CurrChannel int
}

// chipMap is fixed by the digital board layout. Entries are
// (switch channel, ADC chip, voltage channel, current channel).
var chipMap = map[Name]Wiring{
	"A1": {10, 7, 0, 1}, "A2": {9, 7, 2, 3},
	"A3": {2, 6, 0, 1}, "A4": {1, 6, 2, 3},
	"A5": {10, 5, 0, 1}, "A6": {9, 5, 2, 3},
	"A7": {2, 4, 0, 1}, "A8": {1, 4, 2, 3},

	"B1": {12, 7, 4, 5}, "B2": {11, 7, 6, 7},
	"B3": {4, 6, 4, 5}, "B4": {3, 6, 6, 7},
	"B5": {12, 5, 4, 5}, "B6": {11, 5, 6, 7},
	"B7": {4, 4, 4, 5}, "B8": {3, 4, 6, 7},

	"C1": {14, 0, 0, 1}, "C2": {13, 0, 2, 3},
	"C3": {6, 1, 0, 1}, "C4": {5, 1, 2, 3},
	"C5": {14, 2, 0, 1}, "C6": {13, 2, 2, 3},
	"C7": {6, 3, 0, 1}, "C8": {5, 3, 2, 3},

	"D1": {16, 0, 4, 5}, "D2": {15, 0, 6, 7},
	"D3": {8, 1, 4, 5}, "D4": {7, 1, 6, 7},
	"D5": {16, 2, 4, 5}, "D6": {15, 2, 6, 7},
	"D7": {8, 3, 4, 5}, "D8": {7, 3, 6, 7},
}

// tileMap maps an antenna tile number (1-16) to the pair of outputs
// feeding that tile. The assignment follows the field cabling, not the
// board layout.
var tileMap = map[int][2]Name{
	1: {"C5", "C6"}, 2: {"D5", "D6"},
	3: {"A7", "A8"}, 4: {"A3", "A4"},
	5: {"A1", "A2"}, 6: {"B7", "B8"},
	7: {"C1", "C2"}, 8: {"B3", "B4"},
	9: {"B1", "B2"}, 10: {"C3", "C4"},
	11: {"D1", "D2"}, 12: {"C7", "C8"},
	13: {"D3", "D4"}, 14: {"D7", "D8"},
	15: {"A5", "A6"}, 16: {"B5", "B6"},
}

// TileCount is the number of antenna tiles fed by one power unit.
const TileCount = 16

// Parse validates and canonicalises an output name. It accepts lower
// case input.
func Parse(s string) (Name, error) {
	n := Name(strings.ToUpper(strings.TrimSpace(s)))
	if !n.Valid() {
		return "", fmt.Errorf("invalid output name %q", s)
	}
	return n, nil
}

// Valid reports whether n is one of the 32 defined output names.
func (n Name) Valid() bool {
	_, ok := chipMap[n]
	return ok
}

// Bank returns the bank letter ('A'-'D') of a valid name.
func (n Name) Bank() byte { return n[0] }

// Index returns the digit (1-8) of a valid name.
func (n Name) Index() int { return int(n[1] - '0') }

// Expander returns which PCA6416A instance (1 or 2) switches this
// output. Outputs 5-8 of each bank sit on chip 1, outputs 1-4 on chip 2.
func (n Name) Expander() int {
	if n.Index() > 4 {
		return 1
	}
	return 2
}

// Wiring returns the hardware addressing for a valid name. It panics on
// an invalid name; call Valid or Parse first.
func (n Name) Wiring() Wiring {
	w, ok := chipMap[n]
	if !ok {
		panic(fmt.Sprintf("output: no wiring for %q", string(n)))
	}
	return w
}

// All returns the 32 output names in sorted order (A1..A8, B1..B8, ...).
func All() []Name {
	names := make([]Name, 0, len(chipMap))
	for _, bank := range []byte{'A', 'B', 'C', 'D'} {
		for digit := 1; digit <= 8; digit++ {
			names = append(names, Name(fmt.Sprintf("%c%d", bank, digit)))
		}
	}
	return names
}

// Tile returns the output pair feeding tile number t (1-16).
func Tile(t int) ([2]Name, bool) {
	pair, ok := tileMap[t]
	return pair, ok
}

// ExpandSpecs expands a list of name specs into a sorted, deduplicated
// list of output names. Each spec is one of:
//
//   - a full output name ("A2", case-insensitive)
//   - a bank letter ("B"), expanding to all eight outputs of that bank
//   - a tile number ("3"), expanding to that tile's output pair
//   - the word "all", expanding to all 32 outputs
//
// A spec prefixed with '-' excludes its expansion from the result, so
// "all -C -B3" addresses everything except bank C and output B3.
func ExpandSpecs(specs []string) ([]Name, error) {
	include := make(map[Name]bool)
	exclude := make(map[Name]bool)

	for _, spec := range specs {
		target := include
		body := spec
		if strings.HasPrefix(spec, "-") {
			target = exclude
			body = spec[1:]
		}

		names, err := expandOne(body)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			target[n] = true
		}
	}

	var out []Name
	for n := range include {
		if !exclude[n] {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// expandOne expands a single spec body (no exclusion prefix).
func expandOne(body string) ([]Name, error) {
	body = strings.TrimSpace(body)
	upper := strings.ToUpper(body)

	if upper == "ALL" {
		return All(), nil
	}

	// All-digit specs are tile numbers. This must come before the
	// output-name form so "10".."16" are not misparsed as names.
	if t, err := strconv.Atoi(body); err == nil {
		pair, ok := Tile(t)
		if !ok {
			return nil, fmt.Errorf("tile number must be 1-%d, not %d", TileCount, t)
		}
		return []Name{pair[0], pair[1]}, nil
	}

	switch {
	case len(upper) == 1 && upper[0] >= 'A' && upper[0] <= 'D':
		names := make([]Name, 0, 8)
		for digit := 1; digit <= 8; digit++ {
			names = append(names, Name(fmt.Sprintf("%c%d", upper[0], digit)))
		}
		return names, nil

	case len(upper) == 2:
		n, err := Parse(upper)
		if err != nil {
			return nil, err
		}
		return []Name{n}, nil
	}

	return nil, fmt.Errorf("unrecognised output spec %q", body)
}

// Strings converts a name slice to its string form, preserving order.
func Strings(names []Name) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}
