// Package safety provides the guard rails around power switching:
// lock filters for outputs that must not be touched remotely,
// two-step confirmation for reboot/shutdown, and audit logging of
// every mutating API call.
package safety

import "path/filepath"

// Filter decides which outputs a remote caller may switch. Both lists
// hold glob patterns (as understood by filepath.Match) over output
// names, e.g. "C*" or "B3".
//
// Rules:
//   - A locked pattern always wins: a matching output is never
//     switchable.
//   - With a non-empty switchable list, an output must match one of
//     its patterns; otherwise everything not locked is switchable.
type Filter struct {
	switchable []string
	locked     []string
}

// NewFilter builds a Filter from the configured switchable and locked
// pattern lists. Either may be nil.
func NewFilter(switchable, locked []string) *Filter {
	return &Filter{switchable: switchable, locked: locked}
}

// IsSwitchable reports whether the named output may be switched.
func (f *Filter) IsSwitchable(name string) bool {
	for _, pattern := range f.locked {
		if globMatch(pattern, name) {
			return false
		}
	}
	if len(f.switchable) == 0 {
		return true
	}
	for _, pattern := range f.switchable {
		if globMatch(pattern, name) {
			return true
		}
	}
	return false
}

// globMatch treats malformed patterns as non-matching rather than
// failing the whole request.
func globMatch(pattern, name string) bool {
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}
