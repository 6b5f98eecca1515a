package staging

import (
	"fmt"
	"strings"
	"sync"
)

// ErrInvalidProfile is returned for profile names that cannot round-trip
// through a URL path segment.
var ErrInvalidProfile = fmt.Errorf("profile name must not contain '/' or whitespace")

// IDMint hands out opaque "<profile>-<n>" staging-repository ids, backed by
// a monotonic per-profile counter that resets on process restart (spec.md
// section 4.2).
type IDMint struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewIDMint constructs an empty mint.
func NewIDMint() *IDMint {
	return &IDMint{counters: make(map[string]uint64)}
}

// ValidateProfile rejects profile names that would not round-trip through a
// URL path segment.
func ValidateProfile(profile string) error {
	if profile == "" || strings.ContainsAny(profile, "/ \t\n\r") {
		return ErrInvalidProfile
	}
	return nil
}

// Next mints the next id for profile. Callers must hold whatever lock
// serializes registry insertion so that minting and insertion are atomic;
// IDMint itself only guarantees the counter is unique.
func (m *IDMint) Next(profile string) (string, error) {
	if err := ValidateProfile(profile); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.counters[profile]++
	n := m.counters[profile]
	m.mu.Unlock()

	return fmt.Sprintf("%s-%d", profile, n), nil
}
