// Package ids wraps github.com/google/uuid so the rest of the repository
// has a single, swappable source of opaque 128-bit identifiers, matching
// spec.md §3's "IDs are opaque 128-bit values".
package ids

import "github.com/google/uuid"

// New returns a new random (v4) opaque identifier.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
