// Package region derives grid-cell identifiers from farm coordinates.
//
// Policies never store raw point coordinates for claim matching.
// Instead, latitude/longitude (fixed-point degrees ×1e6) are bucketed
// into 0.1° grid cells and encoded as a hex hash whose bit-interleaved
// layout makes geographically close cells share a common prefix. Claims
// are correlated against region-level weather, and prefix length
// controls the correlation radius.
package region

import (
	"fmt"
)

const (
	// CellSizeMicroDeg is the grid cell edge in micro-degrees (0.1°).
	CellSizeMicroDeg = 100_000

	latOffset = 90_000_000  // shift latitude into [0, 180e6]
	lonOffset = 180_000_000 // shift longitude into [0, 360e6]
)

// Hash returns the region identifier for a coordinate pair. Coordinates
// outside the valid range are clamped rather than rejected: the engine
// treats them as opaque integers and leaves geocoding validation to the
// attestation layer.
func Hash(latitude, longitude int64) string {
	latCell := clamp(latitude+latOffset, 0, 2*latOffset) / CellSizeMicroDeg
	lonCell := clamp(longitude+lonOffset, 0, 2*lonOffset) / CellSizeMicroDeg
	return fmt.Sprintf("%08x", interleave(uint32(latCell), uint32(lonCell)))
}

// SharePrefix reports whether two region hashes agree on their first
// prefixLen characters. Because of the interleaved encoding, a longer
// shared prefix implies closer geography.
func SharePrefix(a, b string, prefixLen int) bool {
	if prefixLen < 1 {
		prefixLen = 1
	}
	return prefix(a, prefixLen) == prefix(b, prefixLen)
}

func prefix(s string, length int) string {
	if length >= len(s) {
		return s
	}
	return s[:length]
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// interleave merges the low 16 bits of two cell indices into a Z-order
// value: bit i of lat lands at position 2i, bit i of lon at 2i+1.
func interleave(lat, lon uint32) uint32 {
	var out uint32
	for i := uint(0); i < 16; i++ {
		out |= ((lat >> i) & 1) << (2 * i)
		out |= ((lon >> i) & 1) << (2*i + 1)
	}
	return out
}
