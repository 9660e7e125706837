package domain

import (
	"math"

	"github.com/paulmach/orb"
)

// WorldBound is the valid WGS-84 coordinate range.
var WorldBound = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

// MaxConfidence is the confidence of a first-attempt match.
const MaxConfidence = 0.9

// ValidPoint reports whether p is a finite coordinate inside WorldBound.
func ValidPoint(p orb.Point) bool {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return WorldBound.Contains(p)
}

// Valid reports whether the location may be persisted.
func (l ResolvedLocation) Valid() bool {
	return ValidPoint(l.Point) && l.Confidence >= 0 && l.Confidence <= MaxConfidence
}
