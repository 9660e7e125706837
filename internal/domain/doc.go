// Package domain models chat messages and the places mentioned in them.
//
// # Country Hints
//
// Flag emoji are pairs of Unicode regional indicator symbols in the range
// U+1F1E6 (A) through U+1F1FF (Z). The pair "🇫🇷" is U+1F1EB U+1F1F7, which
// decodes to the ISO 3166-1 alpha-2 code "FR". Hints are decoded left to
// right and are not deduplicated: "🇺🇦🇺🇦" yields ["UA", "UA"]. An unpaired
// indicator is ignored. See [DecodeFlags].
//
// # Candidates
//
// Candidates are entity spans produced by a named-entity model. Only
// geo-political ("GPE") and geographic ("LOC") labels are kept; BIO prefixes
// such as "B-LOC" are stripped before the label is compared.
//
// # Confidence
//
// Confidence is derived from the attempt on which the geocoder produced a
// match, not from the geocoder's own relevance score:
//
//	attempt 0 → 0.9
//	attempt 1 → 0.7
//	attempt 2 → 0.5
//	no match  → 0.0
//
// Retrying a timed-out query improves availability, not accuracy, so a late
// match is trusted less. See [Resolver].
//
// # Coordinates
//
// Coordinates are held as [orb.Point] values in (lon, lat) order. Only points
// inside [WorldBound] are ever stored.
package domain
