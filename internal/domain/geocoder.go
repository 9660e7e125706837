package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTransient marks a geocoding failure that may succeed on retry
// (timeout, rate limit, temporary unavailability).
var ErrTransient = errors.New("transient geocoding failure")

// GeocodingResult contains location data returned by a geocoding provider.
// The zero value means no match.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	PlaceName        string
}

// Found reports whether the result carries a match.
func (r GeocodingResult) Found() bool {
	return r.FormattedAddress != "" || r.PlaceName != "" || r.Lat != 0 || r.Lon != 0
}

// Geocoder resolves a free-text query to its best-matching place.
type Geocoder interface {
	// Geocode returns the best match for query, a zero result when nothing
	// matched, or an error. Retryable errors wrap ErrTransient.
	Geocode(ctx context.Context, query string) (GeocodingResult, error)
}

// RateLimitError is returned by the chat platform when it mandates a pause.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}
