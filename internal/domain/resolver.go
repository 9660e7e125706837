package domain

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
)

// MaxGeocodeAttempts is the total number of geocoding attempts per query.
const MaxGeocodeAttempts = 3

// Attempt outcomes reported to ResolverConfig.OnAttempt.
const (
	AttemptMatch     = "match"
	AttemptEmpty     = "empty"
	AttemptTransient = "transient"
	AttemptError     = "error"
	AttemptInvalid   = "invalid"
)

// ResolverConfig controls retry timing for a Resolver.
type ResolverConfig struct {
	// BaseDelay is the pause after the first transient failure; it doubles
	// on each further retry.
	BaseDelay time.Duration
	// AttemptTimeout bounds a single geocoder call. Zero means no bound.
	AttemptTimeout time.Duration
	// Clock drives the backoff sleeps. Nil uses the real clock.
	Clock clockwork.Clock
	// OnAttempt, when set, is called once per geocoder call with its outcome.
	OnAttempt func(outcome string)
}

// DefaultResolverConfig returns the production retry settings.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		BaseDelay:      time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

// Resolution is the outcome of resolving one place name. It never carries an
// error: failure is Found == false with zero confidence.
type Resolution struct {
	Point       orb.Point
	DisplayName string
	Confidence  float64
	Found       bool

	Attempts int           // geocoder calls made
	Waited   time.Duration // total backoff slept between attempts
}

// Resolver geocodes place names with bounded retries and scores the result
// by the attempt that produced it.
type Resolver struct {
	geocoder Geocoder
	cfg      ResolverConfig
	logger   *slog.Logger
}

// NewResolver creates a Resolver around the given geocoding collaborator.
func NewResolver(geocoder Geocoder, cfg ResolverConfig, logger *slog.Logger) *Resolver {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Resolver{geocoder: geocoder, cfg: cfg, logger: logger}
}

// Query builds the geocoder query for a place name and optional country hint.
func Query(place string, hint CountryHint) string {
	if hint == "" {
		return place
	}
	return place + ", " + string(hint)
}

// ConfidenceForAttempt returns the confidence of a match produced on the
// zero-based attempt index.
func ConfidenceForAttempt(attempt int) float64 {
	c := MaxConfidence - 0.2*float64(attempt)
	if c < 0 {
		return 0
	}
	return math.Round(c*10) / 10
}

// Resolve geocodes place, optionally qualified by hint. Transient failures are
// retried with exponential backoff; a match returns immediately; a no-match
// answer or a permanent failure ends resolution with zero confidence.
func (r *Resolver) Resolve(ctx context.Context, place string, hint CountryHint) Resolution {
	query := Query(place, hint)
	var res Resolution

	for attempt := 0; attempt < MaxGeocodeAttempts; attempt++ {
		res.Attempts = attempt + 1

		result, err := r.call(ctx, query)
		switch {
		case err == nil && !result.Found():
			r.observe(AttemptEmpty)
			r.logger.Debug("geocode no match", "query", query, "attempt", attempt)
			return res

		case err == nil:
			point := orb.Point{result.Lon, result.Lat}
			if !ValidPoint(point) {
				r.observe(AttemptInvalid)
				r.logger.Warn("geocode returned invalid coordinate",
					"query", query, "lat", result.Lat, "lon", result.Lon)
				return res
			}
			r.observe(AttemptMatch)
			res.Point = point
			res.DisplayName = displayName(result, place)
			res.Confidence = ConfidenceForAttempt(attempt)
			res.Found = true
			r.logger.Debug("geocode match", "query", query, "attempt", attempt,
				"lat", result.Lat, "lon", result.Lon, "confidence", res.Confidence)
			return res

		case !r.transient(ctx, err):
			r.observe(AttemptError)
			r.logger.Warn("geocode failed", "query", query, "attempt", attempt, "error", err)
			return res
		}

		r.observe(AttemptTransient)
		r.logger.Warn("geocode attempt failed, will retry",
			"query", query, "attempt", attempt+1, "max_attempts", MaxGeocodeAttempts, "error", err)

		if attempt == MaxGeocodeAttempts-1 {
			break
		}
		delay := r.backoff(attempt)
		if !sleepWithContext(ctx, r.cfg.Clock, delay) {
			return res
		}
		res.Waited += delay
	}

	return res
}

func (r *Resolver) call(ctx context.Context, query string) (GeocodingResult, error) {
	if r.cfg.AttemptTimeout <= 0 {
		return r.geocoder.Geocode(ctx, query)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()
	return r.geocoder.Geocode(attemptCtx, query)
}

// transient reports whether err is worth retrying. A deadline only counts
// when it was the per-attempt bound that expired, not the caller's context.
func (r *Resolver) transient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

func (r *Resolver) backoff(attempt int) time.Duration {
	return r.cfg.BaseDelay << attempt
}

func (r *Resolver) observe(outcome string) {
	if r.cfg.OnAttempt != nil {
		r.cfg.OnAttempt(outcome)
	}
}

func displayName(result GeocodingResult, fallback string) string {
	if result.FormattedAddress != "" {
		return result.FormattedAddress
	}
	if result.PlaceName != "" {
		return result.PlaceName
	}
	return fallback
}

func sleepWithContext(ctx context.Context, clk clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clk.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
