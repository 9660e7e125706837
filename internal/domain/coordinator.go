package domain

import (
	"context"
	"log/slog"
	"strings"
)

// PlaceResolver resolves one place name with an optional country hint.
type PlaceResolver interface {
	Resolve(ctx context.Context, place string, hint CountryHint) Resolution
}

// Coordinator turns one message's text into its resolved locations.
type Coordinator struct {
	extractor EntityExtractor
	resolver  PlaceResolver
	logger    *slog.Logger
}

// NewCoordinator creates a Coordinator from an entity extractor and a resolver.
func NewCoordinator(extractor EntityExtractor, resolver PlaceResolver, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		extractor: extractor,
		resolver:  resolver,
		logger:    logger,
	}
}

// ResolveAll extracts place candidates from text and resolves each one,
// trying every decoded country hint before falling back to an unhinted query.
// Locations are returned in candidate order without a MessageID. Extraction
// failures are logged and produce an empty result.
func (c *Coordinator) ResolveAll(ctx context.Context, text string) []ResolvedLocation {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	hints := DecodeFlags(text)
	entities, err := c.extractor.Extract(ctx, text)
	if err != nil {
		c.logger.Warn("entity extraction failed", "error", err)
		return nil
	}
	candidates := PlaceCandidates(entities)
	if len(candidates) == 0 {
		return nil
	}

	c.logger.Debug("resolving candidates", "candidates", len(candidates), "hints", len(hints))

	var out []ResolvedLocation
	for _, name := range candidates {
		if ctx.Err() != nil {
			break
		}
		best := c.resolveCandidate(ctx, name, hints)
		if !best.Found || !ValidPoint(best.Point) {
			continue
		}
		out = append(out, ResolvedLocation{
			Name:       name,
			Point:      best.Point,
			Confidence: best.Confidence,
		})
	}
	return out
}

func (c *Coordinator) resolveCandidate(ctx context.Context, name string, hints []CountryHint) Resolution {
	var best Resolution
	for _, hint := range hints {
		res := c.resolver.Resolve(ctx, name, hint)
		if res.Found && res.Confidence > best.Confidence {
			best = res
		}
	}
	if best.Found {
		return best
	}

	// Equal confidence keeps the unhinted result.
	unhinted := c.resolver.Resolve(ctx, name, "")
	if unhinted.Confidence >= best.Confidence {
		best = unhinted
	}
	return best
}
