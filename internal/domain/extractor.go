package domain

import (
	"context"
	"strings"
)

// EntityExtractor labels named entities in free text.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]Entity, error)
}

// NormalizeLabel strips BIO tagging prefixes ("B-", "I-") and upper-cases the label.
func NormalizeLabel(label string) string {
	label = strings.ToUpper(label)
	label = strings.TrimPrefix(label, "B-")
	return strings.TrimPrefix(label, "I-")
}

// IsPlaceLabel reports whether an entity label denotes a geo-political or
// geographic entity.
func IsPlaceLabel(label string) bool {
	switch NormalizeLabel(label) {
	case "GPE", "LOC":
		return true
	}
	return false
}

// PlaceCandidates returns the trimmed text of every place-labelled entity,
// in extractor order.
func PlaceCandidates(entities []Entity) []string {
	var out []string
	for _, e := range entities {
		if !IsPlaceLabel(e.Label) {
			continue
		}
		name := strings.TrimSpace(e.Text)
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}
