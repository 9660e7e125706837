package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeFlags(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []CountryHint
	}{
		{name: "empty", text: "", want: nil},
		{name: "no flags", text: "Flood warning in Paris", want: nil},
		{name: "single flag", text: "Flood warning in 🇫🇷 Paris", want: []CountryHint{"FR"}},
		{name: "adjacent flags", text: "🇺🇦🇵🇱", want: []CountryHint{"UA", "PL"}},
		{name: "duplicates kept", text: "🇺🇦 Kyiv 🇺🇦", want: []CountryHint{"UA", "UA"}},
		{name: "unpaired trailing indicator", text: "🇫🇷🇩", want: []CountryHint{"FR"}},
		{name: "unpaired leading indicator", text: "\U0001F1E9 x 🇩🇪", want: []CountryHint{"DE"}},
		{name: "bounds of range", text: "\U0001F1E6\U0001F1FF", want: []CountryHint{"AZ"}},
		{name: "other emoji", text: "🔥🌊 Lisbon", want: nil},
		{name: "invalid utf8", text: "\xff\xfe", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeFlags(tt.text))
		})
	}
}

func TestDecodeFlags_NeverConsumesTwice(t *testing.T) {
	// Three indicators: the middle one must not be reused for a second pair.
	got := DecodeFlags("\U0001F1E6\U0001F1E7\U0001F1E8")
	assert.Equal(t, []CountryHint{"AB"}, got)

	// Four indicators pair up as (1,2) and (3,4), never (2,3).
	got = DecodeFlags("\U0001F1E6\U0001F1E7\U0001F1E8\U0001F1E9")
	assert.Equal(t, []CountryHint{"AB", "CD"}, got)
}

func TestPlaceCandidates(t *testing.T) {
	entities := []Entity{
		{Text: "Paris", Label: "GPE"},
		{Text: "Reuters", Label: "ORG"},
		{Text: " Alps ", Label: "B-LOC"},
		{Text: "", Label: "LOC"},
		{Text: "Macron", Label: "PER"},
		{Text: "Seine", Label: "i-loc"},
	}

	assert.Equal(t, []string{"Paris", "Alps", "Seine"}, PlaceCandidates(entities))
}
