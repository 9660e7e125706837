package domain

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type stubExtractor struct {
	entities []Entity
	err      error
	calls    int
}

func (s *stubExtractor) Extract(_ context.Context, _ string) ([]Entity, error) {
	s.calls++
	return s.entities, s.err
}

type resolveCall struct {
	place string
	hint  CountryHint
}

type stubResolver struct {
	results map[resolveCall]Resolution
	calls   []resolveCall
}

func (s *stubResolver) Resolve(_ context.Context, place string, hint CountryHint) Resolution {
	call := resolveCall{place: place, hint: hint}
	s.calls = append(s.calls, call)
	return s.results[call]
}

func found(lat, lon, confidence float64) Resolution {
	return Resolution{Point: orb.Point{lon, lat}, Confidence: confidence, Found: true, Attempts: 1}
}

// --- tests ---

func TestCoordinator_FlagHintFirstAttempt(t *testing.T) {
	geo := newScriptedGeocoder(map[string][]step{"Paris, FR": {{result: paris}}})
	resolver := newTestResolver(geo, clockwork.NewFakeClock(), nil)
	extractor := &stubExtractor{entities: []Entity{{Text: "Paris", Label: "GPE"}}}

	c := NewCoordinator(extractor, resolver, discardLogger())
	got := c.ResolveAll(context.Background(), "Flood warning in 🇫🇷 Paris")

	want := []ResolvedLocation{{Name: "Paris", Point: orb.Point{2.3522, 48.8566}, Confidence: 0.9}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("locations mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"Paris, FR"}, geo.queries, "unhinted query is skipped after a hinted match")
}

func TestCoordinator_NoCandidates(t *testing.T) {
	extractor := &stubExtractor{entities: []Entity{{Text: "Reuters", Label: "ORG"}}}
	resolver := &stubResolver{}

	c := NewCoordinator(extractor, resolver, discardLogger())
	got := c.ResolveAll(context.Background(), "Breaking news from Reuters")

	assert.Empty(t, got)
	assert.Empty(t, resolver.calls)
}

func TestCoordinator_EmptyTextSkipsExtraction(t *testing.T) {
	extractor := &stubExtractor{}
	c := NewCoordinator(extractor, &stubResolver{}, discardLogger())

	assert.Empty(t, c.ResolveAll(context.Background(), "   "))
	assert.Zero(t, extractor.calls)
}

func TestCoordinator_ExtractionErrorIsAbsorbed(t *testing.T) {
	extractor := &stubExtractor{err: errors.New("model not loaded")}
	c := NewCoordinator(extractor, &stubResolver{}, discardLogger())

	assert.Empty(t, c.ResolveAll(context.Background(), "Shelling in Kharkiv"))
}

func TestCoordinator_BestHintWins(t *testing.T) {
	extractor := &stubExtractor{entities: []Entity{{Text: "Kharkiv", Label: "GPE"}}}
	resolver := &stubResolver{results: map[resolveCall]Resolution{
		{"Kharkiv", "RU"}: found(50.0, 36.2, 0.5),
		{"Kharkiv", "UA"}: found(49.99, 36.23, 0.9),
	}}

	c := NewCoordinator(extractor, resolver, discardLogger())
	got := c.ResolveAll(context.Background(), "🇷🇺🇺🇦 Kharkiv")

	require.Len(t, got, 1)
	assert.Equal(t, 0.9, got[0].Confidence)
	assert.Equal(t, orb.Point{36.23, 49.99}, got[0].Point)
	assert.Equal(t, []resolveCall{{"Kharkiv", "RU"}, {"Kharkiv", "UA"}}, resolver.calls)
}

func TestCoordinator_FirstOfEqualHintsWins(t *testing.T) {
	extractor := &stubExtractor{entities: []Entity{{Text: "Georgia", Label: "GPE"}}}
	resolver := &stubResolver{results: map[resolveCall]Resolution{
		{"Georgia", "GE"}: found(41.7, 44.8, 0.9),
		{"Georgia", "US"}: found(32.7, -83.4, 0.9),
	}}

	c := NewCoordinator(extractor, resolver, discardLogger())
	got := c.ResolveAll(context.Background(), "🇬🇪🇺🇸 Georgia")

	require.Len(t, got, 1)
	assert.Equal(t, orb.Point{44.8, 41.7}, got[0].Point)
}

func TestCoordinator_FallsBackToUnhinted(t *testing.T) {
	extractor := &stubExtractor{entities: []Entity{{Text: "Gaza", Label: "GPE"}}}
	resolver := &stubResolver{results: map[resolveCall]Resolution{
		{"Gaza", ""}: found(31.5, 34.47, 0.7),
	}}

	c := NewCoordinator(extractor, resolver, discardLogger())
	got := c.ResolveAll(context.Background(), "🇮🇱 Gaza")

	require.Len(t, got, 1)
	assert.Equal(t, 0.7, got[0].Confidence)
	assert.Equal(t, []resolveCall{{"Gaza", "IL"}, {"Gaza", ""}}, resolver.calls)
}

func TestCoordinator_UnresolvedCandidateDropped(t *testing.T) {
	extractor := &stubExtractor{entities: []Entity{
		{Text: "Atlantis", Label: "LOC"},
		{Text: "Paris", Label: "GPE"},
	}}
	resolver := &stubResolver{results: map[resolveCall]Resolution{
		{"Paris", ""}: found(48.85, 2.35, 0.9),
	}}

	c := NewCoordinator(extractor, resolver, discardLogger())
	got := c.ResolveAll(context.Background(), "From Atlantis to Paris")

	require.Len(t, got, 1)
	assert.Equal(t, "Paris", got[0].Name)
}

func TestCoordinator_PreservesCandidateOrder(t *testing.T) {
	extractor := &stubExtractor{entities: []Entity{
		{Text: "Lviv", Label: "GPE"},
		{Text: "Carpathians", Label: "LOC"},
		{Text: "Kyiv", Label: "GPE"},
	}}
	resolver := &stubResolver{results: map[resolveCall]Resolution{
		{"Lviv", ""}:        found(49.84, 24.03, 0.9),
		{"Carpathians", ""}: found(48.5, 24.0, 0.5),
		{"Kyiv", ""}:        found(50.45, 30.52, 0.7),
	}}

	c := NewCoordinator(extractor, resolver, discardLogger())
	got := c.ResolveAll(context.Background(), "Lviv, the Carpathians and Kyiv")

	names := make([]string, len(got))
	for i, l := range got {
		names[i] = l.Name
	}
	assert.Equal(t, []string{"Lviv", "Carpathians", "Kyiv"}, names)
	assert.LessOrEqual(t, len(got), len(extractor.entities))
	for _, l := range got {
		assert.True(t, l.Valid())
		assert.Zero(t, l.MessageID)
	}
}

func TestCoordinator_InvalidPointDropped(t *testing.T) {
	extractor := &stubExtractor{entities: []Entity{{Text: "Paris", Label: "GPE"}}}
	resolver := &stubResolver{results: map[resolveCall]Resolution{
		{"Paris", ""}: {Point: orb.Point{math.NaN(), 48.8}, Confidence: 0.9, Found: true},
	}}

	c := NewCoordinator(extractor, resolver, discardLogger())
	assert.Empty(t, c.ResolveAll(context.Background(), "Paris"))
}

func TestResolvedLocation_Valid(t *testing.T) {
	assert.True(t, ResolvedLocation{Point: orb.Point{180, -90}, Confidence: 0.9}.Valid())
	assert.False(t, ResolvedLocation{Point: orb.Point{180.1, 0}, Confidence: 0.9}.Valid())
	assert.False(t, ResolvedLocation{Point: orb.Point{0, 90.5}, Confidence: 0.5}.Valid())
	assert.False(t, ResolvedLocation{Point: orb.Point{0, 0}, Confidence: 1.0}.Valid())
	assert.False(t, ResolvedLocation{Point: orb.Point{math.Inf(1), 0}, Confidence: 0.5}.Valid())
}

func TestCoordinator_LowercaseBIOLabels(t *testing.T) {
	extractor := &stubExtractor{entities: []Entity{
		{Text: "Kharkiv", Label: "i-loc"},
		{Text: "Lviv", Label: "b-gpe"},
	}}
	resolver := &stubResolver{results: map[resolveCall]Resolution{
		{"Kharkiv", ""}: found(49.99, 36.23, 0.9),
		{"Lviv", ""}:    found(49.84, 24.03, 0.9),
	}}

	c := NewCoordinator(extractor, resolver, discardLogger())
	got := c.ResolveAll(context.Background(), "Kharkiv and Lviv")

	require.Len(t, got, 2)
	assert.Equal(t, "Kharkiv", got[0].Name)
	assert.Equal(t, "Lviv", got[1].Name)
}

func TestNormalizeLabel(t *testing.T) {
	tests := map[string]string{
		"GPE":   "GPE",
		"B-LOC": "LOC",
		"i-loc": "LOC",
		"b-gpe": "GPE",
		"per":   "PER",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeLabel(in), in)
	}
}
