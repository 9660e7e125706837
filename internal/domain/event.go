package domain

import (
	"time"

	"github.com/paulmach/orb"
)

// MediaRef points at a media attachment held by the chat platform.
type MediaRef struct {
	FileID   string
	FilePath string // platform-side path; its extension is kept for the local file
}

// Event is a message-arrival notification delivered by the chat platform.
type Event struct {
	TraceID    string
	ChannelID  int64
	MessageID  int64
	Text       string
	Media      *MediaRef
	ReceivedAt time.Time
}

// Message is one ingested unit of text.
type Message struct {
	ID                int64     `json:"id"`
	Text              string    `json:"text"`
	MediaPaths        []string  `json:"media_paths"`
	SourceChannel     string    `json:"source_channel"`
	ExternalMessageID int64     `json:"telegram_msg_id"`
	Timestamp         time.Time `json:"timestamp"`
}

// CountryHint is a two-letter country code decoded from a flag emoji.
type CountryHint string

// Entity is a span of text labelled by the entity-extraction model.
type Entity struct {
	Text  string
	Label string
}

// ResolvedLocation is a candidate place name mapped to a coordinate.
type ResolvedLocation struct {
	MessageID  int64     `json:"message_id,omitempty"`
	Name       string    `json:"name"`
	Point      orb.Point `json:"-"`
	Confidence float64   `json:"confidence"`
}

// Lat returns the latitude in decimal degrees.
func (l ResolvedLocation) Lat() float64 { return l.Point.Lat() }

// Lon returns the longitude in decimal degrees.
func (l ResolvedLocation) Lon() float64 { return l.Point.Lon() }

// MessageRecord is a stored message together with its resolved locations.
type MessageRecord struct {
	Message   Message          `json:"message"`
	Locations []LocationRecord `json:"locations"`
}

// LocationRecord is the serialized form of a ResolvedLocation.
type LocationRecord struct {
	Name       string  `json:"location_name"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Confidence float64 `json:"confidence"`
}

// NewLocationRecord flattens a ResolvedLocation for serialization.
func NewLocationRecord(l ResolvedLocation) LocationRecord {
	return LocationRecord{
		Name:       l.Name,
		Lat:        l.Lat(),
		Lon:        l.Lon(),
		Confidence: l.Confidence,
	}
}
