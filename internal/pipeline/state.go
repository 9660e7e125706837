package pipeline

// State is a step of the per-event ingestion lifecycle.
type State int

const (
	StateReceived State = iota
	StateMediaStored
	StateMessagePersisted
	StateForwarded
	StateLocationsResolved
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateMediaStored:
		return "media_stored"
	case StateMessagePersisted:
		return "message_persisted"
	case StateForwarded:
		return "forwarded"
	case StateLocationsResolved:
		return "locations_resolved"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome describes how one event left the pipeline.
type Outcome struct {
	State     State // StateCommitted or StateFailed
	LastState State // last non-terminal state reached
	MessageID int64 // zero when the message row was never written
	Locations int   // location rows written
	Err       error
}
