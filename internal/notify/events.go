// Package notify fans engine events out to connected clients over
// websockets, with a filesystem relay so batch processes can reach
// clients connected to the serving process.
package notify

import "time"

// Event kinds broadcast by the engine and batch jobs.
const (
	EventMomentCaptured      = "moment.captured"
	EventSignalScored        = "signal.scored"
	EventOutreachRecommended = "outreach.recommended"
	EventLifecycleSwept      = "lifecycle.swept"
)

// Event is a single notification. Payload is kind-specific and must be
// JSON-marshalable.
type Event struct {
	Kind    string      `json:"kind"`
	ActorID string      `json:"actor_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	Time    time.Time   `json:"time"`
}

// NewEvent stamps an event with the current time.
func NewEvent(kind, actorID string, payload interface{}) Event {
	return Event{Kind: kind, ActorID: actorID, Payload: payload, Time: time.Now().UTC()}
}
