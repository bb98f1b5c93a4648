package model

import "time"

type Kind string

const (
	Track    Kind = "track"
	Page     Kind = "page"
	Identify Kind = "identify"
)

type (
	Properties map[string]any
	Traits     map[string]any
)

// Event model. Events are built once by the emitter and never modified
// afterwards; the queue and transport only read them.
type Event struct {
	Type        Kind         `json:"type"`
	Timestamp   int64        `json:"timestamp"`
	Event       string       `json:"event,omitempty"`
	Properties  Properties   `json:"properties,omitempty"`
	UserID      string       `json:"userId,omitempty"`
	AnonymousID string       `json:"anonymousId"`
	Traits      Traits       `json:"traits,omitempty"`
	Context     EventContext `json:"context"`
	MessageID   string       `json:"messageId,omitempty"`
}

// Make a track event.
func NewTrackEvent(name string, properties Properties, timestamp time.Time) Event {
	return Event{
		Type:       Track,
		Event:      name,
		Properties: copyMap(properties),
		Timestamp:  timestamp.UnixMilli(),
	}
}

// Make a page event.
func NewPageEvent(properties Properties, timestamp time.Time) Event {
	return Event{
		Type:       Page,
		Properties: copyMap(properties),
		Timestamp:  timestamp.UnixMilli(),
	}
}

// Make an identify event.
func NewIdentifyEvent(userID string, traits Traits, timestamp time.Time) Event {
	return Event{
		Type:      Identify,
		UserID:    userID,
		Traits:    copyMap(traits),
		Timestamp: timestamp.UnixMilli(),
	}
}

func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Batch is the request body sent to the collection endpoint.
type Batch struct {
	Events []Event `json:"events"`
}

func copyMap[M ~map[string]any](m M) M {
	if m == nil {
		return nil
	}

	c := make(M, len(m))
	for k, v := range m {
		c[k] = v
	}

	return c
}
