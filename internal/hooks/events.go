package hooks

import "time"

// EventType represents the kind of relay lifecycle event that occurred.
type EventType string

const (
	// Registry lifecycle.
	EventStreamCreate  EventType = "stream_create"
	EventStreamDestroy EventType = "stream_destroy"

	// Publisher lifecycle.
	EventPublishStart  EventType = "publish_start"
	EventPublishStop   EventType = "publish_stop"
	EventPublishReject EventType = "publish_reject"

	// Subscriber lifecycle.
	EventSubscriberConnect    EventType = "subscriber_connect"
	EventSubscriberDisconnect EventType = "subscriber_disconnect"
	EventSubscriberOverflow   EventType = "subscriber_overflow"

	// Container validation.
	EventContainerRejected EventType = "container_rejected"
)

// Event represents a single relay event that can trigger hooks.
type Event struct {
	Type         EventType              `json:"type"`
	Timestamp    int64                  `json:"timestamp"`
	StreamName   string                 `json:"stream_name,omitempty"`
	SubscriberID string                 `json:"subscriber_id,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      make(map[string]interface{}),
	}
}

// WithStreamName sets the stream name for the event.
func (e *Event) WithStreamName(name string) *Event {
	e.StreamName = name
	return e
}

// WithSubscriberID sets the subscriber id for the event.
func (e *Event) WithSubscriberID(id string) *Event {
	e.SubscriberID = id
	return e
}

// WithData adds a data field to the event.
func (e *Event) WithData(key string, value interface{}) *Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// String returns a human-readable representation of the event.
func (e *Event) String() string {
	if e.StreamName != "" {
		return string(e.Type) + ":" + e.StreamName
	}
	if e.SubscriberID != "" {
		return string(e.Type) + ":" + e.SubscriberID
	}
	return string(e.Type)
}
