package domain

import (
	"encoding/json"
	"time"
)

// Event types emitted by the service.
const (
	EventHTTPRequest       = "http_request"
	EventJobQueued         = "job_queued"
	EventJobStarted        = "job_started"
	EventJobCompleted      = "job_completed"
	EventJobFailed         = "job_failed"
	EventJobDispatchFailed = "job_dispatch_failed"
)

// Event is a single telemetry record. It is serialized as JSON onto Kafka and into Loki.
type Event struct {
	UserID    string          `json:"user_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	JobID     string          `json:"job_id,omitempty"`
	EventType string          `json:"event_type"`
	Source    string          `json:"source"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent returns an event stamped with the current UTC time. metadata is JSON-encoded;
// encoding failures drop the metadata rather than the event.
func NewEvent(eventType, source string, metadata any) *Event {
	e := &Event{EventType: eventType, Source: source, CreatedAt: time.Now().UTC()}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			e.Metadata = raw
		}
	}
	return e
}
