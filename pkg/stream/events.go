package stream

import "time"

// Event types published while preparing streams.
const (
	EventPrepareStarted = "prepare_started"
	EventJobSubmitted   = "job_submitted"
	EventJobReused      = "job_reused"
	EventReuseFailed    = "reuse_failed"
	EventStreamReady    = "stream_ready"
	EventStreamFailed   = "stream_failed"
)

// Event is a progress notification for one preparation.
type Event struct {
	Type    string    `json:"type"`
	Key     string    `json:"key"`
	Title   string    `json:"title,omitempty"`
	JobID   string    `json:"jobId,omitempty"`
	File    string    `json:"file,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// EventSink receives preparation events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

type nopSink struct{}

func (nopSink) Publish(Event) {}
