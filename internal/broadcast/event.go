// Package broadcast fans audit job events out to live subscribers. It keeps a
// per-job subscriber registry; events for jobs with no subscribers are simply
// dropped, and a fresh status poll against the job store is the catch-up path.
package broadcast

import "seoscope/internal/audit"

// EventType denotes the kind of message pushed to subscribers.
type EventType string

// Supported event types. Exactly one terminal event (complete or error) ends
// every job's stream; no further events follow it.
const (
	EventStatus   EventType = "status"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one message on a job's stream.
type Event struct {
	Type     EventType          `json:"type"`
	JobID    string             `json:"job_id"`
	Progress int                `json:"progress,omitempty"`
	Message  string             `json:"message,omitempty"`
	Report   *audit.ScoreReport `json:"report,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// StatusEvent builds a progress update.
func StatusEvent(jobID string, progress int, message string) Event {
	return Event{Type: EventStatus, JobID: jobID, Progress: progress, Message: message}
}

// CompleteEvent builds the successful terminal event carrying the report.
func CompleteEvent(jobID string, report *audit.ScoreReport) Event {
	return Event{Type: EventComplete, JobID: jobID, Progress: 100, Report: report}
}

// ErrorEvent builds the failure terminal event.
func ErrorEvent(jobID string, errMsg string) Event {
	return Event{Type: EventError, JobID: jobID, Error: errMsg}
}
