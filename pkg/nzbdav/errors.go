package nzbdav

import (
	"fmt"
	"time"
)

// SubmissionError means the queue refused or could not take a download reference.
type SubmissionError struct {
	Reference  string
	Category   string
	StatusCode int
	Reason     string
	Err        error
}

func (e *SubmissionError) Error() string {
	msg := "nzbdav submission failed"
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// HistoryError is returned when the history endpoint answers but reports failure.
type HistoryError struct {
	Category   string
	StatusCode int
	Reason     string
	Err        error
}

func (e *HistoryError) Error() string {
	msg := fmt.Sprintf("nzbdav history request failed for category %q", e.Category)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HistoryError) Unwrap() error { return e.Err }

// transient reports whether polling should keep going after this error.
func (e *HistoryError) transient() bool {
	return e.Reason == "" && (e.Err != nil || e.StatusCode >= 500)
}

// TimeoutError means a job did not reach a terminal state before the deadline.
type TimeoutError struct {
	JobID      string
	Category   string
	Waited     time.Duration
	LastStatus Status
}

func (e *TimeoutError) Error() string {
	last := string(e.LastStatus)
	if last == "" {
		last = "unseen"
	}
	return fmt.Sprintf("timeout waiting for nzbdav job %s in %q after %s (last status %s)",
		e.JobID, e.Category, e.Waited.Round(time.Millisecond), last)
}

// JobFailedError means the queue reported the job as failed. It is never retried.
type JobFailedError struct {
	JobID    string
	Category string
	Name     string
	Reason   string
}

func (e *JobFailedError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "unknown reason"
	}
	return fmt.Sprintf("nzbdav job %s failed: %s", e.JobID, reason)
}
