package stream

import (
	"context"
	"errors"
	"fmt"

	"usenetstreamer/pkg/nzbdav"
)

// NzbFailure is a job the queue reported as failed, annotated with the
// request that produced it. It is cached and never retried within the TTL.
type NzbFailure struct {
	Reason            string `json:"reason"`
	DownloadReference string `json:"downloadReference"`
	Category          string `json:"category"`
	Title             string `json:"title"`
	JobID             string `json:"jobId"`
}

func (e *NzbFailure) Error() string {
	return "NZB failed: " + e.Reason
}

// PreparationError means a stream could not be prepared for a reason other
// than a failed job, typically because the job holds no playable file.
type PreparationError struct {
	Reason string
	JobID  string
	Err    error
}

func (e *PreparationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream preparation failed: %s: %v", e.Reason, e.Err)
	}
	return "stream preparation failed: " + e.Reason
}

func (e *PreparationError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same request may succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var nf *NzbFailure
	var jf *nzbdav.JobFailedError
	var pe *PreparationError
	switch {
	case errors.As(err, &nf), errors.As(err, &jf):
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.As(err, &pe) && pe.Err == nil:
		return false
	}
	return true
}

// FailureReason extracts the text shown to users for a failed stream.
func FailureReason(err error) string {
	var nf *NzbFailure
	if errors.As(err, &nf) && nf.Reason != "" {
		return nf.Reason
	}
	var jf *nzbdav.JobFailedError
	if errors.As(err, &jf) && jf.Reason != "" {
		return jf.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
