package nzbdav

import (
	"encoding/json"
	"strings"
)

// Status is the lifecycle state of a queue job as reported by the remote system.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// normalizeStatus folds the queue's many intermediate states
// (downloading, verifying, extracting, ...) into running.
func normalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete":
		return StatusCompleted
	case "failed", "failure":
		return StatusFailed
	case "", "queued", "paused", "idle":
		return StatusQueued
	default:
		return StatusRunning
	}
}

// Job is a single queue entry, decoded from a history slot.
type Job struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	Status        Status `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	SizeBytes     int64  `json:"size_bytes,omitempty"`
}

// UnmarshalJSON accepts every field spelling the queue API has been seen to use.
func (j *Job) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	*j = Job{
		ID:            f.str("nzo_id", "nzoId", "NzoId", "id", "Id"),
		Name:          f.str("job_name", "JobName", "name", "Name", "nzb_name", "NzbName"),
		Category:      f.str("category", "Category", "cat"),
		Status:        normalizeStatus(f.str("status", "Status")),
		FailureReason: f.str("fail_message", "failMessage", "FailMessage"),
		SizeBytes:     f.int64("bytes", "Bytes", "size", "Size"),
	}
	return nil
}

// JobHint points at a job observed earlier (typically in completed history)
// that may already hold the content, so preparation can skip resubmission.
type JobHint struct {
	JobID    string `json:"jobId"`
	JobName  string `json:"jobName,omitempty"`
	Category string `json:"category,omitempty"`
}

// NormalizeTitle folds a release title for history lookups.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// apiResponse is the envelope shared by addurl and history answers.
type apiResponse struct {
	OK    bool
	Error string
	JobID string
	Slots []Job
}

func (r *apiResponse) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	r.OK = f.boolean("status", "Status")
	r.Error = f.str("error", "Error")

	r.JobID = f.str("nzo_id", "nzoId", "NzoId")
	if r.JobID == "" {
		if ids := f.list("nzo_ids", "nzoIds", "NzoIds"); len(ids) > 0 {
			var id string
			if err := json.Unmarshal(ids[0], &id); err == nil {
				r.JobID = strings.TrimSpace(id)
			}
		}
	}
	if r.JobID == "" {
		if queue := f.list("queue", "Queue"); len(queue) > 0 {
			if first, err := decodeFields(queue[0]); err == nil {
				r.JobID = first.str("nzo_id", "nzoId", "NzoId")
			}
		}
	}

	if history := f.object("history", "History"); history != nil {
		for _, raw := range history.list("slots", "Slots") {
			var job Job
			if err := json.Unmarshal(raw, &job); err != nil {
				continue
			}
			r.Slots = append(r.Slots, job)
		}
	}
	return nil
}
