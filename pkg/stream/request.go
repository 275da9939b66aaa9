package stream

import (
	"fmt"
	"strings"

	"usenetstreamer/pkg/media"
	"usenetstreamer/pkg/nzbdav"
)

// Request identifies one logical stream.
type Request struct {
	DownloadReference string
	Category          string
	Title             string
	Episode           *media.Episode
	// History points at a previously observed job for the same content.
	History *nzbdav.JobHint
}

// CacheKey joins reference, category and episode ("ref|cat|1x2"). Requests
// with equal keys share one preparation.
func (r Request) CacheKey() string {
	key := strings.TrimSpace(r.DownloadReference) + "|" + strings.TrimSpace(r.Category)
	if r.Episode != nil {
		key += "|" + r.Episode.Key()
	}
	return key
}

// JobName returns the name hint sent with a submission.
func (r Request) JobName() string {
	return strings.TrimSpace(r.Title)
}

func (r Request) String() string {
	if r.Episode != nil {
		return fmt.Sprintf("%s [%s] %s", r.Title, r.Category, r.Episode)
	}
	return fmt.Sprintf("%s [%s]", r.Title, r.Category)
}

// Descriptor locates the playable file of a prepared stream.
type Descriptor struct {
	JobID     string `json:"jobId"`
	Category  string `json:"category"`
	JobName   string `json:"jobName"`
	FilePath  string `json:"filePath"`
	FileName  string `json:"fileName"`
	SizeBytes int64  `json:"sizeBytes"`
}

// JobSource says where the job handle for a preparation comes from.
type JobSource interface {
	isJobSource()
	String() string
}

// Reuse awaits a job that already exists in the queue.
type Reuse struct {
	Hint nzbdav.JobHint
}

// Fresh submits the download reference as a new job.
type Fresh struct{}

func (Reuse) isJobSource() {}
func (Fresh) isJobSource() {}

func (r Reuse) String() string { return "reuse:" + r.Hint.JobID }
func (Fresh) String() string   { return "fresh" }

// Sources lists the attempts for a request: the hinted job first when there
// is one, then a fresh submission.
func Sources(hint *nzbdav.JobHint) []JobSource {
	var sources []JobSource
	if hint != nil && strings.TrimSpace(hint.JobID) != "" {
		sources = append(sources, Reuse{Hint: *hint})
	}
	return append(sources, Fresh{})
}
