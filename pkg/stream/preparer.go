package stream

import (
	"context"
	"errors"
	"strings"
	"time"

	"usenetstreamer/pkg/logger"
	"usenetstreamer/pkg/media"
	"usenetstreamer/pkg/metrics"
	"usenetstreamer/pkg/nzbdav"
	"usenetstreamer/pkg/resolver"
)

// Submitter hands download references to the queue.
type Submitter interface {
	Submit(ctx context.Context, reference, category, jobName string) (string, error)
}

// Awaiter blocks until a queue job reaches a terminal state.
type Awaiter interface {
	AwaitCompletion(ctx context.Context, jobID, category string, deadline time.Duration) (*nzbdav.Job, error)
}

// FileFinder picks the playable file of a completed job.
type FileFinder interface {
	FindBestVideo(ctx context.Context, category, jobName string, episode *media.Episode) (*resolver.FileCandidate, error)
}

// Preparer turns a Request into a Descriptor by submitting (or reusing) a
// queue job, waiting for it and resolving its video file.
type Preparer struct {
	submitter   Submitter
	awaiter     Awaiter
	finder      FileFinder
	pollTimeout time.Duration
	events      EventSink
}

// NewPreparer wires the preparation pipeline. events may be nil.
func NewPreparer(submitter Submitter, awaiter Awaiter, finder FileFinder, pollTimeout time.Duration, events EventSink) *Preparer {
	if events == nil {
		events = nopSink{}
	}
	return &Preparer{
		submitter:   submitter,
		awaiter:     awaiter,
		finder:      finder,
		pollTimeout: pollTimeout,
		events:      events,
	}
}

func (p *Preparer) publish(req Request, ev Event) {
	ev.Key = req.CacheKey()
	ev.Title = req.Title
	ev.Time = time.Now()
	p.events.Publish(ev)
}

// Prepare tries each source from Sources(req.History) in turn. A failed
// reuse attempt falls through to a fresh submission; the fresh attempt's
// error is returned as is, with failed jobs surfaced as *NzbFailure.
func (p *Preparer) Prepare(ctx context.Context, req Request) (*Descriptor, error) {
	metrics.PreparationsInFlight.Inc()
	defer metrics.PreparationsInFlight.Dec()

	p.publish(req, Event{Type: EventPrepareStarted})

	var lastErr error
	for _, source := range Sources(req.History) {
		desc, err := p.PrepareFrom(ctx, req, source)
		if err == nil {
			p.publish(req, Event{Type: EventStreamReady, JobID: desc.JobID, File: desc.FileName})
			return desc, nil
		}
		lastErr = err
		if _, reuse := source.(Reuse); reuse && ctx.Err() == nil {
			logger.Warn("Reuse attempt failed, submitting fresh job", "job_id", req.History.JobID, "title", req.Title, "err", err)
			p.publish(req, Event{Type: EventReuseFailed, JobID: req.History.JobID, Message: err.Error()})
			continue
		}
		break
	}

	p.publish(req, Event{Type: EventStreamFailed, Message: FailureReason(lastErr)})
	return nil, lastErr
}

// PrepareFrom runs one attempt. Only the way the job handle is obtained
// differs between sources; resolution is shared.
func (p *Preparer) PrepareFrom(ctx context.Context, req Request, source JobSource) (*Descriptor, error) {
	var (
		jobID    string
		category = req.Category
		fallback = []string{req.Title}
	)

	switch src := source.(type) {
	case Reuse:
		jobID = src.Hint.JobID
		if src.Hint.Category != "" {
			category = src.Hint.Category
		}
		fallback = []string{src.Hint.JobName, req.Title}
		logger.Info("Reusing existing NZBDav job", "job_id", jobID, "category", category)
		p.publish(req, Event{Type: EventJobReused, JobID: jobID})
	case Fresh:
		id, err := p.submitter.Submit(ctx, req.DownloadReference, category, req.JobName())
		if err != nil {
			return nil, err
		}
		jobID = id
		p.publish(req, Event{Type: EventJobSubmitted, JobID: jobID})
	default:
		return nil, &PreparationError{Reason: "unknown job source " + source.String()}
	}

	job, err := p.awaiter.AwaitCompletion(ctx, jobID, category, p.pollTimeout)
	if err != nil {
		var failed *nzbdav.JobFailedError
		if errors.As(err, &failed) {
			return nil, &NzbFailure{
				Reason:            failed.Reason,
				DownloadReference: req.DownloadReference,
				Category:          req.Category,
				Title:             req.Title,
				JobID:             jobID,
			}
		}
		return nil, err
	}

	jobName := firstNonEmpty(append([]string{job.Name}, fallback...)...)
	if jobName == "" {
		return nil, &PreparationError{Reason: "completed job has no name", JobID: jobID}
	}

	file, err := p.finder.FindBestVideo(ctx, category, jobName, req.Episode)
	if err != nil {
		return nil, &PreparationError{Reason: "listing job files failed", JobID: jobID, Err: err}
	}
	if file == nil {
		return nil, &PreparationError{Reason: "no playable video files found after mounting NZB", JobID: jobID}
	}

	logger.Info("Selected file", "path", file.Path, "size", file.SizeBytes, "episode_match", file.MatchesEpisode)
	return &Descriptor{
		JobID:     jobID,
		Category:  category,
		JobName:   jobName,
		FilePath:  file.Path,
		FileName:  file.Name,
		SizeBytes: file.SizeBytes,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
