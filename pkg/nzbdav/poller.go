package nzbdav

import (
	"context"
	"errors"
	"time"

	"usenetstreamer/pkg/logger"
	"usenetstreamer/pkg/metrics"
)

// Clock abstracts time so the poller can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// HistorySource is the part of the queue API the poller needs.
type HistorySource interface {
	History(ctx context.Context, category string, limit int) ([]Job, error)
}

// PollState is a step of the completion state machine.
type PollState int

const (
	StateQueued PollState = iota
	StatePolling
	StateCompleted
	StateFailed
	StateTimedOut
)

func (s PollState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StatePolling:
		return "polling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// StateHook observes state transitions of a job being awaited.
type StateHook func(jobID string, from, to PollState)

// Poller waits for queue jobs to reach a terminal state.
type Poller struct {
	source   HistorySource
	clock    Clock
	interval time.Duration
	limit    int
	hook     StateHook
}

// PollerOption customises a Poller.
type PollerOption func(*Poller)

// WithClock replaces the wall clock.
func WithClock(c Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

// WithHistoryLimit sets how many history slots each poll requests.
func WithHistoryLimit(n int) PollerOption {
	return func(p *Poller) { p.limit = n }
}

// WithStateHook registers a transition observer.
func WithStateHook(h StateHook) PollerOption {
	return func(p *Poller) { p.hook = h }
}

// NewPoller creates a Poller that checks source every interval.
func NewPoller(source HistorySource, interval time.Duration, opts ...PollerOption) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	p := &Poller{source: source, clock: realClock{}, interval: interval, limit: 50}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AwaitCompletion polls the history of category until the job identified by
// jobID completes, fails, or deadline elapses. A completed job is returned;
// a failed one yields *JobFailedError and a deadline miss *TimeoutError.
// Transient history errors are logged and polling continues.
func (p *Poller) AwaitCompletion(ctx context.Context, jobID, category string, deadline time.Duration) (*Job, error) {
	start := p.clock.Now()
	until := start.Add(deadline)

	state := StateQueued
	var last Status
	var found *Job

	transition := func(to PollState) {
		if to == state {
			return
		}
		if p.hook != nil {
			p.hook(jobID, state, to)
		}
		state = to
	}

	for {
		switch state {
		case StateQueued, StatePolling:
			now := p.clock.Now()
			if !now.Before(until) {
				transition(StateTimedOut)
				continue
			}

			job, err := p.poll(ctx, jobID, category)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				var he *HistoryError
				if errors.As(err, &he) && !he.transient() {
					return nil, err
				}
				logger.Warn("NZBDav history poll failed, retrying", "job_id", jobID, "category", category, "err", err)
			} else if job != nil {
				last = job.Status
				switch job.Status {
				case StatusCompleted:
					found = job
					transition(StateCompleted)
					continue
				case StatusFailed:
					found = job
					transition(StateFailed)
					continue
				}
			}
			transition(StatePolling)

			wait := p.interval
			if remaining := until.Sub(p.clock.Now()); remaining < wait {
				wait = remaining
			}
			if wait <= 0 {
				continue
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-p.clock.After(wait):
			}

		case StateCompleted:
			metrics.PollOutcomesTotal.WithLabelValues("completed").Inc()
			logger.Info("NZBDav job completed", "job_id", jobID, "category", category, "name", found.Name,
				"waited", p.clock.Now().Sub(start).Round(time.Millisecond))
			return found, nil

		case StateFailed:
			metrics.PollOutcomesTotal.WithLabelValues("failed").Inc()
			reason := found.FailureReason
			if reason == "" {
				reason = "Unknown NZBDav error"
			}
			logger.Warn("NZBDav job failed", "job_id", jobID, "category", category, "reason", reason)
			return nil, &JobFailedError{JobID: jobID, Category: category, Name: found.Name, Reason: reason}

		case StateTimedOut:
			metrics.PollOutcomesTotal.WithLabelValues("timeout").Inc()
			return nil, &TimeoutError{JobID: jobID, Category: category, Waited: p.clock.Now().Sub(start), LastStatus: last}
		}
	}
}

func (p *Poller) poll(ctx context.Context, jobID, category string) (*Job, error) {
	jobs, err := p.source.History(ctx, category, p.limit)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		if jobs[i].ID == jobID {
			job := jobs[i]
			return &job, nil
		}
	}
	return nil, nil
}
