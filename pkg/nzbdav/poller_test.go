package nzbdav

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the poller waits on it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// scriptedHistory returns one scripted answer per call, repeating the last.
type scriptedHistory struct {
	mu    sync.Mutex
	steps []func() ([]Job, error)
	calls int
}

func (s *scriptedHistory) History(ctx context.Context, category string, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i]()
}

func jobs(js ...Job) func() ([]Job, error) {
	return func() ([]Job, error) { return js, nil }
}

func TestAwaitCompletionReturnsCompletedJob(t *testing.T) {
	source := &scriptedHistory{steps: []func() ([]Job, error){
		jobs(),
		jobs(Job{ID: "j1", Status: StatusRunning}),
		jobs(Job{ID: "other", Status: StatusCompleted}, Job{ID: "j1", Name: "Movie", Status: StatusCompleted}),
	}}
	clock := newFakeClock()

	var transitions []string
	poller := NewPoller(source, 2*time.Second, WithClock(clock), WithStateHook(func(jobID string, from, to PollState) {
		transitions = append(transitions, from.String()+">"+to.String())
	}))

	job, err := poller.AwaitCompletion(context.Background(), "j1", "Movies", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "Movie", job.Name)
	assert.Equal(t, 3, source.calls)
	assert.Equal(t, 4*time.Second, clock.Now().Sub(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, []string{"queued>polling", "polling>completed"}, transitions)
}

func TestAwaitCompletionFailedJob(t *testing.T) {
	source := &scriptedHistory{steps: []func() ([]Job, error){
		jobs(Job{ID: "j1", Status: StatusFailed, FailureReason: "Missing articles"}),
	}}
	poller := NewPoller(source, time.Second, WithClock(newFakeClock()))

	_, err := poller.AwaitCompletion(context.Background(), "j1", "Tv", time.Minute)
	var failed *JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "Missing articles", failed.Reason)
	assert.Equal(t, "Tv", failed.Category)
}

func TestAwaitCompletionTimesOut(t *testing.T) {
	source := &scriptedHistory{steps: []func() ([]Job, error){
		jobs(Job{ID: "j1", Status: StatusRunning}),
	}}
	clock := newFakeClock()
	poller := NewPoller(source, 2*time.Second, WithClock(clock))

	_, err := poller.AwaitCompletion(context.Background(), "j1", "Movies", 5*time.Second)
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, StatusRunning, timeout.LastStatus)
	assert.Equal(t, 5*time.Second, timeout.Waited)
	// polls at t=0, 2s, 4s; the last wait is clipped to the deadline
	assert.Equal(t, 3, source.calls)
}

func TestAwaitCompletionRetriesTransientErrors(t *testing.T) {
	source := &scriptedHistory{steps: []func() ([]Job, error){
		func() ([]Job, error) { return nil, &HistoryError{StatusCode: 503, Err: errors.New("unavailable")} },
		func() ([]Job, error) { return nil, errors.New("connection reset") },
		jobs(Job{ID: "j1", Status: StatusCompleted}),
	}}
	poller := NewPoller(source, time.Second, WithClock(newFakeClock()))

	job, err := poller.AwaitCompletion(context.Background(), "j1", "Movies", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "j1", job.ID)
}

func TestAwaitCompletionStopsOnExplicitHistoryFailure(t *testing.T) {
	source := &scriptedHistory{steps: []func() ([]Job, error){
		func() ([]Job, error) { return nil, &HistoryError{Reason: "API Key Incorrect"} },
	}}
	poller := NewPoller(source, time.Second, WithClock(newFakeClock()))

	_, err := poller.AwaitCompletion(context.Background(), "j1", "Movies", time.Minute)
	var he *HistoryError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 1, source.calls)
}

func TestAwaitCompletionHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &scriptedHistory{steps: []func() ([]Job, error){
		func() ([]Job, error) {
			cancel()
			return nil, ctx.Err()
		},
	}}
	poller := NewPoller(source, time.Second, WithClock(newFakeClock()))

	_, err := poller.AwaitCompletion(ctx, "j1", "Movies", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
