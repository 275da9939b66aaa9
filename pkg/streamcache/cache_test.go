package streamcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usenetstreamer/pkg/stream"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *manualClock {
	return &manualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func descriptor(id string) *stream.Descriptor {
	return &stream.Descriptor{JobID: id, FilePath: "/content/Movies/" + id + "/movie.mkv", FileName: "movie.mkv", SizeBytes: 42}
}

func TestGetOrCreateSingleFlight(t *testing.T) {
	cache := New(NewMemoryStore(), time.Hour)

	var calls atomic.Int32
	release := make(chan struct{})
	producer := func(ctx context.Context) (*stream.Descriptor, error) {
		calls.Add(1)
		<-release
		return descriptor("job"), nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]*stream.Descriptor, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = cache.GetOrCreate(context.Background(), "ref|Movies", producer)
		}()
	}

	require.Eventually(t, func() bool {
		entry, ok := cache.Peek(context.Background(), "ref|Movies")
		return ok && entry.State == StatePending
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
}

func TestGetOrCreateSingleFlightSharesError(t *testing.T) {
	cache := New(NewMemoryStore(), time.Hour)

	var calls atomic.Int32
	release := make(chan struct{})
	failure := &stream.NzbFailure{Reason: "Missing articles"}
	producer := func(ctx context.Context) (*stream.Descriptor, error) {
		calls.Add(1)
		<-release
		return nil, failure
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = cache.GetOrCreate(context.Background(), "k", producer)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, err := range errs {
		var nf *stream.NzbFailure
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "Missing articles", nf.Reason)
	}
}

func TestGetOrCreateTTLExpiry(t *testing.T) {
	clock := newClock()
	cache := New(NewMemoryStore(WithNow(clock.Now)), time.Hour)

	var calls atomic.Int32
	producer := func(ctx context.Context) (*stream.Descriptor, error) {
		calls.Add(1)
		return descriptor("job"), nil
	}

	_, err := cache.GetOrCreate(context.Background(), "k", producer)
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, err = cache.GetOrCreate(context.Background(), "k", producer)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	clock.Advance(time.Minute)
	_, err = cache.GetOrCreate(context.Background(), "k", producer)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestGetOrCreateZeroTTLNeverExpires(t *testing.T) {
	clock := newClock()
	cache := New(NewMemoryStore(WithNow(clock.Now)), 0)

	var calls atomic.Int32
	producer := func(ctx context.Context) (*stream.Descriptor, error) {
		calls.Add(1)
		return descriptor("job"), nil
	}
	_, err := cache.GetOrCreate(context.Background(), "k", producer)
	require.NoError(t, err)
	clock.Advance(365 * 24 * time.Hour)
	_, err = cache.GetOrCreate(context.Background(), "k", producer)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	require.NoError(t, cache.Evict(context.Background(), "k"))
	_, err = cache.GetOrCreate(context.Background(), "k", producer)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestFailedJobIsNotResubmittedBeforeTTL(t *testing.T) {
	clock := newClock()
	cache := New(NewMemoryStore(WithNow(clock.Now)), 10*time.Minute)

	var submissions atomic.Int32
	producer := func(ctx context.Context) (*stream.Descriptor, error) {
		submissions.Add(1)
		return nil, &stream.NzbFailure{Reason: "Missing articles", DownloadReference: "ref"}
	}

	for i := 0; i < 2; i++ {
		_, err := cache.GetOrCreate(context.Background(), "ref|Movies", producer)
		var nf *stream.NzbFailure
		require.ErrorAs(t, err, &nf)
	}
	assert.EqualValues(t, 1, submissions.Load())

	entry, ok := cache.Peek(context.Background(), "ref|Movies")
	require.True(t, ok)
	assert.Equal(t, StateFailed, entry.State)

	clock.Advance(10 * time.Minute)
	_, err := cache.GetOrCreate(context.Background(), "ref|Movies", producer)
	require.Error(t, err)
	assert.EqualValues(t, 2, submissions.Load())
}

func TestTransientErrorsAreEvicted(t *testing.T) {
	cache := New(NewMemoryStore(), time.Hour)

	var calls atomic.Int32
	producer := func(ctx context.Context) (*stream.Descriptor, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("nzbdav unreachable")
		}
		return descriptor("job"), nil
	}

	_, err := cache.GetOrCreate(context.Background(), "k", producer)
	require.Error(t, err)
	_, ok := cache.Peek(context.Background(), "k")
	assert.False(t, ok)

	desc, err := cache.GetOrCreate(context.Background(), "k", producer)
	require.NoError(t, err)
	assert.Equal(t, "job", desc.JobID)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCallerCancellationDoesNotAbandonProducer(t *testing.T) {
	cache := New(NewMemoryStore(), time.Hour)

	release := make(chan struct{})
	producerCtxErr := make(chan error, 1)
	producer := func(ctx context.Context) (*stream.Descriptor, error) {
		<-release
		producerCtxErr <- ctx.Err()
		return descriptor("job"), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := cache.GetOrCreate(ctx, "k", producer)
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		entry, ok := cache.Peek(context.Background(), "k")
		return ok && entry.State == StatePending
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	assert.NoError(t, <-producerCtxErr)

	require.Eventually(t, func() bool {
		entry, ok := cache.Peek(context.Background(), "k")
		return ok && entry.State == StateReady
	}, time.Second, time.Millisecond)
}

func TestProducerPanicIsReturnedAsError(t *testing.T) {
	cache := New(nil, time.Hour)
	_, err := cache.GetOrCreate(context.Background(), "k", func(ctx context.Context) (*stream.Descriptor, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	_, ok := cache.Peek(context.Background(), "k")
	assert.False(t, ok)
}

func TestMemoryStoreLazySweep(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore(WithNow(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a", Entry{State: StateReady, Descriptor: descriptor("a")}, time.Minute))
	require.NoError(t, store.Put(ctx, "b", Entry{State: StateReady, Descriptor: descriptor("b")}, 0))
	assert.Equal(t, 2, store.Len())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, store.Len())
	_, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}
