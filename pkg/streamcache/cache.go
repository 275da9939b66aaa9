// Package streamcache deduplicates stream preparations: concurrent requests
// for one key share a single producer run, and settled results are kept
// for a TTL.
package streamcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"usenetstreamer/pkg/logger"
	"usenetstreamer/pkg/metrics"
	"usenetstreamer/pkg/stream"
)

// Producer prepares a stream. Its context is detached from the caller's
// cancellation.
type Producer func(ctx context.Context) (*stream.Descriptor, error)

type call struct {
	done chan struct{}
	desc *stream.Descriptor
	err  error
}

// Cache is the single-flight front of a Store.
type Cache struct {
	store Store
	ttl   time.Duration

	mu      sync.Mutex
	pending map[string]*call
}

// New creates a Cache over store. ttl <= 0 keeps entries until evicted.
func New(store Store, ttl time.Duration) *Cache {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Cache{store: store, ttl: ttl, pending: make(map[string]*call)}
}

// GetOrCreate returns the settled result for key, joins an in-flight
// preparation, or starts producer. Successful results and *stream.NzbFailure
// are kept for the TTL; other errors evict the key so the next call retries.
// A caller whose ctx ends stops waiting; the producer keeps running for the
// others.
func (c *Cache) GetOrCreate(ctx context.Context, key string, producer Producer) (*stream.Descriptor, error) {
	c.mu.Lock()
	if cl, ok := c.pending[key]; ok {
		c.mu.Unlock()
		metrics.CacheLookupsTotal.WithLabelValues("joined").Inc()
		logger.Debug("Joining in-flight stream preparation", "key", key)
		return wait(ctx, cl)
	}
	cl := &call{done: make(chan struct{})}
	c.pending[key] = cl
	c.mu.Unlock()

	// Later arrivals join cl, so the store lookup below is linearised per key.
	detached := context.WithoutCancel(ctx)
	entry, ok, err := c.store.Get(detached, key)
	if err != nil {
		logger.Warn("Stream cache lookup failed, preparing anew", "key", key, "err", err)
	}
	if ok {
		switch entry.State {
		case StateReady:
			if entry.Descriptor != nil {
				metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
				c.finish(key, cl, entry.Descriptor, nil)
				return entry.Descriptor, nil
			}
		case StateFailed:
			if entry.Failure != nil {
				metrics.CacheLookupsTotal.WithLabelValues("failed_hit").Inc()
				logger.Debug("Serving cached NZB failure", "key", key, "reason", entry.Failure.Reason)
				c.finish(key, cl, nil, entry.Failure)
				return nil, entry.Failure
			}
		}
	}

	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	go c.run(detached, key, cl, producer)
	return wait(ctx, cl)
}

func (c *Cache) run(ctx context.Context, key string, cl *call, producer Producer) {
	var (
		desc *stream.Descriptor
		err  error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("stream producer panicked: %v", r)
			}
		}()
		desc, err = producer(ctx)
	}()

	var failure *stream.NzbFailure
	switch {
	case err == nil && desc != nil:
		c.put(ctx, key, Entry{State: StateReady, Descriptor: desc})
	case errors.As(err, &failure):
		c.put(ctx, key, Entry{State: StateFailed, Failure: failure})
	default:
		if err == nil {
			err = errors.New("stream producer returned no descriptor")
		}
		if delErr := c.store.Delete(ctx, key); delErr != nil {
			logger.Warn("Failed to evict stream cache entry", "key", key, "err", delErr)
		}
	}
	c.finish(key, cl, desc, err)
}

func (c *Cache) put(ctx context.Context, key string, entry Entry) {
	if err := c.store.Put(ctx, key, entry, c.ttl); err != nil {
		logger.Warn("Failed to store stream cache entry", "key", key, "state", entry.State, "err", err)
	}
}

// finish publishes the result to waiters and releases the key.
func (c *Cache) finish(key string, cl *call, desc *stream.Descriptor, err error) {
	cl.desc, cl.err = desc, err
	c.mu.Lock()
	if c.pending[key] == cl {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	close(cl.done)
}

func wait(ctx context.Context, cl *call) (*stream.Descriptor, error) {
	select {
	case <-cl.done:
		return cl.desc, cl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Peek reports the entry for key without producing anything.
func (c *Cache) Peek(ctx context.Context, key string) (Entry, bool) {
	c.mu.Lock()
	_, inflight := c.pending[key]
	c.mu.Unlock()
	if inflight {
		return Entry{State: StatePending}, true
	}
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		logger.Debug("Stream cache peek failed", "key", key, "err", err)
		return Entry{}, false
	}
	return entry, ok
}

// Evict drops the settled entry for key. In-flight preparations are not affected.
func (c *Cache) Evict(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}
