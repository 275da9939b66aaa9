package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usenetstreamer/pkg/config"
	"usenetstreamer/pkg/fallback"
	"usenetstreamer/pkg/metrics"
	"usenetstreamer/pkg/proxy"
	"usenetstreamer/pkg/stream"
	"usenetstreamer/pkg/streamcache"
)

type fakePreparer struct {
	calls   atomic.Int32
	release chan struct{}
	desc    *stream.Descriptor
	err     error
}

func (f *fakePreparer) Prepare(ctx context.Context, req stream.Request) (*stream.Descriptor, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.desc, f.err
}

type fakeStreamer struct {
	mu      sync.Mutex
	targets []proxy.Target
	err     error
}

func (f *fakeStreamer) Serve(w http.ResponseWriter, r *http.Request, target proxy.Target) error {
	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("video:" + target.FileName))
	return nil
}

func testDescriptor() *stream.Descriptor {
	return &stream.Descriptor{
		JobID:     "SAB_1",
		Category:  "Movies",
		JobName:   "Movie.2024",
		FilePath:  "/content/Movies/Movie.2024/movie.mkv",
		FileName:  "movie.mkv",
		SizeBytes: 1000,
	}
}

type harness struct {
	cfg      *config.Config
	preparer *fakePreparer
	streamer *fakeStreamer
	cache    *streamcache.Cache
	handler  http.Handler
}

func newHarness(t *testing.T, failureVideo string, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	h := &harness{
		cfg:      cfg,
		preparer: &fakePreparer{desc: testDescriptor()},
		streamer: &fakeStreamer{},
		cache:    streamcache.New(streamcache.NewMemoryStore(), time.Minute),
	}
	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"api": r.URL.Path})
	})

	srv := New(Options{
		Config:   cfg,
		Preparer: h.preparer,
		Cache:    h.cache,
		Proxy:    h.streamer,
		Fallback: fallback.New(failureVideo),
		API:      api,
		Gatherer: reg,
		Version:  "test",
	})
	h.handler = srv.Handler()
	return h
}

func writeFailureVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "failure_video.mp4")
	require.NoError(t, os.WriteFile(path, []byte("FAILURE-VIDEO"), 0o644))
	return path
}

func streamPath(t *testing.T, p StreamParams) string {
	t.Helper()
	token, err := EncodeToken(p)
	require.NoError(t, err)
	return "/nzb/stream/" + token
}

func TestHealth(t *testing.T) {
	h := newHarness(t, "", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestStreamWithToken(t *testing.T) {
	h := newHarness(t, "", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		streamPath(t, StreamParams{DownloadURL: "https://x/nzb/1", Title: "Movie"}), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video:movie.mkv", rec.Body.String())
	require.Len(t, h.streamer.targets, 1)
	assert.Equal(t, "/content/Movies/Movie.2024/movie.mkv", h.streamer.targets[0].FilePath)
	assert.EqualValues(t, 1000, h.streamer.targets[0].SizeBytes)
}

func TestStreamWithQuery(t *testing.T) {
	h := newHarness(t, "", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/nzb/stream?downloadUrl=https%3A%2F%2Fx%2Fnzb%2F1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, h.preparer.calls.Load())
}

func TestStreamRejectsBadInput(t *testing.T) {
	h := newHarness(t, "", nil)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nzb/stream", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "downloadUrl")

	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nzb/stream/%25%25%25", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/nzb/stream?downloadUrl=x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.JSONEq(t, `{"error":"Method Not Allowed"}`, rec.Body.String())

	assert.Zero(t, h.preparer.calls.Load())
}

func TestConcurrentStreamsSharePreparation(t *testing.T) {
	h := newHarness(t, "", nil)
	h.preparer.release = make(chan struct{})
	path := streamPath(t, StreamParams{DownloadURL: "https://x/nzb/shared"})

	const n = 8
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := httptest.NewRecorder()
			h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			codes[i] = rec.Code
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(h.preparer.release)
	wg.Wait()

	assert.EqualValues(t, 1, h.preparer.calls.Load())
	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
}

func TestNzbFailureServesFallback(t *testing.T) {
	h := newHarness(t, writeFailureVideo(t), nil)
	h.preparer.desc = nil
	h.preparer.err = &stream.NzbFailure{Reason: "Missing articles", DownloadReference: "https://x/bad"}
	path := streamPath(t, StreamParams{DownloadURL: "https://x/bad"})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "FAILURE-VIDEO", rec.Body.String())
		assert.Equal(t, "Missing articles", rec.Header().Get(fallback.FailureHeader))
	}
	// The failure is cached, so the second request did not resubmit.
	assert.EqualValues(t, 1, h.preparer.calls.Load())
}

func TestFailureWithoutFallbackIsJSON(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "missing.mp4"), nil)
	h.preparer.desc = nil
	h.preparer.err = &stream.PreparationError{Reason: "no playable video files found after mounting NZB"}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nzb/stream?downloadUrl=x", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "no playable video files")
}

func TestProxyErrorServesFallback(t *testing.T) {
	h := newHarness(t, writeFailureVideo(t), nil)
	h.streamer.err = &proxy.ProxyError{Path: "/content/x", StatusCode: http.StatusBadGateway}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nzb/stream?downloadUrl=x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "FAILURE-VIDEO", rec.Body.String())
}

func TestClientAbortWritesNothing(t *testing.T) {
	h := newHarness(t, writeFailureVideo(t), nil)
	h.streamer.err = fmt.Errorf("%w: broken pipe", proxy.ErrClientAbort)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nzb/stream?downloadUrl=x", nil))
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, rec.Header().Get(fallback.FailureHeader))
}

func TestStreamTimeoutFallsBack(t *testing.T) {
	h := newHarness(t, writeFailureVideo(t), func(c *config.Config) { c.StreamTimeoutMS = 20 })
	h.preparer.release = make(chan struct{})
	defer close(h.preparer.release)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nzb/stream?downloadUrl=slow", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "FAILURE-VIDEO", rec.Body.String())
	assert.Contains(t, rec.Header().Get(fallback.FailureHeader), "deadline exceeded")
}

func TestSecurityToken(t *testing.T) {
	h := newHarness(t, "", func(c *config.Config) { c.SecurityToken = "s3cret" })

	cases := []struct {
		name string
		path string
		want int
	}{
		{"health is open", "/health", http.StatusOK},
		{"stream without token", "/nzb/stream?downloadUrl=x", http.StatusUnauthorized},
		{"stream with wrong token", "/nope/nzb/stream?downloadUrl=x", http.StatusUnauthorized},
		{"stream with token", "/s3cret/nzb/stream?downloadUrl=x", http.StatusOK},
		{"api with token", "/s3cret/api/stats", http.StatusOK},
		{"metrics without token", "/metrics", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAPIAndMetricsRoutes(t *testing.T) {
	h := newHarness(t, "", nil)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.JSONEq(t, `{"api":"/api/history"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "usenetstreamer_")

	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCacheStatus(t *testing.T) {
	h := newHarness(t, "", nil)
	params := StreamParams{DownloadURL: "https://x/nzb/9", Type: "movie"}
	token, err := EncodeToken(params)
	require.NoError(t, err)

	status := func() map[string]any {
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cache/status?token="+token, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body
	}

	assert.Equal(t, "missing", status()["state"])

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nzb/stream/"+token, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := status()
	assert.Equal(t, "ready", body["state"])
	assert.Equal(t, "https://x/nzb/9|Movies", body["key"])
}

func TestResponseWriterTracksWrites(t *testing.T) {
	rw := wrapWriter(httptest.NewRecorder())
	assert.False(t, rw.Written())
	_, err := rw.Write([]byte("abc"))
	require.NoError(t, err)
	assert.True(t, rw.Written())
	assert.EqualValues(t, 3, rw.bytes)
	assert.Equal(t, http.StatusOK, rw.status)
	assert.Same(t, rw, wrapWriter(rw))
}

func TestPanicsBecome500(t *testing.T) {
	handler := withObservability(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDashboardRoutes(t *testing.T) {
	cfg := config.Default()
	cfg.SecurityToken = "s3cret"
	srv := New(Options{
		Config: cfg,
		Cache:  streamcache.New(nil, time.Minute),
		Web: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("dashboard " + r.URL.Path))
		}),
	})
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/s3cret", nil))
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/s3cret/", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/s3cret/", nil))
	assert.Equal(t, "dashboard /", rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/s3cret/app.js", nil))
	assert.Equal(t, "dashboard /app.js", rec.Body.String())
}
