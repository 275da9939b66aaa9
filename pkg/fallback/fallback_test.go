package fallback

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usenetstreamer/pkg/stream"
)

func writeAsset(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "failure_video.mp4")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xAB}, size), 0o644))
	return path
}

func TestServeStreamsAssetWithReason(t *testing.T) {
	fb := New(writeAsset(t, 2048))

	rec := httptest.NewRecorder()
	served := fb.Serve(rec, httptest.NewRequest(http.MethodGet, "/", nil), &stream.NzbFailure{Reason: "Missing\narticles"})

	require.True(t, served)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Missing articles", rec.Header().Get(FailureHeader))
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, 2048, rec.Body.Len())
}

func TestServeSupportsRanges(t *testing.T) {
	fb := New(writeAsset(t, 1000))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Range", "bytes=100-199")
	rec := httptest.NewRecorder()
	require.True(t, fb.Serve(rec, req, errors.New("boom")))
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 100-199/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, 100, rec.Body.Len())
	assert.Equal(t, "boom", rec.Header().Get(FailureHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Range", "bytes=5000-")
	rec = httptest.NewRecorder()
	require.True(t, fb.Serve(rec, req, nil))
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
}

func TestServeHead(t *testing.T) {
	fb := New(writeAsset(t, 321))
	rec := httptest.NewRecorder()
	require.True(t, fb.Serve(rec, httptest.NewRequest(http.MethodHead, "/", nil), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "321", rec.Header().Get("Content-Length"))
	assert.Equal(t, "NZBDav download failed", rec.Header().Get(FailureHeader))
	assert.Zero(t, rec.Body.Len())
}

func TestServeMissingAsset(t *testing.T) {
	fb := New(filepath.Join(t.TempDir(), "nope.mp4"))
	assert.False(t, fb.Available())
	rec := httptest.NewRecorder()
	assert.False(t, fb.Serve(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil))
	assert.Empty(t, rec.Header().Get(FailureHeader))
}

type writtenRecorder struct {
	*httptest.ResponseRecorder
}

func (writtenRecorder) Written() bool { return true }

func TestServeSkipsStartedResponses(t *testing.T) {
	fb := New(writeAsset(t, 10))
	rec := writtenRecorder{httptest.NewRecorder()}
	assert.False(t, fb.Serve(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil))
	assert.Empty(t, rec.Header().Get(FailureHeader))
}
