package fallback

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"usenetstreamer/pkg/logger"
	"usenetstreamer/pkg/media"
	"usenetstreamer/pkg/metrics"
	"usenetstreamer/pkg/stream"
)

const (
	// FailureHeader carries the failure reason next to the fallback video.
	FailureHeader  = "X-NZBDav-Failure"
	defaultReason  = "NZBDav download failed"
	maxReasonBytes = 512
)

// headerState is implemented by response writers that know whether the
// status line has gone out.
type headerState interface {
	Written() bool
}

// Fallback serves a local video in place of a stream that could not be prepared.
type Fallback struct {
	path string
}

func New(path string) *Fallback {
	return &Fallback{path: path}
}

// Path returns the configured asset path.
func (f *Fallback) Path() string {
	return f.path
}

// Available reports whether the asset exists and is a regular file.
func (f *Fallback) Available() bool {
	info, err := os.Stat(f.path)
	return err == nil && info.Mode().IsRegular()
}

// Serve streams the failure video with full range support and reports
// whether it did. It returns false when the asset is missing or the
// response has already started, leaving the caller to answer.
func (f *Fallback) Serve(w http.ResponseWriter, r *http.Request, failure error) bool {
	if hs, ok := w.(headerState); ok && hs.Written() {
		return false
	}

	file, err := os.Open(f.path)
	if err != nil {
		logger.Error("Failure video not found", "path", f.path, "err", err)
		return false
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		logger.Error("Failure video is not a regular file", "path", f.path)
		return false
	}

	reason := Reason(failure)
	w.Header().Set(FailureHeader, reason)
	w.Header().Set("Content-Type", media.MimeType(f.path))
	logger.Warn("Serving fallback video due to NZBDav failure", "reason", reason, "method", r.Method)
	metrics.FallbackServedTotal.Inc()

	http.ServeContent(w, r, filepath.Base(f.path), info.ModTime(), file)
	return true
}

// Reason returns a single-line header value describing failure.
func Reason(failure error) string {
	reason := ""
	if failure != nil {
		reason = stream.FailureReason(failure)
	}
	reason = strings.Join(strings.Fields(reason), " ")
	reason = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, reason)
	if len(reason) > maxReasonBytes {
		reason = reason[:maxReasonBytes]
	}
	if reason == "" {
		return defaultReason
	}
	return reason
}
