// Package proxy relays byte ranges of a file on the WebDAV server to a
// media player.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"usenetstreamer/pkg/logger"
	"usenetstreamer/pkg/metrics"
)

const (
	DefaultBufferSize = 1 << 20
	probeTimeout      = 15 * time.Second
)

// Upstream builds and sends requests to the file server.
type Upstream interface {
	NewRequest(ctx context.Context, method, path string) (*http.Request, error)
	Do(req *http.Request) (*http.Response, error)
}

// Target is the file to stream.
type Target struct {
	FilePath  string
	FileName  string
	SizeBytes int64
}

// Proxy streams files from Upstream.
type Proxy struct {
	upstream   Upstream
	bufferSize int
	probes     singleflight.Group
}

func New(upstream Upstream, bufferSize int) *Proxy {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Proxy{upstream: upstream, bufferSize: bufferSize}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Serve relays target to w. HEAD is answered from a one-byte upstream GET
// and always reports 200 with the total length.
//
// A *ProxyError is returned before anything was written to w, so callers
// may still answer with a fallback. An error wrapping ErrClientAbort means
// the client left mid-stream.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request, target Target) error {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeJSONError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return nil
	}

	ctx := r.Context()
	emulateHead := r.Method == http.MethodHead
	clientRange := r.Header.Get("Range")

	req, err := p.upstream.NewRequest(ctx, http.MethodGet, target.FilePath)
	if err != nil {
		return &ProxyError{Path: target.FilePath, Err: err}
	}
	for _, name := range forwardHeaders {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if emulateHead && clientRange == "" {
		req.Header.Set("Range", "bytes=0-0")
	}

	// Learn the total size up front when the response would otherwise carry none.
	var probedSize int64 = -1
	if clientRange == "" && !emulateHead {
		probedSize = p.probeSize(ctx, target.FilePath, r.Header.Get("User-Agent"))
	}

	resp, err := p.upstream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrClientAbort, ctx.Err())
		}
		metrics.ProxyResultsTotal.WithLabelValues("upstream_error").Inc()
		return &ProxyError{Path: target.FilePath, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		metrics.ProxyResultsTotal.WithLabelValues("upstream_error").Inc()
		return &ProxyError{Path: target.FilePath, StatusCode: resp.StatusCode}
	}

	header := w.Header()
	copyResponseHeaders(header, resp.Header)
	decorate(header, SanitizeFileName(target.FileName))

	status := resp.StatusCode
	cr, hasRange := parseContentRange(resp.Header.Get("Content-Range"))

	switch {
	case emulateHead:
		if status < 400 {
			status = http.StatusOK
		}
		total := int64(-1)
		switch {
		case hasRange && cr.Total >= 0:
			total = cr.Total
		case !hasRange && resp.ContentLength >= 0:
			total = resp.ContentLength
		case target.SizeBytes > 0:
			total = target.SizeBytes
		}
		header.Del("Content-Range")
		if status < 400 {
			header.Del("Content-Length")
		}
		if status < 400 && total >= 0 {
			header.Set("Content-Length", strconv.FormatInt(total, 10))
			header.Set("X-Total-Length", strconv.FormatInt(total, 10))
		}

	case hasRange:
		if status == http.StatusOK && clientRange != "" {
			status = http.StatusPartialContent
		}
		header.Set("Content-Length", strconv.FormatInt(cr.Length(), 10))
		if cr.Total >= 0 {
			header.Set("X-Total-Length", strconv.FormatInt(cr.Total, 10))
		}

	case status == http.StatusOK:
		length := resp.ContentLength
		if length <= 0 && probedSize > 0 {
			length = probedSize
		}
		if length <= 0 && target.SizeBytes > 0 {
			length = target.SizeBytes
		}
		if length > 0 {
			header.Set("Content-Length", strconv.FormatInt(length, 10))
			header.Set("X-Total-Length", strconv.FormatInt(length, 10))
		} else {
			logger.Warn("No Content-Length available for stream", "path", target.FilePath)
		}
	}

	logger.Debug("Proxying stream", "path", target.FilePath, "method", r.Method, "range", clientRange,
		"upstream_status", resp.StatusCode, "status", status, "content_range", resp.Header.Get("Content-Range"))

	w.WriteHeader(status)
	if emulateHead {
		metrics.ProxyResultsTotal.WithLabelValues("ok").Inc()
		return nil
	}
	return p.copyBody(ctx, w, resp.Body, target.FilePath)
}

// copyBody streams body to w through a fixed buffer, flushing after every
// write so the player sees data as soon as it arrives.
func (p *Proxy) copyBody(ctx context.Context, w http.ResponseWriter, body io.Reader, path string) error {
	buf := make([]byte, p.bufferSize)
	flusher, _ := w.(http.Flusher)
	var total int64
	defer func() { metrics.ProxyBytesTotal.Add(float64(total)) }()

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			written, writeErr := w.Write(buf[:n])
			total += int64(written)
			if writeErr != nil {
				if isClientGone(writeErr) || ctx.Err() != nil {
					metrics.ProxyResultsTotal.WithLabelValues("client_abort").Inc()
					logger.Debug("Client closed stream", "path", path, "bytes", total)
					return fmt.Errorf("%w: %v", ErrClientAbort, writeErr)
				}
				metrics.ProxyResultsTotal.WithLabelValues("write_error").Inc()
				return fmt.Errorf("write stream: %w", writeErr)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				metrics.ProxyResultsTotal.WithLabelValues("ok").Inc()
				logger.Debug("Stream complete", "path", path, "bytes", total)
				return nil
			}
			if ctx.Err() != nil {
				metrics.ProxyResultsTotal.WithLabelValues("client_abort").Inc()
				return fmt.Errorf("%w: %v", ErrClientAbort, ctx.Err())
			}
			metrics.ProxyResultsTotal.WithLabelValues("upstream_error").Inc()
			return fmt.Errorf("read upstream %s: %w", path, readErr)
		}
	}
}

// probeSize asks the file server for the total size with a HEAD request.
// Concurrent probes for the same path share one request. It returns -1
// when the size is unknown.
func (p *Proxy) probeSize(ctx context.Context, path, userAgent string) int64 {
	v, err, _ := p.probes.Do(path, func() (any, error) {
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
		defer cancel()

		req, err := p.upstream.NewRequest(probeCtx, http.MethodHead, path)
		if err != nil {
			return int64(-1), err
		}
		if userAgent == "" {
			userAgent = "UsenetStreamer"
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := p.upstream.Do(req)
		if err != nil {
			return int64(-1), err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return int64(-1), fmt.Errorf("HEAD returned %d", resp.StatusCode)
		}
		return resp.ContentLength, nil
	})
	if err != nil {
		logger.Warn("HEAD request failed, continuing without pre-fetched size", "path", path, "err", err)
		return -1
	}
	return v.(int64)
}
