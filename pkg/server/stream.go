package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"usenetstreamer/pkg/logger"
	"usenetstreamer/pkg/proxy"
	"usenetstreamer/pkg/stream"
)

// handleStream serves GET/HEAD /nzb/stream/{token} and /nzb/stream?downloadUrl=...
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	params := ParamsFromQuery(r.URL.Query())
	if token := strings.Trim(strings.TrimPrefix(r.URL.Path, "/nzb/stream"), "/"); token != "" {
		decoded, err := DecodeToken(token)
		if err != nil {
			logger.Warn("Rejected stream token", "remote", r.RemoteAddr, "err", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		params = decoded
	}

	req, err := params.Request(s.config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	desc, err := s.prepare(r.Context(), req)
	if err != nil {
		s.fail(w, r, req, err)
		return
	}

	err = s.proxy.Serve(w, r, proxy.Target{
		FilePath:  desc.FilePath,
		FileName:  desc.FileName,
		SizeBytes: desc.SizeBytes,
	})
	if err != nil {
		s.fail(w, r, req, err)
	}
}

// prepare waits at most StreamTimeout for the shared preparation of req.
func (s *Server) prepare(ctx context.Context, req stream.Request) (*stream.Descriptor, error) {
	if timeout := s.config.StreamTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.cache.GetOrCreate(ctx, req.CacheKey(), func(ctx context.Context) (*stream.Descriptor, error) {
		return s.preparer.Prepare(ctx, req)
	})
}

// fail answers a stream that could not be served: the failure video first,
// then a JSON error if nothing has been written yet.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, req stream.Request, err error) {
	if errors.Is(err, proxy.ErrClientAbort) || errors.Is(r.Context().Err(), context.Canceled) {
		logger.Debug("Client disconnected from stream", "title", req.Title, "err", err)
		return
	}

	var nzbFailure *stream.NzbFailure
	if errors.As(err, &nzbFailure) {
		logger.Warn("Stream failure detected", "title", req.Title, "reason", nzbFailure.Reason)
	} else {
		logger.Error("Stream proxy error", "title", req.Title, "key", req.CacheKey(), "err", err)
	}

	if s.fallback != nil && s.fallback.Serve(w, r, err) {
		return
	}
	if rw, ok := w.(interface{ Written() bool }); ok && rw.Written() {
		return
	}
	writeError(w, http.StatusBadGateway, stream.FailureReason(err))
}
