// Package server is the inbound HTTP surface: stream endpoints, health,
// metrics and the dashboard API behind an optional path token.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"usenetstreamer/pkg/config"
	"usenetstreamer/pkg/logger"
	"usenetstreamer/pkg/proxy"
	"usenetstreamer/pkg/stream"
	"usenetstreamer/pkg/streamcache"
)

// Preparer turns a request into a playable file.
type Preparer interface {
	Prepare(ctx context.Context, req stream.Request) (*stream.Descriptor, error)
}

// StreamCache deduplicates preparations.
type StreamCache interface {
	GetOrCreate(ctx context.Context, key string, producer streamcache.Producer) (*stream.Descriptor, error)
	Peek(ctx context.Context, key string) (streamcache.Entry, bool)
}

// Streamer relays a prepared file to the client.
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, target proxy.Target) error
}

// FailureVideo answers a failed stream with a placeholder video.
type FailureVideo interface {
	Serve(w http.ResponseWriter, r *http.Request, failure error) bool
}

// Options wires the server to its collaborators. API and Gatherer are optional.
type Options struct {
	Config   *config.Config
	Preparer Preparer
	Cache    StreamCache
	Proxy    Streamer
	Fallback FailureVideo
	API      http.Handler
	Web      http.Handler
	Gatherer prometheus.Gatherer
	Version  string
}

// Server routes inbound requests.
type Server struct {
	config   *config.Config
	preparer Preparer
	cache    StreamCache
	proxy    Streamer
	fallback FailureVideo
	api      http.Handler
	web      http.Handler
	metrics  http.Handler
	version  string
}

func New(opts Options) *Server {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		config:   opts.Config,
		preparer: opts.Preparer,
		cache:    opts.Cache,
		proxy:    opts.Proxy,
		fallback: opts.Fallback,
		api:      opts.API,
		web:      opts.Web,
		version:  version,
	}
	if opts.Gatherer != nil {
		s.metrics = promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})
	}
	return s
}

// CheckPort verifies that the addon port is free.
func CheckPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("addon port %d is already in use", port)
	}
	return ln.Close()
}

// Handler returns the root handler with tracing, logging and metrics applied.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(withObservability(http.HandlerFunc(s.route)), "usenetstreamer",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + routeLabel(r.URL.Path)
		}))
}

// route strips the security token from the path, then dispatches.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if token := s.config.SecurityToken; token != "" && path != "/health" {
		trimmed := strings.TrimPrefix(path, "/")
		parts := strings.SplitN(trimmed, "/", 2)
		if subtle.ConstantTimeCompare([]byte(parts[0]), []byte(token)) != 1 {
			logger.Warn("Unauthorized request - invalid security token", "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if len(parts) == 1 {
			// Relative dashboard assets need the trailing slash.
			http.Redirect(w, r, "/"+parts[0]+"/", http.StatusMovedPermanently)
			return
		}
		path = "/" + parts[1]
		r.URL.Path = path
		r.URL.RawPath = ""
	}

	switch {
	case path == "/nzb/stream" || strings.HasPrefix(path, "/nzb/stream/"):
		s.handleStream(w, r)
	case path == "/health":
		s.handleHealth(w, r)
	case path == "/metrics" && s.metrics != nil:
		s.metrics.ServeHTTP(w, r)
	case path == "/api/cache/status":
		s.handleCacheStatus(w, r)
	case strings.HasPrefix(path, "/api/") && s.api != nil:
		s.api.ServeHTTP(w, r)
	case !strings.HasPrefix(path, "/api/") && s.web != nil:
		s.web.ServeHTTP(w, r)
	default:
		writeError(w, http.StatusNotFound, "Not Found")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to write JSON response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth serves health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"addon":   "usenetstreamer",
		"version": s.version,
	})
}

// handleCacheStatus reports the cache state of the stream described by the
// query (either ?token= or the plain stream parameters).
func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	q := r.URL.Query()
	params := ParamsFromQuery(q)
	if token := q.Get("token"); token != "" {
		decoded, err := DecodeToken(token)
		if err != nil {
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

	key := req.CacheKey()
	entry, ok := s.cache.Peek(r.Context(), key)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"key": key, "state": "missing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "state": entry.State, "entry": entry})
}
