package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"usenetstreamer/pkg/config"
	"usenetstreamer/pkg/logger"
	"usenetstreamer/pkg/nzbdav"
	"usenetstreamer/pkg/stream"
)

const maxRecentEvents = 50

// HistoryLookup returns completed queue jobs indexed by normalised title.
type HistoryLookup interface {
	CompletedHistory(ctx context.Context, categories []string) (map[string]nzbdav.JobHint, error)
}

// Server exposes the dashboard API: a websocket feed of log lines and
// stream events, plus JSON endpoints for stats and queue history.
type Server struct {
	config  *config.Config
	history HistoryLookup
	started time.Time

	mu     sync.RWMutex
	active map[string]*ActivePreparation
	recent []stream.Event

	// WebSocket Client Registry
	clients   map[*Client]bool
	clientsMu sync.Mutex
	logCh     chan string
}

type Client struct {
	conn *websocket.Conn
	send chan WSMessage
}

// NewServer creates the API server and starts forwarding log lines to
// websocket clients.
func NewServer(cfg *config.Config, history HistoryLookup) *Server {
	s := &Server{
		config:  cfg,
		history: history,
		started: time.Now(),
		active:  make(map[string]*ActivePreparation),
		clients: make(map[*Client]bool),
		logCh:   make(chan string, 100),
	}

	logger.SetBroadcast(s.logCh)
	go s.broadcastLogs()

	return s
}

func (s *Server) broadcastLogs() {
	for line := range s.logCh {
		payload, _ := json.Marshal(line)
		s.broadcast(WSMessage{Type: "log_entry", Payload: payload})
	}
}

// broadcast queues msg for every client, dropping it for clients whose
// buffer is full.
func (s *Server) broadcast(msg WSMessage) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for client := range s.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

// Publish records a preparation event and forwards it to websocket clients.
// It implements stream.EventSink.
func (s *Server) Publish(ev stream.Event) {
	s.mu.Lock()
	switch ev.Type {
	case stream.EventStreamReady, stream.EventStreamFailed:
		delete(s.active, ev.Key)
	default:
		prep, ok := s.active[ev.Key]
		if !ok {
			prep = &ActivePreparation{Key: ev.Key, Title: ev.Title, Started: ev.Time}
			s.active[ev.Key] = prep
		}
		prep.Stage = ev.Type
		if ev.JobID != "" {
			prep.JobID = ev.JobID
		}
		prep.Updated = ev.Time
	}
	if len(s.recent) >= maxRecentEvents {
		s.recent = s.recent[1:]
	}
	s.recent = append(s.recent, ev)
	s.mu.Unlock()

	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.broadcast(WSMessage{Type: "stream_event", Payload: payload})
}

// AddClient registers a new websocket client
func (s *Server) AddClient(client *Client) {
	s.clientsMu.Lock()
	s.clients[client] = true
	s.clientsMu.Unlock()
}

// RemoveClient unregisters a websocket client
func (s *Server) RemoveClient(client *Client) {
	s.clientsMu.Lock()
	if s.clients[client] {
		delete(s.clients, client)
		close(client.send)
	}
	s.clientsMu.Unlock()
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to write JSON response", "err", err)
	}
}

// handleHistory answers GET /api/history?type=movie|series with the
// completed jobs that a search can offer as instant streams.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method Not Allowed"})
		return
	}
	if s.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history lookup not configured"})
		return
	}

	var categories []string
	if contentType := r.URL.Query().Get("type"); contentType != "" {
		categories = []string{s.config.CategoryFor(contentType)}
	} else {
		categories = []string{s.config.CategoryMovies, s.config.CategorySeries, s.config.CategoryDefault}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.HistoryTimeout())
	defer cancel()

	hints, err := s.history.CompletedHistory(ctx, categories)
	if err != nil {
		logger.Warn("History lookup failed", "categories", categories, "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": fmt.Sprintf("history lookup failed: %v", err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": categories,
		"count":      len(hints),
		"titles":     hints,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collectStats())
}

// Handler returns the HTTP handler for the API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ws", s.handleWebSocket)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/stats", s.handleStats)
	return mux
}
