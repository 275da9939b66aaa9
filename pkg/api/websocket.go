package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"usenetstreamer/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const statsInterval = 2 * time.Second

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WS upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	client := &Client{conn: conn, send: make(chan WSMessage, 256)}
	s.AddClient(client)
	defer s.RemoveClient(client)

	logger.Debug("WS client connected", "remote", r.RemoteAddr)

	// Initial snapshot goes through the send channel so only the write loop touches conn.
	s.sendStats(client)
	s.sendLogHistory(client)

	// Read loop (Client -> Server)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Debug("WS read error", "remote", r.RemoteAddr, "err", err)
				}
				return
			}
			switch msg.Type {
			case "get_stats":
				s.sendStats(client)
			case "get_log_history":
				s.sendLogHistory(client)
			}
		}
	}()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	// Write loop (Server -> Client)
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.sendStats(client)
		case msg, ok := <-client.send:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendStats(client *Client) {
	payload, _ := json.Marshal(s.collectStats())
	s.trySend(client, WSMessage{Type: "stats", Payload: payload})
}

func (s *Server) sendLogHistory(client *Client) {
	payload, _ := json.Marshal(logger.GetHistory())
	s.trySend(client, WSMessage{Type: "log_history", Payload: payload})
}

// trySend queues msg unless the client is gone or its buffer is full.
func (s *Server) trySend(client *Client, msg WSMessage) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if !s.clients[client] {
		return
	}
	select {
	case client.send <- msg:
	default:
	}
}
