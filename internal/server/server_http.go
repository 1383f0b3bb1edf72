package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/picbreeder/host/internal/errors"
)

// createMux creates the HTTP mux with all endpoints.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/save-image", s.handleSaveImage)
	mux.HandleFunc("/api/health", s.handleHealth)

	// Live feed of completed saves.
	mux.HandleFunc("/api/events", s.handleWebSocket)

	return mux
}

// withCORS allows any origin, which the browser app needs to reach the
// companion on another port. Preflight requests are answered directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to an event subscription.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan Message, channelBufferSize),
		done:   make(chan struct{}),
		server: s,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[client] = true
	count := len(s.clients)
	// Added under the lock so Shutdown's Wait cannot miss these pumps.
	s.clientWG.Add(2)
	s.mu.Unlock()

	s.logger.Debug("event client connected", zap.Int("clients", count))

	go client.writePump()
	go client.readPump()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError responds with {error, code} derived from err.
func writeError(w http.ResponseWriter, status int, err error) {
	code, message := apperrors.ToCodeAndMessage(err)
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
