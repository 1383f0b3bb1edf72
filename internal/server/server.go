package server

import (
	"net/http"
	"path/filepath"

	"github.com/gorilla/websocket"

	"github.com/picbreeder/host/internal/logging"
)

// New creates a server. Nothing listens until StartAsync; Handler can be
// mounted directly (e.g., under httptest).
func New(opts Options) *Server {
	imagesDir := opts.ImagesDir
	if abs, err := filepath.Abs(imagesDir); err == nil {
		imagesDir = abs
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	return &Server{
		addr:            opts.Addr,
		imagesDir:       imagesDir,
		maxBody:         maxBody,
		logger:          logging.OrNop(opts.Logger).Named("server"),
		clients:         make(map[*Client]bool),
		broadcast:       make(chan Message, channelBufferSize),
		broadcasterDone: make(chan struct{}),
		upgrader: websocket.Upgrader{
			// The companion only listens on loopback by default and the
			// browser app is served from a different origin.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the server's HTTP handler with CORS applied. The first
// call starts the event broadcaster.
func (s *Server) Handler() http.Handler {
	s.broadcasterOnce.Do(func() {
		s.mu.Lock()
		s.broadcasterStarted = true
		s.mu.Unlock()
		go s.runBroadcaster()
	})
	return withCORS(s.createMux())
}

// Addr returns the bound address once listening, else the configured one.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ImagesDir returns the absolute images root.
func (s *Server) ImagesDir() string {
	return s.imagesDir
}

// ClientCount returns the number of connected event subscribers.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
