package server

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// channelBufferSize is the buffer size for the broadcast channel and per-client
// send channels. If a buffer fills up, events are dropped for that client
// rather than blocking the save that produced them.
const channelBufferSize = 64

// DefaultMaxBodyBytes caps save request bodies.
const DefaultMaxBodyBytes int64 = 50 << 20

// SaveRequest is the body of POST /api/save-image.
type SaveRequest struct {
	SessionID string `json:"sessionId"`
	ImageID   string `json:"imageId"`

	// ImageData is a data URI ("data:image/png;base64,...").
	ImageData string `json:"imageData"`

	// Genome is written verbatim to a JSON sidecar when present.
	Genome json.RawMessage `json:"genome,omitempty"`
}

// SaveResponse is returned on a successful save.
type SaveResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status    string `json:"status"`
	ImagesDir string `json:"imagesDir"`
}

// ErrorResponse is returned with every 4xx/5xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Options configure a Server.
type Options struct {
	// Addr is the address to listen on (e.g., "127.0.0.1:3001").
	Addr string

	// ImagesDir is the root that saved images are written under.
	ImagesDir string

	// MaxBodyBytes caps request bodies. Zero selects DefaultMaxBodyBytes.
	MaxBodyBytes int64

	Logger *zap.Logger
}

// Server handles save requests and fans save events out to WebSocket clients.
type Server struct {
	addr      string
	imagesDir string
	maxBody   int64
	logger    *zap.Logger

	// upgrader converts HTTP connections to WebSocket connections.
	upgrader websocket.Upgrader

	// clients tracks all connected WebSocket clients.
	clients map[*Client]bool

	// mu protects clients, stopped and listener.
	mu sync.RWMutex

	// stopped indicates whether the server has been shut down.
	// This prevents sending to a closed broadcast channel.
	stopped bool

	// broadcast receives events to send to all clients.
	broadcast chan Message

	// broadcasterOnce starts runBroadcaster on first use of the handler;
	// broadcasterDone is closed when it exits.
	broadcasterOnce    sync.Once
	broadcasterStarted bool
	broadcasterDone    chan struct{}

	// clientWG tracks the read/write pumps of every client.
	clientWG sync.WaitGroup

	httpServer *http.Server
	listener   net.Listener
}

// Client is one subscriber of the event feed.
type Client struct {
	// conn is the underlying WebSocket connection.
	conn *websocket.Conn

	// send is a buffered channel for outgoing messages.
	// The write goroutine reads from this and sends to the WebSocket.
	send chan Message

	// done is closed to signal the client should shut down.
	done chan struct{}

	// sendOnce ensures done is only closed once.
	// Both Shutdown() and readPump() may try to close it.
	sendOnce sync.Once

	// server is a reference back to the parent server.
	server *Server
}
