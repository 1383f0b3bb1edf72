package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// StartAsync starts the server in a goroutine and returns any startup errors.
//
// The returned channel receives nil if startup succeeded, or an error if
// the listener could not be created (e.g., port already in use).
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	if err := os.MkdirAll(s.imagesDir, 0o755); err != nil {
		errCh <- fmt.Errorf("failed to create images directory %s: %w", s.imagesDir, err)
		close(errCh)
		return errCh
	}

	// Create the listener first to detect port conflicts immediately.
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		close(errCh)
		return errCh
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	go func() {
		s.logger.Info("companion server listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("images_dir", s.imagesDir))
		errCh <- nil
		close(errCh)

		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("companion server error", zap.Error(err))
		}
	}()

	return errCh
}

// Shutdown stops accepting requests, lets in-flight saves finish, sends
// close frames to event clients, and waits for every server goroutine.
// It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true

	// writePump sends the close frame when it sees done closed.
	for client := range s.clients {
		client.closeSend()
	}
	s.clients = make(map[*Client]bool)

	// Must happen after stopped=true so Broadcast cannot send on it.
	close(s.broadcast)
	started := s.broadcasterStarted
	httpServer := s.httpServer
	s.mu.Unlock()

	var err error
	if httpServer != nil {
		err = httpServer.Shutdown(ctx)
	}

	s.clientWG.Wait()
	if started {
		<-s.broadcasterDone
	}
	return err
}
