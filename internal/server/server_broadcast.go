package server

import (
	"go.uber.org/zap"
)

// Broadcast sends a message to all connected clients.
// This method is non-blocking; messages are queued for delivery.
// If the server has been stopped, this method does nothing.
func (s *Server) Broadcast(msg Message) {
	// Hold RLock while checking stopped AND sending so Shutdown cannot
	// close the channel mid-send.
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return
	}

	select {
	case s.broadcast <- msg:
	default:
		s.logger.Warn("broadcast channel full, dropping event", zap.String("type", string(msg.Type)))
	}
}

// runBroadcaster reads from the broadcast channel and sends to all clients.
func (s *Server) runBroadcaster() {
	defer close(s.broadcasterDone)

	for msg := range s.broadcast {
		s.mu.RLock()
		for client := range s.clients {
			// Never block on one client; a slow subscriber loses events.
			select {
			case <-client.done:
			case client.send <- msg:
			default:
				s.logger.Debug("client send buffer full, dropping event")
			}
		}
		s.mu.RUnlock()
	}
}
