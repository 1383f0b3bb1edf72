package server

import (
	"net/http"
)

// handleHealth reports liveness and where images are being written.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", ImagesDir: s.imagesDir})
}
