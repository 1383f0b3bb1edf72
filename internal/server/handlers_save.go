package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	apperrors "github.com/picbreeder/host/internal/errors"
	"github.com/picbreeder/host/internal/fsx"
	"github.com/picbreeder/host/internal/imagedata"
)

// handleSaveImage writes one image to <imagesDir>/<sessionId>/<imageId>.png
// and, when a genome is supplied, a pretty-printed <imageId>.json next to it.
func (s *Server) handleSaveImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON body"})
		return
	}

	if req.SessionID == "" || req.ImageID == "" || req.ImageData == "" {
		writeError(w, http.StatusBadRequest, apperrors.MissingFields())
		return
	}
	if !fsx.SafeName(req.SessionID) {
		writeError(w, http.StatusBadRequest, apperrors.InvalidPath("sessionId", req.SessionID))
		return
	}
	if !fsx.SafeName(req.ImageID) {
		writeError(w, http.StatusBadRequest, apperrors.InvalidPath("imageId", req.ImageID))
		return
	}

	data, _, err := imagedata.Decode(req.ImageData)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperrors.Wrap(apperrors.CodeSaveDecodeFailed, "imageData is not a valid data URI", err))
		return
	}

	sessionDir := filepath.Join(s.imagesDir, req.SessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		s.logger.Error("create session directory failed", zap.String("dir", sessionDir), zap.Error(err))
		writeError(w, http.StatusInternalServerError, apperrors.Wrap(apperrors.CodeSaveWriteFailed, err.Error(), err))
		return
	}

	path := filepath.Join(sessionDir, req.ImageID+".png")
	if err := fsx.WriteFileAtomic(path, data, 0o644); err != nil {
		s.logger.Error("write image failed", zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, apperrors.Wrap(apperrors.CodeSaveWriteFailed, err.Error(), err))
		return
	}

	var genomePath string
	if hasGenome(req.Genome) {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, req.Genome, "", "  "); err != nil {
			writeError(w, http.StatusBadRequest, apperrors.Wrap(apperrors.CodeSaveDecodeFailed, "genome is not valid JSON", err))
			return
		}
		genomePath = filepath.Join(sessionDir, req.ImageID+".json")
		if err := fsx.WriteFileAtomic(genomePath, pretty.Bytes(), 0o644); err != nil {
			s.logger.Error("write genome failed", zap.String("path", genomePath), zap.Error(err))
			writeError(w, http.StatusInternalServerError, apperrors.Wrap(apperrors.CodeSaveWriteFailed, err.Error(), err))
			return
		}
	}

	s.logger.Info("image saved",
		zap.String("session", req.SessionID),
		zap.String("image", req.ImageID),
		zap.Int("bytes", len(data)))

	s.Broadcast(NewImageSavedMessage(req.SessionID, req.ImageID, path, genomePath))
	writeJSON(w, http.StatusOK, SaveResponse{Success: true, Path: path})
}

func hasGenome(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
