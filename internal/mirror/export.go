package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/picbreeder/host/internal/errors"
	"github.com/picbreeder/host/internal/fsx"
	"github.com/picbreeder/host/internal/handles"
	"github.com/picbreeder/host/internal/history"
	"github.com/picbreeder/host/internal/logging"
	"github.com/picbreeder/host/internal/permission"
)

// Exporter writes a full history snapshot into the saveFolder handle.
// Unlike the mirrors it is invoked explicitly, so it returns errors.
type Exporter struct {
	handles HandleSource
	gate    *permission.Gate
	logger  *zap.Logger
	now     func() time.Time
}

func NewExporter(src HandleSource, gate *permission.Gate, logger *zap.Logger) *Exporter {
	return &Exporter{
		handles: src,
		gate:    gate,
		logger:  logging.OrNop(logger).Named("mirror.export"),
		now:     time.Now,
	}
}

// Export writes picbreeder-history-<millis>.json and returns its path.
func (e *Exporter) Export(ctx context.Context, sessions []history.Session) (string, error) {
	h, err := e.handles.Get(ctx, handles.SaveFolder)
	if err != nil {
		return "", err
	}
	if h == nil {
		return "", apperrors.MirrorUnavailable("no save folder configured")
	}
	if !e.gate.Authorize(ctx, h.Path) {
		return "", apperrors.PermissionDenied(h.Path)
	}

	if sessions == nil {
		sessions = []history.Session{}
	}
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return "", apperrors.Internal("encode snapshot", err)
	}

	path := filepath.Join(h.Path, fmt.Sprintf("picbreeder-history-%d.json", e.now().UnixMilli()))
	if err := fsx.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", apperrors.Wrap(apperrors.CodeSaveWriteFailed, "write snapshot", err)
	}

	e.logger.Info("history exported", zap.String("path", path), zap.Int("sessions", len(sessions)))
	return path, nil
}
