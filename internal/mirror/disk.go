// Package mirror holds the best-effort secondary writers fed by the session
// repository: a disk mirror writing into a user-granted folder and a
// network mirror posting to the companion server. Neither ever reports an
// error to the repository; failures are logged at debug level and the
// mirror is treated as currently unavailable.
package mirror

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/picbreeder/host/internal/errors"
	"github.com/picbreeder/host/internal/fsx"
	"github.com/picbreeder/host/internal/handles"
	"github.com/picbreeder/host/internal/history"
	"github.com/picbreeder/host/internal/imagedata"
	"github.com/picbreeder/host/internal/logging"
	"github.com/picbreeder/host/internal/permission"
)

// HandleSource resolves folder handles. *handles.Store satisfies it.
type HandleSource interface {
	Get(ctx context.Context, purpose handles.Purpose) (*handles.Handle, error)
}

// Disk writes images to <imagesFolder>/<sessionID>/<imageID><ext>.
type Disk struct {
	handles HandleSource
	gate    *permission.Gate
	logger  *zap.Logger
	now     func() time.Time
}

// NewDisk returns a disk mirror using the imagesFolder handle from src.
func NewDisk(src HandleSource, gate *permission.Gate, logger *zap.Logger) *Disk {
	return &Disk{
		handles: src,
		gate:    gate,
		logger:  logging.OrNop(logger).Named("mirror.disk"),
		now:     time.Now,
	}
}

func (d *Disk) Name() string { return "disk" }

// Mirror reports whether at least one image reached disk. A missing handle
// or a refused permission yields false without touching anything.
func (d *Disk) Mirror(ctx context.Context, sessionID string, images []history.Image) bool {
	written, err := d.Write(ctx, sessionID, images)
	if err != nil {
		d.logger.Debug("disk mirror skipped", zap.String("session", sessionID), zap.Error(err))
		return false
	}
	return written > 0
}

// Write is Mirror with the outcome spelled out: the number of images
// written, or why nothing was attempted. Individual image failures are
// logged and skipped.
func (d *Disk) Write(ctx context.Context, sessionID string, images []history.Image) (int, error) {
	h, err := d.handles.Get(ctx, handles.ImagesFolder)
	if err != nil {
		return 0, err
	}
	if h == nil {
		return 0, apperrors.MirrorUnavailable("no images folder configured")
	}
	if !fsx.SafeName(sessionID) {
		return 0, apperrors.InvalidPath("sessionId", sessionID)
	}

	// Checked before every use; a grant may have lapsed since the last one.
	if !d.gate.Authorize(ctx, h.Path) {
		return 0, apperrors.PermissionDenied(h.Path)
	}

	dir := filepath.Join(h.Path, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeSaveWriteFailed, "create session folder", err)
	}

	written := 0
	for _, img := range images {
		if ctx.Err() != nil {
			break
		}
		if err := d.writeImage(dir, img); err != nil {
			d.logger.Debug("disk mirror image failed",
				zap.String("session", sessionID),
				zap.String("image", img.ID),
				zap.Error(err))
			continue
		}
		written++
	}
	return written, nil
}

func (d *Disk) writeImage(dir string, img history.Image) error {
	data, mediaType, err := imagedata.Decode(img.Thumbnail)
	if err != nil {
		return err
	}

	name := img.ID
	if name == "" {
		name = strconv.FormatInt(d.now().UnixMilli(), 10)
	}
	if !fsx.SafeName(name) {
		return apperrors.InvalidPath("imageId", name)
	}
	return fsx.WriteFileAtomic(filepath.Join(dir, name+imagedata.Extension(mediaType)), data, 0o644)
}
