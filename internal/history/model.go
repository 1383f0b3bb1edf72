package history

import (
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/picbreeder/host/internal/errors"
)

// Session is one breeding run: an ordered set of images and the time it
// was last touched.
type Session struct {
	ID string `json:"id"`

	// Timestamp is the epoch-millis time of the latest mutation.
	Timestamp int64 `json:"timestamp"`

	// Images are kept in the order they were added.
	Images []Image `json:"images"`
}

// Image is a thumbnail and the genome that produced it. IDs are unique
// within their session only.
type Image struct {
	ID string `json:"id"`

	// Thumbnail is a data URI ("data:image/png;base64,...").
	Thumbnail string `json:"thumbnail"`

	// Genome is the evolution engine's output, stored verbatim.
	Genome json.RawMessage `json:"genome,omitempty"`
}

// LastTouched returns Timestamp as a time.Time.
func (s Session) LastTouched() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Image returns the image with the given id, or nil.
func (s Session) Image(id string) *Image {
	for i := range s.Images {
		if s.Images[i].ID == id {
			img := s.Images[i]
			return &img
		}
	}
	return nil
}

// Stats summarizes the stored history. PercentFull is measured against the
// configured capacity constant, not the medium's real free space, so it is
// an estimate for early warnings rather than a guarantee.
type Stats struct {
	SessionCount int   `json:"sessionCount"`
	ImageCount   int   `json:"imageCount"`
	SizeBytes    int64 `json:"sizeBytes"`
	SizeKB       int64 `json:"sizeKB"`
	PercentFull  int   `json:"percentFull"`
}

// Added is the outcome of a successful AddToSession.
type Added struct {
	SessionID string
	Images    []Image
}

var (
	// ErrEmptyBatch is returned by AddToSession when no images are given.
	ErrEmptyBatch = errors.New("no images to add")

	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrImageNotFound is returned when an image id does not exist in its session.
	ErrImageNotFound = errors.New("image not found")

	// ErrInvalidGenome is returned when a genome is not valid JSON.
	ErrInvalidGenome = errors.New("genome is not valid JSON")
)

func sessionNotFound(id string) error {
	return apperrors.Wrap(apperrors.CodeHistorySessionNotFound, apperrors.SessionNotFound(id).Message, ErrSessionNotFound)
}

func imageNotFound(sessionID, imageID string) error {
	return apperrors.Wrap(apperrors.CodeHistoryImageNotFound, apperrors.ImageNotFound(sessionID, imageID).Message, ErrImageNotFound)
}
