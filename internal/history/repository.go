// Package history owns the canonical session list: the Session/Image model,
// validation of stored data, CRUD, eviction, and the hand-off of newly added
// images to the mirror writers.
//
// The primary store is the only source of truth. Every operation reads it,
// mutates a private copy, and writes it back synchronously under one mutex,
// so concurrent callers never lose updates. Mirrors are scheduled only after
// a write commits and are never awaited.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/picbreeder/host/internal/dispatch"
	apperrors "github.com/picbreeder/host/internal/errors"
	"github.com/picbreeder/host/internal/logging"
	"github.com/picbreeder/host/internal/storage"
)

// StorageKey is the primary store slot holding the JSON session list. It
// must not change between versions so old data is migrated in place.
const StorageKey = "picbreeder_history"

// DefaultMaxSessions is the session-count ceiling.
const DefaultMaxSessions = 50

// DefaultCapacityBytes is the capacity PercentFull is computed against.
const DefaultCapacityBytes int64 = 5 * 1024 * 1024

// Mirror is a best-effort secondary writer. It receives only the images a
// single AddToSession call produced.
type Mirror interface {
	Name() string
	Mirror(ctx context.Context, sessionID string, images []Image) bool
}

// Options configure a Repository. Zero values select defaults.
type Options struct {
	MaxSessions   int
	CapacityBytes int64
	QuotaPolicy   QuotaPolicy
	Mirrors       []Mirror

	// Scheduler runs mirror writes. Defaults to dispatch.Inline.
	Scheduler dispatch.Scheduler

	Logger *zap.Logger

	// Now and NewID are injectable for tests.
	Now   func() time.Time
	NewID func() string
}

// Repository is the session repository.
type Repository struct {
	kv       storage.KV
	migrator *Migrator

	maxSessions int
	capacity    int64
	policy      QuotaPolicy
	mirrors     []Mirror
	scheduler   dispatch.Scheduler
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string

	mu sync.Mutex
	// pending holds sessions created empty by CreateSession in this process.
	// They survive the empty-session prune until they gain images or vanish.
	pending map[string]struct{}
}

// New returns a repository over kv.
func New(kv storage.KV, opts Options) (*Repository, error) {
	migrator, err := NewMigrator()
	if err != nil {
		return nil, err
	}

	r := &Repository{
		kv:          kv,
		migrator:    migrator,
		maxSessions: opts.MaxSessions,
		capacity:    opts.CapacityBytes,
		policy:      opts.QuotaPolicy,
		mirrors:     opts.Mirrors,
		scheduler:   opts.Scheduler,
		logger:      logging.OrNop(opts.Logger).Named("history"),
		now:         opts.Now,
		newID:       opts.NewID,
		pending:     make(map[string]struct{}),
	}
	if r.maxSessions <= 0 {
		r.maxSessions = DefaultMaxSessions
	}
	if r.capacity <= 0 {
		r.capacity = DefaultCapacityBytes
	}
	if r.policy == nil {
		r.policy = HalveSessions{}
	}
	if r.scheduler == nil {
		r.scheduler = dispatch.Inline{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r, nil
}

// ListSessions returns all sessions, most recently created first. Records
// that fail validation are discarded and the cleaned list is written back.
func (r *Repository) ListSessions() ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load(true)
}

// GetSession returns the session with id, or nil if there is none.
func (r *Repository) GetSession(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.load(false)
	if err != nil {
		return nil, err
	}
	if i := indexOf(sessions, id); i >= 0 {
		return &sessions[i], nil
	}
	return nil, nil
}

// GetImage returns one image, or nil if the session or image is absent.
func (r *Repository) GetImage(sessionID, imageID string) (*Image, error) {
	s, err := r.GetSession(sessionID)
	if err != nil || s == nil {
		return nil, err
	}
	return s.Image(imageID), nil
}

// CreateSession prepends a new empty session and returns its id.
func (r *Repository) CreateSession() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.load(false)
	if err != nil {
		return "", err
	}

	id := r.newID()
	sessions = append([]Session{{ID: id, Timestamp: r.nowMillis(), Images: []Image{}}}, sessions...)
	sessions = r.enforceCeiling(sessions)

	r.pending[id] = struct{}{}
	if _, err := r.commit(sessions); err != nil {
		delete(r.pending, id)
		return "", err
	}

	r.logger.Debug("session created", zap.String("session", id))
	return id, nil
}

// AddToSession appends images to a session, creating it if needed (with a
// generated id when sessionID is empty). Every image gets a fresh id; ids
// supplied by the caller are ignored. After the write commits, each mirror
// is scheduled with exactly the images added here.
func (r *Repository) AddToSession(sessionID string, images []Image) (Added, error) {
	if len(images) == 0 {
		return Added{}, apperrors.Wrap(apperrors.CodeHistoryEmptyBatch, "no images to add", ErrEmptyBatch)
	}
	for i, img := range images {
		if len(img.Genome) > 0 && !json.Valid(img.Genome) {
			return Added{}, fmt.Errorf("image %d: %w", i, ErrInvalidGenome)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.load(false)
	if err != nil {
		return Added{}, err
	}

	if sessionID == "" {
		sessionID = r.newID()
	}
	added := make([]Image, len(images))
	for i, img := range images {
		added[i] = Image{ID: r.newID(), Thumbnail: img.Thumbnail, Genome: img.Genome}
	}

	now := r.nowMillis()
	if i := indexOf(sessions, sessionID); i >= 0 {
		s := &sessions[i]
		s.Images = append(s.Images, added...)
		s.Timestamp = max(s.Timestamp, now)
	} else {
		sessions = append([]Session{{ID: sessionID, Timestamp: now, Images: added}}, sessions...)
	}
	delete(r.pending, sessionID)
	sessions = r.enforceCeiling(sessions)

	committed, err := r.commit(sessions)
	if err != nil {
		return Added{}, err
	}
	if indexOf(committed, sessionID) < 0 {
		r.logger.Warn("session evicted by its own write", zap.String("session", sessionID))
	}

	r.logger.Debug("images added", zap.String("session", sessionID), zap.Int("count", len(added)))
	r.fanOut(sessionID, added)
	return Added{SessionID: sessionID, Images: added}, nil
}

// DeleteSession removes a session and persists immediately.
func (r *Repository) DeleteSession(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.load(false)
	if err != nil {
		return err
	}
	i := indexOf(sessions, id)
	if i < 0 {
		return sessionNotFound(id)
	}

	delete(r.pending, id)
	_, err = r.commit(append(sessions[:i], sessions[i+1:]...))
	return err
}

// DeleteImage removes one image. Removing a session's last image removes
// the session.
func (r *Repository) DeleteImage(sessionID, imageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.load(false)
	if err != nil {
		return err
	}
	i := indexOf(sessions, sessionID)
	if i < 0 {
		return sessionNotFound(sessionID)
	}

	s := &sessions[i]
	j := -1
	for k := range s.Images {
		if s.Images[k].ID == imageID {
			j = k
			break
		}
	}
	if j < 0 {
		return imageNotFound(sessionID, imageID)
	}

	s.Images = append(s.Images[:j], s.Images[j+1:]...)
	if len(s.Images) == 0 {
		delete(r.pending, sessionID)
		sessions = append(sessions[:i], sessions[i+1:]...)
	}
	_, err = r.commit(sessions)
	return err
}

// ClearAll drops the stored history entirely.
func (r *Repository) ClearAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.kv.Remove(StorageKey); err != nil {
		return err
	}
	clear(r.pending)
	r.logger.Info("history cleared")
	return nil
}

// Stats reports counts and the serialized size of the history.
func (r *Repository) Stats() (Stats, error) {
	sessions, err := r.ListSessions()
	if err != nil {
		return Stats{}, err
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return Stats{}, apperrors.Internal("encode history", err)
	}

	st := Stats{SessionCount: len(sessions), SizeBytes: int64(len(data))}
	for _, s := range sessions {
		st.ImageCount += len(s.Images)
	}
	st.SizeKB = int64(math.Round(float64(st.SizeBytes) / 1024))
	st.PercentFull = int(math.Round(float64(st.SizeBytes) / float64(r.capacity) * 100))
	return st, nil
}

// load reads and migrates the stored list. With writeBack, a list that
// lost records during migration is persisted immediately. Callers hold mu.
func (r *Repository) load(writeBack bool) ([]Session, error) {
	data, err := r.kv.Get(StorageKey)
	if err != nil {
		return nil, err
	}

	var records []json.RawMessage
	corrupt := false
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			r.logger.Warn("stored history is unreadable, discarding", zap.Error(err))
			records = nil
			corrupt = true
		}
	}

	result := r.migrator.Run(records, r.isPending)
	for id := range r.pending {
		if indexOf(result.Sessions, id) < 0 {
			delete(r.pending, id)
		}
	}

	if writeBack && (corrupt || result.Dirty()) {
		r.logger.Warn("discarded invalid history records",
			zap.Any("dropped", result.Dropped),
			zap.Int("kept", len(result.Sessions)))
		if err := r.write(result.Sessions); err != nil {
			r.logger.Error("rewrite of cleaned history failed", zap.Error(err))
		}
	}
	return result.Sessions, nil
}

// commit writes sessions. On a capacity failure the quota policy shrinks
// the list and the write is retried once. Returns what was persisted.
func (r *Repository) commit(sessions []Session) ([]Session, error) {
	err := r.write(sessions)
	if err == nil {
		return sessions, nil
	}
	if !storage.IsQuotaExceeded(err) {
		r.logger.Error("history write failed", zap.Error(err))
		return nil, err
	}

	shrunk := r.policy.Shrink(sessions)
	r.logger.Warn("history exceeds capacity, evicting sessions",
		zap.String("policy", r.policy.Name()),
		zap.Int("before", len(sessions)),
		zap.Int("after", len(shrunk)))

	if err := r.write(shrunk); err != nil {
		r.logger.Error("history write failed after eviction", zap.Error(err))
		return nil, err
	}
	return shrunk, nil
}

func (r *Repository) write(sessions []Session) error {
	if sessions == nil {
		sessions = []Session{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return apperrors.Internal("encode history", err)
	}
	return r.kv.Set(StorageKey, data)
}

// enforceCeiling drops sessions from the tail (oldest first) beyond the limit.
func (r *Repository) enforceCeiling(sessions []Session) []Session {
	if len(sessions) <= r.maxSessions {
		return sessions
	}
	for _, s := range sessions[r.maxSessions:] {
		delete(r.pending, s.ID)
	}
	r.logger.Debug("evicting sessions beyond ceiling", zap.Int("evicted", len(sessions)-r.maxSessions))
	return sessions[:r.maxSessions]
}

// fanOut schedules every mirror with its own copy of the new images.
func (r *Repository) fanOut(sessionID string, added []Image) {
	for _, m := range r.mirrors {
		m := m
		images := append([]Image(nil), added...)
		submitted := r.scheduler.Submit("mirror."+m.Name(), func(ctx context.Context) {
			ok := m.Mirror(ctx, sessionID, images)
			r.logger.Debug("mirror finished",
				zap.String("mirror", m.Name()),
				zap.String("session", sessionID),
				zap.Bool("ok", ok))
		})
		if !submitted {
			r.logger.Debug("mirror skipped", zap.String("mirror", m.Name()), zap.String("session", sessionID))
		}
	}
}

func (r *Repository) isPending(id string) bool {
	_, ok := r.pending[id]
	return ok
}

func (r *Repository) nowMillis() int64 {
	return r.now().UnixMilli()
}

func indexOf(sessions []Session, id string) int {
	for i := range sessions {
		if sessions[i].ID == id {
			return i
		}
	}
	return -1
}
