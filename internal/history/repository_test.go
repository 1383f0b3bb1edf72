package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/picbreeder/host/internal/dispatch"
	apperrors "github.com/picbreeder/host/internal/errors"
	"github.com/picbreeder/host/internal/storage"
)

const png1 = "data:image/png;base64,iVBORw0KGgo="

// seqIDs returns a generator of predictable ids: prefix-1, prefix-2, ...
func seqIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// fakeClock advances one millisecond per reading.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// recordingMirror captures every call it receives.
type recordingMirror struct {
	name  string
	mu    sync.Mutex
	calls []mirrorCall
}

type mirrorCall struct {
	SessionID string
	Images    []Image
}

func (m *recordingMirror) Name() string { return m.name }

func (m *recordingMirror) Mirror(_ context.Context, sessionID string, images []Image) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mirrorCall{SessionID: sessionID, Images: images})
	return true
}

func (m *recordingMirror) Calls() []mirrorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mirrorCall(nil), m.calls...)
}

// flakyKV fails Set with a quota error for the first failures calls, or
// forever when failures is negative.
type flakyKV struct {
	storage.KV
	failures int
	sets     int
}

func (f *flakyKV) Set(key string, value []byte) error {
	f.sets++
	if f.failures < 0 || f.sets <= f.failures {
		return apperrors.Wrap(apperrors.CodeStorageQuotaExceeded, "full", storage.ErrQuotaExceeded)
	}
	return f.KV.Set(key, value)
}

func newTestRepo(t *testing.T, kv storage.KV, opts Options) *Repository {
	t.Helper()
	if opts.Now == nil {
		clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
		opts.Now = clock.Now
	}
	if opts.NewID == nil {
		opts.NewID = seqIDs("id")
	}
	r, err := New(kv, opts)
	require.NoError(t, err)
	return r
}

func storedSessions(t *testing.T, kv storage.KV) []Session {
	t.Helper()
	data, err := kv.Get(StorageKey)
	require.NoError(t, err)
	if data == nil {
		return nil
	}
	var sessions []Session
	require.NoError(t, json.Unmarshal(data, &sessions))
	return sessions
}

func seed(t *testing.T, kv storage.KV, sessions []Session) {
	t.Helper()
	data, err := json.Marshal(sessions)
	require.NoError(t, err)
	require.NoError(t, kv.Set(StorageKey, data))
}

func TestListSessions_Empty(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{})

	sessions, err := repo.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCreateSession_ListedFirst(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	repo := newTestRepo(t, kv, Options{})

	_, err := repo.AddToSession("older", []Image{{Thumbnail: png1}})
	require.NoError(t, err)

	id, err := repo.CreateSession()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sessions, err := repo.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, id, sessions[0].ID)
	assert.Empty(t, sessions[0].Images)
	assert.NotNil(t, sessions[0].Images)
}

func TestCreateSession_PrunedByFreshProcess(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	repo := newTestRepo(t, kv, Options{})

	_, err := repo.CreateSession()
	require.NoError(t, err)

	// A new repository over the same store has no record of the pending
	// session, so the empty session is discarded.
	restarted := newTestRepo(t, kv, Options{})
	sessions, err := restarted.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Empty(t, storedSessions(t, kv))
}

func TestAddToSession_EmptyBatch(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	repo := newTestRepo(t, kv, Options{})

	_, err := repo.AddToSession("s1", nil)
	require.ErrorIs(t, err, ErrEmptyBatch)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeHistoryEmptyBatch))

	data, err := kv.Get(StorageKey)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestAddToSession_AssignsFreshIDs(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{})

	input := []Image{
		{ID: "caller-1", Thumbnail: png1},
		{ID: "caller-1", Thumbnail: png1},
		{ID: "caller-2", Thumbnail: png1},
	}
	added, err := repo.AddToSession("s1", input)
	require.NoError(t, err)
	assert.Equal(t, "s1", added.SessionID)
	require.Len(t, added.Images, 3)

	seen := map[string]bool{}
	for _, img := range added.Images {
		assert.NotContains(t, []string{"caller-1", "caller-2"}, img.ID)
		assert.False(t, seen[img.ID], "duplicate id %s", img.ID)
		seen[img.ID] = true
	}

	s, err := repo.GetSession("s1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Len(t, s.Images, 3)
}

func TestAddToSession_GeneratesSessionID(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{NewID: seqIDs("gen")})

	added, err := repo.AddToSession("", []Image{{Thumbnail: png1}})
	require.NoError(t, err)
	assert.Equal(t, "gen-1", added.SessionID)
	assert.Equal(t, "gen-2", added.Images[0].ID)
}

func TestAddToSession_SequentialAppends(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{})

	first, err := repo.AddToSession("s1", []Image{{ID: "img1", Thumbnail: "data:image/png;base64,AA=="}})
	require.NoError(t, err)
	s, err := repo.GetSession("s1")
	require.NoError(t, err)
	ts1 := s.Timestamp

	second, err := repo.AddToSession("s1", []Image{{ID: "img2", Thumbnail: "data:image/png;base64,AQ=="}})
	require.NoError(t, err)

	sessions, err := repo.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)

	want := []Image{first.Images[0], second.Images[0]}
	if diff := cmp.Diff(want, sessions[0].Images); diff != "" {
		t.Errorf("images mismatch (-want +got):\n%s", diff)
	}
	assert.NotEqual(t, "img1", sessions[0].Images[0].ID)
	assert.NotEqual(t, "img2", sessions[0].Images[1].ID)
	assert.GreaterOrEqual(t, sessions[0].Timestamp, ts1)
}

func TestAddToSession_KeepsPositionOfExistingSession(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{})

	for _, id := range []string{"a", "b", "c"} {
		_, err := repo.AddToSession(id, []Image{{Thumbnail: png1}})
		require.NoError(t, err)
	}
	_, err := repo.AddToSession("a", []Image{{Thumbnail: png1}})
	require.NoError(t, err)

	sessions, err := repo.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(sessions))
}

func TestAddToSession_NoEmptySessionsPersisted(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{})

	batches := [][]Image{
		{{Thumbnail: png1}},
		{{Thumbnail: png1}, {Thumbnail: png1}},
		{{Thumbnail: png1}},
	}
	for i, batch := range batches {
		_, err := repo.AddToSession(fmt.Sprintf("s%d", i%2), batch)
		require.NoError(t, err)

		sessions, err := repo.ListSessions()
		require.NoError(t, err)
		for _, s := range sessions {
			assert.NotEmpty(t, s.Images, "session %s is empty", s.ID)
		}
	}
}

func TestAddToSession_RejectsInvalidGenome(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{})

	_, err := repo.AddToSession("s1", []Image{{Thumbnail: png1, Genome: json.RawMessage(`{nope`)}})
	require.ErrorIs(t, err, ErrInvalidGenome)

	_, err = repo.AddToSession("s1", []Image{{Thumbnail: png1, Genome: json.RawMessage(`{"nodes":[1,2]}`)}})
	require.NoError(t, err)
	s, err := repo.GetSession("s1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.JSONEq(t, `{"nodes":[1,2]}`, string(s.Images[0].Genome))
}

func TestSessionCeiling_EvictsOldest(t *testing.T) {
	const ceiling = 5
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{MaxSessions: ceiling})

	for i := 0; i <= ceiling; i++ {
		_, err := repo.AddToSession(fmt.Sprintf("s%d", i), []Image{{Thumbnail: png1}})
		require.NoError(t, err)
	}

	sessions, err := repo.ListSessions()
	require.NoError(t, err)
	assert.Len(t, sessions, ceiling)
	assert.NotContains(t, ids(sessions), "s0")
	assert.Equal(t, "s5", sessions[0].ID)
}

func TestSessionCeiling_CreateSession(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{MaxSessions: 2})

	for _, id := range []string{"a", "b"} {
		_, err := repo.AddToSession(id, []Image{{Thumbnail: png1}})
		require.NoError(t, err)
	}
	created, err := repo.CreateSession()
	require.NoError(t, err)

	sessions, err := repo.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{created, "b"}, ids(sessions))
}

func TestQuota_HalvesAndRetries(t *testing.T) {
	mem := storage.NewMemoryKV(0)
	seed(t, mem, manySessions(50))
	kv := &flakyKV{KV: mem, failures: 1}
	mirror := &recordingMirror{name: "rec"}
	repo := newTestRepo(t, kv, Options{Mirrors: []Mirror{mirror}})

	added, err := repo.AddToSession("new", []Image{{Thumbnail: png1}})
	require.NoError(t, err)
	assert.Equal(t, "new", added.SessionID)
	assert.Equal(t, 2, kv.sets)

	persisted := storedSessions(t, mem)
	assert.LessOrEqual(t, len(persisted), 25)
	assert.Equal(t, "new", persisted[0].ID)
	// The newest survivors are kept; the oldest half is gone.
	assert.Equal(t, "seed-23", persisted[len(persisted)-1].ID)

	require.Len(t, mirror.Calls(), 1)
}

func TestQuota_RetryFailsReturnsError(t *testing.T) {
	mem := storage.NewMemoryKV(0)
	seed(t, mem, manySessions(50))
	kv := &flakyKV{KV: mem, failures: -1}
	mirror := &recordingMirror{name: "rec"}
	repo := newTestRepo(t, kv, Options{Mirrors: []Mirror{mirror}})

	_, err := repo.AddToSession("new", []Image{{Thumbnail: png1}})
	require.Error(t, err)
	assert.True(t, storage.IsQuotaExceeded(err))
	assert.Equal(t, 2, kv.sets, "write is retried exactly once")

	assert.Len(t, storedSessions(t, mem), 50, "primary store unchanged")
	assert.Empty(t, mirror.Calls(), "mirrors run only after a committed write")
}

func TestQuota_DropOldestPolicy(t *testing.T) {
	mem := storage.NewMemoryKV(0)
	seed(t, mem, manySessions(10))
	kv := &flakyKV{KV: mem, failures: 1}
	repo := newTestRepo(t, kv, Options{QuotaPolicy: DropOldestSession{}})

	_, err := repo.AddToSession("new", []Image{{Thumbnail: png1}})
	require.NoError(t, err)

	persisted := storedSessions(t, mem)
	assert.Len(t, persisted, 10)
	assert.NotContains(t, ids(persisted), "seed-9")
}

func TestQuota_RealCapacity(t *testing.T) {
	kv := storage.NewMemoryKV(2048)
	repo := newTestRepo(t, kv, Options{})

	for i := 0; i < 40; i++ {
		_, err := repo.AddToSession(fmt.Sprintf("s%02d", i), []Image{{Thumbnail: png1}})
		require.NoError(t, err)
	}

	sessions, err := repo.ListSessions()
	require.NoError(t, err)
	assert.Less(t, len(sessions), 40)
	assert.Equal(t, "s39", sessions[0].ID)
}

func TestQuota_WarnLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	mem := storage.NewMemoryKV(0)
	seed(t, mem, manySessions(4))
	repo := newTestRepo(t, &flakyKV{KV: mem, failures: 1}, Options{Logger: zap.New(core)})

	_, err := repo.AddToSession("new", []Image{{Thumbnail: png1}})
	require.NoError(t, err)

	entries := logs.FilterMessage("history exceeds capacity, evicting sessions").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "halve-sessions", entries[0].ContextMap()["policy"])
}

func TestDeleteImage_LastImageRemovesSession(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{})

	added, err := repo.AddToSession("s1", []Image{{Thumbnail: png1}, {Thumbnail: png1}})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteImage("s1", added.Images[0].ID))
	s, err := repo.GetSession("s1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Len(t, s.Images, 1)

	require.NoError(t, repo.DeleteImage("s1", added.Images[1].ID))
	sessions, err := repo.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestDeleteImage_NotFound(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{})
	_, err := repo.AddToSession("s1", []Image{{Thumbnail: png1}})
	require.NoError(t, err)

	err = repo.DeleteImage("missing", "x")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeHistorySessionNotFound))

	err = repo.DeleteImage("s1", "x")
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestDeleteSession(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{})
	for _, id := range []string{"a", "b"} {
		_, err := repo.AddToSession(id, []Image{{Thumbnail: png1}})
		require.NoError(t, err)
	}

	require.NoError(t, repo.DeleteSession("a"))
	assert.ErrorIs(t, repo.DeleteSession("a"), ErrSessionNotFound)

	sessions, err := repo.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(sessions))
}

func TestDeleteSession_Pending(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{})
	id, err := repo.CreateSession()
	require.NoError(t, err)

	require.NoError(t, repo.DeleteSession(id))
	assert.False(t, repo.isPending(id))
}

func TestGetImage(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{})
	added, err := repo.AddToSession("s1", []Image{{Thumbnail: png1}})
	require.NoError(t, err)

	img, err := repo.GetImage("s1", added.Images[0].ID)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, png1, img.Thumbnail)

	img, err = repo.GetImage("s1", "nope")
	require.NoError(t, err)
	assert.Nil(t, img)

	img, err = repo.GetImage("nope", added.Images[0].ID)
	require.NoError(t, err)
	assert.Nil(t, img)
}

func TestClearAll(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	repo := newTestRepo(t, kv, Options{})
	_, err := repo.AddToSession("s1", []Image{{Thumbnail: png1}})
	require.NoError(t, err)

	require.NoError(t, repo.ClearAll())

	data, err := kv.Get(StorageKey)
	require.NoError(t, err)
	assert.Nil(t, data)
	sessions, err := repo.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestStats_ConsistentWithList(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{})
	_, err := repo.AddToSession("a", []Image{{Thumbnail: png1}, {Thumbnail: png1}})
	require.NoError(t, err)
	_, err = repo.AddToSession("b", []Image{{Thumbnail: png1}})
	require.NoError(t, err)

	stats, err := repo.Stats()
	require.NoError(t, err)
	sessions, err := repo.ListSessions()
	require.NoError(t, err)

	total := 0
	for _, s := range sessions {
		total += len(s.Images)
	}
	assert.Equal(t, len(sessions), stats.SessionCount)
	assert.Equal(t, total, stats.ImageCount)

	data, err := json.Marshal(sessions)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), stats.SizeBytes)
}

func TestStats_PercentFull(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{CapacityBytes: 1000})
	_, err := repo.AddToSession("s", []Image{{Thumbnail: png1}})
	require.NoError(t, err)

	stats, err := repo.Stats()
	require.NoError(t, err)
	want := int((stats.SizeBytes*100 + 500) / 1000)
	assert.Equal(t, want, stats.PercentFull)
	assert.Equal(t, int64(0), stats.SizeKB)
}

func TestStats_Empty(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{})
	stats, err := repo.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{SizeBytes: 2}, stats)
}

func TestMalformedRecords_DroppedAndRewritten(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	raw := `[
		{"id":"good","timestamp":1,"images":[{"id":"i1","thumbnail":"` + png1 + `"}]},
		{"id":"no-images","timestamp":2},
		{"id":"empty","timestamp":3,"images":[]},
		{"timestamp":4,"images":[{"id":"i2","thumbnail":"x"}]},
		{"id":"legacy","timestamp":5,"thumbnail":"x","genome":{}}
	]`
	require.NoError(t, kv.Set(StorageKey, []byte(raw)))

	core, logs := observer.New(zapcore.WarnLevel)
	repo := newTestRepo(t, kv, Options{Logger: zap.New(core)})

	sessions, err := repo.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, ids(sessions))
	assert.Equal(t, []string{"good"}, ids(storedSessions(t, kv)))
	assert.Equal(t, 1, logs.FilterMessage("discarded invalid history records").Len())

	// A clean read does not rewrite again.
	_, err = repo.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("discarded invalid history records").Len())
}

func TestCorruptPayload_Discarded(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	require.NoError(t, kv.Set(StorageKey, []byte("not json")))
	repo := newTestRepo(t, kv, Options{})

	sessions, err := repo.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)

	data, err := kv.Get(StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestGetSession_DoesNotRewrite(t *testing.T) {
	kv := &countingKV{KV: storage.NewMemoryKV(0)}
	require.NoError(t, kv.KV.Set(StorageKey, []byte(`[{"id":"bad","timestamp":1}]`)))
	repo := newTestRepo(t, kv, Options{})

	s, err := repo.GetSession("bad")
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Zero(t, kv.sets)
}

func TestMirrors_ReceiveOnlyNewImages(t *testing.T) {
	disk := &recordingMirror{name: "disk"}
	network := &recordingMirror{name: "network"}
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{Mirrors: []Mirror{disk, network}})

	first, err := repo.AddToSession("s1", []Image{{Thumbnail: png1}})
	require.NoError(t, err)
	second, err := repo.AddToSession("s1", []Image{{Thumbnail: png1}, {Thumbnail: png1}})
	require.NoError(t, err)

	want := []mirrorCall{
		{SessionID: "s1", Images: first.Images},
		{SessionID: "s1", Images: second.Images},
	}
	for _, m := range []*recordingMirror{disk, network} {
		if diff := cmp.Diff(want, m.Calls()); diff != "" {
			t.Errorf("%s calls mismatch (-want +got):\n%s", m.name, diff)
		}
	}
}

func TestMirrors_DroppedSubmissionDoesNotFail(t *testing.T) {
	mirror := &recordingMirror{name: "rec"}
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{
		Mirrors:   []Mirror{mirror},
		Scheduler: rejectAll{},
	})

	_, err := repo.AddToSession("s1", []Image{{Thumbnail: png1}})
	require.NoError(t, err)
	assert.Empty(t, mirror.Calls())
}

func TestConcurrentAdds_NoLostUpdates(t *testing.T) {
	repo := newTestRepo(t, storage.NewMemoryKV(0), Options{})

	const writers = 8
	const perWriter = 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := repo.AddToSession("shared", []Image{{Thumbnail: png1}})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	s, err := repo.GetSession("shared")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Len(t, s.Images, writers*perWriter)
}

func TestWriteFailure_NotQuota(t *testing.T) {
	boom := errors.New("disk gone")
	repo := newTestRepo(t, failingKV{err: boom}, Options{})

	_, err := repo.CreateSession()
	assert.ErrorIs(t, err, boom)
}

type countingKV struct {
	storage.KV
	sets int
}

func (c *countingKV) Set(key string, value []byte) error {
	c.sets++
	return c.KV.Set(key, value)
}

type failingKV struct{ err error }

func (f failingKV) Get(string) ([]byte, error) { return nil, nil }
func (f failingKV) Set(string, []byte) error  { return f.err }
func (f failingKV) Remove(string) error       { return f.err }

type rejectAll struct{}

func (rejectAll) Submit(string, dispatch.Task) bool { return false }

func manySessions(n int) []Session {
	sessions := make([]Session, n)
	for i := range sessions {
		sessions[i] = Session{
			ID:        fmt.Sprintf("seed-%d", i),
			Timestamp: int64(n - i),
			Images:    []Image{{ID: "img", Thumbnail: png1}},
		}
	}
	return sessions
}

func ids(sessions []Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}
