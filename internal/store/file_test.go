package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jobflow/capture-server-go/internal/errors"
	"github.com/jobflow/capture-server-go/internal/model"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func testSession(id string) *model.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Session{
		ID:        id,
		SourceKey: "chat-1",
		Media:     []model.MediaItem{},
		Quote:     []model.LineItem{},
		Payments:  []model.Payment{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestFileStoreRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sess-1")
	notes := "rear access only"
	sess.Notes = &notes

	require.NoError(t, s.Commit(ctx, sess))
	assert.Equal(t, int64(1), sess.Revision)

	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.ID)
	assert.Equal(t, int64(1), got.Revision)
	require.NotNil(t, got.Notes)
	assert.Equal(t, "rear access only", *got.Notes)
}

func TestFileStoreGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
}

func TestFileStoreGetInvalidID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "../../etc/passwd")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
}

func TestFileStoreCommitConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sess-1")
	require.NoError(t, s.Commit(ctx, sess))

	// a writer still holding revision 0 loses
	stale := testSession("sess-1")
	err := s.Commit(ctx, stale)
	assert.Equal(t, apperrors.ErrCodeConcurrentUpdate, apperrors.GetCode(err))

	// the winner at revision 1 proceeds
	require.NoError(t, s.Commit(ctx, sess))
	assert.Equal(t, int64(2), sess.Revision)
}

func TestFileStoreCreateMustNotExist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, testSession("sess-1")))

	err := s.Commit(ctx, testSession("sess-1"))
	assert.Equal(t, apperrors.ErrCodeConcurrentUpdate, apperrors.GetCode(err))
}

func TestFileStoreCorruptRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "bad.json"), []byte("{truncated"), 0o644))

	_, err := s.Get(ctx, "bad")
	assert.Equal(t, apperrors.ErrCodeCorruptRecord, apperrors.GetCode(err))

	// corrupt records stay enumerable for recovery
	ids, err := s.IDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "bad")

	// and only a fresh create may replace one
	stale := testSession("bad")
	stale.Revision = 3
	err = s.Commit(ctx, stale)
	assert.Equal(t, apperrors.ErrCodeCorruptRecord, apperrors.GetCode(err))

	require.NoError(t, s.Commit(ctx, testSession("bad")))
	got, err := s.Get(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision)
}

func TestFileStoreIgnoresTempFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, testSession("sess-1")))
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "sess-2.json.tmp"), []byte("partial"), 0o644))

	ids, err := s.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-1"}, ids)

	summaries, total, err := s.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, summaries, 1)
}

func TestFileStoreCrashMidCommitLeavesOldState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sess-1")
	notes := "committed"
	sess.Notes = &notes
	require.NoError(t, s.Commit(ctx, sess))

	// a process dying between temp write and rename leaves only the
	// temp file behind; readers must still see the committed document
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "sess-1.json.tmp"), []byte(`{"id": "sess-1", "notes": "half-`), 0o644))

	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "committed", *got.Notes)
}

func TestFileStoreListOrderAndPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		sess := testSession(id)
		sess.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Commit(ctx, sess))
	}

	summaries, total, err := s.List(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, summaries, 2)
	assert.Equal(t, "c", summaries[0].ID)
	assert.Equal(t, "b", summaries[1].ID)

	// offset past the end is an empty page, not an error
	summaries, total, err = s.List(ctx, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Empty(t, summaries)
}

func TestFileStoreListSkipsCorrupt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, testSession("good")))
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "bad.json"), []byte("nope"), 0o644))

	summaries, total, err := s.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, summaries, 1)
	assert.Equal(t, "good", summaries[0].ID)
}

func TestFileStoreFindByExternalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sess-1")
	sess.Producer = "crm"
	sess.ExternalID = "job-77"
	require.NoError(t, s.Commit(ctx, sess))

	got, err := s.FindByExternalID(ctx, "crm", "job-77")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sess-1", got.ID)

	// same external id under a different producer is a different identity
	got, err = s.FindByExternalID(ctx, "other", "job-77")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileStoreFindLatestBySourceKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()

	old := testSession("old")
	old.UpdatedAt = base.Add(-30 * time.Minute)
	require.NoError(t, s.Commit(ctx, old))

	mid := testSession("mid")
	mid.UpdatedAt = base.Add(-5 * time.Minute)
	require.NoError(t, s.Commit(ctx, mid))

	newest := testSession("newest")
	newest.UpdatedAt = base.Add(-1 * time.Minute)
	require.NoError(t, s.Commit(ctx, newest))

	got, err := s.FindLatestBySourceKey(ctx, "chat-1", base.Add(-10*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "newest", got.ID)

	got, err = s.FindLatestBySourceKey(ctx, "chat-1", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileStoreSweepTemp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := filepath.Join(s.dir, "dead.json.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, past, past))

	fresh := filepath.Join(s.dir, "inflight.json.tmp")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	swept, err := s.SweepTemp(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestFileStoreExpiredContext(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := s.Get(ctx, "sess-1")
	assert.Equal(t, apperrors.ErrCodeStoreTimeout, apperrors.GetCode(err))

	err = s.Commit(ctx, testSession("sess-1"))
	assert.Equal(t, apperrors.ErrCodeStoreTimeout, apperrors.GetCode(err))
}
