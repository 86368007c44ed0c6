package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jobflow/capture-server-go/internal/errors"
	"github.com/jobflow/capture-server-go/internal/model"
	"github.com/jobflow/capture-server-go/internal/store"
)

func newTestResolver(t *testing.T) (*Resolver, store.SessionStore, time.Time) {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := New(st, 10*time.Minute)
	r.now = func() time.Time { return now }
	return r, st, now
}

func seed(t *testing.T, st store.SessionStore, id, sourceKey string, updatedAt time.Time) {
	t.Helper()
	require.NoError(t, st.Commit(context.Background(), &model.Session{
		ID:        id,
		SourceKey: sourceKey,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}))
}

func TestResolveRequiresSomeIdentity(t *testing.T) {
	r, _, _ := newTestResolver(t)

	_, _, err := r.Resolve(context.Background(), model.IdentityHint{})
	assert.Equal(t, apperrors.ErrCodeInvalidIdentity, apperrors.GetCode(err))
}

func TestResolveByExternalID(t *testing.T) {
	r, st, now := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, st.Commit(ctx, &model.Session{
		ID:         "existing",
		Producer:   "crm",
		ExternalID: "job-9",
		UpdatedAt:  now.Add(-48 * time.Hour), // age is irrelevant for external ids
	}))

	sess, created, err := r.Resolve(ctx, model.IdentityHint{Producer: "crm", ExternalID: "job-9"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "existing", sess.ID)

	// unknown external id mints a session carrying the identity
	sess, created, err = r.Resolve(ctx, model.IdentityHint{Producer: "crm", ExternalID: "job-10"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "job-10", sess.ExternalID)
	assert.Equal(t, int64(0), sess.Revision)
}

func TestResolveBySourceKeyWindow(t *testing.T) {
	tests := []struct {
		name       string
		age        time.Duration
		wantJoined bool
	}{
		{"4 minutes old joins", 4 * time.Minute, true},
		{"exactly at the window edge joins", 10 * time.Minute, true},
		{"15 minutes old starts fresh", 15 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, st, now := newTestResolver(t)
			seed(t, st, "open", "chat-7", now.Add(-tt.age))

			sess, created, err := r.Resolve(context.Background(), model.IdentityHint{SourceKey: "chat-7"})
			require.NoError(t, err)

			if tt.wantJoined {
				assert.False(t, created)
				assert.Equal(t, "open", sess.ID)
			} else {
				assert.True(t, created)
				assert.NotEqual(t, "open", sess.ID)
				assert.Equal(t, "chat-7", sess.SourceKey)
			}
		})
	}
}

func TestResolvePrefersFreshestSession(t *testing.T) {
	r, st, now := newTestResolver(t)
	seed(t, st, "older", "chat-7", now.Add(-8*time.Minute))
	seed(t, st, "fresher", "chat-7", now.Add(-2*time.Minute))

	sess, created, err := r.Resolve(context.Background(), model.IdentityHint{SourceKey: "chat-7"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "fresher", sess.ID)
}

func TestResolveDistinctSourceKeysNeverCollide(t *testing.T) {
	r, st, now := newTestResolver(t)
	seed(t, st, "open", "chat-7", now.Add(-time.Minute))

	sess, created, err := r.Resolve(context.Background(), model.IdentityHint{SourceKey: "chat-8"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, "open", sess.ID)
}

func TestResolveExternalIDWinsOverSourceKey(t *testing.T) {
	r, st, now := newTestResolver(t)
	seed(t, st, "windowed", "chat-7", now.Add(-time.Minute))

	// when both hints are present the deterministic one decides
	sess, created, err := r.Resolve(context.Background(), model.IdentityHint{
		Producer:   "crm",
		ExternalID: "job-1",
		SourceKey:  "chat-7",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, "windowed", sess.ID)
}

func TestMintedSessionShape(t *testing.T) {
	r, _, now := newTestResolver(t)

	sess, created, err := r.Resolve(context.Background(), model.IdentityHint{SourceKey: "chat-1"})
	require.NoError(t, err)
	require.True(t, created)

	assert.NotNil(t, sess.Media)
	assert.NotNil(t, sess.Quote)
	assert.NotNil(t, sess.Payments)
	assert.Equal(t, model.PaymentStatusUnpaid, sess.PaymentStatus)
	assert.Equal(t, now.UTC(), sess.CreatedAt)
	assert.False(t, sess.QuoteFinalized)
}
