// Package store persists one document per session with atomic commits
// and optimistic concurrency. Two backends exist: a JSON-file store
// (write temp, fsync, atomic rename) and a Postgres store (JSONB row,
// revision-guarded update). Both enforce the same contract.
package store

import (
	"context"
	"time"

	"github.com/jobflow/capture-server-go/internal/model"
)

// SessionStore is the durable store contract.
//
// Commit uses sess.Revision as the compare-and-swap token: 0 means
// "create, must not exist"; otherwise the stored revision must match or
// the commit fails with CONCURRENT_UPDATE_CONFLICT. On success the
// persisted document carries Revision+1 and sess is updated to match.
type SessionStore interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	Commit(ctx context.Context, sess *model.Session) error
	List(ctx context.Context, offset, limit int) ([]model.SessionSummary, int, error)
	FindByExternalID(ctx context.Context, producer, externalID string) (*model.Session, error)
	FindLatestBySourceKey(ctx context.Context, sourceKey string, since time.Time) (*model.Session, error)
	// IDs enumerates every stored id, including records whose document
	// no longer parses, so corrupt sessions stay reachable for manual
	// recovery.
	IDs(ctx context.Context) ([]string, error)
	Close() error
}

// Maintainer is implemented by backends with housekeeping to do (the
// file store sweeps temp files left behind by interrupted commits).
type Maintainer interface {
	SweepTemp(ctx context.Context) (int64, error)
}
