package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	apperrors "github.com/jobflow/capture-server-go/internal/errors"
	"github.com/jobflow/capture-server-go/internal/model"
)

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	producer    TEXT NOT NULL DEFAULT '',
	external_id TEXT,
	source_key  TEXT,
	doc         JSONB NOT NULL,
	revision    BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS sessions_producer_external_id
	ON sessions (producer, external_id) WHERE external_id IS NOT NULL;

CREATE INDEX IF NOT EXISTS sessions_source_key_updated_at
	ON sessions (source_key, updated_at DESC) WHERE source_key IS NOT NULL;

CREATE INDEX IF NOT EXISTS sessions_updated_at ON sessions (updated_at DESC);
`

// PostgresStore keeps one row per session with the full document in a
// JSONB column; the revision column carries the compare-and-swap token.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) (*PostgresStore, error) {
	if _, err := db.Exec(sessionsSchema); err != nil {
		return nil, fmt.Errorf("apply sessions schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

type sessionRow struct {
	ID       string `db:"id"`
	Doc      []byte `db:"doc"`
	Revision int64  `db:"revision"`
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT id, doc, revision FROM sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("Session")
	}
	if err != nil {
		return nil, wrapStoreErr("get", err)
	}
	return decodeRow(row)
}

func decodeRow(row sessionRow) (*model.Session, error) {
	var sess model.Session
	if err := json.Unmarshal(row.Doc, &sess); err != nil {
		return nil, apperrors.CorruptRecord(row.ID, err)
	}
	sess.Revision = row.Revision
	return &sess, nil
}

func (s *PostgresStore) Commit(ctx context.Context, sess *model.Session) error {
	next := *sess
	next.Revision = sess.Revision + 1

	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.ID, err)
	}

	if sess.Revision == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, producer, external_id, source_key, doc, revision, created_at, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8)
		`, next.ID, next.Producer, next.ExternalID, next.SourceKey, doc, next.Revision, next.CreatedAt, next.UpdatedAt)
		if isUniqueViolation(err) {
			return apperrors.ConcurrentUpdate(sess.ID)
		}
		if err != nil {
			return wrapStoreErr("commit", err)
		}
	} else {
		res, err := s.db.ExecContext(ctx, `
			UPDATE sessions
			SET doc = $3, revision = $4, updated_at = $5,
			    producer = $6, external_id = NULLIF($7, ''), source_key = NULLIF($8, '')
			WHERE id = $1 AND revision = $2
		`, next.ID, sess.Revision, doc, next.Revision, next.UpdatedAt, next.Producer, next.ExternalID, next.SourceKey)
		if err != nil {
			return wrapStoreErr("commit", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return wrapStoreErr("commit", err)
		}
		if affected == 0 {
			return apperrors.ConcurrentUpdate(sess.ID)
		}
	}

	sess.Revision = next.Revision
	return nil
}

func (s *PostgresStore) List(ctx context.Context, offset, limit int) ([]model.SessionSummary, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM sessions`); err != nil {
		return nil, 0, wrapStoreErr("list", err)
	}

	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, doc, revision FROM sessions
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, wrapStoreErr("list", err)
	}

	summaries := make([]model.SessionSummary, 0, len(rows))
	for _, row := range rows {
		sess, err := decodeRow(row)
		if err != nil {
			continue
		}
		summaries = append(summaries, sess.Summarize())
	}
	return summaries, total, nil
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, producer, externalID string) (*model.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, doc, revision FROM sessions
		WHERE producer = $1 AND external_id = $2
	`, producer, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("find by external id", err)
	}
	return decodeRow(row)
}

func (s *PostgresStore) FindLatestBySourceKey(ctx context.Context, sourceKey string, since time.Time) (*model.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, doc, revision FROM sessions
		WHERE source_key = $1 AND updated_at >= $2
		ORDER BY updated_at DESC
		LIMIT 1
	`, sourceKey, since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("find by source key", err)
	}
	return decodeRow(row)
}

func (s *PostgresStore) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM sessions ORDER BY id`); err != nil {
		return nil, wrapStoreErr("enumerate ids", err)
	}
	return ids, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func wrapStoreErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.StoreTimeout(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
