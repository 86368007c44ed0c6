package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/jobflow/capture-server-go/internal/errors"
	"github.com/jobflow/capture-server-go/internal/model"
	"github.com/jobflow/capture-server-go/internal/util"
)

const (
	docSuffix  = ".json"
	tempSuffix = ".json.tmp"

	// temp files older than this are considered leftovers from a
	// crashed commit and are safe to sweep
	tempMaxAge = time.Hour
)

// FileStore keeps one <id>.json document per session under dir.
// Commits write the full document to <id>.json.tmp, fsync it, then
// rename over the canonical path, so readers only ever observe the
// pre- or post-commit state.
type FileStore struct {
	dir   string
	locks *util.KeyedMutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{
		dir:   dir,
		locks: util.NewKeyedMutex(),
	}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+docSuffix)
}

func (s *FileStore) Get(ctx context.Context, id string) (*model.Session, error) {
	if err := checkCtx(ctx, "get"); err != nil {
		return nil, err
	}
	if !util.IsValidSessionID(id) {
		return nil, apperrors.NotFound("Session")
	}
	return s.read(id)
}

func (s *FileStore) read(id string) (*model.Session, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.NotFound("Session")
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}

	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, apperrors.CorruptRecord(id, err)
	}
	if sess.ID != id {
		return nil, apperrors.CorruptRecord(id, fmt.Errorf("document id %q does not match filename", sess.ID))
	}
	return &sess, nil
}

func (s *FileStore) Commit(ctx context.Context, sess *model.Session) error {
	if err := checkCtx(ctx, "commit"); err != nil {
		return err
	}
	if !util.IsValidSessionID(sess.ID) {
		return apperrors.ValidationError(fmt.Sprintf("invalid session id %q", sess.ID))
	}

	unlock := s.locks.Lock(sess.ID)
	defer unlock()

	current, err := s.read(sess.ID)
	switch {
	case err == nil:
		if current.Revision != sess.Revision {
			return apperrors.ConcurrentUpdate(sess.ID)
		}
	case apperrors.GetCode(err) == apperrors.ErrCodeNotFound:
		if sess.Revision != 0 {
			return apperrors.ConcurrentUpdate(sess.ID)
		}
	case apperrors.GetCode(err) == apperrors.ErrCodeCorruptRecord:
		// a corrupt document is only replaceable by a fresh create
		if sess.Revision != 0 {
			return err
		}
	default:
		return err
	}

	next := *sess
	next.Revision = sess.Revision + 1

	data, err := json.MarshalIndent(&next, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.ID, err)
	}
	if err := s.writeAtomic(sess.ID, data); err != nil {
		return err
	}

	sess.Revision = next.Revision
	return nil
}

// writeAtomic is the single place a document reaches disk: full
// contents to a temp file, fsync, then rename over the canonical path.
func (s *FileStore) writeAtomic(id string, data []byte) error {
	tmp := filepath.Join(s.dir, id+tempSuffix)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path(id)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context, offset, limit int) ([]model.SessionSummary, int, error) {
	if err := checkCtx(ctx, "list"); err != nil {
		return nil, 0, err
	}

	ids, err := s.IDs(ctx)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]model.SessionSummary, 0, len(ids))
	for _, id := range ids {
		sess, err := s.read(id)
		if err != nil {
			// corrupt or vanished records don't block the listing
			log.Warn().Err(err).Str("sessionId", id).Msg("skipping unreadable session in list")
			continue
		}
		summaries = append(summaries, sess.Summarize())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	total := len(summaries)
	if offset >= total {
		return []model.SessionSummary{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return summaries[offset:end], total, nil
}

func (s *FileStore) FindByExternalID(ctx context.Context, producer, externalID string) (*model.Session, error) {
	if err := checkCtx(ctx, "find by external id"); err != nil {
		return nil, err
	}

	ids, err := s.IDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		sess, err := s.read(id)
		if err != nil {
			continue
		}
		if sess.Producer == producer && sess.ExternalID == externalID {
			return sess, nil
		}
	}
	return nil, nil
}

func (s *FileStore) FindLatestBySourceKey(ctx context.Context, sourceKey string, since time.Time) (*model.Session, error) {
	if err := checkCtx(ctx, "find by source key"); err != nil {
		return nil, err
	}

	ids, err := s.IDs(ctx)
	if err != nil {
		return nil, err
	}

	var best *model.Session
	for _, id := range ids {
		sess, err := s.read(id)
		if err != nil {
			continue
		}
		if sess.SourceKey != sourceKey || sess.UpdatedAt.Before(since) {
			continue
		}
		if best == nil || sess.UpdatedAt.After(best.UpdatedAt) {
			best = sess
		}
	}
	return best, nil
}

func (s *FileStore) IDs(ctx context.Context) ([]string, error) {
	if err := checkCtx(ctx, "enumerate ids"); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, docSuffix) || strings.HasSuffix(name, tempSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, docSuffix))
	}
	return ids, nil
}

// SweepTemp removes stale temp files left behind by commits that died
// between write and rename. Recent temp files are left alone: they may
// belong to an in-flight commit.
func (s *FileStore) SweepTemp(ctx context.Context) (int64, error) {
	if err := checkCtx(ctx, "sweep temp"); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read store dir: %w", err)
	}

	var swept int64
	cutoff := time.Now().Add(-tempMaxAge)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), tempSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			swept++
		}
	}
	return swept, nil
}

func (s *FileStore) Close() error {
	return nil
}

// checkCtx bounds store operations: a caller whose deadline has already
// passed gets STORE_TIMEOUT instead of best-effort disk work.
func checkCtx(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.StoreTimeout(op, err)
		}
		return err
	}
	return nil
}
