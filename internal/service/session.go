// Package service orchestrates the capture pipeline: resolve identity,
// merge the patch, enrich, recompute aggregates, commit with
// compare-and-swap, then notify listeners.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jobflow/capture-server-go/internal/aggregate"
	"github.com/jobflow/capture-server-go/internal/ai"
	"github.com/jobflow/capture-server-go/internal/audit"
	"github.com/jobflow/capture-server-go/internal/config"
	apperrors "github.com/jobflow/capture-server-go/internal/errors"
	"github.com/jobflow/capture-server-go/internal/merge"
	"github.com/jobflow/capture-server-go/internal/model"
	"github.com/jobflow/capture-server-go/internal/resolver"
	"github.com/jobflow/capture-server-go/internal/sse"
	"github.com/jobflow/capture-server-go/internal/store"
	"github.com/jobflow/capture-server-go/internal/util"
)

// Metadata bag keys written when an AI collaborator fails. The mutation
// that triggered the call still commits.
const (
	aiErrorKey            = "ai_error"
	transcriptionErrorKey = "transcription_error"
)

type SessionService struct {
	store       store.SessionStore
	resolver    *resolver.Resolver
	suggester   ai.QuoteSuggester
	transcriber ai.Transcriber
	broker      *sse.Broker
	locks       *util.KeyedMutex
	now         func() time.Time
}

func NewSessionService(st store.SessionStore, res *resolver.Resolver, suggester ai.QuoteSuggester, transcriber ai.Transcriber, broker *sse.Broker) *SessionService {
	return &SessionService{
		store:       st,
		resolver:    res,
		suggester:   suggester,
		transcriber: transcriber,
		broker:      broker,
		locks:       util.NewKeyedMutex(),
		now:         time.Now,
	}
}

// UpsertResult is what committing operations hand back to the producer.
type UpsertResult struct {
	Session *model.Session
	Created bool
}

// Upsert resolves the identity hint, applies the patch and commits. The
// whole cycle retries on a compare-and-swap conflict: each attempt
// re-resolves, so a losing create picks up the winner's session.
//
// The resolve→commit cycle for an external-id hint runs under a lock on
// the identity itself, not just the session id: two first-time upserts
// with the same (producer, external_id) would otherwise both see "no
// session", mint two ids, and commit two documents for one identity.
// The postgres backend also enforces this with a unique index; the file
// backend has only this lock.
func (s *SessionService) Upsert(ctx context.Context, hint model.IdentityHint, patch *model.Patch) (*UpsertResult, error) {
	if hint.ExternalID != "" {
		unlock := s.locks.Lock(identityLockKey(hint))
		defer unlock()
	}

	var lastErr error

	for attempt := 0; attempt < config.CommitRetries; attempt++ {
		sess, created, err := s.resolver.Resolve(ctx, hint)
		if err != nil {
			return nil, err
		}

		next, err := s.applyAndCommit(ctx, sess, patch, created)
		if retryable(err) {
			lastErr = err
			log.Debug().
				Str("sessionId", sess.ID).
				Int("attempt", attempt+1).
				Msg("commit lost the race, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}

		eventType := audit.EventSessionUpdate
		if created {
			eventType = audit.EventSessionCreate
		}
		audit.Log(ctx, audit.Event{
			Type:      eventType,
			SessionID: next.ID,
			Producer:  next.Producer,
		})
		s.publish(ctx, sse.EventSessionUpdated, next)
		return &UpsertResult{Session: next, Created: created}, nil
	}

	return nil, lastErr
}

// applyAndCommit runs one merge/recompute/commit attempt under the
// per-session lock. For an existing session it re-reads the document
// inside the lock so the patch lands on the freshest revision.
func (s *SessionService) applyAndCommit(ctx context.Context, sess *model.Session, patch *model.Patch, created bool) (*model.Session, error) {
	unlock := s.locks.Lock(sess.ID)
	defer unlock()

	if !created {
		fresh, err := s.store.Get(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		sess = fresh
	}

	now := s.now().UTC()
	next, err := merge.Apply(sess, patch, now)
	if err != nil {
		return nil, err
	}

	s.enrich(ctx, patch, next)

	aggregate.Recompute(next)
	next.UpdatedAt = monotonic(now, sess.UpdatedAt)

	if err := s.commitWithTimeout(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// enrich asks the quote suggester for an estimate when this patch
// brought new transcript text and the session has no quote yet. A
// collaborator failure is recorded in the metadata bag and swallowed.
func (s *SessionService) enrich(ctx context.Context, patch *model.Patch, next *model.Session) {
	if s.suggester == nil {
		return
	}
	if patch.Transcript == nil && patch.TranscriptAppend == nil {
		return
	}
	if next.Transcript == nil || next.QuoteFinalized || len(next.Quote) > 0 {
		return
	}

	suggestion, err := s.suggester.SuggestQuote(ctx, *next.Transcript)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", next.ID).Msg("quote suggestion failed")
		setMetadataString(next, aiErrorKey, err.Error())
		return
	}

	next.Estimate = &model.Estimate{
		Summary:        suggestion.Summary,
		SuggestedTotal: suggestion.SuggestedTotal,
		Items:          suggestion.Items,
	}
	delete(next.Metadata, aiErrorKey)

	log.Debug().
		Str("sessionId", next.ID).
		Str("suggestedTotal", suggestion.SuggestedTotal.String()).
		Int("items", len(suggestion.Items)).
		Msg("quote suggestion attached")
}

func (s *SessionService) Fetch(ctx context.Context, id string) (*model.Session, error) {
	if !util.IsValidSessionID(id) {
		return nil, apperrors.NotFound("Session")
	}
	return s.store.Get(ctx, id)
}

// ListPage carries one page of session summaries.
type ListPage struct {
	Sessions []model.SessionSummary `json:"sessions"`
	Total    int                    `json:"total"`
	Offset   int                    `json:"offset"`
	Limit    int                    `json:"limit"`
}

// List returns summaries newest-first. Limits are clamped, never
// rejected; an offset past the end yields an empty page.
func (s *SessionService) List(ctx context.Context, offset, limit int) (*ListPage, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = config.DefaultListLimit
	}
	if limit > config.MaxListLimit {
		limit = config.MaxListLimit
	}

	summaries, total, err := s.store.List(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	return &ListPage{
		Sessions: summaries,
		Total:    total,
		Offset:   offset,
		Limit:    limit,
	}, nil
}

// FinalizeQuote locks the quote against further edits. Finalizing an
// already-final quote is a no-op, not an error.
func (s *SessionService) FinalizeQuote(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.mutate(ctx, id, func(doc *model.Session) error {
		if doc.QuoteFinalized {
			return errNoop
		}
		doc.QuoteFinalized = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventQuoteFinalize,
		SessionID: sess.ID,
		Producer:  sess.Producer,
		Details: map[string]interface{}{
			"quote_total": sess.QuoteTotal.String(),
		},
	})
	s.publish(ctx, sse.EventQuoteFinalized, sess)
	return sess, nil
}

// RecordPayment appends a payment. Payments are append-only and accepted
// regardless of quote state, finalized included.
func (s *SessionService) RecordPayment(ctx context.Context, id string, in model.PaymentInput) (*model.Session, error) {
	if !in.Amount.IsPositive() {
		return nil, apperrors.InvalidAmount(fmt.Sprintf("payment amount %s must be positive", in.Amount))
	}

	sess, err := s.mutate(ctx, id, func(doc *model.Session) error {
		doc.Payments = append(doc.Payments, model.Payment{
			Amount:     in.Amount,
			Method:     in.Method,
			Reference:  in.Reference,
			RecordedAt: s.now().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventPaymentRecord,
		SessionID: sess.ID,
		Producer:  sess.Producer,
		Details: map[string]interface{}{
			"amount":         in.Amount.String(),
			"method":         in.Method,
			"payment_status": string(sess.PaymentStatus),
		},
	})
	s.publish(ctx, sse.EventPaymentRecorded, sess)
	return sess, nil
}

// IngestAudio transcribes a voice note and folds the text into the
// session's transcript. Transcription failure still commits the media
// item, with the failure noted in the metadata bag.
func (s *SessionService) IngestAudio(ctx context.Context, hint model.IdentityHint, audio io.Reader, mimeType, locator string, size int64) (*UpsertResult, error) {
	patch := &model.Patch{
		Media: []model.MediaItem{{
			Kind:     model.MediaKindAudio,
			Locator:  locator,
			MimeType: mimeType,
			Size:     size,
		}},
	}

	var transcribeErr error
	if s.transcriber == nil {
		transcribeErr = apperrors.External("transcription", fmt.Errorf("no transcriber configured"))
	} else {
		text, err := s.transcriber.Transcribe(ctx, audio, mimeType)
		if err != nil {
			transcribeErr = err
		} else if text != "" {
			patch.TranscriptAppend = &text
		}
	}

	if transcribeErr != nil {
		log.Warn().Err(transcribeErr).Str("locator", locator).Msg("transcription failed, committing media only")
		msg, _ := json.Marshal(transcribeErr.Error())
		patch.Extra = map[string]json.RawMessage{transcriptionErrorKey: msg}
	}

	return s.Upsert(ctx, hint, patch)
}

// errNoop signals that fn decided the document needs no change; mutate
// returns the current document without committing.
var errNoop = errors.New("no-op mutation")

// mutate runs fn against the freshest document under the per-session
// lock and commits, retrying the read-modify-write on conflict.
func (s *SessionService) mutate(ctx context.Context, id string, fn func(*model.Session) error) (*model.Session, error) {
	if !util.IsValidSessionID(id) {
		return nil, apperrors.NotFound("Session")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < config.CommitRetries; attempt++ {
		doc, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		next := doc.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, errNoop) {
				return doc, nil
			}
			return nil, err
		}

		aggregate.Recompute(next)
		next.UpdatedAt = monotonic(s.now().UTC(), doc.UpdatedAt)

		err = s.commitWithTimeout(ctx, next)
		if retryable(err) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		return next, nil
	}
	return nil, lastErr
}

func (s *SessionService) commitWithTimeout(ctx context.Context, sess *model.Session) error {
	ctx, cancel := context.WithTimeout(ctx, config.StoreOpTimeout)
	defer cancel()
	return s.store.Commit(ctx, sess)
}

func (s *SessionService) publish(ctx context.Context, eventType string, sess *model.Session) {
	if s.broker == nil {
		return
	}
	data, err := json.Marshal(sess.CommitSummary())
	if err != nil {
		return
	}
	if err := s.broker.Publish(ctx, sse.Event{Type: eventType, Data: data}); err != nil {
		log.Warn().Err(err).Str("sessionId", sess.ID).Msg("failed to publish session event")
	}
}

// identityLockKey names the lock scope for an external-id hint. The
// prefix keeps it disjoint from session-id lock keys, which never
// contain a colon.
func identityLockKey(hint model.IdentityHint) string {
	return "ext:" + hint.Producer + "/" + hint.ExternalID
}

// retryable reports whether the commit attempt is worth redoing against
// fresh state: lost races and bounded store timeouts, nothing else.
func retryable(err error) bool {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeConcurrentUpdate, apperrors.ErrCodeStoreTimeout:
		return true
	}
	return false
}

// monotonic keeps updated_at strictly increasing per session even when
// commits land within clock resolution of each other.
func monotonic(now, prev time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Millisecond)
}

func setMetadataString(sess *model.Session, key, value string) {
	data, _ := json.Marshal(value)
	if sess.Metadata == nil {
		sess.Metadata = make(map[string]json.RawMessage)
	}
	sess.Metadata[key] = data
}
