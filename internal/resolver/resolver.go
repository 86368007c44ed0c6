// Package resolver maps inbound events onto session identities: an
// explicit producer-scoped external id attaches deterministically, a
// loose source key (chat id, device id) reuses the freshest open
// session within the configured window or mints a new one.
package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/jobflow/capture-server-go/internal/errors"
	"github.com/jobflow/capture-server-go/internal/model"
	"github.com/jobflow/capture-server-go/internal/store"
)

type Resolver struct {
	store  store.SessionStore
	window time.Duration
	now    func() time.Time
}

func New(st store.SessionStore, window time.Duration) *Resolver {
	return &Resolver{
		store:  st,
		window: window,
		now:    time.Now,
	}
}

// Resolve returns the session the hint belongs to and whether it was
// freshly minted. A new session is only materialized in memory here;
// the merge/commit cycle persists it.
func (r *Resolver) Resolve(ctx context.Context, hint model.IdentityHint) (*model.Session, bool, error) {
	if hint.ExternalID == "" && hint.SourceKey == "" {
		return nil, false, apperrors.InvalidIdentity("neither external_id nor source_key supplied")
	}

	if hint.ExternalID != "" {
		sess, err := r.store.FindByExternalID(ctx, hint.Producer, hint.ExternalID)
		if err != nil {
			return nil, false, err
		}
		if sess != nil {
			return sess, false, nil
		}
		return r.mint(hint), true, nil
	}

	since := r.now().Add(-r.window)
	sess, err := r.store.FindLatestBySourceKey(ctx, hint.SourceKey, since)
	if err != nil {
		return nil, false, err
	}
	if sess != nil {
		log.Debug().
			Str("sessionId", sess.ID).
			Str("sourceKey", hint.SourceKey).
			Msg("event joined open session within freshness window")
		return sess, false, nil
	}
	return r.mint(hint), true, nil
}

func (r *Resolver) mint(hint model.IdentityHint) *model.Session {
	now := r.now().UTC()
	return &model.Session{
		ID:            uuid.NewString(),
		Producer:      hint.Producer,
		ExternalID:    hint.ExternalID,
		SourceKey:     hint.SourceKey,
		Media:         []model.MediaItem{},
		Quote:         []model.LineItem{},
		Payments:      []model.Payment{},
		PaymentStatus: model.PaymentStatusUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
