package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Session is the canonical record for one job: metadata, media, quote
// line items and payments, plus the aggregates derived from them.
type Session struct {
	ID         string `json:"id"`
	Producer   string `json:"producer,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	SourceKey  string `json:"source_key,omitempty"`

	ClientName *string `json:"client_name,omitempty"`
	JobType    *string `json:"job_type,omitempty"`
	Summary    *string `json:"summary,omitempty"`
	Transcript *string `json:"transcript,omitempty"`
	Notes      *string `json:"notes,omitempty"`

	Media    []MediaItem `json:"media"`
	Quote    []LineItem  `json:"quote"`
	Payments []Payment   `json:"payments"`

	// Derived fields, recomputed before every commit and never accepted
	// from producer input.
	QuoteTotal     decimal.Decimal `json:"quote_total"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	MediaCount     int             `json:"media_count"`
	QuoteItemCount int             `json:"quote_item_count"`
	PaymentCount   int             `json:"payment_count"`

	QuoteFinalized bool `json:"quote_finalized"`

	// Estimate holds the AI quote suggestion. It is advisory and never
	// promoted into Quote automatically.
	Estimate *Estimate `json:"estimate,omitempty"`

	// Metadata preserves producer fields the engine does not interpret.
	Metadata map[string]json.RawMessage `json:"metadata,omitempty"`

	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MediaItem struct {
	Kind     MediaKind `json:"kind"`
	Locator  string    `json:"locator"`
	MimeType string    `json:"mime_type,omitempty"`
	Size     int64     `json:"size,omitempty"`
}

type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Total returns quantity × unit price, unrounded.
func (li LineItem) Total() decimal.Decimal {
	return li.Quantity.Mul(li.UnitPrice)
}

type Payment struct {
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Reference  string          `json:"reference,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

type Estimate struct {
	Summary        string          `json:"summary,omitempty"`
	SuggestedTotal decimal.Decimal `json:"suggested_total"`
	Items          []LineItem      `json:"items,omitempty"`
}

// SessionSummary is the list-view projection of a session.
type SessionSummary struct {
	ID             string          `json:"id"`
	ClientName     string          `json:"client_name,omitempty"`
	JobType        string          `json:"job_type,omitempty"`
	NotePreview    string          `json:"note_preview,omitempty"`
	MediaCount     int             `json:"media_count"`
	QuoteItemCount int             `json:"quote_item_count"`
	QuoteTotal     decimal.Decimal `json:"quote_total"`
	QuoteFinalized bool            `json:"quote_finalized"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

const notePreviewLen = 160

// Summarize projects the session into its list-view shape.
func (s *Session) Summarize() SessionSummary {
	sum := SessionSummary{
		ID:             s.ID,
		MediaCount:     s.MediaCount,
		QuoteItemCount: s.QuoteItemCount,
		QuoteTotal:     s.QuoteTotal,
		QuoteFinalized: s.QuoteFinalized,
		PaymentStatus:  s.PaymentStatus,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if s.ClientName != nil {
		sum.ClientName = *s.ClientName
	}
	if s.JobType != nil {
		sum.JobType = *s.JobType
	}
	if s.Notes != nil {
		preview := *s.Notes
		if len(preview) > notePreviewLen {
			preview = preview[:notePreviewLen]
		}
		sum.NotePreview = preview
	}
	return sum
}

// CommitSummary is returned by every committing operation.
type CommitSummary struct {
	ID            string          `json:"id"`
	QuoteTotal    decimal.Decimal `json:"quote_total"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (s *Session) CommitSummary() CommitSummary {
	return CommitSummary{
		ID:            s.ID,
		QuoteTotal:    s.QuoteTotal,
		PaymentStatus: s.PaymentStatus,
		UpdatedAt:     s.UpdatedAt,
	}
}

// Clone returns a deep copy. The merge engine mutates the copy so a
// failed merge never leaves a half-patched document behind.
func (s *Session) Clone() *Session {
	out := *s
	out.ClientName = cloneString(s.ClientName)
	out.JobType = cloneString(s.JobType)
	out.Summary = cloneString(s.Summary)
	out.Transcript = cloneString(s.Transcript)
	out.Notes = cloneString(s.Notes)
	out.Media = append([]MediaItem(nil), s.Media...)
	out.Quote = append([]LineItem(nil), s.Quote...)
	out.Payments = append([]Payment(nil), s.Payments...)
	if s.Estimate != nil {
		est := *s.Estimate
		est.Items = append([]LineItem(nil), s.Estimate.Items...)
		out.Estimate = &est
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]json.RawMessage, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &out
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IdentityHint correlates an inbound event with a session: either an
// explicit producer-scoped external id, or a loose source key (e.g. a
// chat id) resolved through the freshness window.
type IdentityHint struct {
	Producer   string `json:"producer,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	SourceKey  string `json:"source_key,omitempty"`
}
