package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Patch is a partial session update from a producer. Absent fields
// leave the stored value untouched; fields the engine does not
// interpret are kept verbatim in Extra and land in the session's
// metadata bag.
type Patch struct {
	ClientName *string
	JobType    *string
	Summary    *string
	Transcript *string
	Notes      *string

	// TranscriptAppend extends the stored transcript instead of
	// replacing it. Voice notes arrive in fragments; the concatenation
	// happens inside the merge so concurrent fragments cannot overwrite
	// each other.
	TranscriptAppend *string

	Media     []MediaItem
	MediaMode MediaMode

	// Quote is only applied when HasQuote is set: an empty list is a
	// legitimate "clear the quote" patch, distinct from no quote field.
	Quote    []LineItemInput
	HasQuote bool

	Payments []PaymentInput

	Estimate *Estimate

	Extra map[string]json.RawMessage
}

// LineItemInput carries quantity and unit price as raw JSON so a
// malformed value from one producer degrades to a zero-contribution
// line instead of rejecting the whole patch.
type LineItemInput struct {
	Description string          `json:"description"`
	Quantity    json.RawMessage `json:"quantity"`
	UnitPrice   json.RawMessage `json:"unit_price"`
}

type PaymentInput struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference,omitempty"`
}

type patchFields struct {
	ClientName       *string          `json:"client_name"`
	JobType          *string          `json:"job_type"`
	Summary          *string          `json:"summary"`
	Transcript       *string          `json:"transcript"`
	TranscriptAppend *string          `json:"transcript_append"`
	Notes            *string          `json:"notes"`
	Media            []MediaItem      `json:"media"`
	MediaMode        MediaMode        `json:"media_mode"`
	Quote            *[]LineItemInput `json:"quote"`
	Payments         []PaymentInput   `json:"payments"`
	Estimate         *Estimate        `json:"estimate"`
}

var knownPatchKeys = map[string]struct{}{
	"client_name": {}, "job_type": {}, "summary": {}, "transcript": {},
	"transcript_append": {}, "notes": {}, "media": {}, "media_mode": {},
	"quote": {}, "payments": {}, "estimate": {},
}

// UnmarshalJSON splits interpreted fields from the open metadata bag.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var fields patchFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.ClientName = fields.ClientName
	p.JobType = fields.JobType
	p.Summary = fields.Summary
	p.Transcript = fields.Transcript
	p.TranscriptAppend = fields.TranscriptAppend
	p.Notes = fields.Notes
	p.Media = fields.Media
	p.MediaMode = fields.MediaMode
	p.Payments = fields.Payments
	p.Estimate = fields.Estimate
	if fields.Quote != nil {
		p.Quote = *fields.Quote
		p.HasQuote = true
	}

	p.Extra = nil
	for k, v := range raw {
		if _, known := knownPatchKeys[k]; known {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}
	return nil
}

// IsEmpty reports whether the patch would change nothing.
func (p *Patch) IsEmpty() bool {
	return p.ClientName == nil && p.JobType == nil && p.Summary == nil &&
		p.Transcript == nil && p.TranscriptAppend == nil && p.Notes == nil &&
		len(p.Media) == 0 && !p.HasQuote && len(p.Payments) == 0 &&
		p.Estimate == nil && len(p.Extra) == 0
}
