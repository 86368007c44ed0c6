// Package merge applies partial producer updates to a session document.
// Apply is a pure function of (doc, patch, now): it never reads global
// state and never mutates its input document.
package merge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/jobflow/capture-server-go/internal/errors"
	"github.com/jobflow/capture-server-go/internal/model"
)

// Metadata bag keys written by the merge engine itself.
const (
	// invalidQuoteItemsKey flags line items whose quantity or unit
	// price could not be parsed as a decimal; the item still lands in
	// the quote with a zero value so the rest of the patch commits.
	invalidQuoteItemsKey = "invalid_quote_items"
)

// Apply merges patch into doc and returns the new document. The input
// doc is left untouched. now is used for payment timestamps so the
// result is deterministic for a given (doc, patch, now).
func Apply(doc *model.Session, patch *model.Patch, now time.Time) (*model.Session, error) {
	out := doc.Clone()

	applyScalar(&out.ClientName, patch.ClientName)
	applyScalar(&out.JobType, patch.JobType)
	applyScalar(&out.Summary, patch.Summary)
	applyScalar(&out.Transcript, patch.Transcript)
	applyScalar(&out.Notes, patch.Notes)

	if patch.TranscriptAppend != nil && *patch.TranscriptAppend != "" {
		appendTranscript(out, *patch.TranscriptAppend)
	}

	if len(patch.Media) > 0 || patch.MediaMode == model.MediaModeReplace {
		applyMedia(out, patch)
	}

	if patch.HasQuote {
		if out.QuoteFinalized {
			return nil, apperrors.QuoteFinalized(out.ID)
		}
		applyQuote(out, patch.Quote)
	}

	for _, p := range patch.Payments {
		if !p.Amount.IsPositive() {
			return nil, apperrors.InvalidAmount(fmt.Sprintf("payment amount %s must be positive", p.Amount))
		}
		out.Payments = append(out.Payments, model.Payment{
			Amount:     p.Amount,
			Method:     p.Method,
			Reference:  p.Reference,
			RecordedAt: now,
		})
	}

	if patch.Estimate != nil {
		est := *patch.Estimate
		est.Items = append([]model.LineItem(nil), patch.Estimate.Items...)
		out.Estimate = &est
	}

	for k, v := range patch.Extra {
		setMetadata(out, k, v)
	}

	return out, nil
}

func applyScalar(dst **string, src *string) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// appendTranscript extends the stored transcript with a new fragment.
// Running the concatenation here, against the document the commit is
// based on, is what keeps concurrent fragments from overwriting each
// other.
func appendTranscript(out *model.Session, fragment string) {
	if out.Transcript == nil || *out.Transcript == "" {
		out.Transcript = &fragment
		return
	}
	combined := strings.TrimSpace(*out.Transcript) + "\n" + fragment
	out.Transcript = &combined
}

func applyMedia(out *model.Session, patch *model.Patch) {
	switch patch.MediaMode {
	case model.MediaModeReplace:
		out.Media = dedupeMedia(nil, patch.Media)
	default:
		out.Media = dedupeMedia(out.Media, patch.Media)
	}
}

// dedupeMedia appends items onto base, silently skipping locators that
// are already present. Re-delivering the same attachment is a no-op.
func dedupeMedia(base, items []model.MediaItem) []model.MediaItem {
	seen := make(map[string]struct{}, len(base)+len(items))
	out := make([]model.MediaItem, 0, len(base)+len(items))
	for _, m := range base {
		if _, dup := seen[m.Locator]; dup {
			continue
		}
		seen[m.Locator] = struct{}{}
		out = append(out, m)
	}
	for _, m := range items {
		if _, dup := seen[m.Locator]; dup {
			continue
		}
		seen[m.Locator] = struct{}{}
		out = append(out, m)
	}
	return out
}

func applyQuote(out *model.Session, items []model.LineItemInput) {
	quote := make([]model.LineItem, 0, len(items))
	var invalid []string
	for i, in := range items {
		li := model.LineItem{Description: in.Description}

		qty, err := parseDecimal(in.Quantity, decimal.NewFromInt(1))
		if err != nil {
			invalid = append(invalid, fmt.Sprintf("item %d: quantity %s", i, compact(in.Quantity)))
			qty = decimal.Zero
		}
		price, perr := parseDecimal(in.UnitPrice, decimal.Zero)
		if perr != nil {
			invalid = append(invalid, fmt.Sprintf("item %d: unit_price %s", i, compact(in.UnitPrice)))
			price = decimal.Zero
		}

		li.Quantity = qty
		li.UnitPrice = price
		quote = append(quote, li)
	}
	out.Quote = quote

	if len(invalid) > 0 {
		data, _ := json.Marshal(invalid)
		setMetadata(out, invalidQuoteItemsKey, data)
	}
}

// parseDecimal reads a JSON number or numeric string. Absent/null
// values take def; anything unparseable is an error the caller turns
// into a zero-contribution line.
func parseDecimal(raw json.RawMessage, def decimal.Decimal) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return def, nil
	}
	s := string(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

func compact(raw json.RawMessage) string {
	s := string(bytes.TrimSpace(raw))
	if s == "" {
		return "(absent)"
	}
	if len(s) > 32 {
		s = s[:32]
	}
	return s
}

func setMetadata(out *model.Session, key string, value json.RawMessage) {
	if out.Metadata == nil {
		out.Metadata = make(map[string]json.RawMessage)
	}
	out.Metadata[key] = append(json.RawMessage(nil), value...)
}
