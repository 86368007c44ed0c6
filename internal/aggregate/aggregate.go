// Package aggregate recomputes every derived session field from its
// authoritative inputs. It runs unconditionally as the last step before
// each commit; caller-supplied aggregates are never trusted.
package aggregate

import (
	"github.com/shopspring/decimal"

	"github.com/jobflow/capture-server-go/internal/model"
)

// currency minor unit
const totalScale = 2

// Recompute rewrites quote_total, payment_status and the list-view
// counts in place. It never fails on a well-formed document.
func Recompute(doc *model.Session) {
	doc.QuoteTotal = quoteTotal(doc.Quote)
	doc.PaymentStatus = paymentStatus(doc.Payments, doc.QuoteTotal)
	doc.MediaCount = len(doc.Media)
	doc.QuoteItemCount = len(doc.Quote)
	doc.PaymentCount = len(doc.Payments)
}

// quoteTotal is Σ(quantity × unit_price) rounded half-up to the
// currency's minor unit. Decimal arithmetic throughout: binary floats
// drift by pennies on exactly the inputs tradespeople type in.
func quoteTotal(items []model.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, li := range items {
		total = total.Add(li.Total())
	}
	return total.Round(totalScale)
}

func paymentStatus(payments []model.Payment, quoteTotal decimal.Decimal) model.PaymentStatus {
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}

	switch {
	case paid.IsZero():
		return model.PaymentStatusUnpaid
	case quoteTotal.IsPositive() && paid.GreaterThanOrEqual(quoteTotal):
		return model.PaymentStatusPaid
	default:
		return model.PaymentStatusPartial
	}
}
