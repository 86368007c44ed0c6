package aggregate

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/jobflow/capture-server-go/internal/model"
)

func item(qty, price string) model.LineItem {
	return model.LineItem{
		Quantity:  decimal.RequireFromString(qty),
		UnitPrice: decimal.RequireFromString(price),
	}
}

func payment(amount string) model.Payment {
	return model.Payment{Amount: decimal.RequireFromString(amount), Method: "cash"}
}

func TestQuoteTotal(t *testing.T) {
	tests := []struct {
		name  string
		items []model.LineItem
		want  string
	}{
		{"empty quote", nil, "0"},
		{"single item", []model.LineItem{item("2", "50.25")}, "100.50"},
		// the classic float trap: 3 × 10.115 must come out 30.35, not 30.34
		{"half-up rounding", []model.LineItem{item("3", "10.115")}, "30.35"},
		{"no penny drift", []model.LineItem{item("3", "10.10"), item("1", "0.05")}, "30.35"},
		{"sums before rounding", []model.LineItem{item("1", "0.005"), item("1", "0.005")}, "0.01"},
		{"fractional quantity", []model.LineItem{item("1.5", "80")}, "120"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &model.Session{Quote: tt.items}
			Recompute(doc)
			assert.True(t, doc.QuoteTotal.Equal(decimal.RequireFromString(tt.want)),
				"got %s, want %s", doc.QuoteTotal, tt.want)
		})
	}
}

// Checks the decimal total against exact rational arithmetic across
// randomized quotes: sum every quantity × unit_price as a big.Rat,
// round half-up to cents, and the two must always agree.
func TestQuoteTotalMatchesExactArithmetic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 300; trial++ {
		n := 1 + rng.Intn(8)
		items := make([]model.LineItem, 0, n)
		exact := new(big.Rat)
		for i := 0; i < n; i++ {
			qty := decimal.New(rng.Int63n(100000), -3)    // 0–99.999, 3 dp
			price := decimal.New(rng.Int63n(1000000), -4) // 0–99.9999, 4 dp
			items = append(items, model.LineItem{Quantity: qty, UnitPrice: price})
			exact.Add(exact, new(big.Rat).Mul(qty.Rat(), price.Rat()))
		}

		doc := &model.Session{Quote: items}
		Recompute(doc)

		scaled := new(big.Rat).Mul(exact, big.NewRat(100, 1))
		q := new(big.Int)
		rem := new(big.Int)
		q.QuoRem(scaled.Num(), scaled.Denom(), rem)
		if rem.Mul(rem, big.NewInt(2)).Cmp(scaled.Denom()) >= 0 {
			q.Add(q, big.NewInt(1))
		}
		want := decimal.NewFromBigInt(q, -2)

		assert.True(t, doc.QuoteTotal.Equal(want),
			"trial %d: got %s, want %s", trial, doc.QuoteTotal, want)
	}
}

func TestPaymentStatus(t *testing.T) {
	tests := []struct {
		name     string
		items    []model.LineItem
		payments []model.Payment
		want     model.PaymentStatus
	}{
		{"no payments", []model.LineItem{item("1", "100")}, nil, model.PaymentStatusUnpaid},
		{"partial", []model.LineItem{item("1", "100")}, []model.Payment{payment("40")}, model.PaymentStatusPartial},
		{"exactly paid", []model.LineItem{item("1", "100")}, []model.Payment{payment("60"), payment("40")}, model.PaymentStatusPaid},
		{"overpaid", []model.LineItem{item("1", "100")}, []model.Payment{payment("150")}, model.PaymentStatusPaid},
		// a zero quote can never be "paid": there is nothing to pay off
		{"payment against zero quote", nil, []model.Payment{payment("50")}, model.PaymentStatusPartial},
		{"nothing at all", nil, nil, model.PaymentStatusUnpaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &model.Session{Quote: tt.items, Payments: tt.payments}
			Recompute(doc)
			assert.Equal(t, tt.want, doc.PaymentStatus)
		})
	}
}

func TestRecomputeCounts(t *testing.T) {
	doc := &model.Session{
		Media:    []model.MediaItem{{Locator: "a"}, {Locator: "b"}},
		Quote:    []model.LineItem{item("1", "10")},
		Payments: []model.Payment{payment("5")},
	}
	Recompute(doc)

	assert.Equal(t, 2, doc.MediaCount)
	assert.Equal(t, 1, doc.QuoteItemCount)
	assert.Equal(t, 1, doc.PaymentCount)
}

func TestRecomputeOverwritesStaleAggregates(t *testing.T) {
	doc := &model.Session{
		Quote:      []model.LineItem{item("1", "10")},
		QuoteTotal: decimal.RequireFromString("999999"),
		MediaCount: 42,
	}
	Recompute(doc)

	assert.True(t, doc.QuoteTotal.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 0, doc.MediaCount)
}
