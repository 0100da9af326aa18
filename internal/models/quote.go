package models

import (
	"math"
	"time"

	"eventmarket/server/internal/utils"
)

// QuoteStatus is a state of the quote lifecycle.
type QuoteStatus string

const (
	QuoteStatusDraft     QuoteStatus = "draft"
	QuoteStatusPending   QuoteStatus = "pending"
	QuoteStatusAccepted  QuoteStatus = "accepted"
	QuoteStatusRejected  QuoteStatus = "rejected"
	QuoteStatusPaid      QuoteStatus = "paid"
	QuoteStatusCompleted QuoteStatus = "completed"
	QuoteStatusRefunded  QuoteStatus = "refunded"
)

const (
	// DefaultVATRate is the flat VAT applied to every quote subtotal.
	DefaultVATRate = 0.20
	// DefaultCurrency is the only currency quotes are issued in.
	DefaultCurrency = "EUR"
)

// QuoteItem is a single priced line of a quote.
type QuoteItem struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Total       float64 `json:"total"`
}

// Quote is a priced proposal from a provider (or business) to a client.
type Quote struct {
	ID          utils.SixID  `json:"id"`
	ProviderID  utils.SixID  `json:"provider_id"`
	ClientID    utils.SixID  `json:"client_id"`
	ListingID   *utils.SixID `json:"listing_id,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Items       []QuoteItem  `json:"items"`
	Subtotal    float64      `json:"subtotal"`
	Tax         float64      `json:"tax"`
	Total       float64      `json:"total"`
	Status      QuoteStatus  `json:"status"`
	ValidUntil  time.Time    `json:"valid_until"` // Advisory only
	Currency    string       `json:"currency"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	PaidAt      *time.Time   `json:"paid_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	RefundedAt  *time.Time   `json:"refunded_at,omitempty"`
}

// RoundMoney rounds an amount to cents.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// Recalculate derives item totals and the quote subtotal, tax and total from Items.
func (q *Quote) Recalculate(vatRate float64) {
	subtotal := 0.0
	for i := range q.Items {
		q.Items[i].Total = RoundMoney(q.Items[i].Quantity * q.Items[i].UnitPrice)
		subtotal += q.Items[i].Total
	}
	q.Subtotal = RoundMoney(subtotal)
	q.Tax = RoundMoney(q.Subtotal * vatRate)
	q.Total = RoundMoney(q.Subtotal + q.Tax)
}

// HasParties reports whether a and b are the quote's client and provider, in either order.
func (q *Quote) HasParties(a, b utils.SixID) bool {
	return utils.NewPair(q.ClientID, q.ProviderID) == utils.NewPair(a, b)
}

// Involves reports whether id is the client or the provider of the quote.
func (q *Quote) Involves(id utils.SixID) bool {
	return q.ClientID == id || q.ProviderID == id
}

// Clone returns a deep copy safe to hand out of a store.
func (q *Quote) Clone() *Quote {
	c := *q
	c.Items = append([]QuoteItem(nil), q.Items...)
	if q.ListingID != nil {
		id := *q.ListingID
		c.ListingID = &id
	}
	c.PaidAt = cloneTime(q.PaidAt)
	c.CompletedAt = cloneTime(q.CompletedAt)
	c.RefundedAt = cloneTime(q.RefundedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
