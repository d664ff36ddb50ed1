package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a non-binding, time-boxed preview of what a payment would
// cost right now. It is never persisted as a Payment: confirming a
// quote issues a real Payment with its own independent rate snapshot.
type Quote struct {
	ID                      string          `json:"id"`
	PayableType             string          `json:"payableType"`
	PayableID               string          `json:"payableId"`
	PayableSummary          string          `json:"payableSummary"`
	AmountUsdCents          int64           `json:"amountUsdCents"`
	AmountCrypto            decimal.Decimal `json:"amountCrypto"`
	CurrencyCode            string          `json:"currencyCode"`
	ExchangeRateUsdCents    int64           `json:"exchangeRateUsdCents"`
	PreviewExpiresInSeconds int             `json:"previewExpiresInSeconds"`

	// ReceivedAt is stamped by the consumer when the quote arrives; the
	// validity countdown runs from receipt, not server issuance, to
	// tolerate clock skew. Not part of the wire format.
	ReceivedAt time.Time `json:"-"`
}

// ExpiresAt is the client-side deadline of the preview window.
func (q *Quote) ExpiresAt() time.Time {
	return q.ReceivedAt.Add(time.Duration(q.PreviewExpiresInSeconds) * time.Second)
}

// Payable is the purchasable item a payment references, resolved from
// the external catalog. The checkout core treats the reference itself
// as opaque.
type Payable struct {
	Type          string `json:"type"`
	ID            string `json:"id"`
	Summary       string `json:"summary"`
	PriceUsdCents int64  `json:"priceUsdCents"`
}
