package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrPaymentNotFound = errors.New("payment not found")
var ErrItemNotFound = errors.New("payable item not found")
var ErrCurrencyUnsupported = errors.New("currency unsupported")
var ErrUpstreamUnavailable = errors.New("upstream unavailable")
var ErrAmbiguousIssuance = errors.New("payment issuance outcome unknown, check payment history before retrying")
var ErrCannotCancelInProgress = errors.New("payment cannot be cancelled once confirming")

type PaymentStatus string

const (
	PaymentStatusPending              PaymentStatus = "pending"
	PaymentStatusAwaitingConfirmation PaymentStatus = "awaiting_confirmation"
	PaymentStatusConfirming           PaymentStatus = "confirming"
	PaymentStatusCompleted            PaymentStatus = "completed"
	PaymentStatusFailed               PaymentStatus = "failed"
	PaymentStatusExpired              PaymentStatus = "expired"
	PaymentStatusCancelled            PaymentStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusExpired, PaymentStatusCancelled:
		return true
	}
	return false
}

// successRank orders the non-terminal states along the success path.
// Terminal states are absent; they are handled explicitly.
var successRank = map[PaymentStatus]int{
	PaymentStatusPending:              0,
	PaymentStatusAwaitingConfirmation: 1,
	PaymentStatusConfirming:           2,
}

// CanTransition reports whether moving from one status to another is a
// permitted forward transition. Delivery channels are neither ordered
// nor exactly-once, so a forward jump that skips intermediate states
// (e.g. pending straight to completed when the intermediate events were
// lost) is permitted; any regression, and any move out of a terminal
// state, is not.
func CanTransition(from, to PaymentStatus) bool {
	if from.Terminal() || from == to {
		return false
	}
	if to.Terminal() {
		return true
	}
	fromRank, ok := successRank[from]
	if !ok {
		return false
	}
	toRank, ok := successRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Payment is the projection of a payment record. PaymentAddress,
// PaymentURI and ExchangeRateUsdCents are fixed at issuance and never
// change afterwards; a payment whose window lapses is replaced by a new
// payment, never repriced.
type Payment struct {
	ID                    string          `json:"id"`
	PayableType           string          `json:"payableType"`
	PayableID             string          `json:"payableId"`
	PaymentMethod         string          `json:"paymentMethod"`
	AmountUsdCents        int64           `json:"amountUsdCents"`
	AmountCrypto          decimal.Decimal `json:"amountCrypto"`
	CurrencyCode          string          `json:"currencyCode"`
	PaymentAddress        string          `json:"paymentAddress"`
	PaymentURI            string          `json:"paymentUri"`
	ExchangeRateUsdCents  int64           `json:"exchangeRateUsdCents"`
	Status                PaymentStatus   `json:"status"`
	ConfirmationsRequired int             `json:"confirmationsRequired"`
	ConfirmationsCurrent  int             `json:"confirmationsCurrent"`
	TransactionHash       *string         `json:"transactionHash,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
	ExpiresAt             time.Time       `json:"expiresAt"`
	CompletedAt           *time.Time      `json:"completedAt,omitempty"`
	IdempotencyKey        string          `json:"-"`
}

// CanCancel reports whether a user cancellation request is still
// acceptable at the given instant. Once confirming has begun funds may
// already be en route, and a payment past its window already reads as
// expired.
func (p *Payment) CanCancel(now time.Time) bool {
	switch p.EffectiveStatus(now) {
	case PaymentStatusPending, PaymentStatusAwaitingConfirmation:
		return true
	}
	return false
}

// EffectiveStatus derives the status a reader must report at the given
// instant: a payment past its expiry that has not reached a terminal
// state reads as expired, whether or not an explicit expiry event has
// arrived yet.
func (p *Payment) EffectiveStatus(now time.Time) PaymentStatus {
	if !p.Status.Terminal() && now.After(p.ExpiresAt) {
		return PaymentStatusExpired
	}
	return p.Status
}

// StatusUpdate is the canonical shape of an inbound payment update,
// whatever channel it arrived on. Poll responses and push events both
// reduce to this before being applied.
type StatusUpdate struct {
	PaymentID            string
	Status               PaymentStatus
	ConfirmationsCurrent int
	TransactionHash      *string
	CompletedAt          *time.Time
	ObservedAt           time.Time
}

// ApplyUpdate folds a candidate update into the payment and reports
// whether anything changed. Stale, duplicate and out-of-order updates
// are discarded silently: only a permitted forward transition, or a
// confirmation-count increase within the same status, is applied.
func (p *Payment) ApplyUpdate(upd StatusUpdate) bool {
	if upd.PaymentID != "" && upd.PaymentID != p.ID {
		return false
	}

	if upd.Status == p.Status {
		if p.Status.Terminal() {
			return false
		}
		changed := false
		if upd.ConfirmationsCurrent > p.ConfirmationsCurrent {
			p.ConfirmationsCurrent = upd.ConfirmationsCurrent
			changed = true
		}
		if upd.TransactionHash != nil && p.TransactionHash == nil {
			p.TransactionHash = upd.TransactionHash
			changed = true
		}
		return changed
	}

	if !CanTransition(p.Status, upd.Status) {
		return false
	}

	p.Status = upd.Status
	if upd.ConfirmationsCurrent > p.ConfirmationsCurrent {
		p.ConfirmationsCurrent = upd.ConfirmationsCurrent
	}
	if upd.TransactionHash != nil && p.TransactionHash == nil {
		p.TransactionHash = upd.TransactionHash
	}
	if upd.Status == PaymentStatusCompleted {
		if upd.CompletedAt != nil {
			p.CompletedAt = upd.CompletedAt
		} else {
			completedAt := upd.ObservedAt
			p.CompletedAt = &completedAt
		}
	}
	return true
}
