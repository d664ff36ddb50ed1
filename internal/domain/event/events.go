package event

import (
	"encoding/json"
	"fmt"
	"time"

	"cryptopay/internal/domain"
)

// Event names carried on the payment status topic.
const (
	EventPaymentStatusUpdated = "payment.status.updated"
	EventPaymentCompleted     = "payment.completed"
	EventPaymentFailed        = "payment.failed"
	EventPaymentExpired       = "payment.expired"
	EventPaymentCancelled     = "payment.cancelled"
)

// NameForStatus maps a payment status to the event name published when
// the payment enters it.
func NameForStatus(status domain.PaymentStatus) string {
	switch status {
	case domain.PaymentStatusCompleted:
		return EventPaymentCompleted
	case domain.PaymentStatusFailed:
		return EventPaymentFailed
	case domain.PaymentStatusExpired:
		return EventPaymentExpired
	case domain.PaymentStatusCancelled:
		return EventPaymentCancelled
	default:
		return EventPaymentStatusUpdated
	}
}

// PaymentStatusEvent is the payload published for every accepted
// payment transition. TransactionHash is present only once observed
// on-chain.
type PaymentStatusEvent struct {
	Event                 string               `json:"event"`
	PaymentID             string               `json:"payment_id"`
	Status                domain.PaymentStatus `json:"status"`
	ConfirmationsRequired int                  `json:"confirmations_required"`
	ConfirmationsCurrent  int                  `json:"confirmations_current"`
	TransactionHash       *string              `json:"transaction_hash,omitempty"`
	CompletedAt           *time.Time           `json:"completed_at,omitempty"`
	Timestamp             time.Time            `json:"timestamp"`
}

// NewPaymentStatusEvent builds the event for a payment's current state.
func NewPaymentStatusEvent(p *domain.Payment, at time.Time) PaymentStatusEvent {
	return PaymentStatusEvent{
		Event:                 NameForStatus(p.Status),
		PaymentID:             p.ID,
		Status:                p.Status,
		ConfirmationsRequired: p.ConfirmationsRequired,
		ConfirmationsCurrent:  p.ConfirmationsCurrent,
		TransactionHash:       p.TransactionHash,
		CompletedAt:           p.CompletedAt,
		Timestamp:             at,
	}
}

// pushEnvelope tolerates the two payload shapes seen on the wire: the
// update either at the top level or nested under a "payment" key.
type pushEnvelope struct {
	PaymentStatusEvent
	Payment *PaymentStatusEvent `json:"payment"`
}

// NormalizeStatusPayload decodes a push payload into the one canonical
// update shape. All shape branching happens here, at the transport
// boundary; consumers never see the envelope.
func NormalizeStatusPayload(payload []byte) (domain.StatusUpdate, error) {
	var env pushEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.StatusUpdate{}, fmt.Errorf("malformed status payload: %w", err)
	}
	evt := env.PaymentStatusEvent
	if env.Payment != nil {
		evt = *env.Payment
	}
	if evt.PaymentID == "" || evt.Status == "" {
		return domain.StatusUpdate{}, fmt.Errorf("status payload missing payment_id or status")
	}
	observedAt := evt.Timestamp
	if observedAt.IsZero() {
		observedAt = time.Now()
	}
	return domain.StatusUpdate{
		PaymentID:            evt.PaymentID,
		Status:               evt.Status,
		ConfirmationsCurrent: evt.ConfirmationsCurrent,
		TransactionHash:      evt.TransactionHash,
		CompletedAt:          evt.CompletedAt,
		ObservedAt:           observedAt,
	}, nil
}

// ChainObservationKind classifies what the external chain watcher saw.
type ChainObservationKind string

const (
	ObservationTxSeen       ChainObservationKind = "tx_seen"
	ObservationConfirmation ChainObservationKind = "confirmation"
	ObservationInvalidTx    ChainObservationKind = "invalid_tx"
	ObservationExpired      ChainObservationKind = "expired"
)

// ChainObservation is what the chain watcher publishes when it sees
// activity on a payment address. EventID deduplicates redeliveries
// through the inbox table.
type ChainObservation struct {
	EventID         string               `json:"event_id"`
	PaymentID       string               `json:"payment_id"`
	Kind            ChainObservationKind `json:"kind"`
	Confirmations   int                  `json:"confirmations"`
	TransactionHash string               `json:"transaction_hash,omitempty"`
	Reason          string               `json:"reason,omitempty"`
	ObservedAt      time.Time            `json:"observed_at"`
}
