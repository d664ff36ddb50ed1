package domain

import "time"

type OutboxMessageStatus string

const (
	OutboxStatusPending OutboxMessageStatus = "PENDING"
	OutboxStatusSent    OutboxMessageStatus = "SENT"
	OutboxStatusFailed  OutboxMessageStatus = "FAILED"
)

// OutboxMessage is a payment status event waiting to be published to
// Kafka. Key is the payment id so all events for one payment land on
// one partition, preserving per-payment ordering on the push channel.
type OutboxMessage struct {
	ID        string
	PaymentID string
	EventType string
	Key       string
	Payload   []byte
	Status    OutboxMessageStatus
	CreatedAt time.Time
	SentAt    *time.Time
}
