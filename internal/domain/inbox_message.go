package domain

import (
	"errors"
	"time"
)

var ErrObservationAlreadyProcessed = errors.New("chain observation already processed")

type InboxMessageStatus string

const (
	InboxStatusNew       InboxMessageStatus = "NEW"
	InboxStatusProcessed InboxMessageStatus = "PROCESSED"
	InboxStatusFailed    InboxMessageStatus = "FAILED"
)

// InboxMessage records a consumed chain observation so redelivered
// Kafka messages are applied exactly once.
type InboxMessage struct {
	ID          string
	PaymentID   string
	Payload     []byte
	Status      InboxMessageStatus
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}
