package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPayment(status PaymentStatus) *Payment {
	now := time.Now()
	return &Payment{
		ID:                    "pay-1",
		PayableType:           "subscription_plan",
		PayableID:             "plan-monthly",
		CurrencyCode:          "BTC",
		Status:                status,
		ConfirmationsRequired: 2,
		CreatedAt:             now,
		ExpiresAt:             now.Add(30 * time.Minute),
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from PaymentStatus
		to   PaymentStatus
		want bool
	}{
		{"pending to awaiting", PaymentStatusPending, PaymentStatusAwaitingConfirmation, true},
		{"awaiting to confirming", PaymentStatusAwaitingConfirmation, PaymentStatusConfirming, true},
		{"confirming to completed", PaymentStatusConfirming, PaymentStatusCompleted, true},
		{"pending skips to completed", PaymentStatusPending, PaymentStatusCompleted, true},
		{"pending to expired", PaymentStatusPending, PaymentStatusExpired, true},
		{"awaiting to cancelled", PaymentStatusAwaitingConfirmation, PaymentStatusCancelled, true},
		{"confirming to failed", PaymentStatusConfirming, PaymentStatusFailed, true},
		{"confirming back to pending", PaymentStatusConfirming, PaymentStatusPending, false},
		{"awaiting back to pending", PaymentStatusAwaitingConfirmation, PaymentStatusPending, false},
		{"completed to confirming", PaymentStatusCompleted, PaymentStatusConfirming, false},
		{"completed to failed", PaymentStatusCompleted, PaymentStatusFailed, false},
		{"expired to completed", PaymentStatusExpired, PaymentStatusCompleted, false},
		{"cancelled to pending", PaymentStatusCancelled, PaymentStatusPending, false},
		{"same state", PaymentStatusConfirming, PaymentStatusConfirming, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestApplyUpdateMonotonicity(t *testing.T) {
	t.Run("success path applies in order", func(t *testing.T) {
		p := newTestPayment(PaymentStatusPending)

		require.True(t, p.ApplyUpdate(StatusUpdate{Status: PaymentStatusAwaitingConfirmation, ObservedAt: time.Now()}))
		assert.Equal(t, PaymentStatusAwaitingConfirmation, p.Status)

		require.True(t, p.ApplyUpdate(StatusUpdate{Status: PaymentStatusConfirming, ConfirmationsCurrent: 1, ObservedAt: time.Now()}))
		assert.Equal(t, 1, p.ConfirmationsCurrent)

		require.True(t, p.ApplyUpdate(StatusUpdate{Status: PaymentStatusCompleted, ConfirmationsCurrent: 2, ObservedAt: time.Now()}))
		assert.Equal(t, PaymentStatusCompleted, p.Status)
		assert.Equal(t, 2, p.ConfirmationsCurrent)
		require.NotNil(t, p.CompletedAt)
	})

	t.Run("stale update after completed is discarded", func(t *testing.T) {
		p := newTestPayment(PaymentStatusPending)
		require.True(t, p.ApplyUpdate(StatusUpdate{Status: PaymentStatusCompleted, ConfirmationsCurrent: 2, ObservedAt: time.Now()}))

		// duplicate "1 confirmation" push event arriving late
		assert.False(t, p.ApplyUpdate(StatusUpdate{Status: PaymentStatusConfirming, ConfirmationsCurrent: 1, ObservedAt: time.Now()}))
		assert.Equal(t, PaymentStatusCompleted, p.Status)
		assert.Equal(t, 2, p.ConfirmationsCurrent)
	})

	t.Run("out of order delivery never regresses", func(t *testing.T) {
		p := newTestPayment(PaymentStatusPending)
		updates := []StatusUpdate{
			{Status: PaymentStatusConfirming, ConfirmationsCurrent: 1},
			{Status: PaymentStatusAwaitingConfirmation},
			{Status: PaymentStatusPending},
			{Status: PaymentStatusConfirming, ConfirmationsCurrent: 1},
		}
		for _, upd := range updates {
			p.ApplyUpdate(upd)
		}
		assert.Equal(t, PaymentStatusConfirming, p.Status)
		assert.Equal(t, 1, p.ConfirmationsCurrent)
	})

	t.Run("confirmations are non-decreasing within confirming", func(t *testing.T) {
		p := newTestPayment(PaymentStatusConfirming)
		p.ConfirmationsCurrent = 3

		assert.False(t, p.ApplyUpdate(StatusUpdate{Status: PaymentStatusConfirming, ConfirmationsCurrent: 1}))
		assert.Equal(t, 3, p.ConfirmationsCurrent)

		assert.True(t, p.ApplyUpdate(StatusUpdate{Status: PaymentStatusConfirming, ConfirmationsCurrent: 5}))
		assert.Equal(t, 5, p.ConfirmationsCurrent)
	})

	t.Run("update for another payment is ignored", func(t *testing.T) {
		p := newTestPayment(PaymentStatusPending)
		assert.False(t, p.ApplyUpdate(StatusUpdate{PaymentID: "pay-other", Status: PaymentStatusCompleted}))
		assert.Equal(t, PaymentStatusPending, p.Status)
	})

	t.Run("transaction hash set once", func(t *testing.T) {
		p := newTestPayment(PaymentStatusAwaitingConfirmation)
		hash1 := "abc123"
		hash2 := "def456"

		require.True(t, p.ApplyUpdate(StatusUpdate{Status: PaymentStatusConfirming, ConfirmationsCurrent: 1, TransactionHash: &hash1}))
		require.NotNil(t, p.TransactionHash)
		assert.Equal(t, "abc123", *p.TransactionHash)

		p.ApplyUpdate(StatusUpdate{Status: PaymentStatusConfirming, ConfirmationsCurrent: 2, TransactionHash: &hash2})
		assert.Equal(t, "abc123", *p.TransactionHash)
	})
}

func TestEffectiveStatus(t *testing.T) {
	t.Run("overdue non-terminal reads as expired", func(t *testing.T) {
		p := newTestPayment(PaymentStatusConfirming)
		p.ExpiresAt = time.Now().Add(-time.Minute)
		assert.Equal(t, PaymentStatusExpired, p.EffectiveStatus(time.Now()))
	})

	t.Run("terminal state is never overridden by expiry", func(t *testing.T) {
		p := newTestPayment(PaymentStatusCompleted)
		p.ExpiresAt = time.Now().Add(-time.Minute)
		assert.Equal(t, PaymentStatusCompleted, p.EffectiveStatus(time.Now()))
	})

	t.Run("unexpired payment keeps its status", func(t *testing.T) {
		p := newTestPayment(PaymentStatusAwaitingConfirmation)
		assert.Equal(t, PaymentStatusAwaitingConfirmation, p.EffectiveStatus(time.Now()))
	})
}

func TestCanCancel(t *testing.T) {
	now := time.Now()
	assert.True(t, newTestPayment(PaymentStatusPending).CanCancel(now))
	assert.True(t, newTestPayment(PaymentStatusAwaitingConfirmation).CanCancel(now))
	assert.False(t, newTestPayment(PaymentStatusConfirming).CanCancel(now))
	assert.False(t, newTestPayment(PaymentStatusCompleted).CanCancel(now))
	assert.False(t, newTestPayment(PaymentStatusExpired).CanCancel(now))

	t.Run("overdue pending reads as expired and cannot be cancelled", func(t *testing.T) {
		p := newTestPayment(PaymentStatusPending)
		p.ExpiresAt = now.Add(-time.Minute)
		assert.False(t, p.CanCancel(now))
	})
}
