package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"cryptopay/internal/domain"
)

// StatusGetter is the poll endpoint contract; satisfied by *Client.
type StatusGetter interface {
	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
}

// Poller is the fallback-of-record update source: a fixed-interval poll
// loop with a short per-call timeout. An individual poll failure is not
// a payment state change; it is logged and retried on the next tick.
type Poller struct {
	client      StatusGetter
	paymentID   string
	interval    time.Duration
	callTimeout time.Duration
	logger      *zap.Logger
}

func NewPoller(client StatusGetter, paymentID string, interval, callTimeout time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		client:      client,
		paymentID:   paymentID,
		interval:    interval,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

func (p *Poller) Run(ctx context.Context, sink chan<- domain.StatusUpdate) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// poll once up front so the watcher is not blind until the first
	// tick elapses
	if !p.poll(ctx, sink) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.poll(ctx, sink) {
				return
			}
		}
	}
}

// poll performs one poll and reports false once the context has ended.
func (p *Poller) poll(ctx context.Context, sink chan<- domain.StatusUpdate) bool {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	payment, err := p.client.GetPayment(callCtx, p.paymentID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Warn("Poll failed, will retry on next tick",
			zap.String("payment_id", p.paymentID),
			zap.Error(err))
		return true
	}

	upd := domain.StatusUpdate{
		PaymentID:            payment.ID,
		Status:               payment.Status,
		ConfirmationsCurrent: payment.ConfirmationsCurrent,
		TransactionHash:      payment.TransactionHash,
		CompletedAt:          payment.CompletedAt,
		ObservedAt:           time.Now(),
	}
	select {
	case sink <- upd:
		return true
	case <-ctx.Done():
		return false
	}
}
