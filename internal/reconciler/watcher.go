package reconciler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"cryptopay/internal/domain"
)

// ActivateFunc is the subscription-activation collaborator, invoked
// exactly once when the payment reaches completed. Activation failure
// is reported through Run's return value, separately from payment
// success; it is never fire-and-forget.
type ActivateFunc func(ctx context.Context, payment *domain.Payment) error

// UpdateSource is one producer of status updates. The poller and the
// push channel both implement it; the Watcher merges any number of
// them.
type UpdateSource interface {
	Run(ctx context.Context, sink chan<- domain.StatusUpdate)
}

// Watcher merges the poll and push channels into one coherent payment
// view. Updates arrive in any order, duplicated or stale; the domain
// monotonicity rules are the only filter. On any terminal state it
// stops all sources and returns; listening past a terminal state would
// leak the subscription and risk misreading a stale duplicate.
//
// Cancelling the context tears the watcher down without touching the
// backend payment: real money keeps maturing server-side whether or not
// anyone is watching.
type Watcher struct {
	sources  []UpdateSource
	activate ActivateFunc
	logger   *zap.Logger

	mu        sync.RWMutex
	current   domain.Payment
	activated bool
}

func NewWatcher(initial *domain.Payment, activate ActivateFunc, logger *zap.Logger, sources ...UpdateSource) *Watcher {
	return &Watcher{
		sources:  sources,
		activate: activate,
		logger:   logger,
		current:  *initial,
	}
}

// Current returns a snapshot of the merged payment view.
func (w *Watcher) Current() domain.Payment {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run watches until the payment reaches a terminal state or the context
// is cancelled. It returns nil on a terminal state (terminal failures
// are outcomes, not errors), the activation error if activation failed,
// or the context error on teardown.
func (w *Watcher) Run(ctx context.Context) error {
	if done, err := w.handleTerminal(ctx); done {
		return err
	}

	sourceCtx, stopSources := context.WithCancel(ctx)
	defer stopSources()

	sink := make(chan domain.StatusUpdate)
	var wg sync.WaitGroup
	for _, src := range w.sources {
		wg.Add(1)
		go func(src UpdateSource) {
			defer wg.Done()
			src.Run(sourceCtx, sink)
		}(src)
	}
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Watcher torn down, backend payment keeps maturing",
				zap.String("payment_id", w.current.ID))
			return ctx.Err()
		case upd := <-sink:
			w.mu.Lock()
			changed := w.current.ApplyUpdate(upd)
			w.mu.Unlock()
			if !changed {
				continue
			}

			w.logger.Info("Payment view updated",
				zap.String("payment_id", w.current.ID),
				zap.String("status", string(w.current.Status)),
				zap.Int("confirmations", w.current.ConfirmationsCurrent),
			)

			if done, err := w.handleTerminal(ctx); done {
				stopSources()
				return err
			}
		}
	}
}

// handleTerminal fires activation on the transition into completed and
// reports whether watching should stop. The activated guard makes the
// activation fire exactly once even if a completed update is delivered
// repeatedly.
func (w *Watcher) handleTerminal(ctx context.Context) (bool, error) {
	w.mu.Lock()
	status := w.current.Status
	shouldActivate := status == domain.PaymentStatusCompleted && !w.activated
	if shouldActivate {
		w.activated = true
	}
	snapshot := w.current
	w.mu.Unlock()

	if shouldActivate && w.activate != nil {
		if err := w.activate(ctx, &snapshot); err != nil {
			w.logger.Error("Subscription activation failed after completed payment",
				zap.String("payment_id", snapshot.ID),
				zap.Error(err))
			return true, err
		}
		w.logger.Info("Subscription activated", zap.String("payment_id", snapshot.ID))
	}
	return status.Terminal(), nil
}
