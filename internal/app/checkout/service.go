package checkout

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cryptopay/internal/catalog"
	"cryptopay/internal/domain"
	"cryptopay/internal/domain/event"
	"cryptopay/internal/pricing"
	"cryptopay/internal/repository/inbox_repo"
	"cryptopay/internal/repository/outbox_repo"
	"cryptopay/internal/repository/payments_repo"
	"cryptopay/internal/wallet"
)

type ConfirmRequest struct {
	PayableType    string
	PayableID      string
	PaymentMethod  string
	CurrencyCode   string
	IdempotencyKey string
}

type CheckoutService interface {
	Preview(ctx context.Context, payableType, payableID, currencyCode string) (*domain.Quote, error)
	Confirm(ctx context.Context, req ConfirmRequest) (*domain.Payment, error)
	GetStatus(ctx context.Context, paymentID string) (*domain.Payment, error)
	Cancel(ctx context.Context, paymentID string) (*domain.Payment, error)
	History(ctx context.Context, payableType, payableID string) ([]*domain.Payment, error)
	Currencies(ctx context.Context) ([]domain.CryptoCurrency, error)
	ApplyObservation(ctx context.Context, obs event.ChainObservation) error
	ExpireOverdue(ctx context.Context) (int, error)
}

type checkoutService struct {
	db          *sql.DB
	resolver    *pricing.Resolver
	catalog     catalog.Catalog
	payables    catalog.PayableResolver
	allocator   wallet.AddressAllocator
	paymentRepo payments_repo.PaymentRepository
	inboxRepo   inbox_repo.InboxRepository
	outboxRepo  outbox_repo.OutboxRepository
	paymentTTL  time.Duration
	logger      *zap.Logger
}

func NewCheckoutService(
	db *sql.DB,
	resolver *pricing.Resolver,
	cat catalog.Catalog,
	payables catalog.PayableResolver,
	allocator wallet.AddressAllocator,
	paymentRepo payments_repo.PaymentRepository,
	inboxRepo inbox_repo.InboxRepository,
	outboxRepo outbox_repo.OutboxRepository,
	paymentTTL time.Duration,
	logger *zap.Logger,
) CheckoutService {
	return &checkoutService{
		db:          db,
		resolver:    resolver,
		catalog:     cat,
		payables:    payables,
		allocator:   allocator,
		paymentRepo: paymentRepo,
		inboxRepo:   inboxRepo,
		outboxRepo:  outboxRepo,
		paymentTTL:  paymentTTL,
		logger:      logger,
	}
}

func (s *checkoutService) Preview(ctx context.Context, payableType, payableID, currencyCode string) (*domain.Quote, error) {
	return s.resolver.Preview(ctx, payableType, payableID, currencyCode)
}

func (s *checkoutService) Currencies(ctx context.Context) ([]domain.CryptoCurrency, error) {
	return s.catalog.Currencies(ctx)
}

// Confirm allocates exactly one durable payment: fresh rate snapshot,
// receiving address, expiry, QR-encodable URI. A replayed idempotency
// key returns the original payment instead of allocating a second
// address.
func (s *checkoutService) Confirm(ctx context.Context, req ConfirmRequest) (*domain.Payment, error) {
	if req.IdempotencyKey != "" {
		existing, err := s.paymentRepo.GetByIdempotencyKeyTx(ctx, s.db, req.IdempotencyKey)
		if err != nil && !errors.Is(err, domain.ErrPaymentNotFound) {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if existing != nil {
			s.logger.Info("Idempotency key replayed, returning existing payment",
				zap.String("payment_id", existing.ID),
				zap.String("idempotency_key", req.IdempotencyKey))
			return existing, nil
		}
	}

	payable, err := s.payables.Resolve(ctx, req.PayableType, req.PayableID)
	if err != nil {
		return nil, err
	}
	currency, err := s.catalog.Currency(ctx, req.CurrencyCode)
	if err != nil {
		return nil, err
	}
	rate, err := s.catalog.RateUsdCents(ctx, req.CurrencyCode)
	if err != nil {
		return nil, err
	}
	amount, err := domain.ConvertUsdCents(payable.PriceUsdCents, rate, currency.Decimals)
	if err != nil {
		return nil, err
	}
	if amount.LessThan(currency.MinAmount) || (currency.MaxAmount.IsPositive() && amount.GreaterThan(currency.MaxAmount)) {
		return nil, fmt.Errorf("%w: amount %s outside %s transaction limits", domain.ErrCurrencyUnsupported, amount.String(), currency.Code)
	}

	if quote, ok := s.resolver.RecentQuote(req.PayableType, req.PayableID, req.CurrencyCode); ok && quote.ExchangeRateUsdCents != rate {
		s.logger.Info("Issued rate differs from previewed rate",
			zap.String("currency", currency.Code),
			zap.Int64("preview_rate_usd_cents", quote.ExchangeRateUsdCents),
			zap.Int64("issued_rate_usd_cents", rate))
	}

	paymentID := uuid.NewString()
	address, err := s.allocator.AllocateAddress(ctx, currency.Code, paymentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	payment := &domain.Payment{
		ID:                    paymentID,
		PayableType:           req.PayableType,
		PayableID:             req.PayableID,
		PaymentMethod:         req.PaymentMethod,
		AmountUsdCents:        payable.PriceUsdCents,
		AmountCrypto:          amount,
		CurrencyCode:          currency.Code,
		PaymentAddress:        address,
		PaymentURI:            currency.PaymentURIFor(address, amount),
		ExchangeRateUsdCents:  rate,
		Status:                domain.PaymentStatusPending,
		ConfirmationsRequired: currency.ConfirmationsRequired,
		CreatedAt:             now,
		ExpiresAt:             now.Add(s.paymentTTL),
		IdempotencyKey:        req.IdempotencyKey,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for payment issuance: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := s.paymentRepo.CreateTx(ctx, tx, payment); err != nil {
		tx.Rollback()
		if req.IdempotencyKey != "" {
			if existing, lookupErr := s.paymentRepo.GetByIdempotencyKeyTx(ctx, s.db, req.IdempotencyKey); lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.appendStatusEventTx(ctx, tx, payment, now); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment issuance: %w", err)
	}

	s.logger.Info("Payment issued",
		zap.String("payment_id", payment.ID),
		zap.String("payable_type", payment.PayableType),
		zap.String("payable_id", payment.PayableID),
		zap.String("currency", payment.CurrencyCode),
		zap.String("amount_crypto", payment.AmountCrypto.String()),
		zap.Int64("rate_usd_cents", payment.ExchangeRateUsdCents),
		zap.Time("expires_at", payment.ExpiresAt),
	)
	return payment, nil
}

// GetStatus returns the full current projection. A non-terminal payment
// past its expiry is reported (and persisted) as expired even if no
// explicit expiry observation has arrived.
func (s *checkoutService) GetStatus(ctx context.Context, paymentID string) (*domain.Payment, error) {
	payment, err := s.paymentRepo.GetByIDTx(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.EffectiveStatus(time.Now()) == domain.PaymentStatusExpired && !payment.Status.Terminal() {
		if expired, err := s.transition(ctx, paymentID, domain.StatusUpdate{
			PaymentID:  paymentID,
			Status:     domain.PaymentStatusExpired,
			ObservedAt: time.Now(),
		}); err == nil {
			return expired, nil
		}
		// persisting the derived expiry failed; the read still reports it
		payment.Status = domain.PaymentStatusExpired
	}
	return payment, nil
}

func (s *checkoutService) History(ctx context.Context, payableType, payableID string) ([]*domain.Payment, error) {
	payments, err := s.paymentRepo.ListByPayableTx(ctx, s.db, payableType, payableID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, p := range payments {
		p.Status = p.EffectiveStatus(now)
	}
	return payments, nil
}

// Cancel accepts a user cancellation only before confirming has begun.
func (s *checkoutService) Cancel(ctx context.Context, paymentID string) (*domain.Payment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for cancellation: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	payment, err := s.paymentRepo.GetByIDForUpdateTx(ctx, tx, paymentID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if payment.Status == domain.PaymentStatusCancelled {
		tx.Rollback()
		return payment, nil
	}

	now := time.Now()
	if !payment.CanCancel(now) {
		// an overdue row the sweep has not reached yet is corrected to
		// expired while we hold the lock
		if payment.EffectiveStatus(now) == domain.PaymentStatusExpired && !payment.Status.Terminal() {
			payment.ApplyUpdate(domain.StatusUpdate{
				PaymentID:  paymentID,
				Status:     domain.PaymentStatusExpired,
				ObservedAt: now,
			})
			if err := s.paymentRepo.UpdateProgressTx(ctx, tx, payment); err != nil {
				tx.Rollback()
				return nil, err
			}
			if err := s.appendStatusEventTx(ctx, tx, payment, now); err != nil {
				tx.Rollback()
				return nil, err
			}
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("failed to commit expiry during cancellation: %w", err)
			}
		} else {
			tx.Rollback()
		}
		s.logger.Warn("Cancellation rejected",
			zap.String("payment_id", paymentID),
			zap.String("status", string(payment.Status)))
		return nil, domain.ErrCannotCancelInProgress
	}

	payment.ApplyUpdate(domain.StatusUpdate{
		PaymentID:  paymentID,
		Status:     domain.PaymentStatusCancelled,
		ObservedAt: now,
	})
	if err := s.paymentRepo.UpdateProgressTx(ctx, tx, payment); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := s.appendStatusEventTx(ctx, tx, payment, now); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	s.logger.Info("Payment cancelled", zap.String("payment_id", paymentID))
	return payment, nil
}

// ApplyObservation folds a chain watcher observation into the payment.
// The inbox table makes redeliveries a no-op; the domain transition
// rules make stale or out-of-order observations a silent discard.
func (s *checkoutService) ApplyObservation(ctx context.Context, obs event.ChainObservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for observation: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	payload, _ := json.Marshal(obs)
	inboxMsg := &domain.InboxMessage{
		ID:         obs.EventID,
		PaymentID:  obs.PaymentID,
		Payload:    payload,
		Status:     domain.InboxStatusNew,
		ReceivedAt: time.Now(),
	}
	if err := s.inboxRepo.CreateMessageTx(ctx, tx, inboxMsg); err != nil {
		tx.Rollback()
		if errors.Is(err, domain.ErrObservationAlreadyProcessed) {
			s.logger.Debug("Duplicate chain observation skipped",
				zap.String("event_id", obs.EventID),
				zap.String("payment_id", obs.PaymentID))
			return nil
		}
		return err
	}

	payment, err := s.paymentRepo.GetByIDForUpdateTx(ctx, tx, obs.PaymentID)
	if err != nil {
		tx.Rollback()
		return err
	}

	upd, err := s.updateFromObservation(payment, obs)
	if err != nil {
		tx.Rollback()
		return err
	}

	if payment.ApplyUpdate(upd) {
		if err := s.paymentRepo.UpdateProgressTx(ctx, tx, payment); err != nil {
			tx.Rollback()
			return err
		}
		if err := s.appendStatusEventTx(ctx, tx, payment, obs.ObservedAt); err != nil {
			tx.Rollback()
			return err
		}
		s.logger.Info("Chain observation applied",
			zap.String("payment_id", payment.ID),
			zap.String("kind", string(obs.Kind)),
			zap.String("status", string(payment.Status)),
			zap.Int("confirmations", payment.ConfirmationsCurrent),
		)
	} else {
		s.logger.Debug("Stale chain observation discarded",
			zap.String("payment_id", payment.ID),
			zap.String("kind", string(obs.Kind)),
			zap.String("status", string(payment.Status)),
		)
	}

	if err := s.inboxRepo.UpdateStatusTx(ctx, tx, obs.EventID, domain.InboxStatusProcessed); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit observation: %w", err)
	}
	return nil
}

func (s *checkoutService) updateFromObservation(payment *domain.Payment, obs event.ChainObservation) (domain.StatusUpdate, error) {
	upd := domain.StatusUpdate{
		PaymentID:  obs.PaymentID,
		ObservedAt: obs.ObservedAt,
	}
	if obs.TransactionHash != "" {
		hash := obs.TransactionHash
		upd.TransactionHash = &hash
	}
	switch obs.Kind {
	case event.ObservationTxSeen:
		upd.Status = domain.PaymentStatusAwaitingConfirmation
	case event.ObservationConfirmation:
		upd.ConfirmationsCurrent = obs.Confirmations
		if obs.Confirmations >= payment.ConfirmationsRequired {
			upd.Status = domain.PaymentStatusCompleted
		} else {
			upd.Status = domain.PaymentStatusConfirming
		}
	case event.ObservationInvalidTx:
		upd.Status = domain.PaymentStatusFailed
	case event.ObservationExpired:
		upd.Status = domain.PaymentStatusExpired
	default:
		return domain.StatusUpdate{}, fmt.Errorf("unknown chain observation kind %q", obs.Kind)
	}
	return upd, nil
}

// ExpireOverdue marks non-terminal payments past their expiry as
// expired and emits the corresponding events. Readers never wait for
// this sweep: GetStatus derives expiry on its own.
func (s *checkoutService) ExpireOverdue(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for expiry sweep: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	now := time.Now()
	overdue, err := s.paymentRepo.ListOverdueTx(ctx, tx, now, 100)
	if err != nil {
		tx.Rollback()
		return 0, err
	}

	expired := 0
	for _, payment := range overdue {
		if !payment.ApplyUpdate(domain.StatusUpdate{
			PaymentID:  payment.ID,
			Status:     domain.PaymentStatusExpired,
			ObservedAt: now,
		}) {
			continue
		}
		if err := s.paymentRepo.UpdateProgressTx(ctx, tx, payment); err != nil {
			tx.Rollback()
			return 0, err
		}
		if err := s.appendStatusEventTx(ctx, tx, payment, now); err != nil {
			tx.Rollback()
			return 0, err
		}
		expired++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit expiry sweep: %w", err)
	}
	if expired > 0 {
		s.logger.Info("Expired overdue payments", zap.Int("count", expired))
	}
	return expired, nil
}

// transition applies a single backend-originated update to a payment in
// its own transaction, returning the updated projection.
func (s *checkoutService) transition(ctx context.Context, paymentID string, upd domain.StatusUpdate) (*domain.Payment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	payment, err := s.paymentRepo.GetByIDForUpdateTx(ctx, tx, paymentID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if payment.ApplyUpdate(upd) {
		if err := s.paymentRepo.UpdateProgressTx(ctx, tx, payment); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := s.appendStatusEventTx(ctx, tx, payment, upd.ObservedAt); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}
	return payment, nil
}

func (s *checkoutService) appendStatusEventTx(ctx context.Context, tx *sql.Tx, payment *domain.Payment, at time.Time) error {
	payload, err := json.Marshal(event.NewPaymentStatusEvent(payment, at))
	if err != nil {
		return fmt.Errorf("failed to marshal status event for payment %s: %w", payment.ID, err)
	}
	msg := &domain.OutboxMessage{
		ID:        uuid.NewString(),
		PaymentID: payment.ID,
		EventType: event.NameForStatus(payment.Status),
		Key:       payment.ID,
		Payload:   payload,
		Status:    domain.OutboxStatusPending,
		CreatedAt: at,
	}
	return s.outboxRepo.CreateMessageTx(ctx, tx, msg)
}
