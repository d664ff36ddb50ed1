package payments_repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cryptopay/internal/domain"
)

const paymentColumns = `id, payable_type, payable_id, payment_method, amount_usd_cents, amount_crypto,
		currency_code, payment_address, payment_uri, exchange_rate_usd_cents, status,
		confirmations_required, confirmations_current, transaction_hash, created_at, expires_at,
		completed_at, idempotency_key`

type paymentRepository struct{}

func NewPaymentRepository() PaymentRepository {
	return &paymentRepository{}
}

func (r *paymentRepository) CreateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := querier.ExecContext(ctx, query,
		payment.ID,
		payment.PayableType,
		payment.PayableID,
		payment.PaymentMethod,
		payment.AmountUsdCents,
		payment.AmountCrypto.String(),
		payment.CurrencyCode,
		payment.PaymentAddress,
		payment.PaymentURI,
		payment.ExchangeRateUsdCents,
		payment.Status,
		payment.ConfirmationsRequired,
		payment.ConfirmationsCurrent,
		payment.TransactionHash,
		payment.CreatedAt,
		payment.ExpiresAt,
		payment.CompletedAt,
		nullableString(payment.IdempotencyKey),
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return r.scanOne(querier.QueryRowContext(ctx, query, id))
}

func (r *paymentRepository) GetByIDForUpdateTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return r.scanOne(querier.QueryRowContext(ctx, query, id))
}

func (r *paymentRepository) GetByIdempotencyKeyTx(ctx context.Context, querier domain.Querier, key string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE idempotency_key = $1`
	return r.scanOne(querier.QueryRowContext(ctx, query, key))
}

func (r *paymentRepository) ListByPayableTx(ctx context.Context, querier domain.Querier, payableType, payableID string) ([]*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE payable_type = $1 AND payable_id = $2
		ORDER BY created_at DESC
	`
	rows, err := querier.QueryContext(ctx, query, payableType, payableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments for payable %s/%s: %w", payableType, payableID, err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *paymentRepository) ListOverdueTx(ctx context.Context, querier domain.Querier, now time.Time, limit int) ([]*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status IN ($1, $2, $3) AND expires_at < $4
		ORDER BY expires_at ASC
		LIMIT $5
		FOR UPDATE SKIP LOCKED
	`
	rows, err := querier.QueryContext(ctx, query,
		domain.PaymentStatusPending,
		domain.PaymentStatusAwaitingConfirmation,
		domain.PaymentStatusConfirming,
		now,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue payments: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *paymentRepository) UpdateProgressTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error {
	query := `
		UPDATE payments
		SET status = $1, confirmations_current = $2, transaction_hash = $3, completed_at = $4
		WHERE id = $5
	`
	res, err := querier.ExecContext(ctx, query,
		payment.Status,
		payment.ConfirmationsCurrent,
		payment.TransactionHash,
		payment.CompletedAt,
		payment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment %s: %w", payment.ID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for payment update: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *paymentRepository) scanOne(row *sql.Row) (*domain.Payment, error) {
	payment := &domain.Payment{}
	var idempotencyKey sql.NullString
	err := row.Scan(
		&payment.ID,
		&payment.PayableType,
		&payment.PayableID,
		&payment.PaymentMethod,
		&payment.AmountUsdCents,
		&payment.AmountCrypto,
		&payment.CurrencyCode,
		&payment.PaymentAddress,
		&payment.PaymentURI,
		&payment.ExchangeRateUsdCents,
		&payment.Status,
		&payment.ConfirmationsRequired,
		&payment.ConfirmationsCurrent,
		&payment.TransactionHash,
		&payment.CreatedAt,
		&payment.ExpiresAt,
		&payment.CompletedAt,
		&idempotencyKey,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	payment.IdempotencyKey = idempotencyKey.String
	return payment, nil
}

func (r *paymentRepository) scanMany(rows *sql.Rows) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	for rows.Next() {
		payment := &domain.Payment{}
		var idempotencyKey sql.NullString
		err := rows.Scan(
			&payment.ID,
			&payment.PayableType,
			&payment.PayableID,
			&payment.PaymentMethod,
			&payment.AmountUsdCents,
			&payment.AmountCrypto,
			&payment.CurrencyCode,
			&payment.PaymentAddress,
			&payment.PaymentURI,
			&payment.ExchangeRateUsdCents,
			&payment.Status,
			&payment.ConfirmationsRequired,
			&payment.ConfirmationsCurrent,
			&payment.TransactionHash,
			&payment.CreatedAt,
			&payment.ExpiresAt,
			&payment.CompletedAt,
			&idempotencyKey,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payment.IdempotencyKey = idempotencyKey.String
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payment rows: %w", err)
	}
	return payments, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
