package payments_repo

import (
	"context"
	"time"

	"cryptopay/internal/domain"
)

type PaymentRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error
	GetByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error)
	GetByIDForUpdateTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error)
	GetByIdempotencyKeyTx(ctx context.Context, querier domain.Querier, key string) (*domain.Payment, error)
	ListByPayableTx(ctx context.Context, querier domain.Querier, payableType, payableID string) ([]*domain.Payment, error)
	ListOverdueTx(ctx context.Context, querier domain.Querier, now time.Time, limit int) ([]*domain.Payment, error)
	UpdateProgressTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error
}
