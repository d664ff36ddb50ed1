package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cryptopay/internal/domain"
)

type mockCatalog struct {
	CurrenciesFunc   func(ctx context.Context) ([]domain.CryptoCurrency, error)
	CurrencyFunc     func(ctx context.Context, code string) (*domain.CryptoCurrency, error)
	RateUsdCentsFunc func(ctx context.Context, code string) (int64, error)
}

func (m *mockCatalog) Currencies(ctx context.Context) ([]domain.CryptoCurrency, error) {
	return m.CurrenciesFunc(ctx)
}

func (m *mockCatalog) Currency(ctx context.Context, code string) (*domain.CryptoCurrency, error) {
	return m.CurrencyFunc(ctx, code)
}

func (m *mockCatalog) RateUsdCents(ctx context.Context, code string) (int64, error) {
	return m.RateUsdCentsFunc(ctx, code)
}

type mockPayables struct {
	ResolveFunc func(ctx context.Context, payableType, payableID string) (*domain.Payable, error)
}

func (m *mockPayables) Resolve(ctx context.Context, payableType, payableID string) (*domain.Payable, error) {
	return m.ResolveFunc(ctx, payableType, payableID)
}

func btcCurrency() *domain.CryptoCurrency {
	return &domain.CryptoCurrency{
		Code:                  "BTC",
		Name:                  "Bitcoin",
		Decimals:              8,
		Enabled:               true,
		MinAmount:             decimal.RequireFromString("0.00001"),
		MaxAmount:             decimal.RequireFromString("10"),
		Network:               "bitcoin",
		URIScheme:             "bitcoin",
		ConfirmationsRequired: 2,
	}
}

func newTestResolver(cat *mockCatalog, payables *mockPayables) *Resolver {
	return NewResolver(cat, payables, 2*time.Minute, zap.NewNop())
}

func TestPreview(t *testing.T) {
	cat := &mockCatalog{
		CurrencyFunc:     func(ctx context.Context, code string) (*domain.CryptoCurrency, error) { return btcCurrency(), nil },
		RateUsdCentsFunc: func(ctx context.Context, code string) (int64, error) { return 6_000_000, nil },
	}
	payables := &mockPayables{
		ResolveFunc: func(ctx context.Context, payableType, payableID string) (*domain.Payable, error) {
			return &domain.Payable{Type: payableType, ID: payableID, Summary: "Monthly plan", PriceUsdCents: 2999}, nil
		},
	}
	resolver := newTestResolver(cat, payables)

	quote, err := resolver.Preview(context.Background(), "subscription_plan", "plan-monthly", "BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(2999), quote.AmountUsdCents)
	assert.Equal(t, "0.00049983", quote.AmountCrypto.String())
	assert.Equal(t, int64(6_000_000), quote.ExchangeRateUsdCents)
	assert.Equal(t, "Monthly plan", quote.PayableSummary)
	assert.Equal(t, 120, quote.PreviewExpiresInSeconds)
	assert.NotEmpty(t, quote.ID)
}

func TestPreviewItemNotFound(t *testing.T) {
	cat := &mockCatalog{
		CurrencyFunc:     func(ctx context.Context, code string) (*domain.CryptoCurrency, error) { return btcCurrency(), nil },
		RateUsdCentsFunc: func(ctx context.Context, code string) (int64, error) { return 6_000_000, nil },
	}
	payables := &mockPayables{
		ResolveFunc: func(ctx context.Context, payableType, payableID string) (*domain.Payable, error) {
			return nil, domain.ErrItemNotFound
		},
	}
	resolver := newTestResolver(cat, payables)

	_, err := resolver.Preview(context.Background(), "subscription_plan", "nope", "BTC")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestPreviewCurrencyUnsupported(t *testing.T) {
	cat := &mockCatalog{
		CurrencyFunc: func(ctx context.Context, code string) (*domain.CryptoCurrency, error) {
			return nil, domain.ErrCurrencyUnsupported
		},
	}
	payables := &mockPayables{
		ResolveFunc: func(ctx context.Context, payableType, payableID string) (*domain.Payable, error) {
			return &domain.Payable{Type: payableType, ID: payableID, PriceUsdCents: 2999}, nil
		},
	}
	resolver := newTestResolver(cat, payables)

	_, err := resolver.Preview(context.Background(), "subscription_plan", "plan-monthly", "DOGE")
	assert.ErrorIs(t, err, domain.ErrCurrencyUnsupported)
}

func TestPreviewUpstreamUnavailable(t *testing.T) {
	cat := &mockCatalog{
		CurrencyFunc:     func(ctx context.Context, code string) (*domain.CryptoCurrency, error) { return btcCurrency(), nil },
		RateUsdCentsFunc: func(ctx context.Context, code string) (int64, error) { return 0, domain.ErrUpstreamUnavailable },
	}
	payables := &mockPayables{
		ResolveFunc: func(ctx context.Context, payableType, payableID string) (*domain.Payable, error) {
			return &domain.Payable{Type: payableType, ID: payableID, PriceUsdCents: 2999}, nil
		},
	}
	resolver := newTestResolver(cat, payables)

	_, err := resolver.Preview(context.Background(), "subscription_plan", "plan-monthly", "BTC")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestRecentQuote(t *testing.T) {
	rate := int64(6_000_000)
	cat := &mockCatalog{
		CurrencyFunc:     func(ctx context.Context, code string) (*domain.CryptoCurrency, error) { return btcCurrency(), nil },
		RateUsdCentsFunc: func(ctx context.Context, code string) (int64, error) { return rate, nil },
	}
	payables := &mockPayables{
		ResolveFunc: func(ctx context.Context, payableType, payableID string) (*domain.Payable, error) {
			return &domain.Payable{Type: payableType, ID: payableID, PriceUsdCents: 2999}, nil
		},
	}
	resolver := newTestResolver(cat, payables)

	_, ok := resolver.RecentQuote("subscription_plan", "plan-monthly", "BTC")
	assert.False(t, ok)

	quote, err := resolver.Preview(context.Background(), "subscription_plan", "plan-monthly", "BTC")
	require.NoError(t, err)

	cached, ok := resolver.RecentQuote("subscription_plan", "plan-monthly", "BTC")
	require.True(t, ok)
	assert.Equal(t, quote.ID, cached.ID)

	// a later preview at a moved rate replaces the cached quote but
	// never mutates the one already issued
	rate = 6_500_000
	_, err = resolver.Preview(context.Background(), "subscription_plan", "plan-monthly", "BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(6_000_000), quote.ExchangeRateUsdCents)
}
