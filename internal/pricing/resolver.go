package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cryptopay/internal/catalog"
	"cryptopay/internal/domain"
)

// Resolver produces non-binding quote previews. Previewing has no side
// effects and is safe to repeat or abandon; the rate it snapshots is
// advisory only and the issued payment takes its own snapshot.
type Resolver struct {
	catalog  catalog.Catalog
	payables catalog.PayableResolver
	ttl      time.Duration
	quotes   quoteCache
	logger   *zap.Logger
}

func NewResolver(cat catalog.Catalog, payables catalog.PayableResolver, ttl time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		catalog:  cat,
		payables: payables,
		ttl:      ttl,
		logger:   logger,
	}
}

// Preview resolves the payable and currency, snapshots the live rate
// and returns a quote valid for the resolver's TTL window. The caller
// counts the window down from receipt.
func (r *Resolver) Preview(ctx context.Context, payableType, payableID, currencyCode string) (*domain.Quote, error) {
	payable, err := r.payables.Resolve(ctx, payableType, payableID)
	if err != nil {
		return nil, err
	}

	currency, err := r.catalog.Currency(ctx, currencyCode)
	if err != nil {
		return nil, err
	}

	rate, err := r.catalog.RateUsdCents(ctx, currencyCode)
	if err != nil {
		return nil, err
	}

	amount, err := domain.ConvertUsdCents(payable.PriceUsdCents, rate, currency.Decimals)
	if err != nil {
		return nil, err
	}

	quote := &domain.Quote{
		ID:                      uuid.NewString(),
		PayableType:             payableType,
		PayableID:               payableID,
		PayableSummary:          payable.Summary,
		AmountUsdCents:          payable.PriceUsdCents,
		AmountCrypto:            amount,
		CurrencyCode:            currency.Code,
		ExchangeRateUsdCents:    rate,
		PreviewExpiresInSeconds: int(r.ttl.Seconds()),
	}
	r.quotes.put(quote, time.Now().Add(r.ttl))

	r.logger.Debug("Quote issued",
		zap.String("quote_id", quote.ID),
		zap.String("payable_type", payableType),
		zap.String("payable_id", payableID),
		zap.String("currency", currency.Code),
		zap.Int64("rate_usd_cents", rate),
		zap.String("amount_crypto", amount.String()),
	)
	return quote, nil
}

// RecentQuote returns the newest unexpired quote for a payable and
// currency, if any. Used at confirm time to log rate drift between
// preview and issuance; never used to price the payment.
func (r *Resolver) RecentQuote(payableType, payableID, currencyCode string) (*domain.Quote, bool) {
	return r.quotes.get(payableType+"/"+payableID+"/"+currencyCode, time.Now())
}

// quoteCache is an in-memory TTL cache of previews. Quotes are
// ephemeral by design so process-local storage is enough.
type quoteCache struct {
	entries sync.Map
}

type quoteEntry struct {
	quote     *domain.Quote
	expiresAt time.Time
}

func (c *quoteCache) put(q *domain.Quote, expiresAt time.Time) {
	key := q.PayableType + "/" + q.PayableID + "/" + q.CurrencyCode
	c.entries.Store(key, quoteEntry{quote: q, expiresAt: expiresAt})
}

func (c *quoteCache) get(key string, now time.Time) (*domain.Quote, bool) {
	value, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	entry := value.(quoteEntry)
	if now.After(entry.expiresAt) {
		c.entries.Delete(key)
		return nil, false
	}
	return entry.quote, true
}
