package catalog

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"cryptopay/internal/domain"
)

// Catalog supplies the enabled crypto currencies and their live USD
// rates. Rates are time-sensitive: every call goes upstream, nothing is
// cached here.
type Catalog interface {
	Currencies(ctx context.Context) ([]domain.CryptoCurrency, error)
	Currency(ctx context.Context, code string) (*domain.CryptoCurrency, error)
	RateUsdCents(ctx context.Context, code string) (int64, error)
}

// PayableResolver resolves an opaque payable reference to a purchasable
// item with its USD price.
type PayableResolver interface {
	Resolve(ctx context.Context, payableType, payableID string) (*domain.Payable, error)
}

type ratesClient struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewCatalog builds a Catalog over the rates collaborator's HTTP API.
func NewCatalog(baseURL string, logger *zap.Logger) Catalog {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)

	return &ratesClient{http: client, logger: logger}
}

func (c *ratesClient) Currencies(ctx context.Context) ([]domain.CryptoCurrency, error) {
	var out struct {
		Currencies []domain.CryptoCurrency `json:"currencies"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/v1/currencies")
	if err != nil {
		c.logger.Warn("Currency catalog request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: currency catalog returned %d", domain.ErrUpstreamUnavailable, resp.StatusCode())
	}
	return out.Currencies, nil
}

func (c *ratesClient) Currency(ctx context.Context, code string) (*domain.CryptoCurrency, error) {
	currencies, err := c.Currencies(ctx)
	if err != nil {
		return nil, err
	}
	for i := range currencies {
		if currencies[i].Code == code {
			if !currencies[i].Enabled {
				return nil, domain.ErrCurrencyUnsupported
			}
			return &currencies[i], nil
		}
	}
	return nil, domain.ErrCurrencyUnsupported
}

func (c *ratesClient) RateUsdCents(ctx context.Context, code string) (int64, error) {
	var out struct {
		Code         string `json:"code"`
		RateUsdCents int64  `json:"rateUsdCents"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/v1/rates/" + code)
	if err != nil {
		c.logger.Warn("Rate request failed", zap.String("currency", code), zap.Error(err))
		return 0, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return 0, domain.ErrCurrencyUnsupported
	}
	if resp.IsError() {
		return 0, fmt.Errorf("%w: rate endpoint returned %d", domain.ErrUpstreamUnavailable, resp.StatusCode())
	}
	if out.RateUsdCents <= 0 {
		return 0, fmt.Errorf("%w: non-positive rate for %s", domain.ErrUpstreamUnavailable, code)
	}
	return out.RateUsdCents, nil
}

type plansClient struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewPayableResolver builds a PayableResolver over the plan catalog's
// HTTP API.
func NewPayableResolver(baseURL string, logger *zap.Logger) PayableResolver {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)

	return &plansClient{http: client, logger: logger}
}

func (c *plansClient) Resolve(ctx context.Context, payableType, payableID string) (*domain.Payable, error) {
	var out domain.Payable
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).
		Get(fmt.Sprintf("/v1/payables/%s/%s", payableType, payableID))
	if err != nil {
		c.logger.Warn("Payable lookup failed", zap.String("payable_type", payableType), zap.String("payable_id", payableID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, domain.ErrItemNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: payable catalog returned %d", domain.ErrUpstreamUnavailable, resp.StatusCode())
	}
	if out.PriceUsdCents <= 0 {
		return nil, domain.ErrItemNotFound
	}
	return &out, nil
}
