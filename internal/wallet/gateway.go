package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"cryptopay/internal/domain"
)

// AddressAllocator hands out fresh receiving addresses. Each call
// allocates a new address; the gateway never reuses one across
// payments.
type AddressAllocator interface {
	AllocateAddress(ctx context.Context, currencyCode, paymentID string) (string, error)
}

type gateway struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewGateway builds an AddressAllocator over the wallet collaborator's
// HTTP API. Allocation is not retried here: a retry after an ambiguous
// failure could orphan an address, so the error is surfaced and the
// whole issuance rolls back instead.
func NewGateway(baseURL string, logger *zap.Logger) AddressAllocator {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second)

	return &gateway{http: client, logger: logger}
}

func (g *gateway) AllocateAddress(ctx context.Context, currencyCode, paymentID string) (string, error) {
	var out struct {
		Address string `json:"address"`
	}
	resp, err := g.http.R().SetContext(ctx).
		SetBody(map[string]string{"currency": currencyCode, "paymentId": paymentID}).
		SetResult(&out).
		Post("/v1/addresses")
	if err != nil {
		g.logger.Error("Address allocation failed", zap.String("currency", currencyCode), zap.String("payment_id", paymentID), zap.Error(err))
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: wallet gateway returned %d", domain.ErrUpstreamUnavailable, resp.StatusCode())
	}
	if out.Address == "" {
		return "", fmt.Errorf("%w: wallet gateway returned empty address", domain.ErrUpstreamUnavailable)
	}
	return out.Address, nil
}
