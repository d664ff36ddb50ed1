package reconciler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"cryptopay/internal/domain"
)

// Client is the consumer-side HTTP client for the checkout API.
//
// Preview, GetPayment, Cancel and History are safe to retry and get a
// bounded transparent retry on transport failure. Confirm is not: a
// confirm that times out may or may not have allocated a payment and an
// address server-side, so it surfaces ErrAmbiguousIssuance and the
// caller must check History before issuing again (or pass an
// idempotency key, which makes the retry safe).
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(300 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil {
				return false
			}
			// issuance is the one call whose blind replay could allocate
			// a second payment and address
			if strings.HasSuffix(r.Request.URL, "/checkout/payments") {
				return false
			}
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{http: client, logger: logger}
}

// Preview requests a non-binding quote. The returned quote is stamped
// with the receipt time so the validity countdown runs client-side.
func (c *Client) Preview(ctx context.Context, payableType, payableID, currencyCode string) (*domain.Quote, error) {
	var quote domain.Quote
	resp, err := c.http.R().SetContext(ctx).
		SetBody(map[string]string{
			"payableType":  payableType,
			"payableId":    payableID,
			"currencyCode": currencyCode,
		}).
		SetResult(&quote).
		Post("/checkout/quotes")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if err := mapStatusError(resp); err != nil {
		return nil, err
	}
	quote.ReceivedAt = time.Now()
	return &quote, nil
}

// Confirm issues a durable payment. Never retried here: on a transport
// failure the outcome is unknown and the caller gets
// ErrAmbiguousIssuance instead of a second address.
func (c *Client) Confirm(ctx context.Context, payableType, payableID, paymentMethod, currencyCode, idempotencyKey string) (*domain.Payment, error) {
	var payment domain.Payment
	req := c.http.R().SetContext(ctx).
		SetBody(map[string]string{
			"payableType":   payableType,
			"payableId":     payableID,
			"paymentMethod": paymentMethod,
			"currencyCode":  currencyCode,
		}).
		SetResult(&payment)
	if idempotencyKey != "" {
		req.SetHeader("Idempotency-Key", idempotencyKey)
	}

	resp, err := req.Post("/checkout/payments")
	if err != nil {
		c.logger.Warn("Confirm outcome unknown", zap.String("payable_id", payableID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrAmbiguousIssuance, err)
	}
	if err := mapStatusError(resp); err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPayment polls the full current projection of a payment.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	var payment domain.Payment
	resp, err := c.http.R().SetContext(ctx).SetResult(&payment).Get("/payments/" + paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, domain.ErrPaymentNotFound
	}
	if err := mapStatusError(resp); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Cancel requests user cancellation; rejected with
// ErrCannotCancelInProgress once confirming has begun.
func (c *Client) Cancel(ctx context.Context, paymentID string) (*domain.Payment, error) {
	var payment domain.Payment
	resp, err := c.http.R().SetContext(ctx).SetResult(&payment).Post("/payments/" + paymentID + "/cancel")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, domain.ErrPaymentNotFound
	}
	if err := mapStatusError(resp); err != nil {
		return nil, err
	}
	return &payment, nil
}

// History lists the payments already issued for a payable. This is the
// check-before-reissue path after an ambiguous confirm.
func (c *Client) History(ctx context.Context, payableType, payableID string) ([]*domain.Payment, error) {
	var out struct {
		Payments []*domain.Payment `json:"payments"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("payableType", payableType).
		SetQueryParam("payableId", payableID).
		SetResult(&out).
		Get("/payments")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if err := mapStatusError(resp); err != nil {
		return nil, err
	}
	return out.Payments, nil
}

func mapStatusError(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return domain.ErrItemNotFound
	case http.StatusUnprocessableEntity:
		return domain.ErrCurrencyUnsupported
	case http.StatusConflict:
		return domain.ErrCannotCancelInProgress
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: checkout API returned %d", domain.ErrUpstreamUnavailable, resp.StatusCode())
	default:
		return fmt.Errorf("checkout API returned %d: %s", resp.StatusCode(), resp.String())
	}
}
