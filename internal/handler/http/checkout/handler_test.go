package checkout_http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cryptopay/internal/app/checkout"
	"cryptopay/internal/domain"
	"cryptopay/internal/domain/event"
)

type mockCheckoutService struct {
	PreviewFunc          func(ctx context.Context, payableType, payableID, currencyCode string) (*domain.Quote, error)
	ConfirmFunc          func(ctx context.Context, req checkout.ConfirmRequest) (*domain.Payment, error)
	GetStatusFunc        func(ctx context.Context, paymentID string) (*domain.Payment, error)
	CancelFunc           func(ctx context.Context, paymentID string) (*domain.Payment, error)
	HistoryFunc          func(ctx context.Context, payableType, payableID string) ([]*domain.Payment, error)
	CurrenciesFunc       func(ctx context.Context) ([]domain.CryptoCurrency, error)
	ApplyObservationFunc func(ctx context.Context, obs event.ChainObservation) error
	ExpireOverdueFunc    func(ctx context.Context) (int, error)
}

func (m *mockCheckoutService) Preview(ctx context.Context, payableType, payableID, currencyCode string) (*domain.Quote, error) {
	return m.PreviewFunc(ctx, payableType, payableID, currencyCode)
}

func (m *mockCheckoutService) Confirm(ctx context.Context, req checkout.ConfirmRequest) (*domain.Payment, error) {
	return m.ConfirmFunc(ctx, req)
}

func (m *mockCheckoutService) GetStatus(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return m.GetStatusFunc(ctx, paymentID)
}

func (m *mockCheckoutService) Cancel(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return m.CancelFunc(ctx, paymentID)
}

func (m *mockCheckoutService) History(ctx context.Context, payableType, payableID string) ([]*domain.Payment, error) {
	return m.HistoryFunc(ctx, payableType, payableID)
}

func (m *mockCheckoutService) Currencies(ctx context.Context) ([]domain.CryptoCurrency, error) {
	return m.CurrenciesFunc(ctx)
}

func (m *mockCheckoutService) ApplyObservation(ctx context.Context, obs event.ChainObservation) error {
	return m.ApplyObservationFunc(ctx, obs)
}

func (m *mockCheckoutService) ExpireOverdue(ctx context.Context) (int, error) {
	return m.ExpireOverdueFunc(ctx)
}

func newTestRouter(service *mockCheckoutService) *chi.Mux {
	router := chi.NewRouter()
	RegisterRoutes(router, service, zap.NewNop())
	return router
}

func issuedPayment() *domain.Payment {
	now := time.Now()
	return &domain.Payment{
		ID:                    "pay-1",
		PayableType:           "subscription_plan",
		PayableID:             "plan-monthly",
		PaymentMethod:         "crypto",
		AmountUsdCents:        2999,
		AmountCrypto:          decimal.RequireFromString("0.00049983"),
		CurrencyCode:          "BTC",
		PaymentAddress:        "bc1qexampleaddress",
		PaymentURI:            "bitcoin:bc1qexampleaddress?amount=0.00049983",
		ExchangeRateUsdCents:  6_000_000,
		Status:                domain.PaymentStatusPending,
		ConfirmationsRequired: 2,
		CreatedAt:             now,
		ExpiresAt:             now.Add(30 * time.Minute),
	}
}

func TestConfirmPaymentHandler(t *testing.T) {
	t.Run("valid request passes idempotency key through", func(t *testing.T) {
		var gotReq checkout.ConfirmRequest
		service := &mockCheckoutService{
			ConfirmFunc: func(ctx context.Context, req checkout.ConfirmRequest) (*domain.Payment, error) {
				gotReq = req
				return issuedPayment(), nil
			},
		}
		router := newTestRouter(service)

		body, _ := json.Marshal(map[string]string{
			"payableType":   "subscription_plan",
			"payableId":     "plan-monthly",
			"paymentMethod": "crypto",
			"currencyCode":  "BTC",
		})
		req := httptest.NewRequest(http.MethodPost, "/checkout/payments", bytes.NewReader(body))
		req.Header.Set("Idempotency-Key", "key-123")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "key-123", gotReq.IdempotencyKey)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "pay-1", resp["id"])
		assert.Equal(t, "0.00049983", resp["amountCrypto"])
		assert.Equal(t, "bitcoin:bc1qexampleaddress?amount=0.00049983", resp["paymentUri"])
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		service := &mockCheckoutService{}
		router := newTestRouter(service)

		body, _ := json.Marshal(map[string]string{"payableType": "subscription_plan"})
		req := httptest.NewRequest(http.MethodPost, "/checkout/payments", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown payable maps to 404", func(t *testing.T) {
		service := &mockCheckoutService{
			ConfirmFunc: func(ctx context.Context, req checkout.ConfirmRequest) (*domain.Payment, error) {
				return nil, domain.ErrItemNotFound
			},
		}
		router := newTestRouter(service)

		body, _ := json.Marshal(map[string]string{
			"payableType":   "subscription_plan",
			"payableId":     "nope",
			"paymentMethod": "crypto",
			"currencyCode":  "BTC",
		})
		req := httptest.NewRequest(http.MethodPost, "/checkout/payments", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("disabled currency maps to 422", func(t *testing.T) {
		service := &mockCheckoutService{
			ConfirmFunc: func(ctx context.Context, req checkout.ConfirmRequest) (*domain.Payment, error) {
				return nil, domain.ErrCurrencyUnsupported
			},
		}
		router := newTestRouter(service)

		body, _ := json.Marshal(map[string]string{
			"payableType":   "subscription_plan",
			"payableId":     "plan-monthly",
			"paymentMethod": "crypto",
			"currencyCode":  "XYZ",
		})
		req := httptest.NewRequest(http.MethodPost, "/checkout/payments", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestCancelPaymentHandler(t *testing.T) {
	t.Run("cancel in progress maps to 409", func(t *testing.T) {
		service := &mockCheckoutService{
			CancelFunc: func(ctx context.Context, paymentID string) (*domain.Payment, error) {
				return nil, domain.ErrCannotCancelInProgress
			},
		}
		router := newTestRouter(service)

		req := httptest.NewRequest(http.MethodPost, "/payments/pay-1/cancel", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("successful cancel returns payment", func(t *testing.T) {
		service := &mockCheckoutService{
			CancelFunc: func(ctx context.Context, paymentID string) (*domain.Payment, error) {
				p := issuedPayment()
				p.Status = domain.PaymentStatusCancelled
				return p, nil
			},
		}
		router := newTestRouter(service)

		req := httptest.NewRequest(http.MethodPost, "/payments/pay-1/cancel", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"cancelled"`)
	})
}

func TestGetPaymentHandler(t *testing.T) {
	service := &mockCheckoutService{
		GetStatusFunc: func(ctx context.Context, paymentID string) (*domain.Payment, error) {
			if paymentID != "pay-1" {
				return nil, domain.ErrPaymentNotFound
			}
			return issuedPayment(), nil
		},
	}
	router := newTestRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/payments/pay-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/payments/pay-unknown", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListPaymentsHandler(t *testing.T) {
	t.Run("requires payable filter", func(t *testing.T) {
		service := &mockCheckoutService{}
		router := newTestRouter(service)

		req := httptest.NewRequest(http.MethodGet, "/payments/", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty history returns empty list", func(t *testing.T) {
		service := &mockCheckoutService{
			HistoryFunc: func(ctx context.Context, payableType, payableID string) ([]*domain.Payment, error) {
				return nil, nil
			},
		}
		router := newTestRouter(service)

		req := httptest.NewRequest(http.MethodGet, "/payments/?payableType=subscription_plan&payableId=plan-monthly", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"payments":[]}`, w.Body.String())
	})
}

func TestCreateQuoteHandler(t *testing.T) {
	service := &mockCheckoutService{
		PreviewFunc: func(ctx context.Context, payableType, payableID, currencyCode string) (*domain.Quote, error) {
			return &domain.Quote{
				ID:                      "q-1",
				PayableType:             payableType,
				PayableID:               payableID,
				PayableSummary:          "Monthly plan",
				AmountUsdCents:          2999,
				AmountCrypto:            decimal.RequireFromString("0.00049983"),
				CurrencyCode:            currencyCode,
				ExchangeRateUsdCents:    6_000_000,
				PreviewExpiresInSeconds: 120,
			}, nil
		},
	}
	router := newTestRouter(service)

	body, _ := json.Marshal(map[string]string{
		"payableType":  "subscription_plan",
		"payableId":    "plan-monthly",
		"currencyCode": "BTC",
	})
	req := httptest.NewRequest(http.MethodPost, "/checkout/quotes", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"previewExpiresInSeconds":120`)
	assert.Contains(t, w.Body.String(), `"0.00049983"`)
}
