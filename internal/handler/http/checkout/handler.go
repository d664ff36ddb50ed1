package checkout_http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"cryptopay/internal/app/checkout"
	"cryptopay/internal/domain"
)

type CheckoutHandler struct {
	service  checkout.CheckoutService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewCheckoutHandler(s checkout.CheckoutService, l *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service:  s,
		validate: validator.New(),
		logger:   l,
	}
}

type QuoteRequest struct {
	PayableType  string `json:"payableType" validate:"required"`
	PayableID    string `json:"payableId" validate:"required"`
	CurrencyCode string `json:"currencyCode" validate:"required,uppercase"`
}

type ConfirmPaymentRequest struct {
	PayableType   string `json:"payableType" validate:"required"`
	PayableID     string `json:"payableId" validate:"required"`
	PaymentMethod string `json:"paymentMethod" validate:"required,oneof=crypto"`
	CurrencyCode  string `json:"currencyCode" validate:"required,uppercase"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *CheckoutHandler) CreateQuoteHandler(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	quote, err := h.service.Preview(r.Context(), req.PayableType, req.PayableID, req.CurrencyCode)
	if err != nil {
		h.writeServiceError(w, err, "Failed to create quote")
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *CheckoutHandler) ConfirmPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req ConfirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payment, err := h.service.Confirm(r.Context(), checkout.ConfirmRequest{
		PayableType:    req.PayableType,
		PayableID:      req.PayableID,
		PaymentMethod:  req.PaymentMethod,
		CurrencyCode:   req.CurrencyCode,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeServiceError(w, err, "Failed to confirm payment")
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (h *CheckoutHandler) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")
	if paymentID == "" {
		writeError(w, http.StatusBadRequest, "payment id is required")
		return
	}

	payment, err := h.service.GetStatus(r.Context(), paymentID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to get payment")
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *CheckoutHandler) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	payableType := r.URL.Query().Get("payableType")
	payableID := r.URL.Query().Get("payableId")
	if payableType == "" || payableID == "" {
		writeError(w, http.StatusBadRequest, "payableType and payableId are required")
		return
	}

	payments, err := h.service.History(r.Context(), payableType, payableID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list payments")
		return
	}
	if payments == nil {
		payments = []*domain.Payment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *CheckoutHandler) CancelPaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")
	if paymentID == "" {
		writeError(w, http.StatusBadRequest, "payment id is required")
		return
	}

	payment, err := h.service.Cancel(r.Context(), paymentID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to cancel payment")
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *CheckoutHandler) ListCurrenciesHandler(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.service.Currencies(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Failed to list currencies")
		return
	}
	enabled := make([]domain.CryptoCurrency, 0, len(currencies))
	for _, c := range currencies {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"currencies": enabled})
}

func (h *CheckoutHandler) writeServiceError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "payable item not found")
	case errors.Is(err, domain.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "payment not found")
	case errors.Is(err, domain.ErrCurrencyUnsupported):
		writeError(w, http.StatusUnprocessableEntity, "currency unsupported")
	case errors.Is(err, domain.ErrCannotCancelInProgress):
		writeError(w, http.StatusConflict, "payment cannot be cancelled once confirming")
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		h.logger.Error(logMsg, zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream unavailable")
	default:
		h.logger.Error(logMsg, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
