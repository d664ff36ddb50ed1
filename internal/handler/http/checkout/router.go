package checkout_http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"cryptopay/internal/app/checkout"
)

func RegisterRoutes(r chi.Router, s checkout.CheckoutService, l *zap.Logger) {
	handler := NewCheckoutHandler(s, l.With(zap.String("component", "CheckoutHTTPHandler")))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("cryptopay service is healthy!"))
	})

	r.Get("/currencies", handler.ListCurrenciesHandler)

	r.Route("/checkout", func(r chi.Router) {
		r.Post("/quotes", handler.CreateQuoteHandler)
		r.Post("/payments", handler.ConfirmPaymentHandler)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Get("/", handler.ListPaymentsHandler)
		r.Get("/{id}", handler.GetPaymentHandler)
		r.Post("/{id}/cancel", handler.CancelPaymentHandler)
	})
}
