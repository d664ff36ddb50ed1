package kafka_handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"cryptopay/internal/app/checkout"
	"cryptopay/internal/domain"
	"cryptopay/internal/domain/event"
	kafka_infra "cryptopay/internal/infrastructure/kafka"
)

// ChainObservationHandler feeds chain watcher observations into the
// checkout service. Malformed payloads and observations for unknown
// payments are logged and committed: redelivering them can never
// succeed.
func ChainObservationHandler(service checkout.CheckoutService, logger *zap.Logger) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var obs event.ChainObservation
		if err := json.Unmarshal(msg.Value, &obs); err != nil {
			logger.Error("Failed to unmarshal chain observation",
				zap.Error(err),
				zap.ByteString("value", msg.Value),
				zap.Int64("offset", msg.Offset),
			)
			return nil
		}
		if obs.EventID == "" || obs.PaymentID == "" {
			logger.Error("Chain observation missing event_id or payment_id",
				zap.ByteString("value", msg.Value))
			return nil
		}

		if err := service.ApplyObservation(ctx, obs); err != nil {
			if errors.Is(err, domain.ErrPaymentNotFound) {
				logger.Warn("Chain observation for unknown payment",
					zap.String("event_id", obs.EventID),
					zap.String("payment_id", obs.PaymentID))
				return nil
			}
			logger.Error("Failed to apply chain observation",
				zap.String("event_id", obs.EventID),
				zap.String("payment_id", obs.PaymentID),
				zap.Error(err))
			return fmt.Errorf("failed to apply chain observation %s: %w", obs.EventID, err)
		}
		return nil
	}
}
