package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"cryptopay/internal/domain"
	"cryptopay/internal/domain/event"
)

// KafkaStatusSource subscribes to the payment status topic and emits
// updates for one payment. The channel name is derived from the payment
// id (the consumer group), and messages are filtered by key. Payload
// shape branching happens in event.NormalizeStatusPayload; everything
// downstream sees one canonical update shape.
type KafkaStatusSource struct {
	reader    *kafka.Reader
	paymentID string
	logger    *zap.Logger
}

func NewKafkaStatusSource(brokerURLs []string, topic, paymentID string, logger *zap.Logger) *KafkaStatusSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           brokerURLs,
		GroupID:           fmt.Sprintf("cryptopay-watch-%s", paymentID),
		Topic:             topic,
		MinBytes:          1,
		MaxBytes:          10e6,
		HeartbeatInterval: 3 * time.Second,
		CommitInterval:    time.Second,
		MaxAttempts:       3,
		Logger:            kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Debug(fmt.Sprintf(msg, args...)) }),
		ErrorLogger:       kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Error(fmt.Sprintf(msg, args...)) }),
	})

	return &KafkaStatusSource{
		reader:    reader,
		paymentID: paymentID,
		logger:    logger,
	}
}

func (s *KafkaStatusSource) Run(ctx context.Context, sink chan<- domain.StatusUpdate) {
	defer s.reader.Close()

	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("Push channel read failed, retrying",
				zap.String("payment_id", s.paymentID),
				zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if string(msg.Key) != s.paymentID {
			continue
		}

		upd, err := event.NormalizeStatusPayload(msg.Value)
		if err != nil {
			s.logger.Warn("Discarding malformed push event",
				zap.String("payment_id", s.paymentID),
				zap.Error(err))
			continue
		}
		select {
		case sink <- upd:
		case <-ctx.Done():
			return
		}
	}
}
