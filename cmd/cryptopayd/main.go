package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cryptopay/internal/app/checkout"
	"cryptopay/internal/catalog"
	"cryptopay/internal/config"
	checkout_http "cryptopay/internal/handler/http/checkout"
	kafka_handler "cryptopay/internal/handler/kafka"
	"cryptopay/internal/infrastructure/database"
	kafka_infra "cryptopay/internal/infrastructure/kafka"
	"cryptopay/internal/outbox"
	"cryptopay/internal/pricing"
	"cryptopay/internal/repository/inbox_repo"
	"cryptopay/internal/repository/outbox_repo"
	"cryptopay/internal/repository/payments_repo"
	"cryptopay/internal/wallet"
)

func ensureKafkaTopics(ctx context.Context, brokerURLs []string, topics []string, logger *zap.Logger) error {
	conn, err := kafka.DialContext(ctx, "tcp", brokerURLs[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka broker for admin operations: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get kafka controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	topicConfigs := make([]kafka.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}

	if err := controllerConn.CreateTopics(topicConfigs...); err != nil {
		if err == kafka.TopicAlreadyExists {
			logger.Info("One or more Kafka topics already exist, skipping creation.")
		} else {
			return fmt.Errorf("failed to create Kafka topics: %w", err)
		}
	} else {
		logger.Info("Kafka topics ensured successfully.", zap.Strings("topics", topics))
	}
	return nil
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	appLogger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	appLogger.Info("Cryptopay service starting...")

	dbConfig := database.DBConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.Name,
		SSLMode:  cfg.DBConfig.SSLMode,
	}

	var db *sql.DB
	maxRetries := 10
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = database.NewPostgresDB(dbConfig)
		if err == nil {
			appLogger.Info("Successfully connected to PostgreSQL database!")
			break
		}
		appLogger.Warn(fmt.Sprintf("Failed to connect to database (attempt %d/%d): %v. Retrying in %s...", i+1, maxRetries, err, retryDelay))
		time.Sleep(retryDelay)
	}
	if db == nil {
		appLogger.Fatal("Could not connect to database after multiple retries. Exiting.", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("Error closing database connection", zap.Error(err))
		}
	}()

	appLogger.Info("Running database migrations...")
	m, err := migrate.New(cfg.MigrationsPath, cfg.GetDBMigrationConnectionString())
	if err != nil {
		appLogger.Fatal("Failed to create migrate instance", zap.Error(err))
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		appLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}
	appLogger.Info("Database migrations completed successfully (or no new migrations).")

	kafkaBrokers := cfg.GetKafkaBrokers()
	requiredTopics := []string{
		cfg.KafkaChainObservationTopic,
		cfg.KafkaPaymentStatusTopic,
	}

	topicCtx, topicCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer topicCancel()
	if err := ensureKafkaTopics(topicCtx, kafkaBrokers, requiredTopics, appLogger); err != nil {
		appLogger.Fatal("Failed to ensure Kafka topics", zap.Error(err))
	}

	currencyCatalog := catalog.NewCatalog(cfg.RatesBaseURL, appLogger.With(zap.String("component", "CurrencyCatalog")))
	payableResolver := catalog.NewPayableResolver(cfg.PlansBaseURL, appLogger.With(zap.String("component", "PayableResolver")))
	addressAllocator := wallet.NewGateway(cfg.WalletBaseURL, appLogger.With(zap.String("component", "WalletGateway")))

	quoteResolver := pricing.NewResolver(
		currencyCatalog,
		payableResolver,
		cfg.QuoteTTL,
		appLogger.With(zap.String("component", "QuoteResolver")),
	)

	paymentRepository := payments_repo.NewPaymentRepository()
	inboxRepository := inbox_repo.NewInboxRepository()
	outboxRepository := outbox_repo.NewOutboxRepository()

	checkoutService := checkout.NewCheckoutService(
		db,
		quoteResolver,
		currencyCatalog,
		payableResolver,
		addressAllocator,
		paymentRepository,
		inboxRepository,
		outboxRepository,
		cfg.PaymentTTL,
		appLogger.With(zap.String("component", "CheckoutService")),
	)
	appLogger.Info("Checkout service initialized.")

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	checkout_http.RegisterRoutes(router, checkoutService, appLogger.With(zap.String("component", "HTTPHandler")))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}

	statusProducer := kafka_infra.NewProducer(
		kafkaBrokers,
		cfg.KafkaPaymentStatusTopic,
		appLogger.With(zap.String("component", "KafkaProducer")),
	)
	defer func() {
		if err := statusProducer.Close(); err != nil {
			appLogger.Error("Error closing Kafka producer", zap.Error(err))
		}
	}()

	outboxProcessor := outbox.NewProcessor(
		db,
		outboxRepository,
		statusProducer,
		cfg.OutboxPollInterval,
		cfg.OutboxPollTimeout,
		appLogger.With(zap.String("component", "OutboxProcessor")),
	)

	observationConsumer := kafka_infra.NewConsumer(
		kafkaBrokers,
		cfg.KafkaChainObservationTopic,
		cfg.KafkaConsumerGroup,
		kafka_handler.ChainObservationHandler(checkoutService, appLogger.With(zap.String("component", "ChainObservationHandler"))),
		appLogger.With(zap.String("component", "ChainObservationConsumer")),
	)

	ctxMain, cancelMain := context.WithCancel(context.Background())

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go outboxProcessor.Run(ctxMain)

	go func() {
		if err := observationConsumer.Consume(ctxMain); err != nil && err != context.Canceled {
			appLogger.Error("Chain observation consumer failed", zap.Error(err))
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.ExpirySweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctxMain.Done():
				return
			case <-ticker.C:
				if _, err := checkoutService.ExpireOverdue(ctxMain); err != nil {
					appLogger.Error("Expiry sweep failed", zap.Error(err))
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	appLogger.Info("Shutting down application...")
	cancelMain()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		appLogger.Info("HTTP server gracefully shut down.")
	}

	if err := observationConsumer.Close(); err != nil {
		appLogger.Error("Error closing chain observation consumer", zap.Error(err))
	}

	appLogger.Info("Application gracefully shut down.")
}
