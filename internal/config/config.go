package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort int

	DBConfig struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string
		SSLMode  string
	}

	KafkaBrokerURL             string
	KafkaChainObservationTopic string
	KafkaPaymentStatusTopic    string
	KafkaConsumerGroup         string

	RatesBaseURL  string
	WalletBaseURL string
	PlansBaseURL  string

	QuoteTTL           time.Duration
	PaymentTTL         time.Duration
	ExpirySweepEvery   time.Duration
	OutboxPollInterval time.Duration
	OutboxPollTimeout  time.Duration

	MigrationsPath string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.HTTPPort = getEnvAsInt("CRYPTOPAY_HTTP_PORT", 8083)

	cfg.DBConfig.Host = getEnvOrDefault("CRYPTOPAY_DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvAsInt("CRYPTOPAY_DB_PORT", 5432)
	cfg.DBConfig.User = getEnvOrDefault("CRYPTOPAY_DB_USER", "user")
	cfg.DBConfig.Password = getEnvOrDefault("CRYPTOPAY_DB_PASSWORD", "password")
	cfg.DBConfig.Name = getEnvOrDefault("CRYPTOPAY_DB_NAME", "cryptopay_db")
	cfg.DBConfig.SSLMode = getEnvOrDefault("CRYPTOPAY_DB_SSLMODE", "disable")

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "localhost:9092")
	cfg.KafkaChainObservationTopic = getEnvOrDefault("KAFKA_CHAIN_OBSERVATION_TOPIC", "chain_observations")
	cfg.KafkaPaymentStatusTopic = getEnvOrDefault("KAFKA_PAYMENT_STATUS_TOPIC", "payment_status_events")
	cfg.KafkaConsumerGroup = getEnvOrDefault("KAFKA_CONSUMER_GROUP", "cryptopay-service-group")

	cfg.RatesBaseURL = getEnvOrDefault("RATES_BASE_URL", "http://localhost:9101")
	cfg.WalletBaseURL = getEnvOrDefault("WALLET_BASE_URL", "http://localhost:9102")
	cfg.PlansBaseURL = getEnvOrDefault("PLANS_BASE_URL", "http://localhost:9103")

	cfg.QuoteTTL = getEnvAsDuration("QUOTE_TTL", 2*time.Minute)
	cfg.PaymentTTL = getEnvAsDuration("PAYMENT_TTL", 30*time.Minute)
	cfg.ExpirySweepEvery = getEnvAsDuration("EXPIRY_SWEEP_EVERY", 30*time.Second)
	cfg.OutboxPollInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", 1*time.Second)
	cfg.OutboxPollTimeout = getEnvAsDuration("OUTBOX_POLL_TIMEOUT", 500*time.Millisecond)

	cfg.MigrationsPath = getEnvOrDefault("MIGRATIONS_PATH", "file://migrations")

	return cfg, nil
}

func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetDBMigrationConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
