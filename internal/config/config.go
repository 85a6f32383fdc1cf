package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	statusstore "github.com/embedpay/publisher-gateway/internal/statusstore"
)

// Config aggregates runtime configuration grouped by concern.
type Config struct {
	ServiceName string
	HTTP        HTTPConfig
	Signing     SigningConfig
	Payments    PaymentsConfig
	Kafka       KafkaConfig
	Database    statusstore.DatabaseConfig
	Email       EmailConfig
}

type HTTPConfig struct {
	Addr string
}

type SigningConfig struct {
	KeyID   string
	KeyFile string
	// KeySeed is a base64-encoded Ed25519 seed; takes precedence over KeyFile.
	KeySeed string
	// ClientWallet is the gateway's own wallet address URL, sent as the
	// client identifier on signed grant requests.
	ClientWallet string
}

type PaymentsConfig struct {
	// AllowedOrigins are the application origins a grant redirectUrl may point at.
	AllowedOrigins []string
	StatusTTL      time.Duration
	PollInterval   time.Duration
	PollMaxWait    time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	PaymentsTopic string
	PaymentsGroup string
	ReceiptGroup  string
}

type EmailConfig struct {
	DemoRecipient string
}

// Load reads configuration from environment variables, applying sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		ServiceName: getEnv("SERVICE_NAME", "publisher-gateway"),
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_LISTEN_ADDR", ":3000"),
		},
		Signing: SigningConfig{
			KeyID:        getEnv("SIGNING_KEY_ID", "dev-key"),
			KeyFile:      getEnv("SIGNING_KEY_FILE", ""),
			KeySeed:      getEnv("SIGNING_KEY_SEED", ""),
			ClientWallet: getEnv("GATEWAY_WALLET_ADDRESS", "https://wallet.example/gateway"),
		},
		Payments: PaymentsConfig{
			AllowedOrigins: splitAndTrim(getEnv("PAYMENT_ALLOWED_ORIGINS", "http://localhost:3000")),
		},
		Kafka: KafkaConfig{
			Brokers:       splitAndTrim(getEnv("KAFKA_BROKERS", "localhost:9092")),
			PaymentsTopic: getEnv("KAFKA_PAYMENTS_TOPIC", "payments.v1"),
			PaymentsGroup: getEnv("KAFKA_PAYMENTS_GROUP_ID", "payment-workers"),
			ReceiptGroup:  getEnv("KAFKA_RECEIPT_GROUP_ID", "receipt-workers"),
		},
		Email: EmailConfig{
			DemoRecipient: getEnv("DEMO_TO_EMAIL", "test@example.local"),
		},
	}

	var err error
	if cfg.Payments.StatusTTL, err = getDuration("PAYMENT_STATUS_TTL", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Payments.PollInterval, err = getDuration("PAYMENT_POLL_INTERVAL", 1500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.Payments.PollMaxWait, err = getDuration("PAYMENT_POLL_MAX_WAIT", 25*time.Second); err != nil {
		return Config{}, err
	}

	portStr := getEnv("STATUS_DB_PORT", "5432")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Config{}, fmt.Errorf("parse STATUS_DB_PORT: %w", err)
	}

	cfg.Database = statusstore.DatabaseConfig{
		Host:     getEnv("STATUS_DB_HOST", ""),
		Port:     port,
		Database: getEnv("STATUS_DB_NAME", "publishergateway"),
		User:     getEnv("STATUS_DB_USER", "publishergateway"),
		Password: getEnv("STATUS_DB_PASSWORD", ""),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
