package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/smartpay/internal/gateway"
)

// Config holds application configuration values.
type Config struct {
	AppPort     string
	AppEnv      string
	DatabaseURL string

	JWTSecret            string
	TokenExpires         time.Duration
	OperatorUsername     string
	OperatorPasswordHash string

	Gateway gateway.Config

	PaymentSuccessURL string
	PaymentCancelURL  string
	PaymentPendingURL string

	PollInterval    time.Duration
	PollMaxAttempts int
	AutoPoll        bool
	SessionTTL      time.Duration

	TelegramBotToken  string
	TelegramAdminChat string

	KafkaBrokers     []string
	KafkaStatusTopic string
}

// Load reads environment variables (and .env when present) and validates them.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppPort:     getEnv("APP_PORT", "8080"),
		AppEnv:      getEnv("APP_ENV", "development"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		JWTSecret:            getEnv("JWT_SECRET", ""),
		TokenExpires:         time.Duration(getEnvAsInt("JWT_TTL_HOURS", 24)) * time.Hour,
		OperatorUsername:     getEnv("OPERATOR_USERNAME", "operator"),
		OperatorPasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),

		Gateway: gateway.Config{
			Environment:         getEnv("SMARTGATEWAY_ENV", gateway.EnvSandbox),
			BaseURL:             getEnv("SMARTGATEWAY_BASE_URL", ""),
			APIKey:              getEnv("SMARTGATEWAY_API_KEY", ""),
			MerchantID:          getEnv("SMARTGATEWAY_MERCHANT_ID", ""),
			ResponseKey:         getEnv("SMARTGATEWAY_RESPONSE_KEY", ""),
			PaymentPageClientID: getEnv("SMARTGATEWAY_PAYMENT_PAGE_CLIENT_ID", ""),
			ReturnURL:           getEnv("SMARTGATEWAY_RETURN_URL", ""),
			Timeout:             getEnvAsDuration("SMARTGATEWAY_TIMEOUT", 15*time.Second),
		},

		PaymentSuccessURL: getEnv("PAYMENT_SUCCESS_URL", ""),
		PaymentCancelURL:  getEnv("PAYMENT_CANCEL_URL", ""),
		PaymentPendingURL: getEnv("PAYMENT_PENDING_URL", ""),

		PollInterval:    getEnvAsDuration("POLL_INTERVAL", 5*time.Second),
		PollMaxAttempts: getEnvAsInt("POLL_MAX_ATTEMPTS", 12),
		AutoPoll:        getEnvAsBool("AUTO_POLL", true),
		SessionTTL:      getEnvAsDuration("SESSION_TTL", 15*time.Minute),

		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAdminChat: getEnv("TELEGRAM_ADMIN_CHAT_ID", ""),

		KafkaBrokers:     getEnvAsList("KAFKA_BROKERS"),
		KafkaStatusTopic: getEnv("KAFKA_PAYMENT_STATUS_TOPIC", "payment-status"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AppPort == "" {
		return errors.New("config: APP_PORT must be set")
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET must be set")
	}
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.DatabaseURL == "" && !c.IsMock() {
		return errors.New("config: DATABASE_URL must be set outside the mock environment")
	}
	if c.PollMaxAttempts <= 0 {
		return fmt.Errorf("config: POLL_MAX_ATTEMPTS must be positive (got %d)", c.PollMaxAttempts)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: POLL_INTERVAL must be positive (got %s)", c.PollInterval)
	}
	return nil
}

// IsMock reports whether the in-process gateway is selected.
func (c *Config) IsMock() bool {
	return c.Gateway.Environment == gateway.EnvMock
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
