package config

import (
	"errors"
	"fmt"
	"io/fs"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL   string `env:"DATABASE_URL,required"`
	JWTSecret     string `env:"JWT_SECRET,required"`
	JWTExpiryH    int    `env:"JWT_EXPIRY_H" envDefault:"24"`
	WebhookSecret string `env:"WEBHOOK_SECRET,required"`
	Port          int    `env:"PORT" envDefault:"8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv        string `env:"APP_ENV" envDefault:"production"`

	GatewayBaseURL     string `env:"GATEWAY_BASE_URL" envDefault:"http://mock-gateway:8081"`
	GatewayAPIKey      string `env:"GATEWAY_API_KEY"`
	GatewayTimeoutS    int    `env:"GATEWAY_TIMEOUT_S" envDefault:"10"`
	ChargeCallbackURL  string `env:"CHARGE_CALLBACK_URL" envDefault:"http://app:8080/api/v1/webhooks/gateway/charge"`
	TransferResultURL  string `env:"TRANSFER_RESULT_URL" envDefault:"http://app:8080/api/v1/webhooks/gateway/transfer"`
	VerifyWithGateway  bool   `env:"VERIFY_WITH_GATEWAY" envDefault:"false"`
	WebhookPollMS      int    `env:"WEBHOOK_POLL_MS" envDefault:"1000"`
	WebhookBatchSize   int    `env:"WEBHOOK_BATCH_SIZE" envDefault:"10"`
	IdempotencyCleanup string `env:"IDEMPOTENCY_CLEANUP_CRON" envDefault:"@hourly"`
	IdempotencyTTLH    int    `env:"IDEMPOTENCY_TTL_H" envDefault:"24"`

	DefaultCommissionPct float64 `env:"DEFAULT_COMMISSION_PCT" envDefault:"15"`
	TaxPct               float64 `env:"TAX_PCT" envDefault:"0"`
	AutoSettleCron       string  `env:"AUTO_SETTLE_CRON"`
	SystemUserID         string  `env:"SYSTEM_USER_ID" envDefault:"00000000-0000-0000-0000-000000000001"`

	RedisURL  string `env:"REDIS_URL"`
	CacheTTLS int    `env:"CACHE_TTL_S" envDefault:"300"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"roomlink.settlements"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
	DBConnectAttempts  int `env:"DB_CONNECT_ATTEMPTS" envDefault:"30"`
}

// Load reads a .env file when present and then parses the process environment.
// Values already set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config.Load: dotenv: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	if cfg.DefaultCommissionPct < 0 || cfg.DefaultCommissionPct > 100 {
		return nil, fmt.Errorf("config.Load: DEFAULT_COMMISSION_PCT must be within [0, 100], got %v", cfg.DefaultCommissionPct)
	}
	return &cfg, nil
}
