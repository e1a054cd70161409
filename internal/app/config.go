package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

// EnvPrefix — префикс переменных окружения сервиса.
const EnvPrefix = "STOCKFLOW"

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	VaultDriverMemory = "memory"
	VaultDriverRedis  = "redis"
)

// Config — настройки запуска сервиса.
type Config struct {
	GRPCAddr           string        `envconfig:"GRPC_ADDR" default:":50051"`
	MetricsAddr        string        `envconfig:"METRICS_ADDR" default:":9090"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"2s"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`

	StorageDriver       string        `envconfig:"STORAGE_DRIVER" default:"memory"`
	PostgresDSN         string        `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool          `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`
	StockLockTimeout    time.Duration `envconfig:"STOCK_LOCK_TIMEOUT" default:"2s"`

	KafkaBrokers          []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic            string   `envconfig:"KAFKA_TOPIC"`
	KafkaAdjustmentsTopic string   `envconfig:"KAFKA_ADJUSTMENTS_TOPIC" default:"stockflow.stock.adjustments"`
	KafkaGroupID          string   `envconfig:"KAFKA_GROUP_ID" default:"stockflow-inventory"`
	KafkaMaxAttempts      int      `envconfig:"KAFKA_MAX_ATTEMPTS" default:"3"`

	VaultDriver         string        `envconfig:"VAULT_DRIVER" default:"memory"`
	RedisAddr           string        `envconfig:"REDIS_ADDR"`
	RedisURL            string        `envconfig:"REDIS_URL"`
	RedisPassword       string        `envconfig:"REDIS_PASSWORD"`
	RedisDB             int           `envconfig:"REDIS_DB" default:"0"`
	CardTokenTTL        time.Duration `envconfig:"CARD_TOKEN_TTL" default:"24h"`
	VaultSweepInterval  time.Duration `envconfig:"VAULT_SWEEP_INTERVAL" default:"10m"`
	VaultSweepBatchSize int           `envconfig:"VAULT_SWEEP_BATCH_SIZE" default:"500"`

	CheckoutTimeout   time.Duration `envconfig:"CHECKOUT_TIMEOUT" default:"30s"`
	DefaultCurrency   string        `envconfig:"DEFAULT_CURRENCY" default:"TRY"`
	LowStockThreshold int64         `envconfig:"LOW_STOCK_THRESHOLD" default:"5"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"3"`
	OutboxRetryDelay   time.Duration `envconfig:"OUTBOX_RETRY_DELAY" default:"50ms"`
}

// DefaultConfig возвращает значения по умолчанию (совпадают с тегами default).
func DefaultConfig() Config {
	return Config{
		GRPCAddr:              ":50051",
		MetricsAddr:           ":9090",
		LogLevel:              "info",
		HealthCheckTimeout:    2 * time.Second,
		ShutdownTimeout:       5 * time.Second,
		StorageDriver:         StorageDriverMemory,
		PostgresAutoMigrate:   true,
		StockLockTimeout:      2 * time.Second,
		KafkaAdjustmentsTopic: "stockflow.stock.adjustments",
		KafkaGroupID:          "stockflow-inventory",
		KafkaMaxAttempts:      3,
		VaultDriver:           VaultDriverMemory,
		CardTokenTTL:          24 * time.Hour,
		VaultSweepInterval:    10 * time.Minute,
		VaultSweepBatchSize:   500,
		CheckoutTimeout:       30 * time.Second,
		DefaultCurrency:       "TRY",
		LowStockThreshold:     5,
		OutboxPollInterval:    time.Second,
		OutboxBatchSize:       100,
		OutboxMaxAttempts:     3,
		OutboxRetryDelay:      50 * time.Millisecond,
	}
}

// LoadConfig читает конфигурацию из окружения и валидирует её.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.VaultDriver = strings.ToLower(strings.TrimSpace(c.VaultDriver))
	c.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.DefaultCurrency))

	brokers := c.KafkaBrokers[:0]
	for _, broker := range c.KafkaBrokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	c.KafkaBrokers = brokers
}

// KafkaEnabled сообщает, что указаны брокеры Kafka.
func (c Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage requires STOCKFLOW_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.VaultDriver {
	case VaultDriverMemory:
	case VaultDriverRedis:
		if c.RedisAddr == "" && c.RedisURL == "" {
			errs = append(errs, errors.New("redis vault requires STOCKFLOW_REDIS_ADDR or STOCKFLOW_REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported vault driver %q", c.VaultDriver))
	}

	durations := map[string]time.Duration{
		"CARD_TOKEN_TTL":       c.CardTokenTTL,
		"VAULT_SWEEP_INTERVAL": c.VaultSweepInterval,
		"CHECKOUT_TIMEOUT":     c.CheckoutTimeout,
		"OUTBOX_POLL_INTERVAL": c.OutboxPollInterval,
		"STOCK_LOCK_TIMEOUT":   c.StockLockTimeout,
		"HEALTH_CHECK_TIMEOUT": c.HealthCheckTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s_%s must be positive", EnvPrefix, name))
		}
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox batch size and max attempts must be positive"))
	}
	if c.LowStockThreshold < 0 {
		errs = append(errs, errors.New("low stock threshold must be non-negative"))
	}
	if len(c.DefaultCurrency) != 3 {
		errs = append(errs, fmt.Errorf("default currency %q must be a 3-letter code", c.DefaultCurrency))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}

	return errors.Join(errs...)
}
