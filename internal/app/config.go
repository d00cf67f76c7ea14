package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

// EnvPrefix — префикс переменных окружения сервиса.
const EnvPrefix = "CAMPUSMART_"

const (
	// StorageDriverMemory хранит всё в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит заказы, корзины и служебные таблицы в PostgreSQL.
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения. Значения по умолчанию
// даёт DefaultConfig, переменные CAMPUSMART_* их переопределяют.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR"`
	GRPCAddr    string `env:"GRPC_ADDR"`
	MetricsAddr string `env:"METRICS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL"`
	LoginPath   string `env:"LOGIN_PATH"`

	StorageDriver       string `env:"STORAGE_DRIVER"`
	PostgresDSN         string `env:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `env:"POSTGRES_AUTO_MIGRATE"`
	PostgresMaxConns    int    `env:"POSTGRES_MAX_CONNS"`

	// CatalogFile — JSON со списком товаров, которым заполняется каталог при старте.
	CatalogFile string `env:"CATALOG_FILE"`

	// KafkaBrokers — адреса через запятую. Пустое значение отключает Kafka.
	KafkaBrokers        string `env:"KAFKA_BROKERS"`
	KafkaLifecycleTopic string `env:"KAFKA_LIFECYCLE_TOPIC"`
	KafkaOutboxTopic    string `env:"KAFKA_OUTBOX_TOPIC"`
	KafkaDLQTopic       string `env:"KAFKA_DLQ_TOPIC"`
	KafkaPaymentsTopic  string `env:"KAFKA_PAYMENTS_TOPIC"`
	KafkaConsumerGroup  string `env:"KAFKA_CONSUMER_GROUP"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS"`
	OutboxRetryDelay   time.Duration `env:"OUTBOX_RETRY_DELAY"`

	IdempotencyTTL              time.Duration `env:"IDEMPOTENCY_TTL"`
	IdempotencyCleanupInterval  time.Duration `env:"IDEMPOTENCY_CLEANUP_INTERVAL"`
	IdempotencyCleanupBatchSize int           `env:"IDEMPOTENCY_CLEANUP_BATCH_SIZE"`

	EscrowReleaseInterval  time.Duration `env:"ESCROW_RELEASE_INTERVAL"`
	EscrowReleaseBatchSize int           `env:"ESCROW_RELEASE_BATCH_SIZE"`

	Currency            string        `env:"CURRENCY"`
	ServiceFeeBps       int64         `env:"SERVICE_FEE_BPS"`
	DeliveryFeeMinor    int64         `env:"DELIVERY_FEE_MINOR"`
	SellerCommissionBps int64         `env:"SELLER_COMMISSION_BPS"`
	EscrowHold          time.Duration `env:"ESCROW_HOLD"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	pricing := domain.DefaultPricingConfig()
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		LoginPath:   "/login",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  10,
		OutboxRetryDelay:   time.Second,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		EscrowReleaseInterval:  time.Minute,
		EscrowReleaseBatchSize: 100,

		Currency:            pricing.Currency,
		ServiceFeeBps:       pricing.ServiceFeeBps,
		DeliveryFeeMinor:    pricing.DeliveryFeeMinor,
		SellerCommissionBps: pricing.SellerCommissionBps,
		EscrowHold:          pricing.EscrowHold,

		ShutdownTimeout: 5 * time.Second,
	}
}

// LoadConfig читает .env (если он есть), затем переменные окружения поверх DefaultConfig.
func LoadConfig(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("postgres storage requires CAMPUSMART_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if c.ServiceFeeBps < 0 || c.DeliveryFeeMinor < 0 || c.SellerCommissionBps < 0 {
		return errors.New("fees must not be negative")
	}
	if c.EscrowHold < 0 {
		return errors.New("escrow hold must not be negative")
	}
	return nil
}

// Pricing собирает тарифы из настроек.
func (c Config) Pricing() domain.PricingConfig {
	pricing := domain.PricingConfig{
		Currency:            c.Currency,
		ServiceFeeBps:       c.ServiceFeeBps,
		DeliveryFeeMinor:    c.DeliveryFeeMinor,
		SellerCommissionBps: c.SellerCommissionBps,
		EscrowHold:          c.EscrowHold,
	}
	if pricing.Currency == "" {
		pricing.Currency = domain.DefaultCurrency
	}
	if pricing.EscrowHold == 0 {
		pricing.EscrowHold = domain.DefaultEscrowHold
	}
	return pricing
}

// Brokers возвращает список брокеров Kafka.
func (c Config) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
