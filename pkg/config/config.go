// Package config loads runtime settings from the environment (and a .env file
// when present) into a typed Config.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

type Config struct {
	HTTPPort       string `env:"HTTP_PORT" envDefault:"8080"`
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`

	Processor             string        `env:"PAYMENT_PROCESSOR" envDefault:"disabled"`
	ProcessorBaseURL      string        `env:"PAYMENT_PROCESSOR_BASE_URL"`
	ProcessorAPIKey       string        `env:"PAYMENT_PROCESSOR_API_KEY"`
	ProcessorClientID     string        `env:"PAYMENT_PROCESSOR_CLIENT_ID"`
	ProcessorClientSecret string        `env:"PAYMENT_PROCESSOR_CLIENT_SECRET"`
	ProviderTimeout       time.Duration `env:"PAYMENT_PROVIDER_TIMEOUT" envDefault:"10s"`
	StatusRetries         uint          `env:"PAYMENT_STATUS_RETRIES" envDefault:"3"`

	FreeAnalysis    int64 `env:"FREE_ANALYSIS_COINS" envDefault:"100"`
	FreeEnhancement int64 `env:"FREE_ENHANCEMENT_COINS" envDefault:"50"`
	FreeExam        int64 `env:"FREE_EXAM_COINS" envDefault:"0"`
	FreeExport      int64 `env:"FREE_EXPORT_COINS" envDefault:"0"`

	ExamAttemptCost     int64         `env:"EXAM_ATTEMPT_COST" envDefault:"10"`
	ExamCooldown        time.Duration `env:"EXAM_COOLDOWN" envDefault:"24h"`
	CertificateValidity time.Duration `env:"CERTIFICATE_VALIDITY" envDefault:"8760h"`

	// CommissionRate is reported to sellers but not deducted at settlement.
	CommissionRate decimal.Decimal `env:"COMMISSION_RATE" envDefault:"0.20"`
	IntentMaxAge   time.Duration   `env:"INTENT_MAX_AGE" envDefault:"30m"`

	BalancesTable       string `env:"DYNAMODB_BALANCES_TABLE_NAME"`
	LedgerTable         string `env:"DYNAMODB_LEDGER_TABLE_NAME"`
	PurchasesTable      string `env:"DYNAMODB_PURCHASES_TABLE_NAME"`
	ItemsTable          string `env:"DYNAMODB_ITEMS_TABLE_NAME"`
	IntentsTable        string `env:"DYNAMODB_INTENTS_TABLE_NAME"`
	CertificationsTable string `env:"DYNAMODB_CERTIFICATIONS_TABLE_NAME"`

	PostgresDSN string `env:"POSTGRES_DSN"`

	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisBalanceTTL time.Duration `env:"REDIS_BALANCE_TTL" envDefault:"5m"`

	SQSQueueURL string `env:"SQS_QUEUE_URL"`

	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaAuditTopic string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"coin-audit"`
}

// FreeAllotment is the balance granted to a user on first observation.
func (c *Config) FreeAllotment() models.Balance {
	return models.Balance{
		Analysis:    c.FreeAnalysis,
		Enhancement: c.FreeEnhancement,
		Exam:        c.FreeExam,
		Export:      c.FreeExport,
	}
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	if c.FreeAnalysis < 0 || c.FreeEnhancement < 0 || c.FreeExam < 0 || c.FreeExport < 0 {
		return errors.New("free allotments must not be negative")
	}
	if c.ExamAttemptCost < 0 {
		return errors.New("exam attempt cost must not be negative")
	}
	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("commission rate %s out of range", c.CommissionRate)
	}
	switch c.StorageBackend {
	case BackendMemory:
	case BackendDynamoDB:
		if c.BalancesTable == "" || c.LedgerTable == "" || c.PurchasesTable == "" ||
			c.ItemsTable == "" || c.IntentsTable == "" || c.CertificationsTable == "" {
			return errors.New("one or more DynamoDB table name environment variables are not set")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN environment variable not set")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	return nil
}

// Load reads a .env file if one exists, then parses and validates the
// environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Loader produces a fresh Config.
type Loader func(ctx context.Context) (*Config, error)

// Holder keeps the current Config and reloads it on demand.
type Holder struct {
	mu     sync.RWMutex
	load   Loader
	cur    *Config
	loaded time.Time
}

// NewHolder returns a Holder primed with cfg. A nil load means Refresh
// re-reads the environment.
func NewHolder(cfg *Config, load Loader) *Holder {
	if load == nil {
		load = func(context.Context) (*Config, error) { return Load() }
	}
	h := &Holder{load: load, cur: cfg}
	if cfg != nil {
		h.loaded = time.Now()
	}
	return h
}

// Get returns the current Config, loading it if it was invalidated.
func (h *Holder) Get(ctx context.Context) (*Config, error) {
	h.mu.RLock()
	cur := h.cur
	h.mu.RUnlock()
	if cur != nil {
		return cur, nil
	}
	return h.Refresh(ctx)
}

// Refresh reloads the Config. On failure the previous value is kept.
func (h *Holder) Refresh(ctx context.Context) (*Config, error) {
	cfg, err := h.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reload config: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cur = cfg
	h.loaded = time.Now()
	return cfg, nil
}

// Invalidate drops the current value so the next Get reloads.
func (h *Holder) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cur = nil
}

// LoadedAt reports when the current value was loaded.
func (h *Holder) LoadedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loaded
}
