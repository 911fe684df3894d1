// Package bootstrap wires the core services from a Config. The HTTP server
// and both lambdas build their dependencies through it.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/chris/coin-settlement/pkg/audit"
	"github.com/chris/coin-settlement/pkg/config"
	"github.com/chris/coin-settlement/pkg/entitlement"
	"github.com/chris/coin-settlement/pkg/ledger"
	"github.com/chris/coin-settlement/pkg/metrics"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/payments"
	"github.com/chris/coin-settlement/pkg/scheduler"
	"github.com/chris/coin-settlement/pkg/settlement"
	"github.com/chris/coin-settlement/pkg/storage"
	dydbstore "github.com/chris/coin-settlement/pkg/storage/dynamodb"
	"github.com/chris/coin-settlement/pkg/storage/memory"
	"github.com/chris/coin-settlement/pkg/storage/postgres"
	rediscache "github.com/chris/coin-settlement/pkg/storage/redis"
	"github.com/prometheus/client_golang/prometheus"
)

// Store is everything the core persists.
type Store interface {
	storage.Storage
	storage.CertificationStore
}

type App struct {
	// Config is the configuration the App was built with. Connections and
	// the processor are fixed at build time.
	Config *config.Config
	// Settings serves the tunables read per call: exam policy and free
	// allotments. Reload refreshes it.
	Settings    *config.Holder
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Store       Store
	Ledger      *ledger.Service
	Gateway     *payments.Gateway
	Coordinator *settlement.Coordinator
	Gate        *entitlement.Gate
	// Scheduler is nil when no queue is configured.
	Scheduler scheduler.Scheduler

	closers []func()
}

// New builds the App. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	return NewWithHolder(ctx, config.NewHolder(cfg, nil), logger, reg)
}

// NewWithHolder builds the App from the holder's current Config. The exam
// policy and the free allotment follow later refreshes of the holder.
func NewWithHolder(ctx context.Context, holder *config.Holder, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := holder.Get(ctx)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Settings: holder, Logger: logger, Metrics: metrics.New(reg)}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	store, err := a.openStore(ctx, loadAWS)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	var cache ledger.BalanceCache
	if cfg.RedisAddr != "" {
		client, err := rediscache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { client.Close() })
		cache = rediscache.NewBalanceCache(client, cfg.RedisBalanceTTL)
	}

	sinks := []audit.Emitter{audit.LogSink{Logger: logger}}
	if len(cfg.KafkaBrokers) > 0 {
		sink := audit.NewKafkaSink(audit.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaAuditTopic, logger), logger)
		a.closers = append(a.closers, func() {
			if err := sink.Close(); err != nil {
				logger.Error("failed to close audit writer", "error", err)
			}
		})
		sinks = append(sinks, sink)
	}
	emitter := audit.Fanout{Sinks: sinks, Metrics: a.Metrics}

	a.Ledger = ledger.New(store, ledger.Options{
		AllotmentSource: func(ctx context.Context) models.Balance {
			return a.current(ctx).FreeAllotment()
		},
		Cache:   cache,
		Metrics: a.Metrics,
		Logger:  logger,
	})

	a.Gateway = payments.NewGateway(payments.DefaultRegistry(), payments.Settings{
		Processor:    cfg.Processor,
		BaseURL:      cfg.ProcessorBaseURL,
		APIKey:       cfg.ProcessorAPIKey,
		ClientID:     cfg.ProcessorClientID,
		ClientSecret: cfg.ProcessorClientSecret,
	},
		payments.WithTimeout(cfg.ProviderTimeout),
		payments.WithStatusRetries(cfg.StatusRetries),
		payments.WithMetrics(a.Metrics),
		payments.WithLogger(logger),
	)

	a.Coordinator = settlement.NewCoordinator(a.Ledger, store, a.Gateway, settlement.Options{
		Audit:   emitter,
		Metrics: a.Metrics,
		Logger:  logger,
	})

	a.Gate = entitlement.NewGate(a.Ledger, store, entitlement.Options{
		Policy: func(ctx context.Context) entitlement.Policy {
			c := a.current(ctx)
			return entitlement.Policy{
				AttemptCost:         c.ExamAttemptCost,
				Cooldown:            c.ExamCooldown,
				CertificateValidity: c.CertificateValidity,
			}
		},
		Audit:   emitter,
		Metrics: a.Metrics,
		Logger:  logger,
	})

	if cfg.SQSQueueURL != "" {
		c, err := loadAWS()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Scheduler = scheduler.NewSQSScheduler(sqs.NewFromConfig(c), cfg.SQSQueueURL)
	}

	return a, nil
}

// current returns the holder's Config, or the build-time Config when the
// holder cannot load one.
func (a *App) current(ctx context.Context) *config.Config {
	cfg, err := a.Settings.Get(ctx)
	if err != nil {
		a.Logger.Warn("failed to read settings, using startup config", "error", err)
		return a.Config
	}
	return cfg
}

// Reload refreshes Settings. A failed reload keeps the previous values.
func (a *App) Reload(ctx context.Context) error {
	cfg, err := a.Settings.Refresh(ctx)
	if err != nil {
		a.Logger.Error("failed to reload settings", "error", err)
		return err
	}
	a.Logger.Info("settings reloaded",
		"exam_attempt_cost", cfg.ExamAttemptCost,
		"exam_cooldown", cfg.ExamCooldown,
		"free_allotment", cfg.FreeAllotment())
	return nil
}

func (a *App) openStore(ctx context.Context, loadAWS func() (aws.Config, error)) (Store, error) {
	cfg := a.Config
	switch cfg.StorageBackend {
	case config.BackendDynamoDB:
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return dydbstore.New(dynamodb.NewFromConfig(c), dydbstore.Tables{
			Balances:       cfg.BalancesTable,
			Ledger:         cfg.LedgerTable,
			Purchases:      cfg.PurchasesTable,
			Items:          cfg.ItemsTable,
			Intents:        cfg.IntentsTable,
			Certifications: cfg.CertificationsTable,
		}), nil
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		store := postgres.New(pool, a.Logger)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendMemory:
		a.Logger.Warn("using in-memory storage, balances will not survive a restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
