package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/backoffice/internal/arap"
	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/internal/cash"
	"github.com/odyssey-erp/backoffice/internal/catalog"
	"github.com/odyssey-erp/backoffice/internal/documents"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/payments"
	"github.com/odyssey-erp/backoffice/internal/platform/cache"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/platform/lock"
	"github.com/odyssey-erp/backoffice/internal/sequence"
	"github.com/odyssey-erp/backoffice/internal/store"
	"github.com/odyssey-erp/backoffice/internal/tenant"
	"github.com/odyssey-erp/backoffice/jobs"
)

// Container holds the wired engines shared by the API and the worker.
type Container struct {
	Config    *Config
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Store     store.Store
	Directory *tenant.MemoryDirectory
	Catalog   *catalog.Memory
	Guard     *tenant.Guard
	Locker    lock.Locker
	Audit     audit.Sink
	Sequences *sequence.Allocator
	Inventory *inventory.Service
	Cash      *cash.Service
	Balances  *arap.Service
	Documents *documents.Service
	Payments  *payments.Service

	queue   *jobs.Client
	closers []func()
}

// Build wires every engine from configuration. Close releases what Build
// opened.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (_ *Container, err error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Directory = tenant.NewMemoryDirectory()
	c.Catalog = catalog.NewMemory()
	if cfg.SeedPath != "" {
		seed, err := catalog.LoadSeed(cfg.SeedPath)
		if err != nil {
			return nil, err
		}
		if err := seed.Apply(c.Catalog, c.Directory); err != nil {
			return nil, err
		}
		logger.Info("seed loaded", slog.String("path", cfg.SeedPath), slog.Int("tenants", len(seed.Tenants)))
	}

	opts := store.Options{MaxRetries: cfg.StoreMaxRetries}
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, err
		}
		c.Pool = pool
		c.closers = append(c.closers, pool.Close)
		pg := store.NewPostgres(pool, opts)
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("app: migrate store: %w", err)
		}
		c.Store = pg
	default:
		c.Store = store.NewMemory(opts)
	}

	if cfg.LockDriver == "redis" || cfg.AuditSink == "queue" {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		c.Redis = client
		c.closers = append(c.closers, func() { _ = client.Close() })
	}
	if cfg.LockDriver == "redis" {
		c.Locker = lock.NewRedis(c.Redis, lock.RedisConfig{TTL: cfg.LockTTL, Wait: cfg.LockWait})
	} else {
		c.Locker = lock.NewLocal(cfg.LockWait)
	}

	var sink audit.Sink = audit.NewLogSink(logger)
	if cfg.AuditSink == "queue" {
		opt, err := jobs.RedisOpt(cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		client, err := jobs.NewClient(opt)
		if err != nil {
			return nil, err
		}
		c.queue = client
		c.closers = append(c.closers, func() { _ = client.Close() })
		sink = audit.NewQueueSink(client, logger)
	}
	async := audit.NewAsync(sink, cfg.AuditBuffer, logger)
	c.closers = append(c.closers, async.Close)
	c.Audit = async

	policy, err := payments.ParsePolicy(cfg.PaymentAllocation)
	if err != nil {
		return nil, err
	}

	c.Guard = tenant.NewGuard(c.Store, c.Directory, logger, c.Metrics.IsolationViolation)
	c.Sequences = sequence.NewAllocator(c.Guard, c.Locker, logger)
	c.Inventory = inventory.NewService(c.Guard, c.Catalog, c.Audit, logger, inventory.ServiceConfig{EnforceNonNegative: cfg.EnforceNonNegativeStock})
	c.Cash = cash.NewService(c.Guard, c.Locker, c.Audit, logger)
	c.Balances = arap.NewService(c.Guard, c.Locker, c.Audit, logger)
	c.Documents = documents.NewService(c.Guard, c.Catalog, c.Sequences, c.Inventory, c.Balances, c.Locker, c.Audit, logger)
	c.Payments = payments.NewService(c.Guard, c.Cash, c.Balances, c.Documents, c.Locker, c.Audit, logger, policy)
	return c, nil
}

// Router builds the HTTP surface over the container's engines.
func (c *Container) Router() http.Handler {
	params := RouterParams{
		Logger:           c.Logger,
		Config:           c.Config,
		SalesHandler:     documents.NewHandler(c.Logger, c.Documents, documents.KindSales),
		PurchaseHandler:  documents.NewHandler(c.Logger, c.Documents, documents.KindPurchase),
		InventoryHandler: inventory.NewHandler(c.Logger, c.Inventory),
		CashHandler:      cash.NewHandler(c.Logger, c.Cash),
		ARAPHandler:      arap.NewHandler(c.Logger, c.Balances),
		PaymentsHandler:  payments.NewHandler(c.Logger, c.Payments),
		SequenceHandler:  sequence.NewHandler(c.Logger, c.Sequences),
		Metrics:          c.Metrics,
	}
	if c.Pool != nil {
		params.AuditHandler = audit.NewHandler(audit.NewWriter(c.Pool), c.Logger)
	}
	if c.Redis != nil {
		if opt, err := jobs.RedisOpt(c.Config.RedisAddr); err == nil {
			inspector := asynq.NewInspector(opt)
			c.closers = append(c.closers, func() { _ = inspector.Close() })
			params.JobHandler = jobs.NewHandler(inspector, c.Logger)
		}
	}
	return NewRouter(params)
}

// Close releases resources in reverse acquisition order.
func (c *Container) Close() {
	if c == nil {
		return
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
