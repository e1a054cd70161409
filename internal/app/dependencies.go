package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
	"github.com/vladislavdragonenkov/stockflow/internal/health"
	"github.com/vladislavdragonenkov/stockflow/internal/metrics"
	"github.com/vladislavdragonenkov/stockflow/internal/service/cart"
	"github.com/vladislavdragonenkov/stockflow/internal/service/checkout"
	"github.com/vladislavdragonenkov/stockflow/internal/service/inventory"
	"github.com/vladislavdragonenkov/stockflow/internal/service/order"
	"github.com/vladislavdragonenkov/stockflow/internal/service/payment"
	"github.com/vladislavdragonenkov/stockflow/internal/service/resilience"
	"github.com/vladislavdragonenkov/stockflow/internal/service/tokenization"
	"github.com/vladislavdragonenkov/stockflow/internal/storage/memory"
	"github.com/vladislavdragonenkov/stockflow/internal/storage/postgres"
	redisvault "github.com/vladislavdragonenkov/stockflow/internal/storage/redis"
	"github.com/vladislavdragonenkov/stockflow/internal/version"
)

const (
	gatewayBreakerFailures = 5
	gatewayBreakerReset    = 30 * time.Second
)

// Dependencies содержит хранилища и сервисы приложения.
type Dependencies struct {
	Tx    domain.Transactor
	Repos domain.Repositories

	Carts   domain.CartRepository
	Catalog domain.CatalogRepository
	Buyers  domain.BuyerRepository
	Methods domain.PaymentMethodRepository
	Vault   domain.TokenVault

	Inventory *inventory.Engine
	Cart      *cart.Service
	Checkout  *checkout.Orchestrator
	Orders    *order.Service
	Payments  *payment.Service
	Tokens    *tokenization.Service

	Health *health.Handler
	Logger *log.Entry

	closers []func() error
}

// NewDependencies открывает хранилища по cfg и собирает сервисы.
// При ошибке уже открытые ресурсы закрываются.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *Dependencies, err error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps = &Dependencies{
		Logger: logger,
		Health: health.NewHandler(version.Current().Version, cfg.HealthCheckTimeout),
	}
	defer func() {
		if err != nil {
			_ = deps.Close()
			deps = nil
		}
	}()

	if err = deps.initStorage(ctx, cfg); err != nil {
		return deps, err
	}
	if err = deps.initVault(ctx, cfg); err != nil {
		return deps, err
	}
	deps.initServices(cfg)
	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg Config) error {
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithLockTimeout(cfg.StockLockTimeout))
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		d.closers = append(d.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
		}

		d.Tx = store
		d.Repos = store.Repositories()
		d.Carts = postgres.NewCartRepository(store)
		d.Catalog = postgres.NewCatalogRepository(store)
		d.Buyers = postgres.NewBuyerRepository(store)
		d.Methods = postgres.NewPaymentMethodRepository(store)
		d.Health.RegisterChecker("storage", health.NewChecker("storage", store.Ping))
		d.Logger.Info("storage: postgres")
	case StorageDriverMemory, "":
		store := memory.NewStore(cfg.StockLockTimeout)
		d.Tx = store
		d.Repos = domain.Repositories{
			Stock:    store.Stock(),
			Orders:   store.Orders(),
			Payments: store.Payments(),
			Audit:    store.Audit(),
			Outbox:   store.Outbox(),
		}
		d.Carts = memory.NewCartRepository()
		d.Catalog = memory.NewCatalogRepository()
		d.Buyers = memory.NewBuyerRepository()
		d.Methods = memory.NewPaymentMethodRepository()
		d.Health.RegisterChecker("storage", health.NewChecker("storage", store.Ping))
		d.Logger.Info("storage: memory")
	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
	return nil
}

func (d *Dependencies) initVault(ctx context.Context, cfg Config) error {
	switch cfg.VaultDriver {
	case VaultDriverRedis:
		vault, err := redisvault.Open(ctx, redisvault.Config{
			URL:      cfg.RedisURL,
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("open redis vault: %w", err)
		}
		d.closers = append(d.closers, vault.Close)
		d.Vault = vault
		d.Health.RegisterChecker("redis", health.NewOptionalChecker("redis", vault.Ping))
	case VaultDriverMemory, "":
		d.Vault = memory.NewTokenVault()
	default:
		return fmt.Errorf("unsupported vault driver %q", cfg.VaultDriver)
	}
	return nil
}

func (d *Dependencies) initServices(cfg Config) {
	d.Inventory = inventory.NewEngine(d.Repos.Stock, d.Tx,
		inventory.WithLogger(d.Logger.WithField("component", "inventory")),
		inventory.WithMetrics(metrics.NewStockMetrics()),
	)
	d.Cart = cart.NewService(d.Carts, d.Catalog, d.Inventory, d.Logger.WithField("component", "cart"))
	d.Checkout = checkout.NewOrchestrator(checkout.Deps{
		Tx:        d.Tx,
		Buyers:    d.Buyers,
		Methods:   d.Methods,
		Carts:     d.Carts,
		Catalog:   d.Catalog,
		Inventory: d.Inventory,
	},
		checkout.WithLogger(d.Logger.WithField("component", "checkout")),
		checkout.WithMetrics(metrics.NewCheckoutMetrics()),
		checkout.WithTimeout(cfg.CheckoutTimeout),
		checkout.WithDefaultCurrency(cfg.DefaultCurrency),
	)

	transitions := metrics.NewTransitionMetrics()
	d.Orders = order.NewService(d.Tx, d.Repos.Orders,
		order.WithLogger(d.Logger.WithField("component", "order-service")),
		order.WithMetrics(transitions),
	)
	d.Tokens = tokenization.NewService(d.Vault,
		tokenization.WithTTL(cfg.CardTokenTTL),
		tokenization.WithServiceLogger(d.Logger.WithField("component", "tokenization")),
	)

	breaker := resilience.NewCircuitBreaker(gatewayBreakerFailures, gatewayBreakerReset, d.Logger.WithField("component", "gateway-breaker"))
	d.Payments = payment.NewService(d.Tx, d.Repos.Payments, d.Methods,
		payment.NewGuardedGateway(payment.NewSimulatedGateway(), breaker),
		payment.WithLogger(d.Logger.WithField("component", "payment-service")),
		payment.WithMetrics(transitions),
		payment.WithTokenResolver(d.Tokens),
	)
}

// AddCloser регистрирует ресурс, закрываемый в Close.
func (d *Dependencies) AddCloser(closeFn func() error) {
	d.closers = append(d.closers, closeFn)
}

// Close закрывает ресурсы в обратном порядке открытия.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
