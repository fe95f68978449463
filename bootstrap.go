package cartsync

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"goflare.io/cartsync/cart"
	"goflare.io/cartsync/config"
	"goflare.io/cartsync/driver"
	"goflare.io/cartsync/event"
	"goflare.io/cartsync/models/enum"
	"goflare.io/cartsync/order"
	"goflare.io/cartsync/pricing"
	"goflare.io/cartsync/remote"
	"goflare.io/cartsync/stock"
)

// App is a fully wired session together with the connections it owns.
type App struct {
	Service Service
	Session *Session
	Catalog *remote.CachedCatalog

	closers []func()
	logger  *zap.Logger
}

// Bootstrap connects every configured backend and builds a Service for
// sessionID. Postgres and NATS are skipped when not configured.
func Bootstrap(ctx context.Context, cfg *config.Config, sessionID string, logger *zap.Logger) (*App, error) {
	app := &App{logger: logger}

	taxRules, shipping, err := cfg.Pricing.Rules()
	if err != nil {
		return nil, fmt.Errorf("invalid pricing config: %w", err)
	}
	calculator, err := pricing.NewCalculator(taxRules, shipping)
	if err != nil {
		return nil, err
	}

	redisClient, err := driver.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() { _ = redisClient.Close() })

	session := NewSession(sessionID)
	app.Session = session

	namespace := fmt.Sprintf("%s:%s", cfg.Cart.Namespace, session.ID())
	local := cart.NewLocalStore(redisClient, namespace, cfg.Cart.TTL, logger)

	client := remote.NewClient(remote.Config{
		BaseURL:     cfg.Remote.BaseURL,
		Timeout:     cfg.Remote.Timeout,
		MaxFailures: cfg.Remote.MaxFailures,
		OpenTimeout: cfg.Remote.OpenTimeout,
	}, &http.Client{}, session, logger)

	catalog, err := remote.NewCachedCatalog(client, cfg.Catalog.TTL, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Catalog = catalog
	app.closers = append(app.closers, catalog.Close)

	deps := Deps{
		Session:    session,
		Local:      local,
		Gateway:    client,
		Catalog:    catalog,
		Calculator: calculator,
		Guard:      stock.NewGuard(logger),
		Logger:     logger,
	}

	if cfg.Postgres.DSN != "" {
		pool, err := driver.ConnectSQL(ctx, cfg.Postgres.DSN)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, pool.Close)

		if err = order.Migrate(ctx, pool); err != nil {
			app.Close()
			return nil, err
		}
		repo := order.NewRepository(pool, logger)
		deps.Receipts = order.NewService(repo, driver.NewTransactionManager(pool, logger), logger)
	} else {
		logger.Info("Postgres not configured, receipt history disabled")
	}

	if cfg.NATS.URL != "" {
		conn, err := driver.ConnectNATS(cfg.NATS.URL, cfg.NATS.ConnectTimeout, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, func() {
			if err := conn.Drain(); err != nil {
				logger.Error("Error draining NATS connection", zap.Error(err))
			}
		})
		deps.Publisher = event.NewPublisher(conn, cfg.NATS.SubjectPrefix, logger)
	} else {
		logger.Info("NATS not configured, cart events disabled")
	}

	svc, err := NewService(deps, Options{
		Currency:        cfg.Cart.CurrencyCode(),
		LogoutPolicy:    enum.LogoutPolicy(cfg.Cart.LogoutPolicy),
		OverStockPolicy: enum.OverStockPolicy(cfg.Cart.OverStockPolicy),
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Service = svc

	return app, nil
}

// Close drains the mutation queue first, then releases connections in
// reverse order of creation.
func (a *App) Close() {
	if a.Service != nil {
		a.Service.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
