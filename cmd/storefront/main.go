package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	cartredis "github.com/jcmexdev/storefront/internal/cart/adapters/redis"
	cartapp "github.com/jcmexdev/storefront/internal/cart/app"
	catalogsql "github.com/jcmexdev/storefront/internal/catalog/adapters/sqlstore"
	catalogdomain "github.com/jcmexdev/storefront/internal/catalog/domain"
	"github.com/jcmexdev/storefront/internal/checkout"
	checkoutsql "github.com/jcmexdev/storefront/internal/checkout/adapters/sqlstore"
	logsql "github.com/jcmexdev/storefront/internal/checkout/checkoutlog/sqlstore"
	"github.com/jcmexdev/storefront/internal/config"
	"github.com/jcmexdev/storefront/internal/inventory"
	ordersql "github.com/jcmexdev/storefront/internal/order/adapters/sqlstore"
	paymentsql "github.com/jcmexdev/storefront/internal/payment/adapters/sqlstore"
	paymentapp "github.com/jcmexdev/storefront/internal/payment/app"
	"github.com/jcmexdev/storefront/internal/pkg/cache"
	"github.com/jcmexdev/storefront/internal/pkg/storage"
	"github.com/jcmexdev/storefront/internal/pkg/telemetry"
	"github.com/jcmexdev/storefront/internal/storefront/infra/httpx"
	"github.com/jcmexdev/storefront/internal/storefront/infra/httpx/middlewares"
)

func main() {
	app := &cli.App{
		Name:  "storefront",
		Usage: "online storefront: catalog, cart, checkout and orders",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply pending database migrations",
				Action: migrate,
			},
			{
				Name:   "seed",
				Usage:  "insert sample products",
				Action: seed,
			},
			{
				Name:  "token",
				Usage: "issue a signed bearer token for local testing",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true, Usage: "user id (sub claim)"},
					&cli.StringFlag{Name: "role", Value: "customer", Usage: "customer or admin"},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: token,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("storefront failed", "error", err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	telemetry.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Environment,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close(sessions) }()

	catalog := catalogsql.NewRepository(db)
	ledger := inventory.NewLedger(db)
	orders := ordersql.NewRepository(db)
	payments := paymentsql.NewRepository(db)

	svc, err := checkout.NewService(checkout.Dependencies{
		Catalog:        catalog,
		Stock:          ledger,
		Orders:         orders,
		Gateway:        paymentapp.NewGateway(),
		Committer:      checkoutsql.NewCommitter(db, orders, ledger, payments),
		Cache:          sessions,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Log:            logsql.NewRepository(db),
	})
	if err != nil {
		return err
	}

	handler := httpx.NewHandler(
		catalog,
		catalog,
		cartapp.NewService(catalog, ledger),
		cartredis.NewStore(sessions, cfg.SessionTTL),
		svc,
		db,
	)
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpx.NewRouter(handler, httpx.RouterConfig{
			JWTSecret:     []byte(cfg.JWTSecret),
			SessionTTL:    cfg.SessionTTL,
			SecureCookies: cfg.Environment != "local",
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("storefront listening", "addr", cfg.HTTPAddr, "database", cfg.DatabaseDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func migrate(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	telemetry.InitLogger(cfg.LogLevel)

	db, err := openDB(c.Context, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("migrations applied", "database", cfg.DatabaseDriver)
	return nil
}

var sampleProducts = []catalogdomain.Product{
	{Name: "Ceramic Mug", Description: "350 ml, dishwasher safe", Price: decimal.RequireFromString("12.50"), Stock: 40, ImageRef: "mug.jpg"},
	{Name: "Serving Bowl", Description: "Hand glazed stoneware", Price: decimal.RequireFromString("34.00"), Stock: 15, ImageRef: "bowl.jpg"},
	{Name: "Linen Napkins", Description: "Set of four", Price: decimal.RequireFromString("18.90"), Stock: 25, ImageRef: "napkins.jpg"},
	{Name: "Teapot", Description: "1 l, cast iron", Price: decimal.RequireFromString("59.00"), Stock: 6, ImageRef: "teapot.jpg"},
}

func seed(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	telemetry.InitLogger(cfg.LogLevel)

	db, err := openDB(c.Context, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	catalog := catalogsql.NewRepository(db)
	for _, p := range sampleProducts {
		p.Active = true
		if err := catalog.Create(c.Context, &p); err != nil {
			return err
		}
		slog.Info("product created", "id", p.ID, "name", p.Name, "stock", p.Stock)
	}
	return nil
}

func token(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	raw, err := middlewares.IssueToken([]byte(cfg.JWTSecret), c.String("user"), c.String("role"), c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, raw)
	return nil
}

// openDB connects and brings the schema up to date.
func openDB(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	if cfg.DatabaseDriver == storage.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabaseDSN), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// openCache returns the redis cache when REDIS_ADDR is set and an
// in-process one otherwise.
func openCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		slog.Warn("REDIS_ADDR not set, sessions are kept in memory")
		return cache.NewMemoryCache(cfg.ServiceName), nil
	}
	c := cache.NewRedisCache(cfg.RedisAddr, cfg.ServiceName)
	if err := cache.Ping(ctx, c); err != nil {
		_ = cache.Close(c)
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return c, nil
}
