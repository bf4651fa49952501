package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	// database/sql drivers for every supported DB_DRIVER.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Skryldev/socialhub/auth"
	"github.com/Skryldev/socialhub/config"
	"github.com/Skryldev/socialhub/db"
	"github.com/Skryldev/socialhub/metrics"
	"github.com/Skryldev/socialhub/migrations"
	"github.com/Skryldev/socialhub/query"
	"github.com/Skryldev/socialhub/ratelimit"
	"github.com/Skryldev/socialhub/relay"
	"github.com/Skryldev/socialhub/repo"
	"github.com/Skryldev/socialhub/resource"
	"github.com/Skryldev/socialhub/router"
	"github.com/Skryldev/socialhub/telemetry"
	"github.com/Skryldev/socialhub/upload"
)

// App is the assembled process: storage, the resource handler and the relay.
type App struct {
	DB      *db.DB
	Metrics *metrics.Metrics
	Service *resource.Service
	// Handler serves the resource API, /files/, /metrics and /healthz.
	Handler http.Handler
	// Relay serves the websocket relay on its own listener.
	Relay *relay.Server

	closers []func(context.Context) error
	logger  *slog.Logger
}

// ─────────────────────────────────────────────────────────────────────────────
// Assembly
// ─────────────────────────────────────────────────────────────────────────────

// Build wires every component from cfg. The caller must Close the App.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{logger: logger}
	if err := app.build(ctx, cfg); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (app *App) build(ctx context.Context, cfg *config.Config) error {
	logger := app.logger
	tracing := cfg.OTLPEndpoint != ""
	if tracing {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: cfg.ServiceName,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    cfg.OTLPInsecure,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		app.closers = append(app.closers, shutdown)
	}

	app.Metrics = metrics.New()

	dsn, err := cfg.DB.DSN()
	if err != nil {
		return err
	}
	if cfg.AutoMigrate {
		if err := migrations.Up(cfg.DB.Driver, dsn, logger); err != nil {
			return err
		}
	}

	hooks := []db.Hook{
		db.NewLogHook(db.LogHookConfig{Logger: logger, SlowQueryThreshold: cfg.DB.SlowQuery}),
		db.NewMetricsHook(app.Metrics),
	}
	if tracing {
		hooks = append(hooks, db.NewTracingHook(telemetry.NewDBTracer(nil, telemetry.System(cfg.DB.Driver))))
	}
	app.DB, err = openDB(ctx, cfg.DB, dsn, hooks, logger)
	if err != nil {
		return err
	}
	app.closers = append(app.closers, func(context.Context) error { return app.DB.Close() })
	if err := app.Metrics.RegisterDBStats(app.DB.Raw(), cfg.DB.Driver); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	dialect := query.DialectFor(cfg.DB.Driver)
	opts := []auth.Option{auth.WithTokenTTL(cfg.TokenTTL), auth.WithLogger(logger)}
	if cfg.TokenIssuer != "" {
		opts = append(opts, auth.WithIssuer(cfg.TokenIssuer))
	}
	creds := auth.NewCredentialStore(repo.NewAccountRepo(app.DB, dialect), cfg.TokenSecret, opts...)

	cat, err := resource.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	files, err := upload.New(upload.Config{
		Dir:     cfg.UploadDir,
		BaseURL: strings.TrimRight(cfg.PublicBaseURL, "/") + "/files",
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	app.Service = resource.NewService(cat, resource.Deps{
		Store:   app.DB,
		Dialect: dialect,
		Auth:    creds,
		Uploads: files,
		Info:    resource.Info{Name: cfg.ServiceName, Version: Version},
		Logger:  logger,
	})

	limiter, err := app.newLimiter(ctx, cfg)
	if err != nil {
		return err
	}

	app.Handler = router.New(router.Config{
		Endpoints:   app.Service,
		Metrics:     app.Metrics,
		Limiter:     limiter,
		Files:       files.Handler(),
		MaxUpload:   files.MaxRequestSize(),
		Ready:       app.DB.Ping,
		Origins:     cfg.Origins(),
		Tracing:     tracing,
		ServiceName: cfg.ServiceName,
		Logger:      logger,
	})

	app.Relay = relay.NewServer(relay.NewHub(logger), relay.ServerConfig{
		AllowedOrigins: cfg.Origins(),
		Logger:         logger,
	})
	return nil
}

// Close releases everything Build acquired, in reverse order.
func (app *App) Close(ctx context.Context) error {
	var first error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	app.closers = nil
	return first
}

// openDB opens the pool, retrying while the server is still coming up.
func openDB(ctx context.Context, c config.DB, dsn string, hooks []db.Hook, logger *slog.Logger) (*db.DB, error) {
	drv, err := db.LookupDriver(c.Driver)
	if err != nil {
		return nil, err
	}

	dcfg := db.Config{
		DSN:             dsn,
		DriverName:      drv.Name,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxOpenConns / 2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		DefaultTimeout:  c.QueryTimeout,
		Hooks:           hooks,
	}
	if drv.Family == "sqlite" {
		// SQLite allows a single writer per file.
		dcfg.MaxOpenConns, dcfg.MaxIdleConns = 1, 1
	}

	var database *db.DB
	attempt := 0
	err = db.WithRetry(ctx, db.RetryConfig{
		MaxAttempts: 5,
		Delay:       2 * time.Second,
		RetryOn:     func(error) bool { return true },
	}, func() error {
		attempt++
		var err error
		if database, err = db.Open(dcfg); err != nil {
			logger.Warn("database not reachable", "driver", drv.Name, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return database, nil
}

// newLimiter returns nil when rate limiting is disabled. With REDIS_URL set
// the window is shared across instances and the in-process bucket only
// answers while Redis is down.
func (app *App) newLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, error) {
	if !cfg.RateLimitEnabled() {
		return nil, nil
	}
	local := ratelimit.NewTokenBucket(cfg.RateLimitRPS, cfg.RateLimitBurst)
	if cfg.RedisURL == "" {
		return local, nil
	}

	client, err := ratelimit.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func(context.Context) error { return client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		app.logger.Warn("redis not reachable, limiting in-process until it is", "error", err)
	}

	limit := cfg.RateLimitBurst
	if limit <= 0 {
		limit = int(cfg.RateLimitRPS)
	}
	return ratelimit.NewRedis(client, ratelimit.RedisConfig{
		Limit:    limit,
		Window:   time.Second,
		Fallback: local,
		Logger:   app.logger,
	}), nil
}
