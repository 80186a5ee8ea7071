// Package runtime assembles the configured stores, caches and services
// behind the HTTP server and owns their shutdown.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/audit_layer/internal/app"
	"github.com/R3E-Network/audit_layer/internal/app/httpapi"
	"github.com/R3E-Network/audit_layer/internal/app/services/accessgate"
	airdropsvc "github.com/R3E-Network/audit_layer/internal/app/services/airdrop"
	"github.com/R3E-Network/audit_layer/internal/app/services/lifecycle"
	"github.com/R3E-Network/audit_layer/internal/app/storage"
	"github.com/R3E-Network/audit_layer/internal/app/storage/memory"
	"github.com/R3E-Network/audit_layer/internal/app/storage/postgres"
	supabasestore "github.com/R3E-Network/audit_layer/internal/app/storage/supabase"
	"github.com/R3E-Network/audit_layer/internal/config"
	"github.com/R3E-Network/audit_layer/internal/httputil"
	"github.com/R3E-Network/audit_layer/internal/platform/migrations"
	"github.com/R3E-Network/audit_layer/internal/wallet"
	"github.com/R3E-Network/audit_layer/pkg/logger"
	"github.com/R3E-Network/audit_layer/supabase/client"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	api        *httpapi.Server
	httpServer *http.Server
	db         *sql.DB
	redis      *redis.Client
}

// NewApplication loads configuration and constructs the application.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return New(cfg)
}

// New constructs the application from an already loaded configuration.
func New(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	stores, seeder, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}
	a := &Application{cfg: cfg, log: log, db: db}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := seed(ctx, seeder, cfg.SeedData); err != nil {
		a.closeResources()
		return nil, fmt.Errorf("seed registries: %w", err)
	}

	cache, redisClient := buildGrantCache(cfg.Redis, log)
	a.redis = redisClient

	opts := app.Options{
		ViewReportCost: cfg.Credits.ViewReportCost,
		GrantCache:     cache,
		Verifier:       wallet.VerifierFor(cfg.Airdrop.VerifierMode),
		Challenges:     buildChallengeStore(redisClient),
		ChallengeTTL:   cfg.Airdrop.ChallengeTTL,
		StatsSchedule:  cfg.Stats.Schedule,
		DisableStats:   !cfg.Stats.Enabled,
	}
	if gen := buildGenerator(cfg.Generator); gen != nil {
		opts.Generator = gen
	}

	application, err := app.New(stores, opts, log.Named("app"))
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.app = application

	api, err := httpapi.NewServer(application, httpapi.Config{
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		RequestTimeout: cfg.Server.RequestTimeout,
		RateLimitRPS:   cfg.Auth.RateLimitRPS,
		RateLimitBurst: cfg.Auth.RateLimitBurst,
		CORSOrigins:    cfg.Server.CORSOrigins,
		AuditLogPath:   cfg.AuditLog.Path,
	}, log)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.api = api
	if err := application.Attach(api.Janitor(5 * time.Minute)); err != nil {
		a.closeResources()
		return nil, err
	}
	a.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Handler exposes the assembled HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.api
}

// Run starts the services and the HTTP server and blocks until the context
// is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server, then the services, then closes the
// database and cache connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop services: %w", err))
	}
	a.closeResources()
	return errors.Join(errs...)
}

func (a *Application) closeResources() {
	if a.api != nil {
		if err := a.api.Close(); err != nil {
			a.log.WithError(err).Warn("error closing curator audit log")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
}

func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, storage.Seeder, *sql.DB, error) {
	switch cfg.Database.Backend {
	case config.BackendPostgres:
		db, err := openDatabase(cfg.Database)
		if err != nil {
			return app.Stores{}, nil, nil, err
		}
		if cfg.Database.Migrate {
			if err := migrations.Up(db); err != nil {
				db.Close()
				return app.Stores{}, nil, nil, err
			}
		}
		store := postgres.New(db)
		log.WithField("backend", cfg.Database.Backend).Info("storage configured")
		return app.Stores{Credits: store, Permissions: store, Audit: store, Airdrop: store}, store, db, nil

	case config.BackendSupabase:
		c, err := client.New(client.Config{
			URL:    cfg.Supabase.URL,
			APIKey: cfg.Supabase.ServiceKey,
			Schema: cfg.Supabase.Schema,
		})
		if err != nil {
			return app.Stores{}, nil, nil, fmt.Errorf("supabase client: %w", err)
		}
		store := supabasestore.New(c)
		log.WithField("backend", cfg.Database.Backend).Info("storage configured")
		return app.Stores{Credits: store, Permissions: store, Audit: store, Airdrop: store}, store, nil, nil

	case config.BackendMemory, "":
		store := memory.New()
		log.WithField("backend", config.BackendMemory).Warn("using in-memory storage; data is lost on restart")
		return app.Stores{Credits: store, Permissions: store, Audit: store, Airdrop: store}, store, nil, nil
	}
	return app.Stores{}, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Database.Backend)
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func seed(ctx context.Context, seeder storage.Seeder, data config.SeedFile) error {
	if seeder == nil {
		return nil
	}
	if len(data.Whitelist) > 0 {
		if err := seeder.SeedWhitelist(ctx, data.Whitelist); err != nil {
			return fmt.Errorf("whitelist: %w", err)
		}
	}
	if len(data.Allocations) > 0 {
		if err := seeder.SeedAllocations(ctx, data.Allocations); err != nil {
			return fmt.Errorf("allocations: %w", err)
		}
	}
	return nil
}

// buildGrantCache shares view grants through Redis when configured so that
// every replica honours one charge per session.
func buildGrantCache(cfg config.RedisConfig, log *logger.Logger) (accessgate.GrantCache, *redis.Client) {
	if cfg.Addr == "" {
		return accessgate.NewMemoryCache(cfg.GrantTTL), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	log.WithField("addr", cfg.Addr).Info("view grants stored in redis")
	return accessgate.NewRedisCache(rdb, cfg.GrantTTL), rdb
}

// buildChallengeStore keeps airdrop claim nonces next to the view grants.
func buildChallengeStore(rdb *redis.Client) airdropsvc.ChallengeStore {
	if rdb == nil {
		return airdropsvc.NewMemoryChallenges()
	}
	return airdropsvc.NewRedisChallenges(rdb)
}

func buildGenerator(cfg config.GeneratorConfig) lifecycle.ContentGenerator {
	if cfg.URL == "" {
		return nil
	}
	c := httputil.NewServiceClient(httputil.ServiceClientConfig{
		BaseURL: cfg.URL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
	})
	return lifecycle.NewHTTPGenerator(c, "")
}
