package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/valinor-ai/gatehouse/internal/audit"
	"github.com/valinor-ai/gatehouse/internal/auth"
	"github.com/valinor-ai/gatehouse/internal/entitlement"
	"github.com/valinor-ai/gatehouse/internal/membership"
	"github.com/valinor-ai/gatehouse/internal/platform/config"
	"github.com/valinor-ai/gatehouse/internal/platform/database"
	"github.com/valinor-ai/gatehouse/internal/platform/server"
	"github.com/valinor-ai/gatehouse/internal/platform/sideeffect"
	"github.com/valinor-ai/gatehouse/internal/platform/telemetry"
	"github.com/valinor-ai/gatehouse/internal/scope"
	"github.com/valinor-ai/gatehouse/internal/tenant"
	"github.com/valinor-ai/gatehouse/internal/usage"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logging
	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	slog.Info("gatehouse starting",
		"port", cfg.Server.Port,
		"usage_backend", cfg.Usage.Backend,
		"usage_strict", cfg.Usage.Strict,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, rdb, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if rdb != nil {
		defer rdb.Close()
	}

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(ctx, cfg.Database.URL); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("migrations complete")
	}

	// Audit
	var auditLogger audit.Logger = audit.NopLogger{}
	if cfg.Audit.Enabled {
		auditLogger = audit.NewAsyncLogger(pool, audit.NewStore(), audit.LoggerConfig{
			BufferSize:    cfg.Audit.BufferSize,
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: cfg.Audit.FlushInterval(),
			Logger:        logger,
		})
		slog.Info("audit logger started")
	}

	// Usage accounting
	store, err := newUsageStore(cfg, pool, rdb)
	if err != nil {
		return err
	}
	queue := sideeffect.New(sideeffect.Config{
		Name:        "usage",
		Size:        cfg.Usage.QueueSize,
		Workers:     cfg.Usage.QueueWorkers,
		TaskTimeout: cfg.Usage.Timeout(),
	}, logger)
	ledger := usage.NewLedger(store,
		usage.WithQueue(queue),
		usage.WithStrict(cfg.Usage.Strict),
		usage.WithAuditRecorder(auditLogger),
		usage.WithLogger(logger),
	)

	tenants := tenant.NewStore(pool)
	loader := membership.NewLoader(pool)

	tokenSvc := auth.NewTokenService(
		cfg.Auth.JWT.SigningKey,
		cfg.Auth.JWT.Issuer,
		cfg.Auth.JWT.ExpiryHours,
		cfg.Auth.JWT.RefreshExpiryHours,
	)

	var devIdentity *auth.Identity
	if cfg.Auth.DevMode && cfg.Auth.DevUserID != "" {
		slog.Warn("running in dev mode, 'Bearer dev' authenticates as a stored user", "user_id", cfg.Auth.DevUserID)
		devIdentity = &auth.Identity{UserID: cfg.Auth.DevUserID, TokenType: auth.TokenTypeAccess}
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	srv := server.New(cfg.Server.Addr(), server.Dependencies{
		Pool:               pool,
		Auth:               tokenSvc,
		DevMode:            cfg.Auth.DevMode,
		DevIdentity:        devIdentity,
		Membership:         loader,
		Scope:              scope.NewEnforcer(tenants, auditLogger, scope.WithSubscriptions(loader)),
		Entitlements:       entitlement.NewEvaluator(entitlement.NewStore(pool), entitlement.WithAuditRecorder(auditLogger)),
		Ledger:             ledger,
		Audit:              auditLogger,
		TenantHandler:      tenant.NewHandler(tenants),
		AccessHandler:      membership.NewHandler(ledger),
		AuditHandler:       audit.NewHandler(pool, audit.NewStore()),
		Logger:             logger,
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		MetricsPath:        metricsPath,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout(),
	})

	slog.Info("server ready", "addr", cfg.Server.Addr(), "dev_mode", cfg.Auth.DevMode)
	serveErr := srv.Start(ctx)

	// Drain best-effort work once no request can enqueue more.
	if err := queue.Close(); err != nil {
		slog.Warn("closing usage queue", "error", err)
	}
	if err := auditLogger.Close(); err != nil {
		slog.Warn("closing audit logger", "error", err)
	}
	return serveErr
}

// connect opens the database pool and, for the redis usage backend, the
// redis client. Both are dialled concurrently.
func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, *redis.Client, error) {
	var (
		pool *pgxpool.Pool
		rdb  *redis.Client
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := database.Connect(gctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		pool = p
		return nil
	})
	if cfg.Usage.Backend == config.UsageBackendRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		g.Go(func() error {
			if err := rdb.Ping(gctx).Err(); err != nil {
				return fmt.Errorf("connecting to redis: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if pool != nil {
			pool.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, nil, err
	}
	return pool, rdb, nil
}
