package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/aiox-platform/genstudio/internal/accounts"
	"github.com/aiox-platform/genstudio/internal/activity"
	"github.com/aiox-platform/genstudio/internal/api"
	"github.com/aiox-platform/genstudio/internal/auth"
	"github.com/aiox-platform/genstudio/internal/config"
	"github.com/aiox-platform/genstudio/internal/database"
	"github.com/aiox-platform/genstudio/internal/generation"
	"github.com/aiox-platform/genstudio/internal/history"
	mw "github.com/aiox-platform/genstudio/internal/middleware"
	inats "github.com/aiox-platform/genstudio/internal/nats"
	"github.com/aiox-platform/genstudio/internal/outpaint"
	"github.com/aiox-platform/genstudio/internal/provider"
	"github.com/aiox-platform/genstudio/internal/quota"
	iredis "github.com/aiox-platform/genstudio/internal/redis"
	"github.com/aiox-platform/genstudio/internal/server"
	"github.com/aiox-platform/genstudio/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	checks := map[string]api.ReadinessCheck{}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisClient.Close()
	checks["redis"] = func(ctx context.Context) error { return iredis.HealthCheck(ctx, redisClient) }

	// Accounts
	var (
		pool        *pgxpool.Pool
		accountRepo accounts.Repository
	)
	switch cfg.Accounts.Backend {
	case "postgres":
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
			return err
		}
		pool, err = database.NewPostgresPool(ctx, cfg.DB)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pool.Close()
		checks["database"] = func(ctx context.Context) error { return database.HealthCheck(ctx, pool) }
		accountRepo = accounts.NewRepository(pool)
	case "file":
		accountRepo, err = accounts.NewFileRepository(cfg.Accounts.File)
		if err != nil {
			return fmt.Errorf("opening accounts file: %w", err)
		}
		slog.Info("using file accounts store", "path", cfg.Accounts.File)
	}
	accountSvc := accounts.NewService(accountRepo, cfg.Quota.SignupCredits)

	// Auth
	jwtManager := auth.NewJWTManager(
		cfg.JWT.AccessSecret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)
	authSvc := auth.NewService(jwtManager, redisClient)
	authHandler := auth.NewHandler(authSvc, accountSvc)

	// Quota
	var guests quota.GuestLedger
	if cfg.Quota.GuestBackend == "memory" {
		guests = quota.NewMemoryGuestLedger(cfg.Quota.GuestWindow)
	} else {
		guests = quota.NewRedisGuestLedger(redisClient, cfg.Quota.GuestWindow)
	}
	quotaSvc := quota.NewService(guests, accountSvc, cfg.Quota.GuestTrialLimit, cfg.Quota.GuestWindow)

	// Storage
	var (
		blobs     storage.Store
		serveFile http.HandlerFunc
	)
	if cfg.Storage.Dir != "" {
		local, err := storage.NewLocalStore(cfg.Storage.Dir, cfg.Storage.PublicURL)
		if err != nil {
			return fmt.Errorf("opening storage dir: %w", err)
		}
		blobs = local
		serveFile = storage.NewHandler(local).Serve
	} else {
		blobs = storage.NewInlineStore()
	}

	// Provider
	prov, err := newProvider(cfg.Provider, redisClient)
	if err != nil {
		return err
	}

	// NATS, optional
	var (
		events          generation.EventPublisher
		consumer        *activity.Consumer
		activityHandler http.HandlerFunc
	)
	if cfg.NATS.URL != "" {
		natsClient, err := inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer natsClient.Close()
		checks["nats"] = func(context.Context) error {
			if !natsClient.Healthy() {
				return errors.New("nats disconnected")
			}
			return nil
		}
		events = natsClient.Publisher()

		if pool != nil {
			activityRepo := activity.NewRepository(pool)
			consumer = activity.NewConsumer(activityRepo, inats.NewConsumerManager(natsClient.JetStream()))
			activityHandler = activity.NewHandler(activityRepo).List
		}
	} else {
		slog.Warn("NATS_URL is empty, generation events are disabled")
	}

	// Generation
	hist := history.NewStore(redisClient, cfg.History.Limit, cfg.History.GuestTTL)
	catalog := generation.NewCatalog(cfg.Provider.Models)
	genSvc := generation.NewService(
		generation.NewSubmitter(prov, catalog, cfg.Provider.MaxReferenceImages).WithOutpaintLimits(outpaint.Limits{
			MaxCanvasSide: cfg.Outpaint.MaxCanvasSide,
			MaxSourceSide: cfg.Outpaint.MaxSourceSide,
		}),
		generation.NewPoller(prov),
		generation.NewMaterializer(&http.Client{Timeout: cfg.Materialize.FetchTimeout}, blobs, hist, cfg.Materialize.Concurrency),
		generation.NewTaskStore(redisClient, cfg.Poll.TaskTTL),
		quotaSvc,
		events,
	)
	genHandler := generation.NewHandler(genSvc, quotaSvc, hist, catalog)
	accountHandler := accounts.NewHandler(accountSvc)

	// Router
	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins:  cfg.CORS.AllowedOrigins,
		AuthRateLimiter:     mw.NewRateLimiter(redisClient, "auth", 10, 60).Middleware,
		GenerateRateLimiter: mw.NewRateLimiter(redisClient, "generate", cfg.Quota.GenerateRateMax, cfg.Quota.GenerateRateSec).Middleware,
		ReadinessChecks:     checks,
	}, api.HandlerSet{
		Register: authHandler.Register,
		Login:    authHandler.Login,
		Refresh:  authHandler.Refresh,
		Logout:   authHandler.Logout,

		CreateGeneration: genHandler.Create,
		GetGeneration:    genHandler.Get,
		ListModels:       genHandler.Models,
		GetQuota:         genHandler.Quota,

		ListHistory:   genHandler.ListHistory,
		ClearHistory:  genHandler.ClearHistory,
		DeleteHistory: genHandler.DeleteHistory,

		GetAccount:   accountHandler.Me,
		ListActivity: activityHandler,

		ServeFile: serveFile,

		AuthMiddleware:         auth.Middleware(authSvc),
		OptionalAuthMiddleware: auth.OptionalMiddleware(authSvc),
	})

	slog.Info("generation service configured",
		"provider", cfg.Provider.Kind,
		"models", len(cfg.Provider.Models),
		"accounts", cfg.Accounts.Backend,
		"guest_ledger", cfg.Quota.GuestBackend,
		"inline_images", cfg.Storage.Dir == "",
		"activity", consumer != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.New(cfg.Server, router).Run(gctx)
	})
	if consumer != nil {
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	}
	return g.Wait()
}

func newProvider(cfg config.ProviderConfig, rdb goredis.Cmdable) (generation.Provider, error) {
	switch cfg.Kind {
	case "openai":
		gen, err := provider.NewOpenAIGenerator(cfg.APIKey, cfg.BaseURL, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("creating openai provider: %w", err)
		}
		return provider.NewSyncAdapter(gen, rdb, cfg.SyncResultTTL), nil
	default:
		return provider.NewHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout), nil
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
