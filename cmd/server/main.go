package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"storygate/internal/api"
	"storygate/internal/config"
	"storygate/internal/credentials"
	"storygate/internal/gateway"
	"storygate/internal/limiter"
	"storygate/internal/metrics"
	"storygate/internal/middleware"
	"storygate/internal/observability"
	"storygate/internal/providers"
	"storygate/internal/store"
	"storygate/internal/upstream"
	"storygate/internal/webhook"
)

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("config:", err)
		os.Exit(1)
	}

	switch cmd {
	case "migrate":
		runMigrations(cfg)
		return
	case "token":
		runToken(cfg)
		return
	case "serve":
	default:
		fmt.Println("usage: server [serve|migrate|token <name>]")
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OtelEndpoint != "" {
		shutdown, err := observability.InitTracer(ctx, cfg.OtelEndpoint, cfg.OtelServiceName)
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			defer shutdown(context.Background())
		}
	}

	pool, err := credentials.NewPool(cfg.UpstreamAPIKeys, cfg.ElevatedAPIKey)
	if err != nil {
		logger.Fatal("credential pool", zap.Error(err))
	}
	logger.Info("credentials loaded",
		zap.Int("standard", pool.Len()),
		zap.String("current", credentials.Mask(pool.Current().Token)),
		zap.Bool("elevated", cfg.ElevatedAPIKey != ""),
		zap.Bool("real_calls", cfg.EnableRealCalls),
	)

	var st *store.Store
	if cfg.DatabaseURL != "" {
		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect failed", zap.Error(err))
		}
		defer db.Close()
		st = store.New(db)
	} else {
		logger.Info("call ledger disabled: DATABASE_URL not set")
	}

	var lim *limiter.Limiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		lim = limiter.New(redisClient, cfg.ClientQPS)
	} else {
		logger.Info("rate limits disabled: REDIS_URL not set")
	}

	metrics.Register()
	hooks := webhook.New(cfg.WebhookURLs, cfg.WebhookSecret, logger)

	opts := gateway.Options{
		Pool:             pool,
		Client:           providers.New(cfg.UpstreamBaseURL, cfg.EnableRealCalls),
		Models:           cfg.Models,
		Media:            upstream.MediaResolver{OwnPrefixes: cfg.PublicBaseURLs, Root: cfg.UploadDir},
		Notifier:         hooks,
		VideoConcurrency: cfg.VideoConcurrency,
		Timeout:          cfg.UpstreamTimeout,
		PollInterval:     cfg.PollInterval,
		MaxPolls:         cfg.MaxPolls,
		Log:              logger,
	}
	// Typed nils must not reach the interfaces.
	if st != nil {
		opts.Recorder = st
	}
	if lim != nil {
		opts.Slots = lim
	}

	srv := &api.Server{Gateway: gateway.New(opts), Store: st, Logger: logger}
	httpSrv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: srv.Routes(api.RouteOptions{
			ClientKeys:  cfg.ClientKeys,
			JWTSecret:   cfg.JWTSecret,
			CORSOrigins: cfg.CORSOrigins,
			Limiter:     lim,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(sctx)
	}()

	logger.Info("server starting", zap.String("addr", httpSrv.Addr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
	hooks.Wait()
	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	var cfg zap.Config
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func runMigrations(cfg config.Config) {
	if cfg.DatabaseURL == "" {
		fmt.Println("DATABASE_URL is required")
		os.Exit(1)
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Println("db connect failed:", err)
		os.Exit(1)
	}
	defer pool.Close()
	applied, err := store.New(pool).Migrate(ctx, resolvePath("migrations"))
	if err != nil {
		fmt.Println("migrate failed:", err)
		os.Exit(1)
	}
	for _, name := range applied {
		fmt.Println("applied", name)
	}
	fmt.Println("migrations applied")
}

func runToken(cfg config.Config) {
	if len(os.Args) < 3 {
		fmt.Println("usage: server token <name>")
		os.Exit(2)
	}
	if cfg.JWTSecret == "" {
		fmt.Println("JWT_SECRET is required")
		os.Exit(1)
	}
	tok, err := middleware.NewAdminToken(cfg.JWTSecret, os.Args[2], 30*24*time.Hour)
	if err != nil {
		fmt.Println("token failed:", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}

func resolvePath(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if _, err := os.Stat("../" + path); err == nil {
		return "../" + path
	}
	return path
}
