package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"rydar/internal/api"
	"rydar/internal/api/handlers"
	"rydar/internal/api/middleware"
	"rydar/internal/auth"
	"rydar/internal/config"
	"rydar/internal/geo"
	"rydar/internal/logging"
	"rydar/internal/repository"
	"rydar/internal/repository/cache"
	"rydar/internal/repository/memory"
	"rydar/internal/repository/postgres"
	"rydar/internal/repository/redislock"
	"rydar/internal/services"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	// A .env file is a development convenience; its absence is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if cfg.Auth.Secret == config.DevSecret {
		logger.Warn("using the built-in development token secret; set RYDAR_AUTH_SECRET in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Presence index and the lock that keeps reaper sweeps single-flight
	index, locks, closeIndex, err := buildIndex(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeIndex()

	// Routes store
	routeRepo, closeRoutes, err := buildRouteRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRoutes()

	key, err := cfg.Auth.SecretBytes()
	if err != nil {
		return err
	}
	tokens := auth.NewTokenService(key, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	// Services
	locationService := services.NewLocationService(index, routeRepo, cfg.Presence, logger.With("component", "ingest"))
	proximityService := services.NewProximityService(index, cfg.Presence, logger.With("component", "proximity"))
	routeService := services.NewRouteService(routeRepo, logger.With("component", "routes"))
	reaper := services.NewReaper(index, locks, cfg.Presence, logger.With("component", "reaper"))

	// Handlers and router
	locationHandler := handlers.NewLocationHandler(locationService, proximityService,
		cfg.Presence.DefaultRadiusMeters, cfg.Presence.DefaultLimit)
	routeHandler := handlers.NewRouteHandler(routeService)
	healthHandler := handlers.NewHealthHandler(index, cfg.Presence.Backend)

	var limiter *middleware.RateLimiter
	if cfg.Presence.IngestRatePerSecond > 0 {
		limiter = middleware.NewRateLimiter(cfg.Presence.IngestRatePerSecond, cfg.Presence.IngestBurst, 100_000)
	}

	router := api.NewRouter(locationHandler, routeHandler, healthHandler, tokens, api.RouterOptions{
		Logger:         logger.With("component", "http"),
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IngestLimiter:  limiter,
	})

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	router.Setup(engine)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Go Learning Note: errgroup
	// errgroup.WithContext runs each function in its own goroutine and cancels
	// gctx as soon as one of them returns an error. A signal cancels ctx, which
	// cancels gctx too, so one Wait covers both ways of shutting down.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting presence server", "addr", srv.Addr, "backend", cfg.Presence.Backend, "routes", cfg.Routes.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return reaper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func buildIndex(ctx context.Context, cfg *config.Config, logger *slog.Logger) (geo.Index, repository.LockManager, func(), error) {
	switch cfg.Presence.Backend {
	case geo.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		index := geo.NewRedisIndex(client, cfg.Redis.KeyPrefix)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := index.Ping(pingCtx); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("presence index ready", "backend", "redis", "addr", cfg.Redis.Addr)
		return index, redislock.NewLockManager(client, cfg.Redis.KeyPrefix), func() { _ = client.Close() }, nil

	case geo.BackendRTree:
		locks := memory.NewLockManager(cfg.Presence.ReapInterval)
		return geo.NewRTreeIndex(), locks, locks.Stop, nil

	default:
		locks := memory.NewLockManager(cfg.Presence.ReapInterval)
		return geo.NewSpatialIndex(cfg.Geo.GeohashPrecision, cfg.Geo.MaxCoverCells), locks, locks.Stop, nil
	}
}

func buildRouteRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.RouteRepository, func(), error) {
	if cfg.Routes.Backend != "postgres" {
		return memory.NewRouteRepository(), func() {}, nil
	}

	if cfg.Postgres.MigrateOnStart {
		if err := postgres.Migrate(cfg.Postgres.DSN); err != nil {
			return nil, nil, err
		}
		logger.Info("database migrations applied")
	}
	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	repo := cache.NewRouteRepository(postgres.NewRouteRepository(pool), cfg.Routes.CacheSize, cfg.Routes.CacheTTL)
	return repo, pool.Close, nil
}
