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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"voiceagent-lbs/internal/auth"
	"voiceagent-lbs/internal/calls"
	"voiceagent-lbs/internal/catalog"
	"voiceagent-lbs/internal/config"
	"voiceagent-lbs/internal/coordination"
	"voiceagent-lbs/internal/distribution"
	"voiceagent-lbs/internal/events"
	"voiceagent-lbs/internal/idempotency"
	"voiceagent-lbs/internal/lock"
	"voiceagent-lbs/internal/matcher"
	"voiceagent-lbs/internal/metrics"
	"voiceagent-lbs/internal/routing"
	"voiceagent-lbs/internal/telephony"
	"voiceagent-lbs/pkg/logger"
	"voiceagent-lbs/pkg/utils"
)

const catalogCacheSize = 4096

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.App.MetricsEnabled {
		metrics.Register(prometheus.DefaultRegisterer)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init failed: %w", err)
	}

	source, closeSource, err := openCatalog(rootCtx, cfg)
	if err != nil {
		return fmt.Errorf("catalog init failed: %w", err)
	}
	defer closeSource()
	cached := catalog.NewCachedSource(source, catalogCacheSize, cfg.Catalog.CacheTTL)

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("redis init failed: %w", err)
	}
	defer rdb.Close()

	store := coordination.NewRedisStore(rdb, cfg.Coordination.Timeout)
	keys := coordination.NewKeys(cfg.Coordination.KeyPrefix)

	patterns, err := matcher.NewPatterns(0)
	if err != nil {
		return fmt.Errorf("matcher init failed: %w", err)
	}
	defer patterns.Close()

	locker := lock.New(store, cfg.Coordination.LockTTL)
	engine := routing.NewEngine(
		cached,
		matcher.New(cached, patterns),
		distribution.NewRegistry(store, keys, distribution.Options{Window: cfg.Coordination.LoadBalanceWindow}),
		locker,
		routing.NewCapacity(store, keys, routing.DefaultSlotTTL),
		keys,
	)

	dispatcher := events.NewDispatcher(cfg.Events.Buffer,
		[]events.Sink{events.NewRedisSink(store, keys)},
		events.OnDrop(func(t events.EventType) { metrics.RecordDroppedEvent(string(t)) }),
		events.WithLogger(log),
	)

	sessions := calls.NewStore(store, keys, cfg.Coordination.SessionTTL)
	service := telephony.NewService(
		cached,
		idempotency.NewGuard(store, keys, cfg.Coordination.IdempotencyTTL),
		locker,
		sessions,
		engine,
		keys,
		dispatcher,
	)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, deps{
		cfg:        cfg,
		auth:       authManager,
		webhooks:   telephony.WebhookHandler{Service: service},
		engine:     engine,
		cache:      cached,
		dispatcher: dispatcher,
		sessions:   sessions,
		store:      store,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		dispatcher.Run()
		return nil
	})
	g.Go(func() error {
		log.Info("api listening", slog.String("addr", srv.Addr), slog.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown failed: %w", err))
		}
		// Webhooks have stopped; flush what they emitted.
		if err := dispatcher.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("event flush failed: %w", err))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// openCatalog picks the configuration source: a YAML snapshot file when
// CATALOG_FILE is set, Postgres otherwise.
func openCatalog(ctx context.Context, cfg config.Config) (catalog.Source, func(), error) {
	if !cfg.UsesPostgres() {
		snap, err := catalog.LoadSnapshotFile(cfg.Catalog.File)
		if err != nil {
			return nil, nil, err
		}
		src, err := catalog.NewSnapshotSource(snap)
		if err != nil {
			return nil, nil, err
		}
		return src, func() {}, nil
	}
	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{ReadOnly: true})
	if err != nil {
		return nil, nil, err
	}
	return catalog.NewPostgresSource(db), func() { _ = db.Close() }, nil
}
