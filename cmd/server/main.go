// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"pixgate/internal/captoken"
	"pixgate/internal/platform/config"
	"pixgate/internal/platform/health"
	"pixgate/internal/platform/logger"
	"pixgate/internal/platform/metrics"
	"pixgate/internal/platform/redis"
	"pixgate/internal/ratelimit/checker"
	ratelimitMW "pixgate/internal/ratelimit/middleware"
	"pixgate/internal/ratelimit/store/bucket"
	"pixgate/internal/ratelimit/workers/cleanup"
	httptransport "pixgate/internal/transport/http"
	"pixgate/internal/upload/handler"
	"pixgate/internal/upload/service"
	"pixgate/internal/upstream"
	"pixgate/pkg/platform/circuit"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing pixgate",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"upstream", cfg.UpstreamBaseURL,
		"redis_configured", cfg.Redis.URL != "",
	)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg config.Server, log *slog.Logger) error {
	m := metrics.New()

	healthHandler := health.New(cfg.Environment)

	// Bucket store: Redis when configured so limits hold across instances,
	// in-memory otherwise. Only the memory store needs the sweep worker;
	// Redis expires its own keys.
	var (
		buckets checker.BucketStore
		sweeper *cleanup.Service
	)
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		healthHandler.RegisterCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(ctx)
		})
		buckets = bucket.NewRedisBucketStore(redisClient)
		log.Info("rate limit store: redis")
	} else {
		memStore := bucket.NewInMemoryBucketStore()
		buckets = memStore
		sweeper = cleanup.New(memStore,
			cleanup.WithLogger(log),
			cleanup.WithInterval(cfg.CleanupInterval),
			cleanup.WithMetrics(m),
		)
		log.Info("rate limit store: in-memory")
	}

	limiter, err := checker.New(buckets, checker.WithLogger(log))
	if err != nil {
		return err
	}

	upstreamClient, err := upstream.New(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey,
		upstream.WithLogger(log),
		upstream.WithMetrics(m),
		upstream.WithBreaker(circuit.New("image-host")),
	)
	if err != nil {
		return err
	}

	uploads, err := service.New(upstreamClient,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithTimeouts(cfg.UploadTimeout, cfg.BulkTimeout),
	)
	if err != nil {
		return err
	}

	uploadHandler := handler.New(uploads, captoken.New(cfg.SigningSecret), upstreamClient.BulkEndpoint(),
		handler.WithLogger(log),
		handler.WithMetrics(m),
	)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Uploads:          uploadHandler,
		RateLimit:        ratelimitMW.New(limiter, log, m),
		Health:           healthHandler,
		SessionVerifyKey: cfg.SessionVerifyKey,
		Logger:           log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if sweeper != nil {
		g.Go(func() error {
			if err := sweeper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
