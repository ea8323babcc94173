// cmd/billing-manager/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"billing-workers/internal/common/config"
	"billing-workers/internal/common/database"
	"billing-workers/internal/common/logger"
	"billing-workers/internal/common/observability"
	"billing-workers/internal/common/tasks"
	"billing-workers/internal/gateway"
	"billing-workers/internal/ledger"
	"billing-workers/internal/notify"
	"billing-workers/internal/server"

	ca "billing-workers/internal/workers/billing/charge-attempt"
	pw "billing-workers/internal/workers/billing/process-webhook"
	rs "billing-workers/internal/workers/billing/reconcile-subscriptions"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting billing manager...")

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Ledger ---
	store := ledger.NewStore(pg.GetDB(), log)
	if err := store.Migrate(ctx); err != nil {
		zapLog.Fatal("ledger migration failed", zap.Error(err))
	}

	// --- Gateway client ---
	gw := gateway.NewClient(cfg.Gateway, log)

	// --- Notifications ---
	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notifications.Enabled {
		snsNotifier, err := notify.NewSNSNotifier(ctx, cfg.Notifications, log)
		if err != nil {
			zapLog.Fatal("notifier init failed", zap.Error(err))
		}
		notifier = snsNotifier
		zapLog.Info("SNS notifier enabled", zap.String("topic", cfg.Notifications.TopicARN))
	}

	// --- Workers ---
	chargeHandler := ca.NewHandler(&ca.Config{
		MaxAttempts:    cfg.Executor.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Executor.InitialBackoff) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Executor.MaxBackoff) * time.Millisecond,
	}, store, gw, notifier, log)

	webhookHandler, err := pw.NewHandler(&pw.Config{
		DedupTTL: time.Duration(cfg.Webhook.DedupTTL) * time.Minute,
	}, store, notifier, rdb.Client, log)
	if err != nil {
		zapLog.Fatal("webhook handler init failed", zap.Error(err))
	}

	scheduler := rs.NewHandler(&rs.Config{
		PageSize:       cfg.Scheduler.PageSize,
		PageDelay:      time.Duration(cfg.Scheduler.PageDelay) * time.Millisecond,
		CycleInterval:  time.Duration(cfg.Scheduler.CycleInterval) * time.Millisecond,
		ReminderWindow: time.Duration(cfg.Scheduler.ReminderWindow) * time.Hour,
	}, store, chargeHandler, notifier, obs, log)

	// --- Webhook task pool ---
	pool := tasks.NewPool(cfg.Webhook.Workers, cfg.Webhook.QueueSize, log)
	pool.Start(ctx)

	// --- HTTP servers ---
	srv := server.New(cfg.Server.Address, store, gw, webhookHandler, pool, log)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddress, Handler: metricsMux}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	g.Go(func() error {
		return srv.ListenAndServe()
	})

	g.Go(func() error {
		zapLog.Info("metrics server listening", zap.String("addr", cfg.Server.MetricsAddress))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zapLog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
		pool.Close()
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		zapLog.Fatal("billing manager exited", zap.Error(err))
	}

	zapLog.Info("billing manager stopped")
}
