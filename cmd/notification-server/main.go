// cmd/notification-server/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"kashee-notify/internal/analytics"
	"kashee-notify/internal/common/aws"
	"kashee-notify/internal/common/config"
	"kashee-notify/internal/common/database"
	"kashee-notify/internal/common/httpclient"
	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/common/metrics"
	"kashee-notify/internal/deeplink"
	"kashee-notify/internal/deeplink/redirect"
	"kashee-notify/internal/delivery"
	"kashee-notify/internal/notify"
	"kashee-notify/internal/producers"
	"kashee-notify/internal/queue"
	"kashee-notify/internal/repository"
	"kashee-notify/internal/templates"
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
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")

	zapLog.Info("Starting notification server...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	// Reopen the logger with the configured level/format
	zapLog = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	ctx, stop := context.WithCancel(context.Background())
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
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	repos := repository.New(pg.GetDB())
	engine := templates.NewEngine(false)

	// --- Deep-link service ---
	linkSvc := deeplink.NewService(
		repos.DeepLinks, repos.Devices,
		deeplink.NewRegistry(), deeplink.NewRouteRegistry(),
		rdb.GetClient(),
		deeplink.Config{
			SmartHost:         cfg.DeepLink.SmartHost,
			DefaultExpiryDays: cfg.DeepLink.DefaultExpiryDays,
			ModuleCacheTTL:    cfg.DeepLink.ModuleCacheTTL,
		},
		log,
	)

	// --- Delivery queue ---
	q := queue.New(rdb.GetClient(), queue.Config{
		Key:        cfg.Queue.Key,
		StaleLease: cfg.Queue.StaleLease,
	}, log)

	// --- Channel adapters ---
	adapters := []delivery.Adapter{delivery.NewInAppAdapter()}

	if cfg.FCM.Enabled {
		push, err := delivery.NewPushAdapter(ctx, repos.Devices,
			httpclient.NewClient(cfg.Delivery.ChannelTimeout),
			delivery.PushConfig{
				ProjectID:          cfg.FCM.ProjectID,
				ServiceAccountFile: cfg.FCM.CredentialsFile,
				RequestsPerSecond:  float64(cfg.Delivery.PushRatePerSecond),
			}, log)
		if err != nil {
			zapLog.Fatal("fcm adapter init failed", zap.Error(err))
		}
		adapters = append(adapters, push)
	}

	if cfg.AWS.SES.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client init failed", zap.Error(err))
		}
		adapters = append(adapters, delivery.NewEmailAdapter(sesClient, delivery.EmailConfig{
			FromAddress: cfg.AWS.SES.FromEmail,
			FromName:    cfg.AWS.SES.FromName,
		}))
	}

	if cfg.AWS.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		adapters = append(adapters, delivery.NewSMSAdapter(snsClient, delivery.SMSConfig{
			SenderID: cfg.AWS.SNS.SenderID,
		}))
	}

	if cfg.WhatsApp.Enabled {
		adapters = append(adapters, delivery.NewWhatsAppAdapter(
			httpclient.NewClient(cfg.Delivery.ChannelTimeout),
			delivery.WhatsAppConfig{GatewayURL: cfg.WhatsApp.GatewayURL, APIKey: cfg.WhatsApp.AuthToken},
		))
	}

	if cfg.Webhook.Enabled {
		adapters = append(adapters, delivery.NewWebhookAdapter(
			httpclient.NewClient(cfg.Delivery.ChannelTimeout),
			delivery.WebhookConfig{URL: cfg.Webhook.URL, Secret: cfg.Webhook.Secret},
		))
	}

	zapLog.Info("Channel adapters initialized", zap.Int("count", len(adapters)))

	// --- Delivery pipeline ---
	pipeline := delivery.NewPipeline(repos, adapters, q, delivery.Config{
		ChunkSize:          cfg.Delivery.ChunkSize,
		ChannelParallelism: cfg.Delivery.ChannelParallelism,
		ChannelTimeout:     cfg.Delivery.ChannelTimeout,
		MaxAttempts:        cfg.Delivery.MaxAttempts,
		RetryBackoffBase:   cfg.Delivery.RetryInterval,
	}, log)

	workers := cfg.Queue.Workers
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		go func(id int) {
			if err := pipeline.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("Delivery worker stopped", map[string]interface{}{"worker": id})
			}
		}(i)
	}
	zapLog.Info("Delivery workers started", zap.Int("workers", workers))

	// --- Notification service ---
	notifySvc := notify.NewService(repos, engine, linkSvc, q, pipeline, notify.Config{
		BaseURL:       cfg.Server.BaseURL,
		BulkThreshold: cfg.Producers.BulkThreshold,
	}, log)

	// --- Scheduled jobs ---
	retryDriver := delivery.NewRetryDriver(repos, q, 0, log)
	rollupJob := analytics.NewRollupJob(repos, log)
	cleanupJob := analytics.NewCleanupJob(repos, analytics.CleanupConfig{
		NotificationRetention: time.Duration(cfg.Retention.NotificationDays) * 24 * time.Hour,
		DeepLinkRetention:     time.Duration(cfg.Retention.DeepLinkDays) * 24 * time.Hour,
	}, log)
	runner := producers.NewRunner(repos, notifySvc, q, log)
	db := pg.GetDB()
	collectionProducer := producers.NewCollectionProducer(producers.NewSQLCollectionSource(db))
	feedbackProducer := producers.NewFeedbackProducer(producers.NewSQLFeedbackSource(db))
	incentiveProducer := producers.NewIncentiveProducer(producers.NewSQLIncentiveSource(db))

	sched := cron.New()

	mustSchedule := func(name, spec string, fn func()) {
		if spec == "" {
			zapLog.Info("Job disabled, no schedule configured", zap.String("job", name))
			return
		}
		if _, err := sched.AddFunc(spec, fn); err != nil {
			zapLog.Fatal("invalid cron schedule", zap.String("job", name), zap.String("spec", spec), zap.Error(err))
		}
	}

	mustSchedule("retry-sweep", "@every 1m", func() {
		if _, err := retryDriver.RunOnce(ctx); err != nil {
			log.WithError(err).Error("Retry sweep failed", nil)
		}
		if _, err := notifySvc.EnqueueDueScheduled(ctx, 1000); err != nil {
			log.WithError(err).Error("Scheduled enqueue failed", nil)
		}
	})
	mustSchedule("queue-maintenance", "@every 1m", func() {
		if _, err := q.ReclaimStale(ctx); err != nil {
			log.WithError(err).Error("Stale chunk reclaim failed", nil)
		}
		if _, err := retryDriver.ReclaimStuck(ctx, cfg.Queue.StaleLease); err != nil {
			log.WithError(err).Error("Stuck notification reclaim failed", nil)
		}
		if depth, err := q.Depth(ctx); err == nil {
			metrics.QueueDepth.Set(float64(depth))
		}
	})
	mustSchedule("collection-producer", cfg.Producers.CollectionSchedule, func() {
		if _, err := runner.Run(ctx, collectionProducer, time.Now().UTC()); err != nil {
			log.WithError(err).Error("Collection producer run failed", nil)
		}
	})
	mustSchedule("feedback-producer", cfg.Producers.FeedbackSchedule, func() {
		if _, err := runner.Run(ctx, feedbackProducer, time.Now().UTC()); err != nil {
			log.WithError(err).Error("Feedback producer run failed", nil)
		}
	})
	mustSchedule("incentive-producer", cfg.Producers.IncentiveSchedule, func() {
		if _, err := runner.Run(ctx, incentiveProducer, time.Now().UTC()); err != nil {
			log.WithError(err).Error("Incentive producer run failed", nil)
		}
	})
	mustSchedule("analytics-rollup", cfg.Producers.RollupSchedule, func() {
		if err := rollupJob.RunDaily(ctx); err != nil {
			log.WithError(err).Error("Analytics rollup failed", nil)
		}
	})
	mustSchedule("retention-cleanup", cfg.Producers.CleanupSchedule, func() {
		cleanupJob.Run(ctx)
	})

	sched.Start()
	zapLog.Info("Cron scheduler started", zap.Int("jobs", len(sched.Entries())))

	// --- Redirect Server ---
	redirectHandler := redirect.NewHandler(linkSvc, repos.Analytics, log, pg, rdb)
	redirectSrv := &http.Server{
		Addr:         cfg.Server.RedirectAddr,
		Handler:      redirectHandler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		zapLog.Info("Redirect server listening", zap.String("addr", cfg.Server.RedirectAddr))
		if err := redirectSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Redirect server failed", zap.Error(err))
		}
	}()

	// --- Health & Metrics Server ---
	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	metricsMux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := map[string]string{"status": "ready"}
		code := http.StatusOK
		if err := pg.Ping(r.Context()); err != nil {
			status = map[string]string{"status": "degraded", "postgres": err.Error()}
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	})
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", cfg.Server.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	stop()

	cronCtx := sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := redirectSrv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Redirect server shutdown failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Metrics server shutdown failed", zap.Error(err))
	}
	select {
	case <-cronCtx.Done():
	case <-shutdownCtx.Done():
	}

	zapLog.Info("Notification server stopped")
}
