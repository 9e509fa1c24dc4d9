package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailtester/backend/internal/admission"
	"mailtester/backend/internal/analyzer"
	"mailtester/backend/internal/checker"
	"mailtester/backend/internal/config"
	"mailtester/backend/internal/health"
	"mailtester/backend/internal/imapsource"
	"mailtester/backend/internal/logger"
	"mailtester/backend/internal/monitoring"
	"mailtester/backend/internal/queue"
	"mailtester/backend/internal/storage"
	"mailtester/backend/internal/storage/memory"
	sqlstore "mailtester/backend/internal/storage/sql"
	"mailtester/backend/internal/task"
)

// main 启动分析工作者：消费队列并执行投递测试分析。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mailtester worker", zap.String("log_level", cfg.Log.Level))

	if cfg.IMAP.Address == "" {
		log.Fatal("imap.address must be configured for the worker")
	}

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	q, err := queue.NewQueue(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer func() { _ = q.Close() }()

	metrics := monitoring.NewMetrics()

	dnsChecker := checker.NewDNSChecker(nil, cfg.DNS.QueryTimeout, log)
	prober := checker.NewBlacklistProber(nil, checker.ProberConfig{
		Workers:      cfg.DNS.BlacklistWorkers,
		QueryTimeout: cfg.DNS.QueryTimeout,
		Lifetime:     cfg.DNS.BlacklistLifetime,
		QueryRate:    cfg.DNS.BlacklistRate,
	}, log)
	classifier := checker.NewSpamChecker(cfg.Spamd.Address, cfg.Spamd.DialTimeout, cfg.Spamd.IOTimeout, log)

	engine := analyzer.NewAnalyzer(dnsChecker, prober, classifier, cfg.Inbox.ProbeMX, metrics, log)
	controller := admission.NewController(store, cfg.Quota.AnonymousDaily, metrics, log)
	source := imapsource.New(cfg.IMAP.Address, cfg.IMAP.Username, cfg.IMAP.Password, cfg.IMAP.Mailbox, log)
	runner := task.NewTask(store, controller, engine, source, metrics, log)

	worker := queue.NewWorker(q, runner, queue.WorkerConfig{
		MaxAttempts: cfg.Task.MaxAttempts,
		Backoff:     cfg.Task.Backoff,
	}, metrics, log)

	checkerHandler := health.NewChecker(store, q, log)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/live", checkerHandler.Handler())
	mux.Handle("/ready", checkerHandler.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.Task.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("worker consuming",
			zap.Int("max_attempts", cfg.Task.MaxAttempts),
			zap.Duration("backoff", cfg.Task.Backoff))
		return worker.Run(groupCtx)
	})
	group.Go(func() error {
		log.Info("worker metrics listening", zap.String("addr", cfg.Task.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("worker exited with error", zap.Error(err))
	}
	log.Info("worker stopped")
}

// openStore 按配置选择数据库或内存存储。
func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
		return sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
	}
	log.Info("using memory storage (development mode)")
	return memory.NewStore(), nil
}
