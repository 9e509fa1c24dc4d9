package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailtester/backend/internal/admission"
	"mailtester/backend/internal/analyzer"
	"mailtester/backend/internal/checker"
	"mailtester/backend/internal/config"
	"mailtester/backend/internal/health"
	"mailtester/backend/internal/logger"
	"mailtester/backend/internal/monitoring"
	"mailtester/backend/internal/queue"
	"mailtester/backend/internal/service"
	"mailtester/backend/internal/smtpingest"
	"mailtester/backend/internal/storage"
	"mailtester/backend/internal/storage/memory"
	sqlstore "mailtester/backend/internal/storage/sql"
	"mailtester/backend/internal/task"
	httptransport "mailtester/backend/internal/transport/http"
)

// main 启动投递测试的 API 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
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

	log.Info("starting mailtester server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development))

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
	healthChecker := health.NewChecker(store, q, log)
	inboxService := service.NewInboxService(store, q, metrics, cfg.Inbox.Domain, cfg.Inbox.TTL, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       cfg,
		InboxService: inboxService,
		Metrics:      metrics,
		Health:       healthChecker,
		Logger:       log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := httptransport.NewServer(httpAddr, router)

	// 启用本地收件时邮件直接进内存，由进程内工作者就地分析，
	// 不依赖外部 IMAP 邮箱
	var smtpServer *gosmtp.Server
	var inlineWorker *queue.Worker
	if cfg.Ingest.Enabled {
		ingest := smtpingest.NewIngest(store, log)
		smtpServer = gosmtp.NewServer(ingest)
		smtpServer.Addr = cfg.Ingest.BindAddr
		smtpServer.Domain = cfg.Ingest.Domain
		smtpServer.ReadTimeout = 10 * time.Second
		smtpServer.WriteTimeout = 10 * time.Second
		smtpServer.MaxMessageBytes = 10 * 1024 * 1024
		smtpServer.MaxRecipients = 5

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
		runner := task.NewTask(store, controller, engine, ingest, metrics, log)
		inlineWorker = queue.NewWorker(q, runner, queue.WorkerConfig{
			MaxAttempts: cfg.Task.MaxAttempts,
			Backoff:     cfg.Task.Backoff,
		}, metrics, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	if smtpServer != nil {
		group.Go(func() error {
			log.Info("starting SMTP ingest",
				zap.String("address", cfg.Ingest.BindAddr),
				zap.String("domain", cfg.Ingest.Domain))
			if err := smtpServer.ListenAndServe(); err != nil {
				log.Error("SMTP ingest error", zap.Error(err))
				return err
			}
			return nil
		})
		group.Go(func() error {
			log.Info("starting inline analysis worker")
			return inlineWorker.Run(groupCtx)
		})
	}

	// 定时清理过期收件箱
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Cleanup.Interval)
		defer ticker.Stop()

		log.Info("starting expired inbox cleanup task", zap.Duration("interval", cfg.Cleanup.Interval))
		for {
			select {
			case <-groupCtx.Done():
				log.Info("cleanup task stopped")
				return nil
			case <-ticker.C:
				if _, err := inboxService.CleanupExpired(); err != nil {
					log.Error("failed to cleanup expired inboxes", zap.Error(err))
				}
			}
		}
	})

	// 等待退出信号后优雅关停
	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if smtpServer != nil {
			if err := smtpServer.Close(); err != nil {
				log.Error("SMTP ingest shutdown error", zap.Error(err))
			}
		}
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server exited with error", zap.Error(err))
	}
	log.Info("server stopped")
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
