package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mailtester/backend/internal/domain"
	"mailtester/backend/internal/monitoring"
	"mailtester/backend/internal/task"
)

// Runner 工作者驱动的任务执行面。
type Runner interface {
	Run(ctx context.Context, address string) error
	Abandon(address, reason string)
}

// WorkerConfig 工作者配置。
type WorkerConfig struct {
	MaxAttempts int           // 单任务最大尝试次数，默认 30
	Backoff     time.Duration // 重试间隔，默认 10s
	PollTimeout time.Duration // 单次阻塞取件超时，默认 1s
}

// Worker 队列消费者。
//
// 单协程循环：先搬运到期的延迟任务，再阻塞取一个就绪任务
// 执行。任务发出"邮件未到"信号时按固定间隔延迟重排，尝试
// 次数耗尽后交回任务做终态处理。
type Worker struct {
	queue       *Queue
	runner      Runner
	maxAttempts int
	backoff     time.Duration
	pollTimeout time.Duration
	metrics     *monitoring.Metrics
	log         *zap.Logger
}

// NewWorker 创建工作者。metrics 可为 nil。
func NewWorker(queue *Queue, runner Runner, cfg WorkerConfig, metrics *monitoring.Metrics, log *zap.Logger) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 30
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 10 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		queue:       queue,
		runner:      runner,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		pollTimeout: cfg.PollTimeout,
		metrics:     metrics,
		log:         log,
	}
}

// Run 持续消费直到上下文取消。
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if _, err := w.queue.PromoteDue(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn("promote delayed jobs failed", zap.Error(err))
		}

		job, ok, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("dequeue failed", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		w.process(ctx, job)
	}
}

// process 执行单个任务并处理重试编排。
func (w *Worker) process(ctx context.Context, job Job) {
	err := w.runner.Run(ctx, job.Address)
	if err == nil {
		return
	}

	if !errors.Is(err, task.ErrRetryLater) {
		// 非重试信号：任务自身已记录终态，这里只留痕
		w.log.Error("job failed", zap.String("address", job.Address), zap.Error(err))
		return
	}

	job.Attempts++
	if job.Attempts >= w.maxAttempts {
		w.log.Info("retry budget exhausted",
			zap.String("address", job.Address),
			zap.Int("attempts", job.Attempts))
		w.runner.Abandon(job.Address, domain.LastErrorWaiting)
		if w.metrics != nil {
			w.metrics.JobsAbandoned.Inc()
		}
		return
	}

	if err := w.queue.EnqueueDelayed(ctx, job, w.backoff); err != nil {
		w.log.Error("requeue failed", zap.String("address", job.Address), zap.Error(err))
		return
	}
	if w.metrics != nil {
		w.metrics.JobsRetried.Inc()
	}
}
