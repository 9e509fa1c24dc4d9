package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailtester/backend/internal/admission"
	"mailtester/backend/internal/domain"
	"mailtester/backend/internal/mail"
	"mailtester/backend/internal/monitoring"
	"mailtester/backend/internal/storage"
)

var (
	// ErrRetryLater 邮件尚未到达，调度方应延迟后重试
	ErrRetryLater = errors.New("message not yet arrived, retry later")

	// ErrMessageNotFound 邮箱中没有发给该地址的邮件
	ErrMessageNotFound = errors.New("message not found")
)

// MailSource 按收件地址取回原始邮件的抽象。
//
// 取不到时返回 ErrMessageNotFound，任务据此发出重试信号。
type MailSource interface {
	Fetch(ctx context.Context, address string) (*mail.Message, error)
}

// Analyzer 任务依赖的分析入口。
type Analyzer interface {
	Analyze(ctx context.Context, msg *mail.Message, senderDomain, senderIP string) *domain.AnalysisReport
}

// Task 单个收件箱的分析任务控制流。
//
// 每次触发对应一个地址，流程为：取件、准入、分析、落库。
// 邮件未到时返回 ErrRetryLater 交给调度方延迟重试；准入落败
// （已被认领或配额耗尽）静默结束，不算错误。
type Task struct {
	store     storage.Store
	admission *admission.Controller
	analyzer  Analyzer
	source    MailSource
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewTask 创建分析任务。metrics 可为 nil。
func NewTask(store storage.Store, ctrl *admission.Controller, analyzer Analyzer, source MailSource, metrics *monitoring.Metrics, log *zap.Logger) *Task {
	if log == nil {
		log = zap.NewNop()
	}
	return &Task{
		store:     store,
		admission: ctrl,
		analyzer:  analyzer,
		source:    source,
		metrics:   metrics,
		log:       log,
	}
}

// Run 执行一次任务触发。
func (t *Task) Run(ctx context.Context, address string) error {
	inbox, err := t.store.GetInboxByAddress(address)
	if err != nil {
		if errors.Is(err, storage.ErrInboxNotFound) {
			t.log.Warn("task for unknown inbox", zap.String("address", address))
			return nil
		}
		return fmt.Errorf("load inbox: %w", err)
	}

	// 已到终态或已过期的收件箱不再处理
	switch inbox.EffectiveStatus(time.Now()) {
	case domain.InboxAnalyzed, domain.InboxError, domain.InboxExpired:
		return nil
	}

	msg, err := t.source.Fetch(ctx, address)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			reason := domain.LastErrorWaiting
			if uerr := t.store.UpdateInboxStatus(address, inbox.Status, &reason); uerr != nil {
				t.log.Warn("record waiting state failed", zap.String("address", address), zap.Error(uerr))
			}
			t.count("retry")
			return ErrRetryLater
		}
		return fmt.Errorf("fetch message: %w", err)
	}

	decision, err := t.admission.TryClaim(inbox)
	if err != nil {
		return fmt.Errorf("admission: %w", err)
	}
	if !decision.Allowed {
		t.log.Debug("admission declined",
			zap.String("address", address),
			zap.Bool("alreadyClaimed", decision.AlreadyClaimed),
			zap.Bool("quotaExceeded", decision.QuotaExceeded))
		if decision.QuotaExceeded {
			t.count("quota_denied")
		} else {
			t.count("duplicate")
		}
		return nil
	}

	senderDomain := msg.FromDomain()
	if senderDomain == "" {
		return t.fail(address, "sender domain could not be determined")
	}

	started := time.Now()
	report := t.analyzer.Analyze(ctx, msg, senderDomain, msg.SenderIP())
	report.Owner = domain.ReportOwner{OriginIP: inbox.OriginIP}
	if inbox.OwnerID != nil {
		report.Owner.IdentityID = *inbox.OwnerID
	}

	if err := t.store.SaveReport(report); err != nil {
		return t.fail(address, "persist report: "+err.Error())
	}
	if err := t.store.SetInboxAnalyzed(address, report.ID, time.Now().UTC()); err != nil {
		return t.fail(address, "finalize inbox: "+err.Error())
	}

	if t.metrics != nil {
		t.metrics.InboxesAnalyzed.Inc()
		t.metrics.AnalysisDuration.Observe(time.Since(started).Seconds())
		t.metrics.AnalysisScore.Observe(report.Score)
	}
	t.count("analyzed")

	t.log.Info("inbox analyzed",
		zap.String("address", address),
		zap.String("report", report.ID),
		zap.Float64("score", report.Score))
	return nil
}

// count 记录一次任务结局指标。
func (t *Task) count(outcome string) {
	if t.metrics != nil {
		t.metrics.AnalysesTotal.WithLabelValues(outcome).Inc()
	}
}

// Abandon 重试额度耗尽后的终态处理。
func (t *Task) Abandon(address, reason string) {
	if err := t.store.UpdateInboxStatus(address, domain.InboxError, &reason); err != nil {
		t.log.Error("abandon inbox failed", zap.String("address", address), zap.Error(err))
		return
	}
	t.log.Info("inbox abandoned", zap.String("address", address), zap.String("reason", reason))
}

// fail 把收件箱置为终态错误并返回对应的 Go 错误。
func (t *Task) fail(address, reason string) error {
	if err := t.store.UpdateInboxStatus(address, domain.InboxError, &reason); err != nil {
		t.log.Error("mark inbox failed", zap.String("address", address), zap.Error(err))
	}
	t.count("failed")
	return errors.New(reason)
}
