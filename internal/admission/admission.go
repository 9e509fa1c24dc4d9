package admission

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailtester/backend/internal/domain"
	"mailtester/backend/internal/monitoring"
	"mailtester/backend/internal/storage"
)

// Decision 准入裁决。三个标志互斥，恰有一个为真。
type Decision struct {
	Allowed        bool // 赢得认领且配额允许，可以继续分析
	AlreadyClaimed bool // 认领已被占据，本次触发放弃
	QuotaExceeded  bool // 当日配额耗尽，收件箱已置为终态错误
}

// Controller 分析准入控制器。
//
// 准入分两步：先用存储层的条件更新争抢认领标记（保证同一
// 收件箱至多一次分析），赢得认领后再做配额检查。配额拒绝
// 时认领标记会被释放，收件箱本身已进入终态，释放只是保持
// 字段语义干净。
type Controller struct {
	store     storage.Store
	anonLimit int
	now       func() time.Time
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewController 创建准入控制器。metrics 可为 nil。
func NewController(store storage.Store, anonLimit int, metrics *monitoring.Metrics, log *zap.Logger) *Controller {
	if anonLimit <= 0 {
		anonLimit = domain.AnonymousDailyLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		store:     store,
		anonLimit: anonLimit,
		now:       time.Now,
		metrics:   metrics,
		log:       log,
	}
}

// TryClaim 对收件箱执行认领与配额检查。
//
// 返回错误仅表示存储层故障，此时已赢得的认领会被释放，
// 调用方可以安全重试。
func (c *Controller) TryClaim(inbox *domain.TestInbox) (Decision, error) {
	now := c.now().UTC()

	won, err := c.store.ClaimAnalysis(inbox.Address, now)
	if err != nil {
		return Decision{}, fmt.Errorf("claim analysis: %w", err)
	}
	if !won {
		c.log.Debug("analysis already claimed", zap.String("address", inbox.Address))
		return Decision{AlreadyClaimed: true}, nil
	}

	allowed, err := c.checkQuota(inbox, now)
	if err != nil {
		if relErr := c.store.ReleaseAnalysisClaim(inbox.Address); relErr != nil {
			c.log.Warn("release claim after quota error failed",
				zap.String("address", inbox.Address), zap.Error(relErr))
		}
		return Decision{}, err
	}
	if !allowed {
		return c.deny(inbox)
	}

	if err := c.store.UpdateInboxStatus(inbox.Address, domain.InboxProcessing, nil); err != nil {
		return Decision{}, fmt.Errorf("mark processing: %w", err)
	}
	return Decision{Allowed: true}, nil
}

// checkQuota 按归属选择配额口径：注册身份用显式计数器，
// 匿名来源用当日已分析收件箱的只读聚合。
func (c *Controller) checkQuota(inbox *domain.TestInbox, now time.Time) (bool, error) {
	if inbox.OwnerID != nil {
		return c.checkIdentityQuota(*inbox.OwnerID, now)
	}
	return c.checkAnonymousQuota(inbox.OriginIP, now)
}

// checkIdentityQuota 注册身份的配额检查。
//
// 重置时刻已过时先惰性重置再判断；放行时消费一次计数。
func (c *Controller) checkIdentityQuota(identityID string, now time.Time) (bool, error) {
	identity, err := c.store.GetIdentity(identityID)
	if err != nil {
		return false, fmt.Errorf("load identity: %w", err)
	}

	used := identity.Quota.DailyUsed
	if identity.Quota.ResetAt == nil || !now.Before(*identity.Quota.ResetAt) {
		if err := c.store.ResetAnalyzeQuota(identityID, domain.NextUTCMidnight(now)); err != nil {
			return false, fmt.Errorf("reset quota: %w", err)
		}
		used = 0
	}

	limit := identity.Quota.DailyLimit
	if limit <= 0 {
		limit = domain.DefaultDailyAnalyzeLimit
	}
	if used >= limit {
		c.log.Info("identity quota exceeded",
			zap.String("identity", identityID),
			zap.Int("used", used),
			zap.Int("limit", limit))
		if c.metrics != nil {
			c.metrics.QuotaDenials.WithLabelValues("identity").Inc()
		}
		return false, nil
	}

	if err := c.store.ConsumeAnalyzeQuota(identityID); err != nil {
		return false, fmt.Errorf("consume quota: %w", err)
	}
	return true, nil
}

// checkAnonymousQuota 匿名来源的配额检查。
//
// 没有计数器可消费，按来源 IP 统计当日（UTC）已完成分析的
// 收件箱数量；完成本次分析本身就推进了计数。
func (c *Controller) checkAnonymousQuota(originIP string, now time.Time) (bool, error) {
	if originIP == "" {
		return true, nil
	}

	count, err := c.store.CountAnalyzedByIP(originIP, domain.UTCDayStart(now))
	if err != nil {
		return false, fmt.Errorf("count analyzed by ip: %w", err)
	}
	if count >= c.anonLimit {
		c.log.Info("anonymous quota exceeded",
			zap.String("ip", originIP),
			zap.Int("count", count),
			zap.Int("limit", c.anonLimit))
		if c.metrics != nil {
			c.metrics.QuotaDenials.WithLabelValues("anonymous").Inc()
		}
		return false, nil
	}
	return true, nil
}

// deny 配额拒绝：收件箱进入终态错误并释放认领标记。
func (c *Controller) deny(inbox *domain.TestInbox) (Decision, error) {
	reason := domain.LastErrorQuotaExceeded
	if err := c.store.UpdateInboxStatus(inbox.Address, domain.InboxError, &reason); err != nil {
		return Decision{}, fmt.Errorf("mark quota denial: %w", err)
	}
	if err := c.store.ReleaseAnalysisClaim(inbox.Address); err != nil {
		c.log.Warn("release claim after denial failed",
			zap.String("address", inbox.Address), zap.Error(err))
	}
	return Decision{QuotaExceeded: true}, nil
}
