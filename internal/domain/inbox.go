package domain

import (
	"time"
)

// InboxStatus 测试收件箱的生命周期状态
type InboxStatus string

const (
	InboxPending    InboxStatus = "pending"    // 已生成，等待测试邮件到达
	InboxProcessing InboxStatus = "processing" // 分析任务已认领，正在处理
	InboxAnalyzed   InboxStatus = "analyzed"   // 分析完成，报告可用
	InboxError      InboxStatus = "error"      // 处理失败，last_error 记录原因
	InboxExpired    InboxStatus = "expired"    // 超过有效期，读取时惰性标记
)

// LastErrorWaiting 邮件尚未到达时记录的错误标记
const LastErrorWaiting = "waiting_for_email"

// LastErrorQuotaExceeded 当日分析配额耗尽时记录的错误标记
const LastErrorQuotaExceeded = "daily_analyze_limit_exceeded"

// TestInbox 表示一次投递测试使用的一次性收件箱。
//
// AnalysisClaimedAt 是防止重复分析的 CAS 标记：只有把该字段从
// NULL 置为非 NULL 的那一次条件更新的发起者才有资格继续执行
// 配额检查与分析，其余并发触发一律视为已在处理中。
type TestInbox struct {
	ID                string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address           string      `json:"address" gorm:"type:varchar(255);uniqueIndex"`
	Status            InboxStatus `json:"status" gorm:"type:varchar(20);index"`
	OwnerID           *string     `json:"ownerId,omitempty" gorm:"type:varchar(36);index"` // 关联的身份ID（匿名为nil）
	OriginIP          string      `json:"-" gorm:"type:varchar(45);index"`
	CreatedAt         time.Time   `json:"createdAt"`
	ExpiresAt         *time.Time  `json:"expiresAt,omitempty"`
	AnalysisClaimedAt *time.Time  `json:"-" gorm:"index"`
	AnalyzedAt        *time.Time  `json:"analyzedAt,omitempty" gorm:"index"`
	AnalysisID        *string     `json:"analysisId,omitempty" gorm:"type:varchar(36)"`
	LastError         *string     `json:"lastError,omitempty" gorm:"type:varchar(512)"`
}

// ExpiredAt 在指定时间判断收件箱是否已过有效期。
func (i *TestInbox) ExpiredAt(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}

// EffectiveStatus 返回对外可见状态：过期优先于底层状态。
func (i *TestInbox) EffectiveStatus(now time.Time) InboxStatus {
	if i.ExpiredAt(now) {
		return InboxExpired
	}
	return i.Status
}
