package domain

import "time"

// 每日分析配额的默认上限。匿名来源的上限刻意低于注册身份，
// 这是产品策略而非缺陷。
const (
	DefaultDailyAnalyzeLimit = 10 // 注册身份
	AnonymousDailyLimit      = 5  // 匿名来源（按 IP 统计当日已分析数）
)

// AnalyzeQuota 身份内嵌的分析配额计数器。
//
// ResetAt 指向下一个 UTC 零点；越过后在下一次检查时惰性重置，
// 没有定时任务。只有准入控制器可以修改这组字段。
type AnalyzeQuota struct {
	DailyLimit int        `json:"dailyLimit" gorm:"default:10"`
	DailyUsed  int        `json:"dailyUsed" gorm:"default:0"`
	ResetAt    *time.Time `json:"resetAt,omitempty"`
}

// Identity 表示触发测试的注册身份。
type Identity struct {
	ID        string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email     string       `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	Quota     AnalyzeQuota `json:"quota" gorm:"embedded;embeddedPrefix:quota_"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// UTCDayStart 返回给定时刻所在 UTC 日的零点。
func UTCDayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextUTCMidnight 返回给定时刻之后的下一个 UTC 零点。
func NextUTCMidnight(t time.Time) time.Time {
	return UTCDayStart(t).Add(24 * time.Hour)
}
