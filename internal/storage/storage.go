package storage

import (
	"errors"
	"time"

	"mailtester/backend/internal/domain"
)

var (
	// ErrInboxNotFound 收件箱不存在
	ErrInboxNotFound = errors.New("inbox not found")
	// ErrIdentityNotFound 身份不存在
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrReportNotFound 报告不存在
	ErrReportNotFound = errors.New("report not found")
)

// InboxRepository 定义测试收件箱的数据存取操作。
type InboxRepository interface {
	SaveInbox(inbox *domain.TestInbox) error
	GetInbox(id string) (*domain.TestInbox, error)
	GetInboxByAddress(address string) (*domain.TestInbox, error)
	UpdateInboxStatus(address string, status domain.InboxStatus, lastError *string) error
	SetInboxAnalyzed(address, analysisID string, at time.Time) error

	// ClaimAnalysis 以单条条件更新认领分析权：仅当
	// analysis_claimed_at 当前为空时写入。返回值为 true 表示
	// 本次调用赢得认领；false 表示已被先前的认领者占据。
	// 实现必须保证该操作在存储层原子，不得拆成读写两步。
	ClaimAnalysis(address string, at time.Time) (bool, error)

	// ReleaseAnalysisClaim 释放认领标记（配额拒绝路径使用）。
	ReleaseAnalysisClaim(address string) error

	// CountAnalyzedByIP 统计某来源 IP 自 since 起已完成分析的
	// 收件箱数量，用于匿名配额的只读聚合。
	CountAnalyzedByIP(ip string, since time.Time) (int, error)

	DeleteExpiredInboxes() (int, error)
}

// IdentityRepository 定义身份与配额的数据存取操作。
type IdentityRepository interface {
	CreateIdentity(identity *domain.Identity) error
	GetIdentity(id string) (*domain.Identity, error)

	// ResetAnalyzeQuota 把已用计数清零并推进下一次重置时刻。
	ResetAnalyzeQuota(id string, resetAt time.Time) error

	// ConsumeAnalyzeQuota 已用计数加一。
	ConsumeAnalyzeQuota(id string) error
}

// ReportRepository 定义分析报告的数据存取操作。
type ReportRepository interface {
	SaveReport(report *domain.AnalysisReport) error
	GetReport(id string) (*domain.AnalysisReport, error)
}

// Store 聚合全部存储接口。
//
// 句柄在进程启动时显式构造并注入，关闭时随进程生命周期
// 释放，不存在包级单例。
type Store interface {
	InboxRepository
	IdentityRepository
	ReportRepository

	Close() error
	Health() error
}
