package domain

import "time"

// CheckStatus 单项检查的结论
type CheckStatus string

const (
	CheckOK      CheckStatus = "ok"      // 检查通过，记录存在
	CheckMissing CheckStatus = "missing" // 记录缺失或不匹配
	CheckSkipped CheckStatus = "skipped" // 前置条件不满足（如无发件IP），未执行
	CheckError   CheckStatus = "error"   // 外部依赖失败，结论未知
	CheckUnknown CheckStatus = "unknown" // 无法判定
)

// Severity 扣分项的严重程度
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// CheckResult 检查项的结构化结果。
//
// Blacklists 与 Spam 仅在对应检查项上填充，其余检查只使用
// 基础字段。Skipped 与 Status 一起保留，便于前端直接判断。
type CheckResult struct {
	Status     CheckStatus      `json:"status"`
	Domain     string           `json:"domain,omitempty"` // 实际查询的域名
	Record     string           `json:"record,omitempty"` // 命中的记录原文
	Detail     string           `json:"detail,omitempty"` // 补充说明（主机名、错误描述等）
	Skipped    bool             `json:"skipped,omitempty"`
	Blacklists *BlacklistResult `json:"blacklists,omitempty"`
	Spam       *SpamVerdict     `json:"spam,omitempty"`
}

// ScoreItem 一条有序的扣分记录。
type ScoreItem struct {
	Code        string   `json:"code"`
	Severity    Severity `json:"severity"`
	Points      float64  `json:"points"`
	Title       string   `json:"title"`
	Details     string   `json:"details,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
}

// ZoneStatus 单个 DNSBL 区域的查询结论
type ZoneStatus string

const (
	ZoneListed    ZoneStatus = "listed"
	ZoneNotListed ZoneStatus = "not_listed"
	ZoneTimeout   ZoneStatus = "timeout"
	ZoneError     ZoneStatus = "error"
)

// BlacklistResult 黑名单探测的聚合结果。
//
// 不单独持久化，随报告一起存储。Checked 恒等于 len(Zones)，
// Summary 各计数之和恒等于 Checked。
type BlacklistResult struct {
	Checked int                   `json:"checked"`
	Zones   map[string]ZoneStatus `json:"zones"`
	Summary map[ZoneStatus]int    `json:"summary"`
	Skipped bool                  `json:"skipped,omitempty"`
}

// Listed 返回命中的区域名列表。
func (r *BlacklistResult) Listed() []string {
	var listed []string
	for zone, status := range r.Zones {
		if status == ZoneListed {
			listed = append(listed, zone)
		}
	}
	return listed
}

// SpamRule 垃圾邮件分类器返回的单条命中规则。
type SpamRule struct {
	Points      float64 `json:"points"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
}

// SpamVerdict 垃圾邮件分类器的结论。
//
// 网络或协议失败时 Status 为 error、指针字段为 nil 且 Error
// 记录失败描述；调用方据此跳过该项的计分贡献。
type SpamVerdict struct {
	Status    CheckStatus `json:"status"`
	IsSpam    *bool       `json:"isSpam"`
	Score     *float64    `json:"score"`
	Threshold *float64    `json:"threshold"`
	Rules     []SpamRule  `json:"rules,omitempty"`
	Report    string      `json:"-"`
	Error     string      `json:"error,omitempty"`
}

// ReportMeta 被测邮件的元信息。
type ReportMeta struct {
	MessageID    string `json:"messageId,omitempty"`
	Subject      string `json:"subject,omitempty"`
	From         string `json:"from,omitempty"`
	To           string `json:"to,omitempty"`
	SenderDomain string `json:"senderDomain,omitempty"`
	SenderIP     string `json:"senderIp,omitempty"`
}

// ReportOwner 报告归属信息。
type ReportOwner struct {
	IdentityID string `json:"identityId,omitempty"`
	OriginIP   string `json:"originIp,omitempty"`
}

// AnalysisReport 一次完整分析的不可变结果。
//
// 每个成功分析的收件箱恰好产出一份，持久化后不再修改。
type AnalysisReport struct {
	ID          string                 `json:"id"`
	Checks      map[string]CheckResult `json:"checks"`
	Items       []ScoreItem            `json:"items"`
	Score       float64                `json:"score"`
	Grade       string                 `json:"grade"`
	Description string                 `json:"description"`
	Meta        ReportMeta             `json:"meta"`
	Owner       ReportOwner            `json:"owner"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// 报告 checks 映射使用的固定键名。
const (
	CheckNameSPF          = "spf"
	CheckNameDKIM         = "dkim"
	CheckNameDMARC        = "dmarc"
	CheckNameRDNS         = "rdns"
	CheckNameBlacklists   = "blacklists"
	CheckNameSpamAssassin = "spamassassin"
	CheckNameMX           = "mx"
	CheckNameSMTP         = "smtp"
)
