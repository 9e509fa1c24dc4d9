package analyzer

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailtester/backend/internal/domain"
	"mailtester/backend/internal/mail"
	"mailtester/backend/internal/monitoring"
	"mailtester/backend/internal/score"
)

// RecordChecker DNS 记录检查的抽象，生产实现为 checker.DNSChecker。
type RecordChecker interface {
	CheckSPF(ctx context.Context, domain string) (string, bool)
	CheckDKIM(ctx context.Context, domain, selector string) (string, bool)
	CheckDMARC(ctx context.Context, domain string) (string, bool)
	CheckRDNS(ctx context.Context, ip string) (string, bool)
	LookupMX(ctx context.Context, domain string) []string
	CheckSMTP(ctx context.Context, domain string) bool
}

// Prober DNSBL 探测的抽象，生产实现为 checker.BlacklistProber。
type Prober interface {
	Probe(ctx context.Context, ip string) *domain.BlacklistResult
}

// SpamClassifier 垃圾邮件分类的抽象，生产实现为 checker.SpamChecker。
type SpamClassifier interface {
	Check(ctx context.Context, raw []byte) *domain.SpamVerdict
}

// 扣分权重表。黑名单按命中事件聚合扣一次，不按区域累计。
const (
	pointsSPF             = 2.0
	pointsDKIM            = 1.5
	pointsDMARC           = 1.5
	pointsMessageID       = 0.5
	pointsDate            = 0.5
	pointsListUnsubscribe = 0.2
	pointsRDNS            = 0.4
	pointsBlacklisted     = 2.0
)

// Analyzer 对单封邮件执行全部检查并产出定稿报告。
//
// 纯编排，自身不做网络 I/O。检查按固定顺序执行以保证报告
// 可复现：SPF、DKIM、DMARC、头部卫生、反向解析、黑名单、
// 垃圾分类。任何单项失败都在该项边界内化为结构化结果，
// 绝不中断其余检查。
type Analyzer struct {
	records    RecordChecker
	prober     Prober
	classifier SpamClassifier
	probeMX    bool // 附加 MX 与 SMTP 握手的参考性检查
	metrics    *monitoring.Metrics
	log        *zap.Logger
}

// NewAnalyzer 创建分析器。metrics 可为 nil。
func NewAnalyzer(records RecordChecker, prober Prober, classifier SpamClassifier, probeMX bool, metrics *monitoring.Metrics, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{
		records:    records,
		prober:     prober,
		classifier: classifier,
		probeMX:    probeMX,
		metrics:    metrics,
		log:        log,
	}
}

// Analyze 执行一次完整分析。
//
// senderDomain 为 From 头声称的发件域，senderIP 为沿 Received
// 链解析出的公网地址（可为空）。没有发件 IP 时反向解析与黑
// 名单检查降级为跳过项，不产生扣分。
func (a *Analyzer) Analyze(ctx context.Context, msg *mail.Message, senderDomain, senderIP string) *domain.AnalysisReport {
	card := score.NewScorecard()
	checks := make(map[string]domain.CheckResult)

	a.timed(domain.CheckNameSPF, func() { a.checkSPF(ctx, senderDomain, card, checks) })
	a.timed(domain.CheckNameDKIM, func() { a.checkDKIM(ctx, msg, senderDomain, card, checks) })
	a.timed(domain.CheckNameDMARC, func() { a.checkDMARC(ctx, senderDomain, card, checks) })
	a.checkHeaders(msg, card)
	a.timed(domain.CheckNameRDNS, func() { a.checkRDNS(ctx, senderIP, card, checks) })
	a.timed(domain.CheckNameBlacklists, func() { a.checkBlacklists(ctx, senderIP, card, checks) })
	a.timed(domain.CheckNameSpamAssassin, func() { a.checkSpam(ctx, msg, checks) })
	if a.probeMX {
		a.timed(domain.CheckNameMX, func() { a.checkMailExchange(ctx, senderDomain, checks) })
	}

	result := card.Finalize()
	report := &domain.AnalysisReport{
		ID:          uuid.NewString(),
		Checks:      checks,
		Items:       result.Items,
		Score:       result.Score,
		Grade:       result.Grade,
		Description: result.Description,
		Meta: domain.ReportMeta{
			MessageID:    msg.Get("Message-ID"),
			Subject:      msg.Get("Subject"),
			From:         msg.Get("From"),
			To:           msg.Get("To"),
			SenderDomain: senderDomain,
			SenderIP:     senderIP,
		},
		CreatedAt: time.Now().UTC(),
	}

	a.log.Info("analysis finished",
		zap.String("report", report.ID),
		zap.String("domain", senderDomain),
		zap.Float64("score", report.Score),
		zap.String("grade", report.Grade))
	return report
}

// timed 为单项检查记录耗时指标。
func (a *Analyzer) timed(check string, fn func()) {
	if a.metrics == nil {
		fn()
		return
	}
	start := time.Now()
	fn()
	a.metrics.CheckDuration.WithLabelValues(check).Observe(time.Since(start).Seconds())
}

func (a *Analyzer) checkSPF(ctx context.Context, senderDomain string, card *score.Scorecard, checks map[string]domain.CheckResult) {
	record, found := a.records.CheckSPF(ctx, senderDomain)
	if found {
		checks[domain.CheckNameSPF] = domain.CheckResult{
			Status: domain.CheckOK,
			Domain: senderDomain,
			Record: record,
		}
		return
	}

	checks[domain.CheckNameSPF] = domain.CheckResult{
		Status: domain.CheckMissing,
		Domain: senderDomain,
	}
	card.Deduct(score.Deduction{
		Points:      pointsSPF,
		Code:        "spf_missing",
		Severity:    domain.SeverityHigh,
		Title:       "SPF record not found",
		Details:     "No v=spf1 TXT record was found for " + senderDomain,
		Remediation: "Publish an SPF TXT record listing the servers allowed to send for your domain",
	})
}

func (a *Analyzer) checkDKIM(ctx context.Context, msg *mail.Message, senderDomain string, card *score.Scorecard, checks map[string]domain.CheckResult) {
	selector := msg.DKIMSelector()
	if selector == "" {
		// 邮件未签名，检查不适用
		checks[domain.CheckNameDKIM] = domain.CheckResult{
			Status:  domain.CheckSkipped,
			Domain:  senderDomain,
			Detail:  "message carries no DKIM-Signature header",
			Skipped: true,
		}
		return
	}

	record, found := a.records.CheckDKIM(ctx, senderDomain, selector)
	if found {
		checks[domain.CheckNameDKIM] = domain.CheckResult{
			Status: domain.CheckOK,
			Domain: senderDomain,
			Record: record,
			Detail: "selector " + selector,
		}
		return
	}

	checks[domain.CheckNameDKIM] = domain.CheckResult{
		Status: domain.CheckMissing,
		Domain: senderDomain,
		Detail: "selector " + selector,
	}
	card.Deduct(score.Deduction{
		Points:      pointsDKIM,
		Code:        "dkim_missing",
		Severity:    domain.SeverityHigh,
		Title:       "DKIM public key not found",
		Details:     "No TXT record at " + selector + "._domainkey." + senderDomain,
		Remediation: "Publish the DKIM public key for the selector your mail server signs with",
	})
}

func (a *Analyzer) checkDMARC(ctx context.Context, senderDomain string, card *score.Scorecard, checks map[string]domain.CheckResult) {
	record, found := a.records.CheckDMARC(ctx, senderDomain)
	if found {
		checks[domain.CheckNameDMARC] = domain.CheckResult{
			Status: domain.CheckOK,
			Domain: senderDomain,
			Record: record,
		}
		return
	}

	checks[domain.CheckNameDMARC] = domain.CheckResult{
		Status: domain.CheckMissing,
		Domain: senderDomain,
	}
	card.Deduct(score.Deduction{
		Points:      pointsDMARC,
		Code:        "dmarc_missing",
		Severity:    domain.SeverityHigh,
		Title:       "DMARC policy not found",
		Details:     "No v=DMARC1 TXT record at _dmarc." + senderDomain,
		Remediation: "Publish a DMARC policy record, starting with p=none while you monitor reports",
	})
}

// checkHeaders 头部卫生检查只产出扣分记录，不进入 checks 映射。
func (a *Analyzer) checkHeaders(msg *mail.Message, card *score.Scorecard) {
	if !msg.Has("Message-ID") {
		card.Deduct(score.Deduction{
			Points:      pointsMessageID,
			Code:        "message_id_missing",
			Severity:    domain.SeverityMedium,
			Title:       "Message-ID header missing",
			Remediation: "Configure your mail server to add a Message-ID header to outgoing mail",
		})
	}
	if !msg.Has("Date") {
		card.Deduct(score.Deduction{
			Points:      pointsDate,
			Code:        "date_missing",
			Severity:    domain.SeverityMedium,
			Title:       "Date header missing",
			Remediation: "Configure your mail server to add a Date header to outgoing mail",
		})
	}
	if !msg.Has("List-Unsubscribe") {
		card.Deduct(score.Deduction{
			Points:      pointsListUnsubscribe,
			Code:        "list_unsubscribe_missing",
			Severity:    domain.SeverityLow,
			Title:       "List-Unsubscribe header missing",
			Remediation: "Add a List-Unsubscribe header if you send bulk or marketing mail",
		})
	}
}

func (a *Analyzer) checkRDNS(ctx context.Context, senderIP string, card *score.Scorecard, checks map[string]domain.CheckResult) {
	if senderIP == "" {
		checks[domain.CheckNameRDNS] = domain.CheckResult{
			Status:  domain.CheckSkipped,
			Detail:  "no public sender IP resolved",
			Skipped: true,
		}
		return
	}

	hostname, found := a.records.CheckRDNS(ctx, senderIP)
	if found {
		checks[domain.CheckNameRDNS] = domain.CheckResult{
			Status: domain.CheckOK,
			Detail: hostname,
		}
		return
	}

	checks[domain.CheckNameRDNS] = domain.CheckResult{
		Status: domain.CheckMissing,
		Detail: "no PTR record for " + senderIP,
	}
	card.Deduct(score.Deduction{
		Points:      pointsRDNS,
		Code:        "rdns_missing",
		Severity:    domain.SeverityMedium,
		Title:       "Reverse DNS not configured",
		Details:     "The sending address " + senderIP + " has no PTR record",
		Remediation: "Ask your hosting provider to set a PTR record matching your mail server hostname",
	})
}

func (a *Analyzer) checkBlacklists(ctx context.Context, senderIP string, card *score.Scorecard, checks map[string]domain.CheckResult) {
	result := a.prober.Probe(ctx, senderIP)
	status := domain.CheckOK
	if result.Skipped {
		status = domain.CheckSkipped
	}
	checks[domain.CheckNameBlacklists] = domain.CheckResult{
		Status:     status,
		Skipped:    result.Skipped,
		Blacklists: result,
	}
	if a.metrics != nil {
		for zoneStatus, count := range result.Summary {
			a.metrics.BlacklistQueries.WithLabelValues(string(zoneStatus)).Add(float64(count))
		}
	}

	listed := result.Listed()
	if len(listed) == 0 {
		return
	}
	if a.metrics != nil {
		a.metrics.BlacklistListings.Inc()
	}
	card.Deduct(score.Deduction{
		Points:      pointsBlacklisted,
		Code:        "blacklisted",
		Severity:    domain.SeverityHigh,
		Title:       "Sender IP is blacklisted",
		Details:     senderIP + " is listed on: " + strings.Join(listed, ", "),
		Remediation: "Request delisting from the blacklist operators and fix the underlying cause first",
	})
}

// checkSpam 分类器结论只作展示，不参与计分。
func (a *Analyzer) checkSpam(ctx context.Context, msg *mail.Message, checks map[string]domain.CheckResult) {
	verdict := a.classifier.Check(ctx, msg.Raw())
	checks[domain.CheckNameSpamAssassin] = domain.CheckResult{
		Status: verdict.Status,
		Spam:   verdict,
	}
}

// checkMailExchange 参考性检查：MX 记录与 25 端口握手。
// 不扣分，只把结论写进报告。
func (a *Analyzer) checkMailExchange(ctx context.Context, senderDomain string, checks map[string]domain.CheckResult) {
	hosts := a.records.LookupMX(ctx, senderDomain)
	if len(hosts) == 0 {
		checks[domain.CheckNameMX] = domain.CheckResult{
			Status: domain.CheckMissing,
			Domain: senderDomain,
		}
		checks[domain.CheckNameSMTP] = domain.CheckResult{
			Status:  domain.CheckSkipped,
			Domain:  senderDomain,
			Skipped: true,
		}
		return
	}

	checks[domain.CheckNameMX] = domain.CheckResult{
		Status: domain.CheckOK,
		Domain: senderDomain,
		Detail: strings.Join(hosts, ", "),
	}

	status := domain.CheckMissing
	if a.records.CheckSMTP(ctx, senderDomain) {
		status = domain.CheckOK
	}
	checks[domain.CheckNameSMTP] = domain.CheckResult{
		Status: status,
		Domain: senderDomain,
	}
}
