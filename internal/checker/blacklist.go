package checker

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"mailtester/backend/internal/domain"
)

// DefaultZones 默认探测的 DNSBL 区域，顺序固定以保证报告可复现。
var DefaultZones = []string{
	"zen.spamhaus.org",
	"bl.spamcop.net",
	"dnsbl.sorbs.net",
	"b.barracudacentral.org",
	"cbl.abuseat.org",
	"ips.backscatterer.org",
	"truncate.gbudb.net",
	"ubl.unsubscore.com",
	"virus.rbl.msrbl.net",
	"spam.rbl.msrbl.net",
	"phishing.rbl.msrbl.net",
	"ricn.dnsbl.net.au",
	"dnsbl.kempt.net",
	"bl.mailspike.net",
	"z.mailspike.net",
	"bl.score.senderscore.com",
	"dnsbl.dronebl.org",
	"dnsbl.spfbl.net",
	"dnsbl.cyberlogic.net",
	"psbl.surriel.com",
	"bl.blocklist.de",
	"rbl.interserver.net",
	"bad.psky.me",
	"hostkarma.junkemailfilter.com",
	"bl.konstant.no",
	"dnsbl.anticaptcha.net",
	"all.s5h.net",
}

// ProberConfig 黑名单探测器配置。
type ProberConfig struct {
	Zones        []string      // 为空时使用 DefaultZones
	Workers      int           // 并发上限，默认 10
	QueryTimeout time.Duration // 单区域查询超时，默认 5s
	Lifetime     time.Duration // 整体探测寿命上限，默认 30s
	QueryRate    float64       // 每秒查询数上限，<=0 表示不限速
}

// BlacklistProber 对单个 IP 做有界并发的 DNSBL 扇出探测。
//
// 每个区域的查询有独立超时，整体受 Lifetime 约束，单个慢区域
// 不会拖住其余查询。并发由固定上限的工作组控制，绝不做无界
// 扇出。
type BlacklistProber struct {
	resolver     Resolver
	zones        []string
	workers      int
	queryTimeout time.Duration
	lifetime     time.Duration
	limiter      *rate.Limiter
	log          *zap.Logger
}

// NewBlacklistProber 创建黑名单探测器。
func NewBlacklistProber(resolver Resolver, cfg ProberConfig, log *zap.Logger) *BlacklistProber {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if len(cfg.Zones) == 0 {
		cfg.Zones = DefaultZones
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.QueryRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QueryRate), cfg.Workers)
	}

	return &BlacklistProber{
		resolver:     resolver,
		zones:        cfg.Zones,
		workers:      cfg.Workers,
		queryTimeout: cfg.QueryTimeout,
		lifetime:     cfg.Lifetime,
		limiter:      limiter,
		log:          log,
	}
}

// Probe 探测单个 IP 在所有区域的收录状态。
//
// 入参 IP 为空时短路返回零检查的空结果并带 Skipped 标记，
// 不算错误。返回值满足 Checked == len(Zones) 且 Summary 各
// 计数之和等于 Checked。
func (p *BlacklistProber) Probe(ctx context.Context, ip string) *domain.BlacklistResult {
	result := &domain.BlacklistResult{
		Zones:   make(map[string]domain.ZoneStatus, len(p.zones)),
		Summary: make(map[domain.ZoneStatus]int),
	}

	reversed, ok := reverseOctets(ip)
	if !ok {
		result.Skipped = true
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, p.lifetime)
	defer cancel()

	statuses := make([]domain.ZoneStatus, len(p.zones))

	group := new(errgroup.Group)
	group.SetLimit(p.workers)
	for i, zone := range p.zones {
		i, zone := i, zone
		group.Go(func() error {
			statuses[i] = p.probeZone(ctx, reversed, zone)
			return nil
		})
	}
	_ = group.Wait()

	for i, zone := range p.zones {
		result.Zones[zone] = statuses[i]
		result.Summary[statuses[i]]++
	}
	result.Checked = len(statuses)

	p.log.Debug("blacklist probe finished",
		zap.String("ip", ip),
		zap.Int("checked", result.Checked),
		zap.Int("listed", result.Summary[domain.ZoneListed]),
	)
	return result
}

// probeZone 查询单个区域并分类结论。
func (p *BlacklistProber) probeZone(ctx context.Context, reversed, zone string) domain.ZoneStatus {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return domain.ZoneTimeout
		}
	}

	qctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	_, err := p.resolver.LookupHost(qctx, reversed+"."+zone)
	return classifyLookup(err)
}

// classifyLookup 把 DNS 查询结果映射到区域状态。
//
// 有应答即为收录；NXDOMAIN 为未收录；超时单独归类；
// 其余一律视为错误。
func classifyLookup(err error) domain.ZoneStatus {
	if err == nil {
		return domain.ZoneListed
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return domain.ZoneNotListed
		}
		if dnsErr.IsTimeout {
			return domain.ZoneTimeout
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ZoneTimeout
	}
	return domain.ZoneError
}

// reverseOctets 把 IPv4 的四段倒序拼接，输入不合法时返回 false。
func reverseOctets(ip string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(ip), ".")
	if len(parts) != 4 {
		return "", false
	}
	return parts[3] + "." + parts[2] + "." + parts[1] + "." + parts[0], true
}
