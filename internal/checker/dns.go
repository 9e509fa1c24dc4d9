package checker

import (
	"context"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Resolver 抽象 DNS 查询，*net.Resolver 天然满足。
//
// 抽出接口是为了让检查逻辑可以在测试里使用脚本化的假解析器。
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

const (
	spfToken   = "v=spf1"
	dmarcToken = "v=DMARC1"

	// smtpProbeTimeout MX 握手探测的单次超时
	smtpProbeTimeout = 6 * time.Second
)

// DNSChecker 无状态的域名记录检查器。
//
// 所有方法都把解析失败归一化为"未找到"，绝不让单条 DNS 故障
// 中断整体分析。
type DNSChecker struct {
	resolver Resolver
	timeout  time.Duration
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
	log      *zap.Logger
}

// NewDNSChecker 创建记录检查器。
func NewDNSChecker(resolver Resolver, timeout time.Duration, log *zap.Logger) *DNSChecker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	dialer := &net.Dialer{Timeout: smtpProbeTimeout}
	return &DNSChecker{
		resolver: resolver,
		timeout:  timeout,
		dial:     dialer.DialContext,
		log:      log,
	}
}

// CheckSPF 查询域名 TXT 记录中是否存在 SPF 声明。
func (c *DNSChecker) CheckSPF(ctx context.Context, domain string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	records, err := c.resolver.LookupTXT(ctx, domain)
	if err != nil {
		c.log.Debug("spf lookup failed", zap.String("domain", domain), zap.Error(err))
		return "", false
	}
	for _, record := range records {
		if strings.Contains(record, spfToken) {
			return record, true
		}
	}
	return "", false
}

// CheckDKIM 查询 <selector>._domainkey.<domain> 的 TXT 记录。
func (c *DNSChecker) CheckDKIM(ctx context.Context, domain, selector string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	name := selector + "._domainkey." + domain
	records, err := c.resolver.LookupTXT(ctx, name)
	if err != nil || len(records) == 0 {
		c.log.Debug("dkim lookup failed", zap.String("name", name), zap.Error(err))
		return "", false
	}
	return records[0], true
}

// CheckDMARC 查询 _dmarc.<domain> 的 TXT 记录中是否存在 DMARC 策略。
func (c *DNSChecker) CheckDMARC(ctx context.Context, domain string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	name := "_dmarc." + domain
	records, err := c.resolver.LookupTXT(ctx, name)
	if err != nil {
		c.log.Debug("dmarc lookup failed", zap.String("name", name), zap.Error(err))
		return "", false
	}
	for _, record := range records {
		if strings.Contains(record, dmarcToken) {
			return record, true
		}
	}
	return "", false
}

// CheckRDNS 反查 IP 的 PTR 记录。
//
// NXDOMAIN、超时、格式错误统一视为"无匹配"，永不致命。
func (c *DNSChecker) CheckRDNS(ctx context.Context, ip string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	names, err := c.resolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		c.log.Debug("rdns lookup failed", zap.String("ip", ip), zap.Error(err))
		return "", false
	}
	return strings.TrimSuffix(names[0], "."), true
}

// LookupMX 返回域名的 MX 主机列表，失败时返回 nil。
func (c *DNSChecker) LookupMX(ctx context.Context, domain string) []string {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	mxs, err := c.resolver.LookupMX(ctx, domain)
	if err != nil || len(mxs) == 0 {
		return nil
	}
	hosts := make([]string, 0, len(mxs))
	for _, mx := range mxs {
		hosts = append(hosts, strings.TrimSuffix(mx.Host, "."))
	}
	return hosts
}

// CheckA 判断域名是否存在可解析的地址记录。
func (c *DNSChecker) CheckA(ctx context.Context, domain string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	addrs, err := c.resolver.LookupHost(ctx, domain)
	return err == nil && len(addrs) > 0
}

// CheckSMTP 对域名的每个 MX 主机做一次 EHLO 握手探测。
//
// 任何一台 MX 握手失败即判定失败；没有 MX 记录同样判定失败。
func (c *DNSChecker) CheckSMTP(ctx context.Context, domain string) bool {
	hosts := c.LookupMX(ctx, domain)
	if len(hosts) == 0 {
		return false
	}

	for _, host := range hosts {
		if !c.probeSMTP(ctx, host) {
			return false
		}
	}
	return true
}

// probeSMTP 与单台 MX 建立连接并完成 EHLO/QUIT。
func (c *DNSChecker) probeSMTP(ctx context.Context, host string) bool {
	ctx, cancel := context.WithTimeout(ctx, smtpProbeTimeout)
	defer cancel()

	conn, err := c.dial(ctx, "tcp", net.JoinHostPort(host, "25"))
	if err != nil {
		c.log.Debug("smtp dial failed", zap.String("host", host), zap.Error(err))
		return false
	}
	_ = conn.SetDeadline(time.Now().Add(smtpProbeTimeout))

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return false
	}
	defer client.Close()

	if err := client.Hello("mailtester.local"); err != nil {
		return false
	}
	_ = client.Quit()
	return true
}
