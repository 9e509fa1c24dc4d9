package checker

import (
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailtester/backend/internal/domain"
)

var (
	// verdictPattern 匹配 "Spam: True ; 5.2 / 5.0" 形式的结论行
	verdictPattern = regexp.MustCompile(`Spam:\s*(True|False)\s*;\s*(-?[\d.]+)\s*/\s*(-?[\d.]+)`)

	// rulePattern 匹配 "<分值> <规则名> <描述>" 形式的命中规则行
	rulePattern = regexp.MustCompile(`^(-?[\d.]+)\s+([A-Z0-9_]+)\s+(.*)$`)
)

// SpamChecker 基于 SPAMC 行协议的垃圾邮件分类器客户端。
//
// 协议为单次请求应答：发送 CHECK 命令行、Content-length 头、
// 空行和原始邮件字节，然后读到对端关闭连接为止（应答没有
// 长度框定）。连接与读取都有超时，一个无响应的 spamd 实例
// 不会无限拖住所属任务。
type SpamChecker struct {
	addr        string
	dialTimeout time.Duration
	ioTimeout   time.Duration
	dial        func(ctx context.Context, network, addr string) (net.Conn, error)
	log         *zap.Logger
}

// NewSpamChecker 创建分类器客户端。
func NewSpamChecker(addr string, dialTimeout, ioTimeout time.Duration, log *zap.Logger) *SpamChecker {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	if ioTimeout <= 0 {
		ioTimeout = 20 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	dialer := &net.Dialer{Timeout: dialTimeout}
	return &SpamChecker{
		addr:        addr,
		dialTimeout: dialTimeout,
		ioTimeout:   ioTimeout,
		dial:        dialer.DialContext,
		log:         log,
	}
}

// Check 提交原始邮件并解析结论。
//
// 任何网络或协议失败都返回 status 为 error 的结构化结果而非
// Go 错误，调用方可以继续其余检查并跳过本项的计分贡献。
func (c *SpamChecker) Check(ctx context.Context, raw []byte) *domain.SpamVerdict {
	report, err := c.roundTrip(ctx, raw)
	if err != nil {
		c.log.Warn("spamd check failed", zap.String("addr", c.addr), zap.Error(err))
		return errVerdict(err)
	}

	verdict, ok := parseReport(report)
	if !ok {
		c.log.Warn("spamd response unparseable", zap.String("addr", c.addr))
		return errVerdict(fmt.Errorf("malformed spamd response"))
	}
	verdict.Report = report
	return verdict
}

// roundTrip 完成一次完整的 CHECK 往返。
func (c *SpamChecker) roundTrip(ctx context.Context, raw []byte) (string, error) {
	conn, err := c.dial(ctx, "tcp", c.addr)
	if err != nil {
		return "", fmt.Errorf("connect spamd: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.ioTimeout)); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}

	// Content-length 必须与载荷字节数完全一致
	var request strings.Builder
	request.WriteString("CHECK SPAMC/1.5\r\n")
	request.WriteString("Content-length: " + strconv.Itoa(len(raw)) + "\r\n")
	request.WriteString("\r\n")

	if _, err := conn.Write([]byte(request.String())); err != nil {
		return "", fmt.Errorf("write request: %w", err)
	}
	if _, err := conn.Write(raw); err != nil {
		return "", fmt.Errorf("write body: %w", err)
	}

	response, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(response), nil
}

// parseReport 从应答文本提取结论行与命中规则。
//
// 找不到结论行时返回 ok=false；规则表的表头（"pts ..."）和
// 分隔线（"----"）会被跳过。
func parseReport(report string) (*domain.SpamVerdict, bool) {
	match := verdictPattern.FindStringSubmatch(report)
	if match == nil {
		return nil, false
	}

	isSpam := match[1] == "True"
	spamScore, err1 := strconv.ParseFloat(match[2], 64)
	threshold, err2 := strconv.ParseFloat(match[3], 64)
	if err1 != nil || err2 != nil {
		return nil, false
	}

	verdict := &domain.SpamVerdict{
		Status:    domain.CheckOK,
		IsSpam:    &isSpam,
		Score:     &spamScore,
		Threshold: &threshold,
	}

	for _, line := range strings.Split(report, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "pts ") || strings.HasPrefix(line, "----") {
			continue
		}
		rm := rulePattern.FindStringSubmatch(line)
		if rm == nil {
			continue
		}
		points, err := strconv.ParseFloat(rm[1], 64)
		if err != nil {
			continue
		}
		verdict.Rules = append(verdict.Rules, domain.SpamRule{
			Points:      points,
			Name:        rm[2],
			Description: strings.TrimSpace(rm[3]),
		})
	}

	return verdict, true
}

// errVerdict 构造失败结论：指针字段保持 nil，仅记录失败描述。
func errVerdict(err error) *domain.SpamVerdict {
	return &domain.SpamVerdict{
		Status: domain.CheckError,
		Error:  err.Error(),
	}
}
