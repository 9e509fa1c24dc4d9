package smtpingest

import (
	"context"
	"io"
	"strings"
	"sync"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailtester/backend/internal/mail"
	"mailtester/backend/internal/storage"
	"mailtester/backend/internal/task"
)

// Ingest 进程内的只收不发 SMTP 端点。
//
// 测试邮件直接投递到本进程时使用，收到的原始字节按收件地址
// 暂存在内存里，由分析任务经 Fetch 取走。只接受地址存在于
// 存储中的收件人，其余一律 550 拒绝，不做任何中继。
type Ingest struct {
	inboxes storage.InboxRepository
	log     *zap.Logger

	mu       sync.RWMutex
	messages map[string][]byte // address -> raw message
}

// NewIngest 创建收件端点。
func NewIngest(inboxes storage.InboxRepository, log *zap.Logger) *Ingest {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingest{
		inboxes:  inboxes,
		log:      log,
		messages: make(map[string][]byte),
	}
}

// Fetch 取出发给指定地址的暂存邮件。
func (i *Ingest) Fetch(_ context.Context, address string) (*mail.Message, error) {
	i.mu.RLock()
	raw, ok := i.messages[normalize(address)]
	i.mu.RUnlock()
	if !ok {
		return nil, task.ErrMessageNotFound
	}
	return mail.Parse(raw)
}

// NewSession 实现 go-smtp 的 Backend 接口。
func (i *Ingest) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{ingest: i}, nil
}

func (i *Ingest) store(address string, raw []byte) {
	i.mu.Lock()
	i.messages[address] = raw
	i.mu.Unlock()
	i.log.Info("test message received", zap.String("address", address), zap.Int("bytes", len(raw)))
}

type session struct {
	ingest     *Ingest
	recipients []string
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(_ string, _ *gosmtp.MailOptions) error {
	return nil
}

// Rcpt 处理 RCPT 命令，只接受系统内已存在的测试地址。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalize(to)
	if _, err := s.ingest.inboxes.GetInboxByAddress(addr); err != nil {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "no such test inbox",
		}
	}
	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理 DATA 命令，按收件人暂存原始字节。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	for _, addr := range s.recipients {
		s.ingest.store(addr, raw)
	}
	return nil
}

// Reset 重置会话状态。
func (s *session) Reset() {
	s.recipients = nil
}

// Logout 结束会话。
func (s *session) Logout() error {
	return nil
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(strings.Trim(address, "<>")))
}
