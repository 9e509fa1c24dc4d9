package imapsource

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"mailtester/backend/internal/mail"
	"mailtester/backend/internal/task"
)

// Source 从外部 IMAP 邮箱取回测试邮件。
//
// 每次取件建立一条新连接，用后即走。测试地址一次性使用，
// 没有值得维持长连接的访问频率。
type Source struct {
	addr     string
	username string
	password string
	mailbox  string
	log      *zap.Logger
}

// New 创建 IMAP 取件源。
func New(addr, username, password, mailbox string, log *zap.Logger) *Source {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Source{
		addr:     addr,
		username: username,
		password: password,
		mailbox:  mailbox,
		log:      log,
	}
}

// Fetch 查找发给指定测试地址的最新一封邮件。
//
// 按 To 头搜索，未命中时回退到 X-Original-To（部分转发链路
// 会改写收件头）。没有匹配返回 task.ErrMessageNotFound。
func (s *Source) Fetch(_ context.Context, address string) (*mail.Message, error) {
	conn, err := client.DialTLS(s.addr, nil)
	if err != nil {
		return nil, fmt.Errorf("could not dial to imap: %w", err)
	}
	conn.Timeout = 30 * time.Second
	defer func() { _ = conn.Logout() }()

	if err := conn.Login(s.username, s.password); err != nil {
		return nil, fmt.Errorf("could not login to imap: %w", err)
	}
	if _, err := conn.Select(s.mailbox, true); err != nil {
		return nil, fmt.Errorf("could not select folder: %w", err)
	}

	uid, err := s.newestMatch(conn, address)
	if err != nil {
		return nil, err
	}
	if uid == 0 {
		return nil, task.ErrMessageNotFound
	}

	raw, err := s.fetchBody(conn, uid)
	if err != nil {
		return nil, err
	}
	return mail.Parse(raw)
}

// newestMatch 返回匹配地址的最大 UID，没有匹配时返回 0。
func (s *Source) newestMatch(conn *client.Client, address string) (uint32, error) {
	for _, header := range []string{"To", "X-Original-To"} {
		criteria := imap.NewSearchCriteria()
		criteria.Header.Add(header, address)

		uids, err := conn.UidSearch(criteria)
		if err != nil {
			return 0, fmt.Errorf("could not search folder: %w", err)
		}
		if len(uids) == 0 {
			continue
		}

		newest := uids[0]
		for _, uid := range uids[1:] {
			if uid > newest {
				newest = uid
			}
		}
		s.log.Debug("message located",
			zap.String("address", address),
			zap.String("header", header),
			zap.Uint32("uid", newest))
		return newest, nil
	}
	return 0, nil
}

// fetchBody 取回单封邮件的完整原始字节。
func (s *Source) fetchBody(conn *client.Client, uid uint32) ([]byte, error) {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- conn.UidFetch(seqset, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	var raw []byte
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("could not read mail body: %w", err)
		}
		raw = data
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("could not fetch mail: %w", err)
	}
	if len(raw) == 0 {
		return nil, task.ErrMessageNotFound
	}
	return raw, nil
}
