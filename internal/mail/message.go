package mail

import (
	"bytes"
	"errors"
	"net/mail"
	"net/netip"
	"regexp"
	"strings"
)

var (
	// ErrEmptyMessage 原始内容为空
	ErrEmptyMessage = errors.New("empty message")
)

// receivedIPPattern 匹配 Received 头中方括号包裹的 IPv4 地址
var receivedIPPattern = regexp.MustCompile(`\[(\d{1,3}(?:\.\d{1,3}){3})\]`)

// dkimSelectorPattern 匹配 DKIM-Signature 头中的 s= 标签
var dkimSelectorPattern = regexp.MustCompile(`(?:^|;)\s*s=([A-Za-z0-9._-]+)`)

// Message 被测邮件的只读抽象：头部查询与原始字节序列化。
//
// 头部通过 net/mail 解析，折叠的多行头在解析时已被展开。
type Message struct {
	header mail.Header
	raw    []byte
}

// Parse 解析原始邮件字节。
func Parse(raw []byte) (*Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyMessage
	}
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return &Message{header: msg.Header, raw: raw}, nil
}

// Raw 返回原始字节。
func (m *Message) Raw() []byte {
	return m.raw
}

// Get 返回指定头部的首个值，不存在时返回空串。
func (m *Message) Get(name string) string {
	return m.header.Get(name)
}

// Has 判断头部是否存在。
func (m *Message) Has(name string) bool {
	return m.header.Get(name) != ""
}

// FromDomain 提取 From 头声称的发件域名。
func (m *Message) FromDomain() string {
	from := m.Get("From")
	if from == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(from); err == nil {
		from = addr.Address
	}
	at := strings.LastIndex(from, "@")
	if at < 0 {
		return ""
	}
	domain := from[at+1:]
	domain = strings.TrimRight(domain, ">")
	return strings.ToLower(strings.TrimSpace(domain))
}

// DKIMSelector 从 DKIM-Signature 头提取 s= 选择子。
//
// 头部不存在或没有 s= 标签时返回空串，表示 DKIM 检查不适用。
func (m *Message) DKIMSelector() string {
	sig := m.Get("DKIM-Signature")
	if sig == "" {
		return ""
	}
	match := dkimSelectorPattern.FindStringSubmatch(sig)
	if match == nil {
		return ""
	}
	return match[1]
}

// SenderIP 沿 Received 链从最新到最旧查找第一个公网 IPv4。
//
// Received 头由各跳邮件服务器前置写入，因此头部出现顺序即
// 从最近一跳到最早一跳。找不到公网地址时返回空串。
func (m *Message) SenderIP() string {
	received := m.header["Received"]
	for _, header := range received {
		for _, match := range receivedIPPattern.FindAllStringSubmatch(header, -1) {
			if IsPublicIPv4(match[1]) {
				return match[1]
			}
		}
	}
	return ""
}

// IsPublicIPv4 判断字符串是否为可公网路由的 IPv4 地址。
func IsPublicIPv4(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return false
	}
	switch {
	case addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsMulticast(),
		addr.IsUnspecified():
		return false
	}
	return true
}
