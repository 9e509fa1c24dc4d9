package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMessage = "Received: from mx.example.com (mx.example.com [198.51.100.4])\r\n" +
	"\tby inbound.mailtester.dev with ESMTP id abc123\r\n" +
	"Received: from internal.example.com (internal.example.com [10.0.0.7])\r\n" +
	"\tby mx.example.com with ESMTP\r\n" +
	"From: Alice Sender <alice@Example.COM>\r\n" +
	"To: test-abcdef1234@mailtester.dev\r\n" +
	"Subject: hello\r\n" +
	"Message-ID: <m1@example.com>\r\n" +
	"Date: Mon, 31 Aug 2026 10:00:00 +0000\r\n" +
	"DKIM-Signature: v=1; a=rsa-sha256; d=example.com;\r\n" +
	"\ts=mail2026; h=from:to:subject;\r\n" +
	"\tbh=abc; b=def\r\n" +
	"\r\n" +
	"body line\r\n"

func TestParse(t *testing.T) {
	msg, err := Parse([]byte(sampleMessage))
	require.NoError(t, err)
	assert.Equal(t, []byte(sampleMessage), msg.Raw())

	t.Run("空内容报错", func(t *testing.T) {
		_, err := Parse(nil)
		assert.ErrorIs(t, err, ErrEmptyMessage)
		_, err = Parse([]byte("  \r\n "))
		assert.ErrorIs(t, err, ErrEmptyMessage)
	})
}

func TestMessage_GetHas(t *testing.T) {
	msg, err := Parse([]byte(sampleMessage))
	require.NoError(t, err)

	assert.Equal(t, "hello", msg.Get("Subject"))
	assert.Equal(t, "<m1@example.com>", msg.Get("Message-Id"))
	assert.True(t, msg.Has("Date"))
	assert.False(t, msg.Has("List-Unsubscribe"))
	assert.Equal(t, "", msg.Get("List-Unsubscribe"))
}

func TestMessage_FromDomain(t *testing.T) {
	cases := []struct {
		name string
		from string
		want string
	}{
		{"带显示名", "Alice <alice@Example.COM>", "example.com"},
		{"裸地址", "alice@example.com", "example.com"},
		{"无地址", "not an address", ""},
		{"缺失", "", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			raw := "Subject: x\r\n\r\nbody\r\n"
			if c.from != "" {
				raw = "From: " + c.from + "\r\n" + raw
			}
			msg, err := Parse([]byte(raw))
			require.NoError(t, err)
			assert.Equal(t, c.want, msg.FromDomain())
		})
	}
}

func TestMessage_DKIMSelector(t *testing.T) {
	msg, err := Parse([]byte(sampleMessage))
	require.NoError(t, err)
	assert.Equal(t, "mail2026", msg.DKIMSelector(), "selector survives header folding")

	unsigned, err := Parse([]byte("From: a@example.com\r\n\r\nbody\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "", unsigned.DKIMSelector())

	noSelector, err := Parse([]byte("DKIM-Signature: v=1; a=rsa-sha256; d=example.com\r\n\r\nbody\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "", noSelector.DKIMSelector())
}

func TestMessage_SenderIP(t *testing.T) {
	t.Run("取最新一跳的公网地址", func(t *testing.T) {
		msg, err := Parse([]byte(sampleMessage))
		require.NoError(t, err)
		assert.Equal(t, "198.51.100.4", msg.SenderIP())
	})

	t.Run("跳过私网与回环地址", func(t *testing.T) {
		raw := "Received: from a (a [127.0.0.1])\r\n" +
			"Received: from b (b [192.168.1.20])\r\n" +
			"Received: from c (c [203.0.113.9])\r\n" +
			"From: a@example.com\r\n\r\nbody\r\n"
		msg, err := Parse([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, "203.0.113.9", msg.SenderIP())
	})

	t.Run("全链路无公网地址", func(t *testing.T) {
		raw := "Received: from a (a [10.1.2.3])\r\n" +
			"From: a@example.com\r\n\r\nbody\r\n"
		msg, err := Parse([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, "", msg.SenderIP())
	})
}

func TestIsPublicIPv4(t *testing.T) {
	assert.True(t, IsPublicIPv4("198.51.100.4"))
	assert.True(t, IsPublicIPv4("8.8.8.8"))

	for _, ip := range []string{
		"127.0.0.1", "10.0.0.7", "172.16.5.1", "192.168.1.1",
		"169.254.0.1", "224.0.0.1", "0.0.0.0", "2001:db8::1", "not-an-ip",
	} {
		assert.False(t, IsPublicIPv4(ip), "ip %q must not be public IPv4", ip)
	}
}
