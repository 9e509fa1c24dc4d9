package checker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeResolver 脚本化解析器：按名字返回预置应答
type fakeResolver struct {
	txt  map[string][]string
	ptr  map[string][]string
	host map[string][]string
	mx   map[string][]*net.MX
	err  map[string]error
}

func (f *fakeResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	if err, ok := f.err[name]; ok {
		return nil, err
	}
	if records, ok := f.txt[name]; ok {
		return records, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func (f *fakeResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	if err, ok := f.err[addr]; ok {
		return nil, err
	}
	if names, ok := f.ptr[addr]; ok {
		return names, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: addr, IsNotFound: true}
}

func (f *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if err, ok := f.err[host]; ok {
		return nil, err
	}
	if addrs, ok := f.host[host]; ok {
		return addrs, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func (f *fakeResolver) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	if err, ok := f.err[name]; ok {
		return nil, err
	}
	if mxs, ok := f.mx[name]; ok {
		return mxs, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func TestDNSChecker_CheckSPF(t *testing.T) {
	resolver := &fakeResolver{txt: map[string][]string{
		"example.com": {
			"google-site-verification=abc",
			"v=spf1 include:_spf.example.com ~all",
		},
		"nospf.example.com": {"some=other"},
	}}
	c := NewDNSChecker(resolver, time.Second, nil)

	t.Run("命中SPF声明", func(t *testing.T) {
		record, found := c.CheckSPF(context.Background(), "example.com")
		assert.True(t, found)
		assert.Equal(t, "v=spf1 include:_spf.example.com ~all", record)
	})

	t.Run("TXT存在但无SPF", func(t *testing.T) {
		_, found := c.CheckSPF(context.Background(), "nospf.example.com")
		assert.False(t, found)
	})

	t.Run("NXDOMAIN视为未找到", func(t *testing.T) {
		_, found := c.CheckSPF(context.Background(), "missing.example.com")
		assert.False(t, found)
	})
}

func TestDNSChecker_CheckDKIM(t *testing.T) {
	resolver := &fakeResolver{txt: map[string][]string{
		"mail._domainkey.example.com": {"v=DKIM1; k=rsa; p=MIGf..."},
	}}
	c := NewDNSChecker(resolver, time.Second, nil)

	record, found := c.CheckDKIM(context.Background(), "example.com", "mail")
	assert.True(t, found)
	assert.Contains(t, record, "v=DKIM1")

	_, found = c.CheckDKIM(context.Background(), "example.com", "other")
	assert.False(t, found)
}

func TestDNSChecker_CheckDMARC(t *testing.T) {
	resolver := &fakeResolver{txt: map[string][]string{
		"_dmarc.example.com": {"v=DMARC1; p=reject; rua=mailto:dmarc@example.com"},
	}}
	c := NewDNSChecker(resolver, time.Second, nil)

	record, found := c.CheckDMARC(context.Background(), "example.com")
	assert.True(t, found)
	assert.Contains(t, record, "v=DMARC1")

	_, found = c.CheckDMARC(context.Background(), "other.com")
	assert.False(t, found)
}

func TestDNSChecker_CheckRDNS(t *testing.T) {
	resolver := &fakeResolver{ptr: map[string][]string{
		"198.51.100.4": {"mail.example.com."},
	}}
	c := NewDNSChecker(resolver, time.Second, nil)

	hostname, found := c.CheckRDNS(context.Background(), "198.51.100.4")
	assert.True(t, found)
	assert.Equal(t, "mail.example.com", hostname, "trailing dot is stripped")

	_, found = c.CheckRDNS(context.Background(), "203.0.113.9")
	assert.False(t, found)
}

func TestDNSChecker_LookupMXAndCheckA(t *testing.T) {
	resolver := &fakeResolver{
		mx: map[string][]*net.MX{
			"example.com": {
				{Host: "mx1.example.com.", Pref: 10},
				{Host: "mx2.example.com.", Pref: 20},
			},
		},
		host: map[string][]string{"example.com": {"198.51.100.4"}},
	}
	c := NewDNSChecker(resolver, time.Second, nil)

	hosts := c.LookupMX(context.Background(), "example.com")
	assert.Equal(t, []string{"mx1.example.com", "mx2.example.com"}, hosts)
	assert.Nil(t, c.LookupMX(context.Background(), "nomx.example.com"))

	assert.True(t, c.CheckA(context.Background(), "example.com"))
	assert.False(t, c.CheckA(context.Background(), "missing.example.com"))
}
