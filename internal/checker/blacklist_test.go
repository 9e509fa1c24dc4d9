package checker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtester/backend/internal/domain"
)

// zoneResolver 按查询名决定收录状态的解析器
type zoneResolver struct {
	listed  map[string]bool
	timeout map[string]bool
	broken  map[string]bool
}

func (z *zoneResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if z.timeout[host] {
		return nil, &net.DNSError{Err: "i/o timeout", Name: host, IsTimeout: true}
	}
	if z.broken[host] {
		return nil, &net.DNSError{Err: "server misbehaving", Name: host}
	}
	if z.listed[host] {
		return []string{"127.0.0.2"}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func (z *zoneResolver) LookupTXT(context.Context, string) ([]string, error) { return nil, nil }
func (z *zoneResolver) LookupAddr(context.Context, string) ([]string, error) {
	return nil, nil
}
func (z *zoneResolver) LookupMX(context.Context, string) ([]*net.MX, error) { return nil, nil }

func TestBlacklistProber_Probe(t *testing.T) {
	zones := []string{"zen.spamhaus.org", "bl.spamcop.net", "psbl.surriel.com", "dnsbl.sorbs.net"}
	resolver := &zoneResolver{
		listed:  map[string]bool{"4.100.51.198.zen.spamhaus.org": true},
		timeout: map[string]bool{"4.100.51.198.psbl.surriel.com": true},
		broken:  map[string]bool{"4.100.51.198.dnsbl.sorbs.net": true},
	}
	p := NewBlacklistProber(resolver, ProberConfig{Zones: zones, Workers: 2, QueryTimeout: time.Second}, nil)

	result := p.Probe(context.Background(), "198.51.100.4")

	require.NotNil(t, result)
	assert.Equal(t, len(zones), result.Checked)
	assert.Len(t, result.Zones, len(zones))

	assert.Equal(t, domain.ZoneListed, result.Zones["zen.spamhaus.org"])
	assert.Equal(t, domain.ZoneNotListed, result.Zones["bl.spamcop.net"])
	assert.Equal(t, domain.ZoneTimeout, result.Zones["psbl.surriel.com"])
	assert.Equal(t, domain.ZoneError, result.Zones["dnsbl.sorbs.net"])

	// Summary counts must add up to Checked
	total := 0
	for _, count := range result.Summary {
		total += count
	}
	assert.Equal(t, result.Checked, total)

	assert.Equal(t, []string{"zen.spamhaus.org"}, result.Listed())
}

func TestBlacklistProber_EmptyIPSkips(t *testing.T) {
	p := NewBlacklistProber(&zoneResolver{}, ProberConfig{}, nil)

	for _, ip := range []string{"", "not-an-ip", "2001:db8::1"} {
		result := p.Probe(context.Background(), ip)
		assert.True(t, result.Skipped, "ip %q must be skipped", ip)
		assert.Equal(t, 0, result.Checked)
		assert.Empty(t, result.Zones)
	}
}

func TestBlacklistProber_DefaultZones(t *testing.T) {
	p := NewBlacklistProber(&zoneResolver{}, ProberConfig{Workers: 27, QueryTimeout: time.Second}, nil)

	result := p.Probe(context.Background(), "198.51.100.4")
	assert.Equal(t, len(DefaultZones), result.Checked)
	assert.Equal(t, len(DefaultZones), result.Summary[domain.ZoneNotListed])
}

func TestReverseOctets(t *testing.T) {
	reversed, ok := reverseOctets("198.51.100.4")
	assert.True(t, ok)
	assert.Equal(t, "4.100.51.198", reversed)

	_, ok = reverseOctets("198.51.100")
	assert.False(t, ok)
}
