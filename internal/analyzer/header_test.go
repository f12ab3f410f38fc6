package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/mikey/phishguard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGeo struct {
	info *core.IPInfo
	err  error
	ips  []string
}

func (f *fakeGeo) Resolve(_ context.Context, ip string) (*core.IPInfo, error) {
	f.ips = append(f.ips, ip)
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

func emailWithHeaders(h map[string][]string) *core.Email {
	return &core.Email{ID: "e1", Headers: h}
}

func TestParseAuthResults(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string][]string
		want    AuthResults
	}{
		{
			name:    "no headers",
			headers: map[string][]string{},
			want:    AuthResults{SPF: AuthNone, DKIM: AuthNone, DMARC: AuthNone},
		},
		{
			name: "authentication results",
			headers: map[string][]string{
				"Authentication-Results": {"mx.example.net; spf=fail (sender IP is 203.0.113.9) smtp.mailfrom=evil.example; dkim=pass header.d=evil.example; dmarc=fail header.from=bank.example"},
			},
			want: AuthResults{SPF: AuthFail, DKIM: AuthPass, DMARC: AuthFail},
		},
		{
			name: "softfail is neutral",
			headers: map[string][]string{
				"Authentication-Results": {"mx.example.net; spf=softfail smtp.mailfrom=a.example; dkim=neutral; dmarc=none"},
			},
			want: AuthResults{SPF: AuthNeutral, DKIM: AuthNeutral, DMARC: AuthNone},
		},
		{
			name: "arc fallback",
			headers: map[string][]string{
				"Arc-Authentication-Results": {"i=1; mx.google.com; dkim=fail header.i=@evil.example; spf=pass smtp.mailfrom=evil.example"},
			},
			want: AuthResults{SPF: AuthPass, DKIM: AuthFail, DMARC: AuthNone},
		},
		{
			name: "received-spf and intake dkim",
			headers: map[string][]string{
				"Received-SPF":   {"Fail (mailfrom) identity=mailfrom; client-ip=203.0.113.9"},
				DKIMResultHeader: {"fail"},
			},
			want: AuthResults{SPF: AuthFail, DKIM: AuthFail, DMARC: AuthFail},
		},
		{
			name: "derived dmarc requires both failures",
			headers: map[string][]string{
				"Authentication-Results": {"mx.example.net; spf=fail smtp.mailfrom=a.example; dkim=none"},
			},
			want: AuthResults{SPF: AuthFail, DKIM: AuthNone, DMARC: AuthNone},
		},
		{
			name: "errors map to none",
			headers: map[string][]string{
				"Authentication-Results": {"mx.example.net; spf=temperror; dkim=permerror; dmarc=garbage"},
			},
			want: AuthResults{SPF: AuthNone, DKIM: AuthNone, DMARC: AuthNone},
		},
		{
			name: "malformed",
			headers: map[string][]string{
				"Authentication-Results": {";;; spf= ; =fail; dkim"},
			},
			want: AuthResults{SPF: AuthNone, DKIM: AuthNone, DMARC: AuthNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAuthResults(emailWithHeaders(tt.headers)))
		})
	}
}

func TestOriginatingIP(t *testing.T) {
	received := []string{
		"from relay.example.net (relay.example.net [198.51.100.1]) by mx.example.org with ESMTPS",
		"from mail.evil.example (mail.evil.example [203.0.113.9])\r\n\tby relay.example.net ([198.51.100.1]) with SMTP",
		"from localhost (localhost [127.0.0.1]) by mail.evil.example with ESMTP",
		"from workstation (unknown [192.168.1.20]) by localhost",
	}

	ip, ok := OriginatingIP(received)
	require.True(t, ok)
	assert.Equal(t, "203.0.113.9", ip.String())

	ip, ok = OriginatingIP([]string{"from a (a [IPv6:2001:db8:1::5]) by b"})
	require.True(t, ok)
	assert.Equal(t, "2001:db8:1::5", ip.String())

	_, ok = OriginatingIP([]string{"from a (a [10.1.2.3]) by b", "from c (c [fe80::1])"})
	assert.False(t, ok)

	_, ok = OriginatingIP(nil)
	assert.False(t, ok)
}

func TestHeaderAnalyzerScoring(t *testing.T) {
	cfg := HeaderConfig{CloudRanges: DefaultCloudRanges(), CloudASNs: DefaultCloudASNs()}
	a := NewHeaderAnalyzer(cfg, nil, zap.NewNop())

	email := emailWithHeaders(map[string][]string{
		"Authentication-Results": {"mx.example.net; spf=fail; dkim=fail; dmarc=fail"},
		"Received":               {"from ec2 (ec2 [52.1.2.3]) by mx.example.net"},
	})
	res := a.Analyze(context.Background(), email)

	// 30 + 25 + 35 + 15 capped
	assert.Equal(t, 100, res.Partials.Header)
	assert.ElementsMatch(t, []string{FlagSPFFail, FlagDKIMFail, FlagDMARCFail, FlagCloudIP}, res.Flags)
	require.NotNil(t, res.IPInfo)
	assert.Equal(t, "aws", res.IPInfo.Provider)
	assert.True(t, res.IPInfo.IsCloudProvider)

	email = emailWithHeaders(map[string][]string{
		"Authentication-Results": {"mx.example.net; spf=fail; dkim=pass; dmarc=pass"},
	})
	res = a.Analyze(context.Background(), email)
	assert.Equal(t, 30, res.Partials.Header)
	assert.Nil(t, res.IPInfo)
}

func TestHeaderAnalyzerUsesResolverASN(t *testing.T) {
	geo := &fakeGeo{info: &core.IPInfo{ASN: 14061, ASName: "DIGITALOCEAN-ASN", Country: "US"}}
	a := NewHeaderAnalyzer(HeaderConfig{CloudASNs: DefaultCloudASNs()}, geo, zap.NewNop())

	res := a.Analyze(context.Background(), emailWithHeaders(map[string][]string{
		"Received": {"from droplet (droplet [203.0.113.50]) by mx.example.net"},
	}))

	assert.Equal(t, []string{"203.0.113.50"}, geo.ips)
	assert.Equal(t, 15, res.Partials.Header)
	require.NotNil(t, res.IPInfo)
	assert.Equal(t, "digitalocean", res.IPInfo.Provider)
	assert.Equal(t, "203.0.113.50", res.IPInfo.IP)
	assert.Equal(t, "US", res.IPInfo.Country)
	assert.Empty(t, res.Degraded)
}

func TestHeaderAnalyzerResolverFailureFallsBackToRanges(t *testing.T) {
	geo := &fakeGeo{err: errors.New("dns timeout")}
	a := NewHeaderAnalyzer(HeaderConfig{CloudRanges: DefaultCloudRanges()}, geo, zap.NewNop())

	res := a.Analyze(context.Background(), emailWithHeaders(map[string][]string{
		"Received": {"from h (h [88.198.10.10]) by mx.example.net"},
	}))

	assert.Equal(t, 15, res.Partials.Header)
	assert.Equal(t, []string{"ip_lookup"}, res.Degraded)
	assert.Equal(t, "hetzner", res.IPInfo.Provider)
}

func TestHeaderAnalyzerIgnoresInvalidRanges(t *testing.T) {
	a := NewHeaderAnalyzer(HeaderConfig{CloudRanges: map[string][]string{"x": {"not-a-cidr", "198.51.100.0/24"}}}, nil, zap.NewNop())
	assert.Len(t, a.ranges, 1)
}
