package dnsgeo

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// startDNS runs a UDP DNS server answering TXT queries from records
func startDNS(t *testing.T, records map[string]string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		txt, ok := records[q.Name]
		if !ok {
			m.Rcode = dns.RcodeNameError
		} else {
			m.Answer = append(m.Answer, &dns.TXT{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
				Txt: []string{txt},
			})
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestResolve(t *testing.T) {
	addr := startDNS(t, map[string]string{
		"2.1.5.3.origin.asn.cymru.com.":   "16509 | 3.5.0.0/19 | US | arin | 2017-09-12",
		"AS16509.asn.cymru.com.":          "16509 | US | arin | 2000-05-04 | AMAZON-02, US",
		"9.9.9.203.origin.asn.cymru.com.": "64500 64501 | 203.9.9.0/24 | au | apnic | 2001-01-01",
	})
	r := NewResolver([]string{addr}, time.Second, zap.NewNop())

	info, err := r.Resolve(context.Background(), "3.5.1.2")
	require.NoError(t, err)
	assert.Equal(t, "3.5.1.2", info.IP)
	assert.Equal(t, 16509, info.ASN)
	assert.Equal(t, "US", info.Country)
	assert.Equal(t, "AMAZON-02, US", info.ASName)

	// Missing AS name record leaves the origin data intact
	info, err = r.Resolve(context.Background(), "203.9.9.9")
	require.NoError(t, err)
	assert.Equal(t, 64500, info.ASN)
	assert.Equal(t, "AU", info.Country)
	assert.Empty(t, info.ASName)

	_, err = r.Resolve(context.Background(), "192.0.2.1")
	assert.ErrorIs(t, err, ErrNoData)

	_, err = r.Resolve(context.Background(), "not-an-ip")
	assert.Error(t, err)
}

func TestOriginName(t *testing.T) {
	assert.Equal(t, "4.3.2.1.origin.asn.cymru.com.", originName(netip.MustParseAddr("1.2.3.4")))
	assert.Equal(t,
		"1.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.8.b.d.0.1.0.0.2.origin6.asn.cymru.com.",
		originName(netip.MustParseAddr("2001:db8::1")))
}

func TestParseOrigin(t *testing.T) {
	_, err := parseOrigin("garbage")
	assert.Error(t, err)
	_, err = parseOrigin("x | 1.0.0.0/8 | US")
	assert.Error(t, err)

	info, err := parseOrigin("13335 | 1.1.1.0/24 | AU | apnic | 2011-08-11")
	require.NoError(t, err)
	assert.Equal(t, 13335, info.ASN)
	assert.Equal(t, "AU", info.Country)
}
