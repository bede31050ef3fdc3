package infra

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/model"
)

func analyticsProfile(domain, ip string) *Profile {
	return &Profile{
		Domain: domain,
		DNS:    DNSRecords{A: []string{ip}},
		Analytics: AnalyticsTags{
			GoogleAnalytics: []string{"UA-12345-6"},
			Adsense:         []string{"ca-pub-1234567890123456"},
		},
	}
}

func TestCompareSharedAnalyticsAndIP(t *testing.T) {
	a := analyticsProfile("northern-voice.example", "13.50.1.1")
	b := analyticsProfile("prairie-report.example", "13.50.1.1")

	m := Compare(a, b)
	assert.InDelta(t, 12.0, m.TotalScore, 1e-9)
	assert.InDelta(t, 1.0, m.Confidence, 1e-9)
	assert.Equal(t, "analytics", m.Category)
	require.Len(t, m.Signals, 3)

	types := make(map[string]float64)
	for _, s := range m.Signals {
		types[s.SignalType] = s.Weight
	}
	assert.Equal(t, 4.0, types["same_analytics_id"])
	assert.Equal(t, 5.0, types["same_adsense"])
	assert.Equal(t, 3.0, types["same_ip"])
}

func TestCompareSymmetric(t *testing.T) {
	a := &Profile{
		Domain: "alpha.example",
		DNS:    DNSRecords{A: []string{"198.51.100.7"}},
		Whois: WhoisInfo{
			Registrar:   "Namecheap",
			Nameservers: []string{"ns1.dnshost.example", "ns2.dnshost.example"},
		},
		Hosting:   []HostInfo{{IP: "198.51.100.7", ASN: 16509, Provider: "AWS", Category: "hosting"}},
		Analytics: AnalyticsTags{GTM: []string{"GTM-ABC123"}, CMS: "wordpress"},
		SSL:       &SSLInfo{Issuer: "R11", SANs: []string{"alpha.example", "shared-cdn.example"}},
	}
	b := &Profile{
		Domain: "beta.example",
		DNS:    DNSRecords{A: []string{"203.0.113.9"}},
		Whois: WhoisInfo{
			Registrar:   "Namecheap",
			Nameservers: []string{"ns1.dnshost.example", "ns9.other.example"},
		},
		Hosting:   []HostInfo{{IP: "203.0.113.9", ASN: 16509, Provider: "AWS", Category: "hosting"}},
		Analytics: AnalyticsTags{GTM: []string{"GTM-ABC123"}, CMS: "wordpress"},
		SSL:       &SSLInfo{Issuer: "R11", SANs: []string{"beta.example", "shared-cdn.example"}},
	}

	ab := Compare(a, b)
	ba := Compare(b, a)
	assert.Equal(t, ab.TotalScore, ba.TotalScore)
	assert.Equal(t, ab.Signals, ba.Signals)
	assert.Equal(t, ab.Category, ba.Category)

	// registrar 0.5 + nameserver 1.5 + asn 0.5 + hosting 0.3 + gtm 4.5
	// + cms 0.2 + issuer 0.3 + san overlap 4.0
	assert.InDelta(t, 11.8, ab.TotalScore, 1e-9)
	assert.Equal(t, "analytics", ab.Category)
}

func TestSANOverlapExcludesOwnDomains(t *testing.T) {
	a := &Profile{Domain: "alpha.example", SSL: &SSLInfo{Issuer: "X", SANs: []string{"alpha.example", "*.alpha.example", "beta.example"}}}
	b := &Profile{Domain: "beta.example", SSL: &SSLInfo{Issuer: "Y", SANs: []string{"beta.example", "*.beta.example", "alpha.example"}}}

	m := Compare(a, b)
	// Both certificates list both domains, but the pair's own names do
	// not count as overlap.
	assert.Zero(t, m.TotalScore)
	assert.Empty(t, m.Signals)
}

func TestSharedHostingProviderCarriesNoSignal(t *testing.T) {
	a := &Profile{Domain: "a.example", Hosting: []HostInfo{{IP: "192.0.2.1", ASN: 26496, Provider: "GoDaddy", Category: "shared"}}}
	b := &Profile{Domain: "b.example", Hosting: []HostInfo{{IP: "192.0.2.2", ASN: 26496, Provider: "GoDaddy", Category: "shared"}}}

	m := Compare(a, b)
	require.Len(t, m.Signals, 1)
	assert.Equal(t, "same_asn", m.Signals[0].SignalType)
	assert.InDelta(t, 0.5, m.TotalScore, 1e-9)
}

func TestScrapeAnalytics(t *testing.T) {
	html := []byte(`<html><head>
<script>ga('create', 'UA-998877-1');</script>
<script src="https://www.googletagmanager.com/gtm.js?id=GTM-XY12AB"></script>
<script>fbq('init', '1234567890');</script>
<script data-ad-client="ca-pub-9876543210987654"></script>
<link rel="stylesheet" href="/wp-content/themes/news/style.css">
</head></html>`)

	tags := scrapeAnalytics(html)
	assert.Equal(t, []string{"UA-998877-1"}, tags.GoogleAnalytics)
	assert.Equal(t, []string{"GTM-XY12AB"}, tags.GTM)
	assert.Equal(t, []string{"1234567890"}, tags.FacebookPixels)
	assert.Equal(t, []string{"ca-pub-9876543210987654"}, tags.Adsense)
	assert.Equal(t, "wordpress", tags.CMS)
}

func TestNormalizeRegistrar(t *testing.T) {
	assert.Equal(t, "GoDaddy", normalizeRegistrar("GoDaddy.com, LLC"))
	assert.Equal(t, "Tucows", normalizeRegistrar("TUCOWS DOMAINS INC."))
	assert.Equal(t, "obscure registrar ltd", normalizeRegistrar(" Obscure Registrar Ltd "))
}

func TestSSLFingerprintDeterministic(t *testing.T) {
	f1 := sslFingerprint("R11", []string{"a.example", "b.example"})
	f2 := sslFingerprint("R11", []string{"a.example", "b.example"})
	assert.Equal(t, f1, f2)
	assert.Len(t, f1, 16)
	assert.NotEqual(t, f1, sslFingerprint("R10", []string{"a.example", "b.example"}))
}

type stubResolver struct {
	txt map[string][]string
}

func (s *stubResolver) LookupIP(context.Context, string, string) ([]net.IP, error) { return nil, nil }
func (s *stubResolver) LookupNS(context.Context, string) ([]*net.NS, error)        { return nil, nil }
func (s *stubResolver) LookupMX(context.Context, string) ([]*net.MX, error)        { return nil, nil }
func (s *stubResolver) LookupTXT(_ context.Context, host string) ([]string, error) {
	return s.txt[host], nil
}

func TestLookupASN(t *testing.T) {
	resolver := &stubResolver{txt: map[string][]string{
		"1.1.50.13.origin.asn.cymru.com": {"16509 | 13.50.0.0/16 | SE | arin | 2011-09-19"},
	}}
	p := NewLiveProfiler(resolver, nil, nil, nil)

	asn, err := p.lookupASN(context.Background(), "13.50.1.1")
	require.NoError(t, err)
	assert.Equal(t, 16509, asn)

	hosts := p.probeHosting(context.Background(), []string{"13.50.1.1"})
	require.Len(t, hosts, 1)
	assert.Equal(t, "AWS", hosts[0].Provider)
	assert.Equal(t, "hosting", hosts[0].Category)
}

type stubProfiler struct {
	profiles map[string]*Profile
}

func (s *stubProfiler) Profile(_ context.Context, domain string) (*Profile, error) {
	return s.profiles[domain], nil
}

// gateProfiler blocks every probe until released so the test can
// observe how many goroutines profiling spawned.
type gateProfiler struct {
	started chan string
	release chan struct{}
}

func (p *gateProfiler) Profile(_ context.Context, domain string) (*Profile, error) {
	p.started <- domain
	<-p.release
	return &Profile{Domain: domain}, nil
}

func TestProfileAllBoundsGoroutines(t *testing.T) {
	domains := make([]string, 32)
	for i := range domains {
		domains[i] = fmt.Sprintf("outlet-%02d.example", i)
	}
	p := &gateProfiler{started: make(chan string), release: make(chan struct{})}
	d := New(p, nil, nil)

	base := runtime.NumGoroutine()
	done := make(chan struct{})
	go func() {
		defer close(done)
		profiles, err := d.profileAll(context.Background(), domains, 2)
		assert.NoError(t, err)
		assert.Len(t, profiles, 32)
	}()

	// Both slots are occupied; the remaining domains must not have
	// goroutines yet.
	<-p.started
	<-p.started
	assert.Less(t, runtime.NumGoroutine()-base, 8)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range p.started {
		}
	}()
	close(p.release)
	<-done
	close(p.started)
	<-drained
}

func TestDetectWritesSharedInfraEdge(t *testing.T) {
	g := graph.NewMemoryStore()
	writer := graph.NewWriter(g, nil)
	profiler := &stubProfiler{profiles: map[string]*Profile{
		"northern-voice.example": analyticsProfile("northern-voice.example", "13.50.1.1"),
		"prairie-report.example": analyticsProfile("prairie-report.example", "13.50.1.1"),
		"unrelated.example":      {Domain: "unrelated.example", DNS: DNSRecords{A: []string{"203.0.113.50"}}},
	}}
	d := New(profiler, writer, nil)
	ctx := context.Background()

	matches, err := d.Detect(ctx, []string{"northern-voice.example", "prairie-report.example", "unrelated.example"}, Options{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 12.0, matches[0].TotalScore, 1e-9)

	outlets, err := g.NodesByType(ctx, model.EntityOutlet)
	require.NoError(t, err)
	require.Len(t, outlets, 2)

	edges, err := g.EdgesFrom(ctx, outlets[0].ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, model.EdgeSharedInfra, edges[0].Type)
	assert.Equal(t, "analytics", edges[0].Properties["sharing_category"])
	assert.Equal(t, 12.0, edges[0].Properties["total_score"])

	// Re-running upserts onto the same undirected edge.
	_, err = d.Detect(ctx, []string{"prairie-report.example", "northern-voice.example"}, Options{})
	require.NoError(t, err)
	edges, err = g.EdgesFrom(ctx, outlets[0].ID)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}
