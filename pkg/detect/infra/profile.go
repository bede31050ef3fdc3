package infra

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
)

// DNSRecords is the resolved record set of one domain.
type DNSRecords struct {
	A    []string `json:"a,omitempty"`
	AAAA []string `json:"aaaa,omitempty"`
	NS   []string `json:"ns,omitempty"`
	MX   []string `json:"mx,omitempty"`
}

// WhoisInfo is the normalized registration data of one domain.
type WhoisInfo struct {
	Registrar   string   `json:"registrar,omitempty"`
	Nameservers []string `json:"nameservers,omitempty"`
	CreatedDate string   `json:"created_date,omitempty"`
}

// HostInfo locates one A record in network topology.
type HostInfo struct {
	IP       string `json:"ip"`
	ASN      int    `json:"asn,omitempty"`
	Provider string `json:"provider,omitempty"`
	Category string `json:"category,omitempty"` // cdn | hosting | shared
}

// AnalyticsTags are the tracking ids scraped from the domain's pages.
type AnalyticsTags struct {
	GoogleAnalytics []string `json:"google_analytics,omitempty"`
	GTM             []string `json:"gtm,omitempty"`
	FacebookPixels  []string `json:"facebook_pixels,omitempty"`
	Adsense         []string `json:"adsense,omitempty"`
	CMS             string   `json:"cms,omitempty"`
}

// SSLInfo describes the served certificate.
type SSLInfo struct {
	Issuer      string    `json:"issuer"`
	SANs        []string  `json:"sans,omitempty"`
	NotBefore   time.Time `json:"not_before"`
	NotAfter    time.Time `json:"not_after"`
	Fingerprint string    `json:"fingerprint"`
}

// Profile is everything the detector learned about one domain. Probes
// are best-effort: absent sections mean the probe failed or timed out.
type Profile struct {
	Domain    string        `json:"domain"`
	DNS       DNSRecords    `json:"dns"`
	Whois     WhoisInfo     `json:"whois"`
	Hosting   []HostInfo    `json:"hosting,omitempty"`
	Analytics AnalyticsTags `json:"analytics"`
	SSL       *SSLInfo      `json:"ssl,omitempty"`
}

// Profiler builds a domain profile.
type Profiler interface {
	Profile(ctx context.Context, domain string) (*Profile, error)
}

// DNSResolver is the lookup surface of net.Resolver.
type DNSResolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupNS(ctx context.Context, host string) ([]*net.NS, error)
	LookupMX(ctx context.Context, host string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, host string) ([]string, error)
}

// WhoisClient fetches a raw WHOIS response.
type WhoisClient interface {
	Whois(domain string) (string, error)
}

// PageFetcher retrieves page bodies; the ingest HTTP client satisfies
// it with its browser User-Agent option.
type PageFetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// LiveProfiler probes DNS, WHOIS, hosting, analytics and SSL
// concurrently.
type LiveProfiler struct {
	resolver DNSResolver
	whois    WhoisClient
	fetcher  PageFetcher
	logger   *slog.Logger

	// maxHostLookups caps ASN lookups per domain.
	maxHostLookups int
	tlsTimeout     time.Duration
}

type liveWhois struct{ client *whois.Client }

func (w liveWhois) Whois(domain string) (string, error) { return w.client.Whois(domain) }

// NewLiveProfiler wires the production probes. fetcher may be nil to
// skip analytics scraping.
func NewLiveProfiler(resolver DNSResolver, whoisClient WhoisClient, fetcher PageFetcher, logger *slog.Logger) *LiveProfiler {
	if resolver == nil {
		resolver = &net.Resolver{}
	}
	if whoisClient == nil {
		whoisClient = liveWhois{client: whois.NewClient()}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveProfiler{
		resolver:       resolver,
		whois:          whoisClient,
		fetcher:        fetcher,
		logger:         logger,
		maxHostLookups: 5,
		tlsTimeout:     10 * time.Second,
	}
}

// Profile gathers the five probe families concurrently. Individual
// probe failures degrade the profile instead of failing it.
func (p *LiveProfiler) Profile(ctx context.Context, domain string) (*Profile, error) {
	domain = lowerTrim(domain)
	prof := &Profile{Domain: domain}

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		prof.DNS = p.probeDNS(ctx, domain)
		prof.Hosting = p.probeHosting(ctx, prof.DNS.A)
	}()
	go func() {
		defer wg.Done()
		prof.Whois = p.probeWhois(domain)
	}()
	go func() {
		defer wg.Done()
		prof.Analytics = p.probeAnalytics(ctx, domain)
	}()
	go func() {
		defer wg.Done()
		prof.SSL = p.probeSSL(ctx, domain)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return prof, nil
}

func (p *LiveProfiler) probeDNS(ctx context.Context, domain string) DNSRecords {
	var rec DNSRecords
	if ips, err := p.resolver.LookupIP(ctx, "ip", domain); err == nil {
		for _, ip := range ips {
			if v4 := ip.To4(); v4 != nil {
				rec.A = append(rec.A, v4.String())
			} else {
				rec.AAAA = append(rec.AAAA, ip.String())
			}
		}
	} else {
		p.logger.Debug("dns lookup failed", "domain", domain, "error", err)
	}
	if nss, err := p.resolver.LookupNS(ctx, domain); err == nil {
		for _, ns := range nss {
			rec.NS = append(rec.NS, strings.TrimSuffix(strings.ToLower(ns.Host), "."))
		}
	}
	if mxs, err := p.resolver.LookupMX(ctx, domain); err == nil {
		for _, mx := range mxs {
			rec.MX = append(rec.MX, strings.TrimSuffix(strings.ToLower(mx.Host), "."))
		}
	}
	sort.Strings(rec.A)
	sort.Strings(rec.NS)
	sort.Strings(rec.MX)
	return rec
}

func (p *LiveProfiler) probeWhois(domain string) WhoisInfo {
	raw, err := p.whois.Whois(domain)
	if err != nil {
		p.logger.Debug("whois failed", "domain", domain, "error", err)
		return WhoisInfo{}
	}
	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		p.logger.Debug("whois parse failed", "domain", domain, "error", err)
		return WhoisInfo{}
	}
	info := WhoisInfo{}
	if parsed.Registrar != nil {
		info.Registrar = normalizeRegistrar(parsed.Registrar.Name)
	}
	if parsed.Domain != nil {
		for _, ns := range parsed.Domain.NameServers {
			info.Nameservers = append(info.Nameservers, strings.TrimSuffix(strings.ToLower(ns), "."))
		}
		sort.Strings(info.Nameservers)
		info.CreatedDate = parsed.Domain.CreatedDate
	}
	return info
}

// probeHosting resolves origin ASNs for up to maxHostLookups A records
// via Team Cymru's DNS interface.
func (p *LiveProfiler) probeHosting(ctx context.Context, aRecords []string) []HostInfo {
	var hosts []HostInfo
	for i, ip := range aRecords {
		if i >= p.maxHostLookups {
			break
		}
		h := HostInfo{IP: ip}
		if asn, err := p.lookupASN(ctx, ip); err == nil {
			h.ASN = asn
			if provider, ok := asnProviders[asn]; ok {
				h.Provider = provider.Name
				h.Category = provider.Category
			}
		}
		hosts = append(hosts, h)
	}
	return hosts
}

func (p *LiveProfiler) lookupASN(ctx context.Context, ip string) (int, error) {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return 0, fmt.Errorf("not an ipv4 address: %s", ip)
	}
	query := fmt.Sprintf("%d.%d.%d.%d.origin.asn.cymru.com", parsed[3], parsed[2], parsed[1], parsed[0])
	txts, err := p.resolver.LookupTXT(ctx, query)
	if err != nil {
		return 0, err
	}
	if len(txts) == 0 {
		return 0, fmt.Errorf("no origin record for %s", ip)
	}
	field, _, _ := strings.Cut(txts[0], "|")
	asn, err := strconv.Atoi(strings.Fields(strings.TrimSpace(field))[0])
	if err != nil {
		return 0, fmt.Errorf("parse asn %q: %w", txts[0], err)
	}
	return asn, nil
}

func (p *LiveProfiler) probeAnalytics(ctx context.Context, domain string) AnalyticsTags {
	if p.fetcher == nil {
		return AnalyticsTags{}
	}
	body, err := p.fetcher.Get(ctx, "https://"+domain)
	if err != nil {
		p.logger.Debug("analytics fetch failed", "domain", domain, "error", err)
		return AnalyticsTags{}
	}
	return scrapeAnalytics(body)
}

// scrapeAnalytics extracts tracking ids and a CMS signature from HTML.
func scrapeAnalytics(body []byte) AnalyticsTags {
	tags := AnalyticsTags{
		GoogleAnalytics: uniqueMatches(body, gaUniversalRe, 0),
		GTM:             uniqueMatches(body, gtmRe, 0),
		FacebookPixels:  uniqueMatches(body, pixelRe, 1),
		Adsense:         uniqueMatches(body, adsenseRe, 0),
		CMS:             detectCMS(body),
	}
	tags.GoogleAnalytics = append(tags.GoogleAnalytics, uniqueMatches(body, ga4Re, 0)...)
	sort.Strings(tags.GoogleAnalytics)
	return tags
}

func uniqueMatches(body []byte, re *regexp.Regexp, group int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range re.FindAllSubmatch(body, -1) {
		v := string(m[group])
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func (p *LiveProfiler) probeSSL(ctx context.Context, domain string) *SSLInfo {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: p.tlsTimeout},
		Config:    &tls.Config{ServerName: domain},
	}
	conn, err := dialer.DialContext(ctx, "tcp", domain+":443")
	if err != nil {
		p.logger.Debug("tls probe failed", "domain", domain, "error", err)
		return nil
	}
	defer func() { _ = conn.Close() }()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	cert := state.PeerCertificates[0]
	sans := append([]string(nil), cert.DNSNames...)
	sort.Strings(sans)
	return &SSLInfo{
		Issuer:      cert.Issuer.CommonName,
		SANs:        sans,
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
		Fingerprint: sslFingerprint(cert.Issuer.CommonName, sans),
	}
}

// sslFingerprint hashes the issuer plus sorted SANs; equal fingerprints
// mean certificates covering the same name set from the same issuer.
func sslFingerprint(issuer string, sortedSANs []string) string {
	sum := sha256.Sum256([]byte(issuer + strings.Join(sortedSANs, ",")))
	return hex.EncodeToString(sum[:])[:16]
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
