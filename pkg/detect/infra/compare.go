package infra

import (
	"sort"
	"strconv"
	"strings"

	"github.com/civiclens/mitds/pkg/model"
)

// Signal weights, fixed. A shared tracking id is near-conclusive; a
// shared registrar barely registers.
const (
	weightRegistrar   = 0.5
	weightNameserver  = 1.5
	weightIP          = 3.0
	weightASN         = 0.5
	weightHosting     = 0.3
	weightCDN         = 0.2
	weightAnalyticsID = 4.0
	weightGTM         = 4.5
	weightPixel       = 3.5
	weightAdsense     = 5.0
	weightCMS         = 0.2
	weightSSLIssuer   = 0.3
	weightSANOverlap  = 4.0
)

// signalFamily groups signal types for the sharing_category of a match.
var signalFamily = map[string]string{
	"same_registrar":    "registration",
	"same_nameserver":   "registration",
	"same_ip":           "hosting",
	"same_asn":          "hosting",
	"same_hosting":      "hosting",
	"same_cdn":          "hosting",
	"same_analytics_id": "analytics",
	"same_gtm":          "analytics",
	"same_pixel":        "analytics",
	"same_adsense":      "analytics",
	"same_cms":          "platform",
	"same_ssl_issuer":   "ssl",
	"san_overlap":       "ssl",
}

// Match is the scored comparison of two domain profiles.
type Match struct {
	DomainA    string              `json:"domain_a"`
	DomainB    string              `json:"domain_b"`
	Signals    []model.InfraSignal `json:"signals"`
	TotalScore float64             `json:"total_score"`
	Confidence float64             `json:"confidence"`
	Category   string              `json:"sharing_category"`
}

// Compare scores one unordered pair of profiles. The result is
// symmetric in total score and signal set.
func Compare(a, b *Profile) Match {
	m := Match{DomainA: a.Domain, DomainB: b.Domain}

	add := func(signalType, value string, weight float64) {
		m.Signals = append(m.Signals, model.InfraSignal{SignalType: signalType, Value: value, Weight: weight})
	}

	if a.Whois.Registrar != "" && a.Whois.Registrar == b.Whois.Registrar {
		add("same_registrar", a.Whois.Registrar, weightRegistrar)
	}
	for _, ns := range intersect(a.Whois.Nameservers, b.Whois.Nameservers) {
		add("same_nameserver", ns, weightNameserver)
	}
	for _, ip := range intersect(a.DNS.A, b.DNS.A) {
		add("same_ip", ip, weightIP)
	}

	compareHosting(&m, a.Hosting, b.Hosting, add)

	for _, id := range intersect(a.Analytics.GoogleAnalytics, b.Analytics.GoogleAnalytics) {
		add("same_analytics_id", id, weightAnalyticsID)
	}
	for _, id := range intersect(a.Analytics.GTM, b.Analytics.GTM) {
		add("same_gtm", id, weightGTM)
	}
	for _, id := range intersect(a.Analytics.FacebookPixels, b.Analytics.FacebookPixels) {
		add("same_pixel", id, weightPixel)
	}
	for _, id := range intersect(a.Analytics.Adsense, b.Analytics.Adsense) {
		add("same_adsense", id, weightAdsense)
	}
	if a.Analytics.CMS != "" && a.Analytics.CMS == b.Analytics.CMS {
		add("same_cms", a.Analytics.CMS, weightCMS)
	}

	if a.SSL != nil && b.SSL != nil {
		if a.SSL.Issuer != "" && a.SSL.Issuer == b.SSL.Issuer {
			add("same_ssl_issuer", a.SSL.Issuer, weightSSLIssuer)
		}
		for _, san := range sanOverlap(a, b) {
			add("san_overlap", san, weightSANOverlap)
		}
	}

	sort.Slice(m.Signals, func(i, j int) bool {
		if m.Signals[i].SignalType != m.Signals[j].SignalType {
			return m.Signals[i].SignalType < m.Signals[j].SignalType
		}
		return m.Signals[i].Value < m.Signals[j].Value
	})
	for _, s := range m.Signals {
		m.TotalScore += s.Weight
	}
	m.Confidence = m.TotalScore / 10
	if m.Confidence > 1 {
		m.Confidence = 1
	}
	m.Category = strongestFamily(m.Signals)
	return m
}

// compareHosting emits ASN and provider signals. Provider co-location
// on a shared-hosting network carries no signal; CDN co-location is
// nearly as weak.
func compareHosting(m *Match, a, b []HostInfo, add func(string, string, float64)) {
	sharedIPs := make(map[string]bool)
	for _, s := range m.Signals {
		if s.SignalType == "same_ip" {
			sharedIPs[s.Value] = true
		}
	}

	type provider struct{ name, category string }
	asnsA, asnsB := make(map[int]bool), make(map[int]bool)
	provA, provB := make(map[provider]bool), make(map[provider]bool)
	for _, h := range a {
		if h.ASN != 0 {
			asnsA[h.ASN] = true
		}
		if h.Provider != "" && !sharedIPs[h.IP] {
			provA[provider{h.Provider, h.Category}] = true
		}
	}
	for _, h := range b {
		if h.ASN != 0 {
			asnsB[h.ASN] = true
		}
		if h.Provider != "" && !sharedIPs[h.IP] {
			provB[provider{h.Provider, h.Category}] = true
		}
	}

	var asns []int
	for asn := range asnsA {
		if asnsB[asn] {
			asns = append(asns, asn)
		}
	}
	sort.Ints(asns)
	for _, asn := range asns {
		add("same_asn", "AS"+strconv.Itoa(asn), weightASN)
	}

	var shared []provider
	for p := range provA {
		if provB[p] {
			shared = append(shared, p)
		}
	}
	sort.Slice(shared, func(i, j int) bool { return shared[i].name < shared[j].name })
	for _, p := range shared {
		switch p.category {
		case "cdn":
			add("same_cdn", p.name, weightCDN)
		case "hosting":
			add("same_hosting", p.name, weightHosting)
		}
		// "shared" category providers are skipped entirely.
	}
}

// sanOverlap returns SANs both certificates cover, excluding the two
// domains themselves and their wildcard forms.
func sanOverlap(a, b *Profile) []string {
	excluded := map[string]bool{
		a.Domain: true, "*." + a.Domain: true,
		b.Domain: true, "*." + b.Domain: true,
	}
	var out []string
	for _, san := range intersect(a.SSL.SANs, b.SSL.SANs) {
		if !excluded[strings.ToLower(san)] {
			out = append(out, san)
		}
	}
	return out
}

func strongestFamily(signals []model.InfraSignal) string {
	if len(signals) == 0 {
		return ""
	}
	totals := make(map[string]float64)
	for _, s := range signals {
		totals[signalFamily[s.SignalType]] += s.Weight
	}
	best, bestScore := "", -1.0
	for _, family := range []string{"analytics", "hosting", "ssl", "registration", "platform"} {
		if totals[family] > bestScore {
			best, bestScore = family, totals[family]
		}
	}
	if bestScore <= 0 {
		return ""
	}
	return best
}

func intersect(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, v := range b {
		inB[v] = true
	}
	var out []string
	seen := make(map[string]bool)
	for _, v := range a {
		if inB[v] && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
