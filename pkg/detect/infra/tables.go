package infra

import "regexp"

// registrarPatterns normalize the free-text registrar field WHOIS
// servers return. First match wins; unmatched registrars pass through
// lowercased.
var registrarPatterns = []struct {
	pattern *regexp.Regexp
	name    string
}{
	{regexp.MustCompile(`(?i)godaddy`), "GoDaddy"},
	{regexp.MustCompile(`(?i)namecheap`), "Namecheap"},
	{regexp.MustCompile(`(?i)tucows`), "Tucows"},
	{regexp.MustCompile(`(?i)markmonitor`), "MarkMonitor"},
	{regexp.MustCompile(`(?i)cloudflare`), "Cloudflare"},
	{regexp.MustCompile(`(?i)gandi`), "Gandi"},
	{regexp.MustCompile(`(?i)enom`), "Enom"},
	{regexp.MustCompile(`(?i)network\s*solutions`), "Network Solutions"},
	{regexp.MustCompile(`(?i)public\s*domain\s*registry`), "PublicDomainRegistry"},
	{regexp.MustCompile(`(?i)ovh`), "OVH"},
	{regexp.MustCompile(`(?i)ionos|1&1`), "IONOS"},
	{regexp.MustCompile(`(?i)register\.com`), "Register.com"},
	{regexp.MustCompile(`(?i)google\s*domains|squarespace\s*domains`), "Squarespace Domains"},
	{regexp.MustCompile(`(?i)amazon|route\s*53`), "Amazon Registrar"},
}

// asnProvider classifies an origin ASN into a named provider and a
// sharing category. "shared" marks mass shared-hosting networks whose
// IP co-location carries no signal.
type asnProvider struct {
	Name     string
	Category string // cdn | hosting | shared
}

var asnProviders = map[int]asnProvider{
	13335: {"Cloudflare", "cdn"},
	54113: {"Fastly", "cdn"},
	20940: {"Akamai", "cdn"},
	16509: {"AWS", "hosting"},
	14618: {"AWS", "hosting"},
	15169: {"Google Cloud", "hosting"},
	8075:  {"Microsoft Azure", "hosting"},
	14061: {"DigitalOcean", "hosting"},
	63949: {"Linode", "hosting"},
	16276: {"OVH", "hosting"},
	24940: {"Hetzner", "hosting"},
	26496: {"GoDaddy", "shared"},
	46606: {"Unified Layer", "shared"},
	19871: {"Network Solutions", "shared"},
	32244: {"Liquid Web", "shared"},
	22612: {"Namecheap", "shared"},
}

// Analytics tag patterns scanned out of page HTML.
var (
	gaUniversalRe = regexp.MustCompile(`UA-\d{4,10}(?:-\d{1,4})?`)
	ga4Re         = regexp.MustCompile(`G-[A-Z0-9]{8,12}`)
	gtmRe         = regexp.MustCompile(`GTM-[A-Z0-9]{4,8}`)
	pixelRe       = regexp.MustCompile(`fbq\(\s*['"]init['"]\s*,\s*['"](\d{5,20})['"]`)
	adsenseRe     = regexp.MustCompile(`ca-pub-\d{10,16}`)
)

// cmsSignatures detect the publishing platform from page HTML. First
// match wins.
var cmsSignatures = []struct {
	pattern *regexp.Regexp
	name    string
}{
	{regexp.MustCompile(`(?i)wp-content|wp-includes`), "wordpress"},
	{regexp.MustCompile(`(?i)Drupal\.settings|/sites/default/files`), "drupal"},
	{regexp.MustCompile(`(?i)/media/jui/|content="Joomla`), "joomla"},
	{regexp.MustCompile(`(?i)static1\.squarespace\.com`), "squarespace"},
	{regexp.MustCompile(`(?i)static\.parastorage\.com|X-Wix`), "wix"},
	{regexp.MustCompile(`(?i)cdn\.shopify\.com`), "shopify"},
	{regexp.MustCompile(`(?i)content="Ghost\s`), "ghost"},
}

// normalizeRegistrar maps a raw WHOIS registrar string onto the fixed
// table, falling back to the lowercased raw value.
func normalizeRegistrar(raw string) string {
	for _, rp := range registrarPatterns {
		if rp.pattern.MatchString(raw) {
			return rp.name
		}
	}
	return lowerTrim(raw)
}

func detectCMS(html []byte) string {
	for _, sig := range cmsSignatures {
		if sig.pattern.Match(html) {
			return sig.name
		}
	}
	return ""
}
