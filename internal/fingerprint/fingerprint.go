// Package fingerprint derives the deduplication key of a business record.
//
// The key is a heuristic: two records describing the same business
// collapse to the same fingerprint with high, but not perfect, probability.
// The GEO form truncates the address, so distinct businesses sharing a name
// and street prefix can merge, and the same business written with different
// street spellings can split.
package fingerprint

import (
	"net/url"
	"strings"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/normalize"
)

const (
	// WebPrefix marks fingerprints derived from a website host.
	WebPrefix = "WEB:"
	// GeoPrefix marks fingerprints derived from name and address.
	GeoPrefix = "GEO:"

	addressPrefixLen = 15
)

// genericDomains are search-engine and social hosts whose URLs do not
// identify a single business.
var genericDomains = []string{
	"google.com",
	"google.fr",
	"goo.gl",
	"bing.com",
	"yahoo.com",
	"duckduckgo.com",
	"qwant.com",
	"facebook.com",
	"fb.com",
	"instagram.com",
	"linkedin.com",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"youtube.com",
	"pinterest.com",
}

// Compute returns the fingerprint of rec. It is pure and total.
func Compute(rec model.Record) string {
	if host := Host(rec.Website); host != "" && !IsGenericHost(host) {
		return WebPrefix + host
	}

	name := normalize.Alnum(rec.Name)
	addr := ""
	if !model.IsNoValue(rec.Address) {
		addr = normalize.Truncate(normalize.Alnum(rec.Address), addressPrefixLen)
	}
	return GeoPrefix + name + "|" + addr
}

// Host extracts the lowercased host of a website, without a leading "www."
// and without a port. Returns "" when website does not parse to a host.
func Host(website string) string {
	website = strings.TrimSpace(website)
	if website == "" || model.IsNoValue(website) {
		return ""
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}
	u, err := url.Parse(website)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}

// IsGenericHost reports whether host belongs to a search engine or social
// network, including country variants such as google.de.
func IsGenericHost(host string) bool {
	host = strings.ToLower(host)
	for _, d := range genericDomains {
		if MatchDomain(host, d) {
			return true
		}
	}
	// google.<any tld>
	if strings.HasPrefix(host, "google.") || strings.Contains(host, ".google.") {
		return true
	}
	return false
}

// MatchDomain reports whether host equals domain or is one of its subdomains.
func MatchDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
