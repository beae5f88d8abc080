package credibility

import (
	"net/url"
	"strings"

	"github.com/draftsmith/researchcache/pkg/types"
)

// Base scores per source category. Quality flags add on top; the final
// score is clamped to 1.0.
const (
	baseJournal      = 0.90
	baseGovernment   = 0.90
	baseEducation    = 0.85
	baseOrganization = 0.70
	baseNews         = 0.65
	baseBlog         = 0.40
	baseOther        = 0.50

	citationsBonus   = 0.05
	methodologyBonus = 0.05
)

// journalDomains are hosts recognized as peer-reviewed publishers.
var journalDomains = []string{
	"nature.com",
	"sciencedirect.com",
	"springer.com",
	"link.springer.com",
	"nejm.org",
	"thelancet.com",
	"ncbi.nlm.nih.gov",
	"pubmed.gov",
	"jamanetwork.com",
	"bmj.com",
	"plos.org",
	"arxiv.org",
}

// newsDomains are hosts recognized as established news outlets.
var newsDomains = []string{
	"reuters.com",
	"apnews.com",
	"bbc.com",
	"bbc.co.uk",
	"nytimes.com",
	"washingtonpost.com",
	"theguardian.com",
	"economist.com",
}

// blogDomains are hosts recognized as self-publishing platforms.
var blogDomains = []string{
	"medium.com",
	"substack.com",
	"wordpress.com",
	"blogspot.com",
	"tumblr.com",
}

// Categorize maps a domain to its source category. TLD rules take
// precedence over platform lists so that e.g. blogs.harvard.edu still
// classifies as education.
func Categorize(domain string) types.SourceCategory {
	d := strings.ToLower(strings.TrimPrefix(domain, "www."))

	switch {
	case strings.HasSuffix(d, ".gov"):
		return types.SourceGovernment
	case strings.HasSuffix(d, ".edu"):
		return types.SourceEducation
	}

	if matchesAny(d, journalDomains) {
		return types.SourceJournal
	}
	if matchesAny(d, newsDomains) {
		return types.SourceNews
	}
	if matchesAny(d, blogDomains) {
		return types.SourceBlog
	}

	if strings.HasSuffix(d, ".org") {
		return types.SourceOrganization
	}

	return types.SourceOther
}

// Score derives a credibility score in [0, 1] from the domain pattern plus
// quality flags. It is pure and deterministic: the same inputs always
// produce the same score.
func Score(domain string, flags types.QualityFlags) float64 {
	var base float64
	switch Categorize(domain) {
	case types.SourceJournal:
		base = baseJournal
	case types.SourceGovernment:
		base = baseGovernment
	case types.SourceEducation:
		base = baseEducation
	case types.SourceOrganization:
		base = baseOrganization
	case types.SourceNews:
		base = baseNews
	case types.SourceBlog:
		base = baseBlog
	default:
		base = baseOther
	}

	if flags.HasCitations {
		base += citationsBonus
	}
	if flags.HasMethodology {
		base += methodologyBonus
	}

	if base > 1.0 {
		base = 1.0
	}
	return base
}

// HighAuthority reports whether a domain clears the high-authority bar
// regardless of quality flags.
func HighAuthority(domain string) bool {
	switch Categorize(domain) {
	case types.SourceJournal, types.SourceGovernment, types.SourceEducation:
		return true
	default:
		return false
	}
}

// Domain extracts the host from a source URL, stripping any www prefix.
// Returns the input unchanged if it does not parse as a URL.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.TrimPrefix(rawURL, "www.")
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}

// matchesAny reports whether host equals or is a subdomain of any entry.
func matchesAny(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
