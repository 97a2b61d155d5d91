package verify

import "strings"

// tldOrder is the default candidate TLD preference for the target market.
var tldOrder = []string{"nl", "com", "be", "de", "lu"}

// countryTLDs maps normalized country names to their ccTLD.
var countryTLDs = map[string]string{
	"netherlands":     "nl",
	"the netherlands": "nl",
	"nederland":       "nl",
	"belgium":         "be",
	"belgie":          "be",
	"germany":         "de",
	"deutschland":     "de",
	"luxembourg":      "lu",
}

// CandidateDomains derives the domains a business would plausibly register,
// from its normalized name crossed with the TLD preference list. The
// business's own country TLD is tried first. Returns nil when the name
// normalizes to nothing.
func CandidateDomains(b Business) []string {
	stem := normalizeName(b.Name)
	if stem == "" {
		return nil
	}
	tlds := orderTLDs(b.Country)
	domains := make([]string, 0, len(tlds))
	for _, tld := range tlds {
		domains = append(domains, stem+"."+tld)
	}
	return domains
}

func normalizeName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func orderTLDs(country string) []string {
	preferred, ok := countryTLDs[strings.ToLower(strings.TrimSpace(country))]
	if !ok {
		return tldOrder
	}
	out := make([]string, 0, len(tldOrder))
	out = append(out, preferred)
	for _, tld := range tldOrder {
		if tld != preferred {
			out = append(out, tld)
		}
	}
	return out
}
