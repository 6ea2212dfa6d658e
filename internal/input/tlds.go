package input

import "strings"

// CommonTLDs is the default expansion list for a bare name
var CommonTLDs = []string{
	// Generic
	"com", "net", "org", "info", "biz", "name", "pro",
	// Tech
	"io", "dev", "app", "ai", "tech", "cloud", "systems",
	// New gTLDs
	"co", "me", "tv", "cc", "xyz", "online", "site", "store", "shop", "blog", "live", "world",
	// Country codes
	"us", "ca", "mx", "br", "uk", "de", "fr", "es", "it", "nl", "ch", "in", "jp", "au",
}

// GenerateMultiTLD returns name under every TLD, in list order.
// A nil list uses CommonTLDs.
func GenerateMultiTLD(name string, tlds []string) []string {
	if tlds == nil {
		tlds = CommonTLDs
	}
	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == "" {
		return nil
	}

	seen := make(map[string]bool, len(tlds))
	domains := make([]string, 0, len(tlds))
	for _, tld := range tlds {
		tld = strings.ToLower(strings.Trim(strings.TrimSpace(tld), "."))
		if tld == "" || seen[tld] {
			continue
		}
		seen[tld] = true
		domains = append(domains, name+"."+tld)
	}
	return domains
}
