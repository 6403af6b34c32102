package accessgate

import "strings"

// Route is the guard requirement of a path.
type Route struct {
	Protected            bool
	RequiresSubscription bool
}

// RouteTable classifies paths by prefix. A prefix matches itself and the
// paths below it, never a sibling that only shares its leading characters.
type RouteTable struct {
	Protected            []string
	SubscriptionRequired []string
}

// DefaultRouteTable protects the signal pages and the account page; the
// account page needs a session but no subscription.
func DefaultRouteTable() RouteTable {
	return RouteTable{
		Protected:            []string{"/daily", "/weekly", "/future", "/history", "/account"},
		SubscriptionRequired: []string{"/daily", "/weekly", "/future", "/history"},
	}
}

func (t RouteTable) Classify(path string) Route {
	return Route{
		Protected:            matchesPrefix(path, t.Protected),
		RequiresSubscription: matchesPrefix(path, t.SubscriptionRequired),
	}
}

// Label is the metric label for path: the matching table prefix, or path
// itself for routes outside the table.
func (t RouteTable) Label(path string) string {
	for _, prefixes := range [][]string{t.SubscriptionRequired, t.Protected} {
		for _, prefix := range prefixes {
			if underPrefix(path, prefix) {
				return prefix
			}
		}
	}
	return path
}

func matchesPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if underPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func underPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

var crawlerSignatures = []string{
	"googlebot",
	"google-inspectiontool",
	"bingbot",
	"slurp",
	"duckduckbot",
	"baiduspider",
	"yandexbot",
	"sogou",
	"exabot",
	"facebot",
	"ia_archiver",
	"msnbot",
	"ahrefsbot",
	"semrushbot",
	"applebot",
	"petalbot",
}

// IsCrawler matches known search engine user agents.
func IsCrawler(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, sig := range crawlerSignatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}
