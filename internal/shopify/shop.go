package shopify

import (
	"regexp"
	"strings"
)

var shopLabel = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// NormalizeShop lowercases a shop domain and strips any scheme, path or port.
func NormalizeShop(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return s
}

// ValidShopDomain reports whether shop is "<label><suffix>" with a single
// hostname label, e.g. "acme-store.myshopify.com".
func ValidShopDomain(shop, suffix string) bool {
	if suffix == "" || shop != NormalizeShop(shop) {
		return false
	}
	label, ok := strings.CutSuffix(shop, suffix)
	if !ok || label == "" || len(label) > 63 {
		return false
	}
	return shopLabel.MatchString(label)
}
