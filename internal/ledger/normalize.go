package ledger

import "strings"

func upperTrim(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func trimmed(s string) string { return strings.TrimSpace(s) }

// NormalizeStoreURL lowercases and strips scheme and trailing slashes.
func NormalizeStoreURL(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	return strings.TrimRight(u, "/")
}
