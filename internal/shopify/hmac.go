package shopify

import (
	"net/url"
	"sort"
	"strings"

	"affilink/security/token"
)

// CanonicalQuery renders the message the platform signs for redirects: every
// parameter except hmac and signature, sorted by key, joined as k=v with &.
// Multi-valued keys keep their first value.
func CanonicalQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(q.Get(k))
	}
	return b.String()
}

// VerifyQuery checks the hex "hmac" parameter of an OAuth redirect in constant time.
func VerifyQuery(q url.Values, secret string) bool {
	sig := strings.TrimSpace(q.Get("hmac"))
	if sig == "" || secret == "" {
		return false
	}
	return token.VerifyHMACHex([]byte(CanonicalQuery(q)), []byte(secret), sig)
}

// SignQuery returns q with a valid hmac parameter; used by tests and local tooling.
func SignQuery(q url.Values, secret string) url.Values {
	out := url.Values{}
	for k, v := range q {
		if k == "hmac" {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	out.Set("hmac", token.HMACSHA256Hex([]byte(CanonicalQuery(out)), []byte(secret)))
	return out
}

// VerifyWebhook checks the base64 X-Shopify-Hmac-Sha256 header over the raw body.
func VerifyWebhook(body []byte, header, secret string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}
	return token.VerifyHMACBase64(body, []byte(secret), header)
}
