package shopify

import (
	"net/url"
	"testing"
	"time"

	"affilink/security/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeShop(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Acme.myshopify.com":                       "acme.myshopify.com",
		"  https://acme.myshopify.com/admin?x=1  ": "acme.myshopify.com",
		"http://acme.myshopify.com:443/":           "acme.myshopify.com",
		"acme.myshopify.com#frag":                  "acme.myshopify.com",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeShop(in), in)
	}
}

func TestValidShopDomain(t *testing.T) {
	t.Parallel()

	const suffix = ".myshopify.com"
	cases := []struct {
		in   string
		want bool
	}{
		{"acme.myshopify.com", true},
		{"acme-store-2.myshopify.com", true},
		{"ACME.myshopify.com", false},
		{"myshopify.com", false},
		{".myshopify.com", false},
		{"-acme.myshopify.com", false},
		{"evil.com", false},
		{"acme.myshopify.com.evil.com", false},
		{"a.b.myshopify.com", false},
		{"acme_store.myshopify.com", false},
		{"https://acme.myshopify.com", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ValidShopDomain(tc.in, suffix), tc.in)
	}
}

func TestCanonicalQuery(t *testing.T) {
	t.Parallel()

	q := url.Values{}
	q.Set("shop", "acme.myshopify.com")
	q.Set("code", "0907a61c0c8d55e99db179b68161bc00")
	q.Set("timestamp", "1337178173")
	q.Set("state", "abc")
	q.Set("hmac", "ignored")
	q.Set("signature", "ignored")

	assert.Equal(t,
		"code=0907a61c0c8d55e99db179b68161bc00&shop=acme.myshopify.com&state=abc&timestamp=1337178173",
		CanonicalQuery(q))
}

func TestVerifyQuery(t *testing.T) {
	t.Parallel()

	const secret = "hush"
	q := url.Values{}
	q.Set("shop", "acme.myshopify.com")
	q.Set("code", "c0de")
	q.Set("state", "st")
	q.Set("timestamp", "1700000000")

	signed := SignQuery(q, secret)
	require.True(t, VerifyQuery(signed, secret))
	assert.False(t, VerifyQuery(signed, "other"))
	assert.False(t, VerifyQuery(q, secret), "missing hmac")

	tampered := SignQuery(q, secret)
	tampered.Set("shop", "evil.myshopify.com")
	assert.False(t, VerifyQuery(tampered, secret))

	upper := SignQuery(q, secret)
	upper.Set("hmac", "ZZ"+upper.Get("hmac")[2:])
	assert.False(t, VerifyQuery(upper, secret))
}

func TestVerifyWebhook(t *testing.T) {
	t.Parallel()

	body := []byte(`{"id":1}`)
	good := signWebhookForTest(body, "secret")
	assert.True(t, VerifyWebhook(body, good, "secret"))
	assert.False(t, VerifyWebhook(body, good, "wrong"))
	assert.False(t, VerifyWebhook([]byte(`{"id":2}`), good, "secret"))
	assert.False(t, VerifyWebhook(body, "", "secret"))
	assert.False(t, VerifyWebhook(body, "not base64!", "secret"))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("SHOPIFY_API_KEY", "key")
	t.Setenv("SHOPIFY_API_SECRET", "secret")
	t.Setenv("SHOPIFY_SCOPES", "write_discounts, read_orders ,")
	t.Setenv("SHOPIFY_WEBHOOK_SECRET", "")
	t.Setenv("SHOPIFY_HTTP_TIMEOUT", "3s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.APIKey)
	assert.Equal(t, []string{"write_discounts", "read_orders"}, cfg.Scopes)
	assert.Equal(t, "write_discounts,read_orders", cfg.ScopeParam())
	assert.Equal(t, "secret", cfg.WebhookSecret)
	assert.Equal(t, "2023-10", cfg.APIVersion)
	assert.Equal(t, 3*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, ".myshopify.com", cfg.ShopSuffix)
}

func TestLoadConfig_MissingSecret(t *testing.T) {
	t.Setenv("SHOPIFY_API_KEY", "key")
	t.Setenv("SHOPIFY_API_SECRET", "")

	_, err := LoadConfig()
	require.ErrorIs(t, err, ErrInvalidInput)
}

func signWebhookForTest(body []byte, secret string) string {
	return token.HMACSHA256Base64(body, []byte(secret))
}
