package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	Path      string
	Token     string
	Query     string
	Variables map[string]any
}

type fakePlatform struct {
	t      *testing.T
	mu     sync.Mutex
	calls  []recordedCall
	handle func(w http.ResponseWriter, call recordedCall)
}

func (f *fakePlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	require.NoError(f.t, err)

	call := recordedCall{Path: r.URL.Path, Token: r.Header.Get("X-Shopify-Access-Token")}
	if r.URL.Path != "/admin/oauth/access_token" {
		var body graphQLRequest
		require.NoError(f.t, json.Unmarshal(raw, &body))
		call.Query = body.Query
		call.Variables = body.Variables
	} else {
		var body tokenRequest
		require.NoError(f.t, json.Unmarshal(raw, &body))
		call.Variables = map[string]any{"client_id": body.ClientID, "client_secret": body.ClientSecret, "code": body.Code}
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	f.handle(w, call)
}

func newTestClient(t *testing.T, handle func(w http.ResponseWriter, call recordedCall)) (*Client, *fakePlatform) {
	t.Helper()
	fp := &fakePlatform{t: t, handle: handle}
	srv := httptest.NewServer(fp)
	t.Cleanup(srv.Close)

	c := NewClient(Config{APIKey: "key", APISecret: "secret", Scopes: []string{"write_discounts"}},
		WithBaseURL(func(string) string { return srv.URL }),
	)
	return c, fp
}

func writeBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestAuthorizeURL(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{APIKey: "key", APISecret: "secret", Scopes: []string{"write_discounts", "read_orders"}})
	got := c.AuthorizeURL("acme.myshopify.com", "https://app.test/shopify/callback", "st4te")
	assert.Equal(t,
		"https://acme.myshopify.com/admin/oauth/authorize?client_id=key&redirect_uri=https%3A%2F%2Fapp.test%2Fshopify%2Fcallback&scope=write_discounts%2Cread_orders&state=st4te",
		got)
}

func TestExchangeToken(t *testing.T) {
	t.Parallel()

	c, fp := newTestClient(t, func(w http.ResponseWriter, call recordedCall) {
		writeBody(w, http.StatusOK, `{"access_token":"shpat_123","scope":"write_discounts"}`)
	})

	tok, err := c.ExchangeToken(context.Background(), "acme.myshopify.com", "c0de")
	require.NoError(t, err)
	assert.Equal(t, "shpat_123", tok)

	require.Len(t, fp.calls, 1)
	assert.Equal(t, "/admin/oauth/access_token", fp.calls[0].Path)
	assert.Equal(t, "key", fp.calls[0].Variables["client_id"])
	assert.Equal(t, "secret", fp.calls[0].Variables["client_secret"])
	assert.Equal(t, "c0de", fp.calls[0].Variables["code"])
}

func TestExchangeToken_Failures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "rejected code", status: http.StatusBadRequest, body: `{"error":"invalid_request"}`, want: ErrTokenExchangeFailed},
		{name: "empty token", status: http.StatusOK, body: `{"access_token":""}`, want: ErrTokenExchangeFailed},
		{name: "bad json", status: http.StatusOK, body: `<html>`, want: ErrTokenExchangeFailed},
		{name: "server error", status: http.StatusBadGateway, body: ``, want: ErrUpstreamUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newTestClient(t, func(w http.ResponseWriter, _ recordedCall) {
				writeBody(w, tc.status, tc.body)
			})
			_, err := c.ExchangeToken(context.Background(), "acme.myshopify.com", "c0de")
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestExchangeToken_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c := NewClient(Config{APIKey: "key", APISecret: "secret", Scopes: []string{"x"}, HTTPTimeout: 50 * time.Millisecond},
		WithBaseURL(func(string) string { return srv.URL }))
	_, err := c.ExchangeToken(context.Background(), "acme.myshopify.com", "c0de")
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestCreateDiscountRule(t *testing.T) {
	t.Parallel()

	c, fp := newTestClient(t, func(w http.ResponseWriter, call recordedCall) {
		writeBody(w, http.StatusOK, `{"data":{"priceRuleCreate":{"priceRule":{"id":"gid://shopify/PriceRule/77"},"userErrors":[]}}}`)
	})

	var observed []string
	c.observe = func(op string, _ time.Duration, err error) {
		observed = append(observed, op)
		assert.NoError(t, err)
	}

	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	id, err := c.CreateDiscountRule(context.Background(), Session{Shop: "acme.myshopify.com", AccessToken: "shpat"}, PriceRule{
		Title:             "Coupon Maria - MARIAX1Y2",
		ValueType:         "PERCENTAGE",
		Value:             "-10",
		CustomerSelection: "ALL",
		TargetType:        "LINE_ITEM",
		TargetSelection:   "ALL",
		AllocationMethod:  "ACROSS",
		StartsAt:          start,
	})
	require.NoError(t, err)
	assert.Equal(t, "gid://shopify/PriceRule/77", id)
	assert.Equal(t, []string{"priceRuleCreate"}, observed)

	require.Len(t, fp.calls, 1)
	call := fp.calls[0]
	assert.Equal(t, "/admin/api/2023-10/graphql.json", call.Path)
	assert.Equal(t, "shpat", call.Token)
	assert.Contains(t, call.Query, "priceRuleCreate(priceRule: $priceRule)")
	rule, ok := call.Variables["priceRule"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "-10", rule["value"])
	assert.Equal(t, "PERCENTAGE", rule["valueType"])
	assert.Equal(t, "ACROSS", rule["allocationMethod"])
	assert.Equal(t, "2026-05-01T12:00:00Z", rule["startsAt"])
}

func TestGraphQL_ErrorMapping(t *testing.T) {
	t.Parallel()

	sess := Session{Shop: "acme.myshopify.com", AccessToken: "shpat"}
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "user error",
			status: http.StatusOK,
			body:   `{"data":{"priceRuleDiscountCodeCreate":{"priceRuleDiscountCode":null,"userErrors":[{"field":["code"],"message":"Code must be unique"}]}}}`,
			check: func(t *testing.T, err error) {
				var ue *UserError
				require.True(t, errors.As(err, &ue))
				assert.Equal(t, "Code must be unique", ue.Message)
				assert.Equal(t, []string{"code"}, ue.Field)
			},
		},
		{
			name:   "revoked",
			status: http.StatusUnauthorized,
			body:   `{"errors":"[API] Invalid API key or access token"}`,
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, ErrAccessRevoked) },
		},
		{
			name:   "throttled",
			status: http.StatusTooManyRequests,
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, ErrUpstreamUnavailable) },
		},
		{
			name:   "top level errors",
			status: http.StatusOK,
			body:   `{"errors":[{"message":"Throttled"}]}`,
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, ErrUpstreamUnavailable) },
		},
		{
			name:   "missing payload",
			status: http.StatusOK,
			body:   `{"data":{"priceRuleDiscountCodeCreate":{"priceRuleDiscountCode":null,"userErrors":[]}}}`,
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, ErrUnexpectedResponse) },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newTestClient(t, func(w http.ResponseWriter, _ recordedCall) { writeBody(w, tc.status, tc.body) })
			_, err := c.CreateDiscountCode(context.Background(), sess, "gid://shopify/PriceRule/77", "MARIAX1Y2")
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestDeleteDiscountRule(t *testing.T) {
	t.Parallel()

	c, fp := newTestClient(t, func(w http.ResponseWriter, call recordedCall) {
		writeBody(w, http.StatusOK, `{"data":{"priceRuleDelete":{"deletedPriceRuleId":"gid://shopify/PriceRule/77","userErrors":[]}}}`)
	})
	err := c.DeleteDiscountRule(context.Background(), Session{Shop: "acme.myshopify.com", AccessToken: "shpat"}, "gid://shopify/PriceRule/77")
	require.NoError(t, err)
	require.Len(t, fp.calls, 1)
	assert.Equal(t, "gid://shopify/PriceRule/77", fp.calls[0].Variables["id"])
}

func TestCreateWebhookSubscription(t *testing.T) {
	t.Parallel()

	c, fp := newTestClient(t, func(w http.ResponseWriter, call recordedCall) {
		writeBody(w, http.StatusOK, `{"data":{"webhookSubscriptionCreate":{"webhookSubscription":{"id":"gid://shopify/WebhookSubscription/9"},"userErrors":[]}}}`)
	})
	id, err := c.CreateWebhookSubscription(context.Background(),
		Session{Shop: "acme.myshopify.com", AccessToken: "shpat"},
		TopicOrdersPaid, "https://app.test/webhooks/shopify/orders-paid")
	require.NoError(t, err)
	assert.Equal(t, "gid://shopify/WebhookSubscription/9", id)

	require.Len(t, fp.calls, 1)
	assert.Equal(t, "ORDERS_PAID", fp.calls[0].Variables["topic"])
	sub, ok := fp.calls[0].Variables["webhookSubscription"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "JSON", sub["format"])
	assert.Equal(t, "https://app.test/webhooks/shopify/orders-paid", sub["callbackUrl"])
}

func TestGraphQL_RequiresSession(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{APIKey: "key", APISecret: "secret"})
	_, err := c.CreateDiscountRule(context.Background(), Session{Shop: "acme.myshopify.com"}, PriceRule{Title: "t", Value: "-1"})
	require.ErrorIs(t, err, ErrInvalidInput)
}
