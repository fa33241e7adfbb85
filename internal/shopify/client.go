package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// Session is the per-shop credential used for Admin API calls.
type Session struct {
	Shop        string
	AccessToken string
}

// Client talks to the platform over HTTPS.
type Client struct {
	cfg     Config
	http    *http.Client
	baseURL func(shop string) string
	observe func(op string, d time.Duration, err error)
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBaseURL overrides how a shop maps to an origin (tests point it at httptest).
func WithBaseURL(fn func(shop string) string) Option {
	return func(c *Client) {
		if fn != nil {
			c.baseURL = fn
		}
	}
}

// WithObserver receives the latency and outcome of every upstream call.
func WithObserver(fn func(op string, d time.Duration, err error)) Option {
	return func(c *Client) { c.observe = fn }
}

// NewClient builds a Client.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		baseURL: func(shop string) string { return "https://" + shop },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// AuthorizeURL builds the merchant consent URL for offline access.
func (c *Client) AuthorizeURL(shop, redirectURI, state string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.APIKey)
	q.Set("scope", c.cfg.ScopeParam())
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	return "https://" + shop + "/admin/oauth/authorize?" + q.Encode()
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

// ExchangeToken trades an authorization code for a permanent access token.
func (c *Client) ExchangeToken(ctx context.Context, shop, code string) (token string, err error) {
	const op = "oauth.exchange"
	start := time.Now()
	defer func() { c.record(op, start, err) }()

	if strings.TrimSpace(shop) == "" || strings.TrimSpace(code) == "" {
		return "", ErrInvalidInput
	}

	body, err := json.Marshal(tokenRequest{
		ClientID:     c.cfg.APIKey,
		ClientSecret: c.cfg.APISecret,
		Code:         code,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL(shop)+"/admin/oauth/access_token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	switch {
	case res.StatusCode >= 500:
		return "", fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: status %d", ErrTokenExchangeFailed, res.StatusCode)
	}

	var out tokenResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrTokenExchangeFailed, err)
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", fmt.Errorf("%w: empty access token", ErrTokenExchangeFailed)
	}
	return out.AccessToken, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type userErrorPayload struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// graphql runs one Admin API operation and decodes data into dst.
func (c *Client) graphql(ctx context.Context, op string, s Session, query string, vars map[string]any, dst any) (err error) {
	start := time.Now()
	defer func() { c.record(op, start, err) }()

	if strings.TrimSpace(s.Shop) == "" || strings.TrimSpace(s.AccessToken) == "" {
		return ErrInvalidInput
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return err
	}
	endpoint := c.baseURL(s.Shop) + "/admin/api/" + c.cfg.APIVersion + "/graphql.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", s.AccessToken)

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAccessRevoked, res.StatusCode)
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d", ErrUnexpectedResponse, res.StatusCode)
	}

	var env graphQLResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUnexpectedResponse, err)
	}
	if len(env.Errors) > 0 {
		return fmt.Errorf("%w: %s", ErrUpstreamUnavailable, env.Errors[0].Message)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: empty data", ErrUnexpectedResponse)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

func (c *Client) record(op string, start time.Time, err error) {
	if c.observe != nil {
		c.observe(op, time.Since(start), err)
	}
}

func firstUserError(op string, errs []userErrorPayload) error {
	if len(errs) == 0 {
		return nil
	}
	msg := strings.TrimSpace(errs[0].Message)
	if msg == "" {
		msg = "rejected"
	}
	return &UserError{Op: op, Field: errs[0].Field, Message: msg}
}
