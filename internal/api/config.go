package api

import "time"

// Config controls API behavior.
type Config struct {
	// DashboardURL is where the OAuth callback sends the brand's browser.
	DashboardURL string
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy   bool
	MaxBodyBytes int64

	// RequestMax coupon requests per creator within RequestWindow. Enforced
	// only when a RequestCounter is configured; 0 disables it.
	RequestMax    int
	RequestWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		DashboardURL:  "http://localhost:3000/brand/dashboard",
		MaxBodyBytes:  64 << 10,
		RequestMax:    20,
		RequestWindow: time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DashboardURL == "" {
		c.DashboardURL = d.DashboardURL
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.RequestWindow <= 0 {
		c.RequestWindow = d.RequestWindow
	}
	return c
}
