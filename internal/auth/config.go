package auth

import (
	"os"
	"strings"
	"time"
)

// Config defines runtime configuration for token verification.
type Config struct {
	// Issuer is the required value of the "iss" claim.
	Issuer string

	// ClockSkew is the tolerance applied to nbf/exp checks.
	ClockSkew time.Duration

	// TokenTTL is used only when issuing tokens.
	TokenTTL time.Duration

	// PublicKeyHex is the hex Ed25519 public key that verifies tokens.
	PublicKeyHex string

	// SecretKeyHex optionally enables Issue. When set, PublicKeyHex may be empty.
	SecretKeyHex string
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:    "affilink",
		ClockSkew: 30 * time.Second,
		TokenTTL:  15 * time.Minute,
	}
}

// LoadConfigFromEnv loads auth configuration from environment variables.
//
// One of these is required:
//   - AFFILINK_PASETO_V4_PUBLIC_KEY_HEX
//   - AFFILINK_PASETO_V4_SECRET_KEY_HEX
//
// Optional:
//   - AFFILINK_AUTH_ISSUER
//   - AFFILINK_AUTH_CLOCK_SKEW
//   - AFFILINK_AUTH_TOKEN_TTL
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("AFFILINK_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := strings.TrimSpace(os.Getenv("AFFILINK_AUTH_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}
	if v := strings.TrimSpace(os.Getenv("AFFILINK_AUTH_TOKEN_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TokenTTL = d
	}
	cfg.PublicKeyHex = strings.TrimSpace(os.Getenv("AFFILINK_PASETO_V4_PUBLIC_KEY_HEX"))
	cfg.SecretKeyHex = strings.TrimSpace(os.Getenv("AFFILINK_PASETO_V4_SECRET_KEY_HEX"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the config can build a Manager.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return ErrConfig
	}
	if c.ClockSkew < 0 || c.ClockSkew > 5*time.Minute {
		return ErrConfig
	}
	if c.PublicKeyHex == "" && c.SecretKeyHex == "" {
		return ErrConfig
	}
	if c.SecretKeyHex != "" && c.TokenTTL <= 0 {
		return ErrConfig
	}
	return nil
}
