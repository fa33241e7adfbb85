package shopify

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the app credentials registered with the platform.
type Config struct {
	APIKey        string        `env:"SHOPIFY_API_KEY" env-required:"true"`
	APISecret     string        `env:"SHOPIFY_API_SECRET" env-required:"true"`
	Scopes        []string      `env:"SHOPIFY_SCOPES" env-separator:"," env-default:"write_discounts,read_orders"`
	APIVersion    string        `env:"SHOPIFY_API_VERSION" env-default:"2023-10"`
	WebhookSecret string        `env:"SHOPIFY_WEBHOOK_SECRET"`
	HTTPTimeout   time.Duration `env:"SHOPIFY_HTTP_TIMEOUT" env-default:"10s"`
	ShopSuffix    string        `env:"SHOPIFY_SHOP_SUFFIX" env-default:".myshopify.com"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects blank credentials; cleanenv accepts a set-but-empty variable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" || strings.TrimSpace(c.APISecret) == "" {
		return fmt.Errorf("%w: SHOPIFY_API_KEY and SHOPIFY_API_SECRET are required", ErrInvalidInput)
	}
	if len(c.Scopes) == 0 {
		return fmt.Errorf("%w: SHOPIFY_SCOPES is empty", ErrInvalidInput)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.WebhookSecret) == "" {
		c.WebhookSecret = c.APISecret
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.APIVersion == "" {
		c.APIVersion = "2023-10"
	}
	if c.ShopSuffix == "" {
		c.ShopSuffix = ".myshopify.com"
	}
	scopes := make([]string, 0, len(c.Scopes))
	for _, s := range c.Scopes {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	c.Scopes = scopes
	return c
}

// ScopeParam joins scopes the way the authorize endpoint expects.
func (c Config) ScopeParam() string {
	return strings.Join(c.Scopes, ",")
}
