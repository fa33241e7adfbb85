package app

import (
	"errors"
	"fmt"
	"strings"

	"affilink/security/vault"
)

var ErrSecurityPolicy = errors.New("security policy")

// ValidateSecurityConfig fails startup when secret material is missing or weak.
// The key lengths are measured in bytes because the values are used as raw bytes.
func ValidateSecurityConfig(cfg Config) error {
	if len(cfg.EncryptionKey) < vault.MinSecretBytes {
		return fmt.Errorf("%w: AFFILINK_ENCRYPTION_KEY must be at least %d bytes", ErrSecurityPolicy, vault.MinSecretBytes)
	}
	if strings.TrimSpace(cfg.Shopify.APISecret) == "" {
		return fmt.Errorf("%w: SHOPIFY_API_SECRET is required", ErrSecurityPolicy)
	}
	if strings.TrimSpace(cfg.Shopify.WebhookSecret) == "" {
		return fmt.Errorf("%w: SHOPIFY_WEBHOOK_SECRET is required", ErrSecurityPolicy)
	}
	if cfg.Auth.PublicKeyHex == "" && cfg.Auth.SecretKeyHex == "" {
		return fmt.Errorf("%w: AFFILINK_PASETO_V4_PUBLIC_KEY_HEX is required", ErrSecurityPolicy)
	}
	if cfg.Auth.SecretKeyHex != "" && cfg.Auth.PublicKeyHex == "" {
		return fmt.Errorf("%w: configure the PASETO public key, not the secret key", ErrSecurityPolicy)
	}
	if !strings.HasPrefix(cfg.PublicURL, "https://") && !isLoopbackURL(cfg.PublicURL) {
		return fmt.Errorf("%w: AFFILINK_PUBLIC_URL must be https outside localhost", ErrSecurityPolicy)
	}
	return nil
}
