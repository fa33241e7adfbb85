package vault

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	// MinIterations is the floor for PBKDF2 work; configs below it are rejected.
	MinIterations = 100_000

	// MinSecretBytes is the minimum accepted length of the raw secret material.
	MinSecretBytes = 32

	keyLength = 32 // AES-256
	nonceSize = 16
	tagSize   = 16
)

// KDFParams controls PBKDF2-HMAC-SHA512 key derivation.
type KDFParams struct {
	Salt       string
	Iterations int
}

// Config is the single configuration surface for this package.
type Config struct {
	KDF KDFParams
}

// DefaultConfig returns the derivation parameters existing ciphertexts were written with.
func DefaultConfig() Config {
	return Config{
		KDF: KDFParams{
			Salt:       "salt",
			Iterations: MinIterations,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
// - AFFILINK_VAULT_KDF_SALT
// - AFFILINK_VAULT_KDF_ITERATIONS (>= 100000)
//
// Changing either value makes previously stored ciphertexts undecryptable.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("AFFILINK_VAULT_KDF_SALT"); ok {
		v = strings.TrimSpace(v)
		if v == "" {
			return Config{}, fmt.Errorf("AFFILINK_VAULT_KDF_SALT: %w", ErrInvalidConfig)
		}
		cfg.KDF.Salt = v
	}

	if v, ok := os.LookupEnv("AFFILINK_VAULT_KDF_ITERATIONS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("AFFILINK_VAULT_KDF_ITERATIONS: not an integer")
		}
		cfg.KDF.Iterations = n
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the derivation parameters.
func (c Config) Validate() error {
	if c.KDF.Salt == "" {
		return fmt.Errorf("%w: empty salt", ErrInvalidConfig)
	}
	if c.KDF.Iterations < MinIterations || c.KDF.Iterations > 10_000_000 {
		return fmt.Errorf("%w: iterations out of range [%d..%d]", ErrInvalidConfig, MinIterations, 10_000_000)
	}
	return nil
}
