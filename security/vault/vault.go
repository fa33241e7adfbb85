package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Vault is the CredentialVault: authenticated symmetric encryption for long-lived tokens.
// It is safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// New derives the encryption key from secret and returns a ready Vault.
// The secret is not retained.
func New(secret []byte, cfg Config) (*Vault, error) {
	if len(strings.TrimSpace(string(secret))) == 0 {
		return nil, ErrSecretMissing
	}
	if len(secret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key := pbkdf2.Key(secret, []byte(cfg.KDF.Salt), cfg.KDF.Iterations, keyLength, sha512.New)
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+tagSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	// Seal appends ciphertext||tag after the nonce.
	out := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	if len(raw) < nonceSize+tagSize {
		return "", ErrDecryptionFailed
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	pt, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(pt), nil
}
