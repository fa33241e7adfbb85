package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// DefaultOpaqueBytes is the entropy used for anti-forgery tokens.
const DefaultOpaqueBytes = 32

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HMACSHA256 returns the raw HMAC-SHA256 of msg under key.
func HMACSHA256(msg, key []byte) []byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write(msg)
	return m.Sum(nil)
}

// HMACSHA256Hex returns an HMAC-SHA256 hex digest of msg using key.
func HMACSHA256Hex(msg, key []byte) string {
	return hex.EncodeToString(HMACSHA256(msg, key))
}

// HMACSHA256Base64 returns an HMAC-SHA256 standard-base64 digest of msg using key.
func HMACSHA256Base64(msg, key []byte) string {
	return base64.StdEncoding.EncodeToString(HMACSHA256(msg, key))
}

// VerifyHMACHex reports whether sigHex is the hex HMAC-SHA256 of msg under key.
// Hex case is ignored.
func VerifyHMACHex(msg, key []byte, sigHex string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(sigHex))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(got, HMACSHA256(msg, key))
}

// VerifyHMACBase64 reports whether sigB64 is the base64 HMAC-SHA256 of msg under key.
func VerifyHMACBase64(msg, key []byte, sigB64 string) bool {
	got, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sigB64))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(got, HMACSHA256(msg, key))
}

// SecureStringEqual compares two non-empty strings in constant time.
func SecureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewOpaque returns a random URL-safe token with nBytes of entropy.
func NewOpaque(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = DefaultOpaqueBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// KeyFromString trims raw and enforces a minimum byte length.
// The key is measured in bytes, not runes, because it is used as raw bytes.
func KeyFromString(raw string, minBytes int) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrKeyTooShort
	}
	return b, nil
}
