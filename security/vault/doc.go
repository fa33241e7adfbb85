// Package vault encrypts platform access tokens before they reach durable storage.
//
// Format: hex(nonce || ciphertext || tag) with a 16-byte nonce and a 16-byte GCM tag.
// The AES-256 key is derived once per process with PBKDF2-HMAC-SHA512 and lives only in memory.
//
// Security notes:
//   - Every Encrypt call draws a fresh random nonce.
//   - Decrypt fails closed: any malformed, truncated, or tampered input yields ErrDecryptionFailed.
package vault
