// Package token provides the keyed-hash and opaque-token primitives shared by the
// OAuth callback verifier, the webhook gateway, and the state issuer.
//
// Conventions:
//   - HMAC-SHA256 everywhere; callers pick hex (OAuth query signatures) or base64
//     (webhook header signatures) encoding.
//   - Signature comparisons are constant-time and never short-circuit on content.
//   - Opaque tokens are crypto/rand bytes encoded with base64.RawURLEncoding.
package token
