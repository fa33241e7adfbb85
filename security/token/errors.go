package token

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyMissing  = errors.New("token: hmac key missing")
	ErrKeyTooShort = errors.New("token: hmac key too short")
)
