package vault

import "errors"

// Public, stable errors for callers.
var (
	ErrSecretMissing    = errors.New("vault: secret material missing")
	ErrSecretTooShort   = errors.New("vault: secret material too short")
	ErrInvalidConfig    = errors.New("vault: invalid config")
	ErrDecryptionFailed = errors.New("vault: decryption failed")
)
