package connector

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidShop       = errors.New("invalid shop domain")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrMissingParams     = errors.New("missing callback parameters")
	ErrInvalidState      = errors.New("invalid or expired state")
	ErrNotConnected      = errors.New("store not connected")
	ErrCredentialCorrupt = errors.New("stored credential cannot be decrypted")
)
