package auth

import "errors"

var (
	// ErrUnauthenticated is returned when no valid identity is presented.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when the identity lacks the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidToken is returned when a token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSigningDisabled is returned by Issue when only a public key is configured.
	ErrSigningDisabled = errors.New("token signing disabled")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
