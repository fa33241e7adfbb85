package shopify

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidShop         = errors.New("invalid shop domain")
	ErrInvalidInput        = errors.New("invalid input")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrAccessRevoked       = errors.New("access token rejected")
	ErrUnexpectedResponse  = errors.New("unexpected response")
)

// UserError is a domain-level rejection reported in a mutation's userErrors.
type UserError struct {
	Op      string
	Field   []string
	Message string
}

func (e *UserError) Error() string {
	if e.Op == "" {
		return "shopify: " + e.Message
	}
	return fmt.Sprintf("shopify %s: %s", e.Op, e.Message)
}

// IsUserError reports whether err carries a *UserError.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}
