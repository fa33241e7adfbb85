package partnership

import "errors"

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrStoreNotConnected      = errors.New("store not connected")
	ErrDuplicateActiveRequest = errors.New("an active or pending request already exists for this store")
	ErrAlreadyProcessed       = errors.New("partnership already processed")
	ErrCodeSpaceExhausted     = errors.New("could not allocate a unique coupon code")
)
