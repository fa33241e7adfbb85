package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrNotOwner     = errors.New("not owner")
	ErrNotPending   = errors.New("not pending")
)

// Conflict fields reported through ConflictError.
const (
	FieldActivePartnership = "active_partnership"
	FieldCouponCode        = "coupon_code"
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError reports a uniqueness conflict for a logical field.
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// IsConflictOn reports whether err is a ConflictError on field.
func IsConflictOn(err error, field string) bool {
	var ce ConflictError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Field == field
}

// UnrecordedError reports an approval whose platform discount was created
// but whose status change was not committed. The partnership is still PENDING.
type UnrecordedError struct {
	Approval Approval
	IDs      ProvisionedIDs
	Err      error
}

func (e *UnrecordedError) Error() string {
	return fmt.Sprintf("approve partnership %s: provisioned discount not recorded: %v", e.Approval.Partnership.ID, e.Err)
}

func (e *UnrecordedError) Unwrap() error { return e.Err }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
