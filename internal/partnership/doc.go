// Package partnership runs the creator/brand coupon lifecycle:
// request (PENDING), then approve (APPROVED, discount provisioned) or reject.
//
// The ledger enforces the race-sensitive rules (one holding partnership per
// creator and store, serialized approvals); this package maps its results to
// caller-facing errors and emits notifications after each committed change.
package partnership
