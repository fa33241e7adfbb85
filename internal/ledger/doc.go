// Package ledger persists connected stores, partnerships and commission
// transactions.
//
// Invariants enforced at the storage layer:
//   - one connected store per brand
//   - at most one PENDING/APPROVED/ACTIVE partnership per (creator, store)
//   - coupon codes are globally unique
//   - at most one transaction per platform order id
//
// PostgresStore is the production implementation; MemoryStore mirrors its
// semantics for tests and database-less development runs.
package ledger
