package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ProvisionFunc creates the platform discount for a locked, pending partnership.
// Returning an error aborts the approval and leaves the partnership PENDING.
type ProvisionFunc func(ctx context.Context, a Approval) (ProvisionedIDs, error)

// UndoFunc removes a discount created by a ProvisionFunc whose approval was
// not recorded.
type UndoFunc func(ctx context.Context, a Approval, ids ProvisionedIDs) error

// ConnectStoreRecord is the input to UpsertStore.
// ID is used only when the brand has no store yet.
type ConnectStoreRecord struct {
	ID                   string
	BrandID              string
	StoreURL             string
	Platform             Platform
	EncryptedAccessToken string
	Now                  time.Time
}

// CreatePartnershipRecord is the input to CreatePartnership.
type CreatePartnershipRecord struct {
	ID             string
	CreatorID      string
	CreatorLabel   string
	StoreID        string
	CouponCode     string
	CommissionRate decimal.Decimal
	DiscountValue  decimal.Decimal
	Now            time.Time
}

// DecisionRecord identifies a brand's decision on a pending partnership.
type DecisionRecord struct {
	PartnershipID string
	BrandID       string
	Now           time.Time
}

// InsertTransactionRecord is the input to InsertTransaction.
type InsertTransactionRecord struct {
	ID               string
	OrderID          string
	OrderTotal       decimal.Decimal
	CommissionAmount decimal.Decimal
	PartnershipID    string
	StoreID          string
	Now              time.Time
}

// StoreRepository persists connected stores.
type StoreRepository interface {
	// UpsertStore creates the brand's store or replaces its URL and credential.
	UpsertStore(ctx context.Context, in ConnectStoreRecord) (ConnectedStore, error)
	GetStore(ctx context.Context, storeID string) (ConnectedStore, error)
	GetStoreByBrand(ctx context.Context, brandID string) (ConnectedStore, error)
	// DeleteStoreByBrand removes the store with its partnerships and transactions.
	DeleteStoreByBrand(ctx context.Context, brandID string) (ConnectedStore, error)
	Directory(ctx context.Context, creatorID string) ([]DirectoryEntry, error)
}

// PartnershipRepository persists partnerships.
type PartnershipRepository interface {
	CreatePartnership(ctx context.Context, in CreatePartnershipRecord) (Partnership, error)
	GetPartnership(ctx context.Context, id string) (Partnership, error)
	GetPartnershipByCode(ctx context.Context, code string) (Partnership, error)
	// ApprovePartnership locks the row, runs provision, and marks it APPROVED.
	// Concurrent approvals of one partnership serialize; losers see ErrNotPending.
	ApprovePartnership(ctx context.Context, in DecisionRecord, provision ProvisionFunc) (Partnership, error)
	RejectPartnership(ctx context.Context, in DecisionRecord) (Partnership, error)
	ListPendingForBrand(ctx context.Context, brandID string) ([]Partnership, error)
	ListForCreator(ctx context.Context, creatorID string) ([]CreatorPartnership, error)
	CreatorStats(ctx context.Context, creatorID string) (CreatorStats, error)
}

// TransactionRepository persists commission transactions.
type TransactionRepository interface {
	// InsertTransaction records a transaction and bumps the partnership usage
	// count atomically. When order_id already exists the stored row is returned
	// with inserted=false and nothing changes.
	InsertTransaction(ctx context.Context, in InsertTransactionRecord) (tx Transaction, inserted bool, err error)
	GetTransactionByOrderID(ctx context.Context, orderID string) (Transaction, error)
}

// Store is the full persistence surface.
type Store interface {
	StoreRepository
	PartnershipRepository
	TransactionRepository
}

// NormalizeCode canonicalizes a coupon code for storage and lookup.
func NormalizeCode(code string) string {
	return upperTrim(code)
}
