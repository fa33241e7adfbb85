package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Platform identifies the commerce platform a store lives on.
type Platform string

const PlatformShopify Platform = "SHOPIFY"

// PartnershipStatus is the lifecycle state of a partnership.
type PartnershipStatus string

const (
	StatusPending  PartnershipStatus = "PENDING"
	StatusApproved PartnershipStatus = "APPROVED"
	StatusRejected PartnershipStatus = "REJECTED"
	StatusActive   PartnershipStatus = "ACTIVE"
)

// Holding reports whether the status blocks a new request for the same pair.
func (s PartnershipStatus) Holding() bool {
	return s == StatusPending || s == StatusApproved || s == StatusActive
}

// Attributable reports whether sales may be credited to a partnership in this status.
func (s PartnershipStatus) Attributable() bool {
	return s == StatusApproved || s == StatusActive
}

// TransactionStatus is the payout state of a commission.
type TransactionStatus string

const (
	TxPending  TransactionStatus = "PENDING"
	TxEligible TransactionStatus = "ELIGIBLE"
	TxPaid     TransactionStatus = "PAID"
)

// ConnectedStore is a brand's authorized storefront.
type ConnectedStore struct {
	ID                   string
	BrandID              string
	StoreURL             string
	StoreName            string
	StoreDescription     string
	IsPublic             bool
	Platform             Platform
	EncryptedAccessToken string
	WebhookSecret        string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Connected reports whether the store holds a usable credential.
func (s ConnectedStore) Connected() bool {
	return strings.TrimSpace(s.EncryptedAccessToken) != ""
}

// DisplayName falls back to the store URL when no name was set.
func (s ConnectedStore) DisplayName() string {
	if n := strings.TrimSpace(s.StoreName); n != "" {
		return n
	}
	return s.StoreURL
}

// Partnership binds a creator to a store through a coupon code.
type Partnership struct {
	ID             string
	CreatorID      string
	CreatorLabel   string
	StoreID        string
	CouponCode     string
	CommissionRate decimal.Decimal
	DiscountValue  decimal.Decimal
	Status         PartnershipStatus
	UsageCount     int
	PriceRuleID    *string
	DiscountID     *string
	CreatedAt      time.Time
	ApprovedAt     *time.Time
	RejectedAt     *time.Time
}

// CreatorPartnership is a partnership joined with its store for creator listings.
type CreatorPartnership struct {
	Partnership
	StoreURL  string
	StoreName string
	Platform  Platform
}

// Transaction is one commission-bearing order.
type Transaction struct {
	ID               string
	OrderID          string
	OrderTotal       decimal.Decimal
	CommissionAmount decimal.Decimal
	Status           TransactionStatus
	PartnershipID    string
	StoreID          string
	CreatedAt        time.Time
}

// CreatorStats aggregates a creator's earnings.
type CreatorStats struct {
	TotalSales        decimal.Decimal
	PendingCommission decimal.Decimal
	PaidCommission    decimal.Decimal
	ActiveCoupons     int
}

// DirectoryEntry is a public store as seen by one creator.
type DirectoryEntry struct {
	StoreID           string
	BrandID           string
	StoreURL          string
	StoreName         string
	StoreDescription  string
	Platform          Platform
	ActiveCoupons     int
	HasPendingRequest bool
}

// Approval is handed to the provisioning callback while the partnership row is locked.
type Approval struct {
	Partnership Partnership
	Store       ConnectedStore
}

// ProvisionedIDs are the platform identifiers produced by provisioning.
type ProvisionedIDs struct {
	PriceRuleID string
	DiscountID  string
}
