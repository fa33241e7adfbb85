package api

import (
	"time"

	"affilink/internal/connector"
	"affilink/internal/ledger"
	"affilink/internal/notify"

	"github.com/shopspring/decimal"
)

// Money fields are decimal strings.

type approveRequest struct {
	CouponID string `json:"couponId"`
	Action   string `json:"action"`
}

type couponRequest struct {
	BrandStoreID   string           `json:"brandStoreId"`
	CommissionRate *decimal.Decimal `json:"commissionRate,omitempty"`
	DiscountValue  *decimal.Decimal `json:"discountValue,omitempty"`
}

type couponResponse struct {
	ID             string     `json:"id"`
	CouponCode     string     `json:"couponCode"`
	CommissionRate string     `json:"commissionRate"`
	DiscountValue  string     `json:"discountValue"`
	Status         string     `json:"status"`
	UsageCount     int        `json:"usageCount"`
	CreatorID      string     `json:"creatorId"`
	CreatorLabel   string     `json:"creatorLabel"`
	BrandStoreID   string     `json:"brandStoreId"`
	PriceRuleID    *string    `json:"priceRuleId,omitempty"`
	DiscountID     *string    `json:"discountId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ApprovedAt     *time.Time `json:"approvedAt,omitempty"`
	RejectedAt     *time.Time `json:"rejectedAt,omitempty"`

	BrandStore *couponStoreResponse `json:"brandStore,omitempty"`
}

type couponStoreResponse struct {
	StoreName string `json:"storeName"`
	StoreURL  string `json:"storeUrl"`
	Platform  string `json:"platform"`
}

type storeStatusResponse struct {
	ID                string    `json:"id"`
	StoreURL          string    `json:"storeUrl"`
	StoreName         string    `json:"storeName,omitempty"`
	Platform          string    `json:"platform"`
	Connected         bool      `json:"connected"`
	ReconnectRequired bool      `json:"reconnectRequired"`
	ConnectedAt       time.Time `json:"connectedAt"`
}

type statsResponse struct {
	TotalSales        string `json:"totalSales"`
	PendingCommission string `json:"pendingCommission"`
	PaidCommission    string `json:"paidCommission"`
	ActiveCoupons     int    `json:"activeCoupons"`
}

type brandResponse struct {
	ID                string `json:"id"`
	BrandID           string `json:"brandId"`
	StoreURL          string `json:"storeUrl"`
	StoreName         string `json:"storeName"`
	StoreDescription  string `json:"storeDescription,omitempty"`
	Platform          string `json:"platform"`
	ActiveCoupons     int    `json:"activeCoupons"`
	HasPendingRequest bool   `json:"hasPendingRequest"`
}

type notificationResponse struct {
	ID        string         `json:"id"`
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func toCoupon(p ledger.Partnership) couponResponse {
	return couponResponse{
		ID:             p.ID,
		CouponCode:     p.CouponCode,
		CommissionRate: p.CommissionRate.String(),
		DiscountValue:  p.DiscountValue.String(),
		Status:         string(p.Status),
		UsageCount:     p.UsageCount,
		CreatorID:      p.CreatorID,
		CreatorLabel:   p.CreatorLabel,
		BrandStoreID:   p.StoreID,
		PriceRuleID:    p.PriceRuleID,
		DiscountID:     p.DiscountID,
		CreatedAt:      p.CreatedAt,
		ApprovedAt:     p.ApprovedAt,
		RejectedAt:     p.RejectedAt,
	}
}

func toCreatorCoupon(cp ledger.CreatorPartnership) couponResponse {
	out := toCoupon(cp.Partnership)
	out.BrandStore = &couponStoreResponse{
		StoreName: cp.StoreName,
		StoreURL:  cp.StoreURL,
		Platform:  string(cp.Platform),
	}
	return out
}

func toStoreStatus(s connector.StoreStatus) *storeStatusResponse {
	if s.StoreID == "" {
		return nil
	}
	return &storeStatusResponse{
		ID:                s.StoreID,
		StoreURL:          s.StoreURL,
		StoreName:         s.StoreName,
		Platform:          string(s.Platform),
		Connected:         s.Connected,
		ReconnectRequired: s.ReconnectRequired,
		ConnectedAt:       s.ConnectedAt,
	}
}

func toStats(s ledger.CreatorStats) statsResponse {
	return statsResponse{
		TotalSales:        s.TotalSales.String(),
		PendingCommission: s.PendingCommission.String(),
		PaidCommission:    s.PaidCommission.String(),
		ActiveCoupons:     s.ActiveCoupons,
	}
}

func toBrand(d ledger.DirectoryEntry) brandResponse {
	return brandResponse{
		ID:                d.StoreID,
		BrandID:           d.BrandID,
		StoreURL:          d.StoreURL,
		StoreName:         d.StoreName,
		StoreDescription:  d.StoreDescription,
		Platform:          string(d.Platform),
		ActiveCoupons:     d.ActiveCoupons,
		HasPendingRequest: d.HasPendingRequest,
	}
}

func toNotification(n notify.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		Seq:       n.Seq,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
	}
}
