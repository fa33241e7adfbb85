// Package notify delivers user notifications produced by the partnership and
// commission pipelines.
//
// Delivery is fire-and-forget: a Sink logs its own failures and never hands
// them back to the operation that triggered the notification.
package notify

import (
	"context"
	"time"
)

// Type names a notification kind.
type Type string

const (
	TypeNewRequest         Type = "NEW_REQUEST"
	TypeCouponApproved     Type = "COUPON_APPROVED"
	TypeCouponRejected     Type = "COUPON_REJECTED"
	TypeCommissionRecorded Type = "COMMISSION_RECORDED"
)

// Notification is one message for one user. Seq is assigned by the Store and
// increases per user.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Seq       int64          `json:"seq"`
	Type      Type           `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sink receives notifications.
type Sink interface {
	Notify(ctx context.Context, n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification)

func (f SinkFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) {}

// Multi fans a notification out to every sink in order.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, s := range m {
		if s != nil {
			s.Notify(ctx, n)
		}
	}
}
