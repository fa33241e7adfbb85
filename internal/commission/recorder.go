// Package commission turns paid orders into commission transactions.
//
// Recording is exactly-once per order id: the ledger's unique order index
// decides, so concurrent and retried deliveries of one order produce a single
// transaction and a single usage increment.
package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"affilink/internal/ids"
	"affilink/internal/ledger"
	"affilink/internal/metrics"
	"affilink/internal/notify"

	"github.com/shopspring/decimal"
)

var ErrInvalidInput = errors.New("invalid input")

// Outcome is the result of recording one order.
type Outcome string

const (
	OutcomeRecorded        Outcome = "recorded"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeNoDiscount      Outcome = "no_discount"
	OutcomeNotAttributable Outcome = "not_attributable"
)

// Order is a paid order as reported by the platform.
type Order struct {
	OrderID      string
	Subtotal     decimal.Decimal
	DiscountCode string
}

// Result describes what Record did. Transaction is set for recorded and
// duplicate outcomes.
type Result struct {
	Outcome     Outcome
	Transaction ledger.Transaction
	Partnership ledger.Partnership
}

// Repository is the ledger surface the recorder needs.
type Repository interface {
	GetPartnershipByCode(ctx context.Context, code string) (ledger.Partnership, error)
	InsertTransaction(ctx context.Context, in ledger.InsertTransactionRecord) (ledger.Transaction, bool, error)
}

// Recorder is the CommissionRecorder.
type Recorder struct {
	repo    Repository
	sink    notify.Sink
	log     *slog.Logger
	metrics *metrics.Pipeline
	now     func() time.Time
}

type Option func(*Recorder)

func WithLogger(log *slog.Logger) Option {
	return func(r *Recorder) {
		if log != nil {
			r.log = log
		}
	}
}

func WithMetrics(m *metrics.Pipeline) Option {
	return func(r *Recorder) { r.metrics = m }
}

func WithNotifier(sink notify.Sink) Option {
	return func(r *Recorder) {
		if sink != nil {
			r.sink = sink
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRecorder(repo Repository, opts ...Option) (*Recorder, error) {
	if repo == nil {
		return nil, ErrInvalidInput
	}
	r := &Recorder{
		repo: repo,
		sink: notify.Discard{},
		log:  slog.Default(),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Record attributes a paid order to a creator's coupon. Orders without a
// code, with an unknown code or with a code that is not live are
// acknowledged without effect.
func (r *Recorder) Record(ctx context.Context, o Order) (Result, error) {
	orderID := strings.TrimSpace(o.OrderID)
	if orderID == "" {
		return Result{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	if o.Subtotal.IsNegative() {
		return Result{}, fmt.Errorf("%w: negative subtotal", ErrInvalidInput)
	}
	if !o.Subtotal.Equal(o.Subtotal.Round(2)) {
		return Result{}, fmt.Errorf("%w: subtotal has more than 2 decimal places", ErrInvalidInput)
	}

	code := ledger.NormalizeCode(o.DiscountCode)
	if code == "" {
		return Result{Outcome: OutcomeNoDiscount}, nil
	}

	p, err := r.repo.GetPartnershipByCode(ctx, code)
	if err != nil {
		if ledger.IsNotFound(err) {
			r.log.Debug("commission.record.unknown_code", "order_id", orderID, "code", code)
			return Result{Outcome: OutcomeNotAttributable}, nil
		}
		return Result{}, err
	}
	// Codes of PENDING or REJECTED partnerships resolve like unknown codes:
	// acknowledged, nothing recorded.
	if !p.Status.Attributable() {
		r.log.Info("commission.record.not_attributable", "order_id", orderID, "code", code, "status", string(p.Status))
		return Result{Outcome: OutcomeNotAttributable, Partnership: p}, nil
	}

	amount := o.Subtotal.Mul(p.CommissionRate)
	now := r.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Result{}, err
	}

	tx, inserted, err := r.repo.InsertTransaction(ctx, ledger.InsertTransactionRecord{
		ID:               id,
		OrderID:          orderID,
		OrderTotal:       o.Subtotal,
		CommissionAmount: amount,
		PartnershipID:    p.ID,
		StoreID:          p.StoreID,
		Now:              now,
	})
	if err != nil {
		if ledger.IsNotFound(err) {
			// The store was disconnected after the lookup.
			return Result{Outcome: OutcomeNotAttributable, Partnership: p}, nil
		}
		r.log.Error("commission.record.fail", "order_id", orderID, "partnership_id", p.ID, "err", err)
		return Result{}, err
	}
	if !inserted {
		r.log.Info("commission.record.duplicate", "order_id", orderID, "partnership_id", p.ID)
		return Result{Outcome: OutcomeDuplicate, Transaction: tx, Partnership: p}, nil
	}

	r.log.Info("commission.recorded",
		"order_id", orderID,
		"partnership_id", p.ID,
		"transaction_id", tx.ID,
		"order_total", tx.OrderTotal.String(),
		"commission", tx.CommissionAmount.String(),
	)
	r.metrics.CommissionRecorded(tx.CommissionAmount.InexactFloat64())
	r.sink.Notify(ctx, notify.Notification{
		UserID:  p.CreatorID,
		Type:    notify.TypeCommissionRecorded,
		Title:   "New commission",
		Message: fmt.Sprintf("Order %s with code %s earned you %s", orderID, p.CouponCode, tx.CommissionAmount.StringFixed(2)),
		Metadata: map[string]any{
			"order_id":          orderID,
			"coupon_code":       p.CouponCode,
			"partnership_id":    p.ID,
			"transaction_id":    tx.ID,
			"order_total":       tx.OrderTotal.String(),
			"commission_amount": tx.CommissionAmount.String(),
		},
	})
	return Result{Outcome: OutcomeRecorded, Transaction: tx, Partnership: p}, nil
}
