package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"affilink/internal/ledger"
	"affilink/internal/metrics"
	"affilink/internal/shopify"

	"github.com/shopspring/decimal"
)

// Platform is the discount surface of the platform client.
type Platform interface {
	CreateDiscountRule(ctx context.Context, s shopify.Session, rule shopify.PriceRule) (string, error)
	CreateDiscountCode(ctx context.Context, s shopify.Session, priceRuleID, code string) (string, error)
	DeleteDiscountRule(ctx context.Context, s shopify.Session, priceRuleID string) error
}

// Sessions resolves an API session for a connected store.
type Sessions interface {
	Session(store ledger.ConnectedStore) (shopify.Session, error)
}

// Request describes one discount to create.
type Request struct {
	Code          string
	CreatorLabel  string
	DiscountValue decimal.Decimal
}

const (
	valueTypePercentage   = "PERCENTAGE"
	customerSelectionAll  = "ALL"
	targetTypeLineItem    = "LINE_ITEM"
	targetSelectionAll    = "ALL"
	allocationMethodAcross = "ACROSS"

	compensateTimeout = 10 * time.Second
)

// Provisioner is the DiscountProvisioner.
type Provisioner struct {
	platform   Platform
	log        *slog.Logger
	metrics    *metrics.Pipeline
	now        func() time.Time
	compensate bool
}

type Option func(*Provisioner)

func WithLogger(log *slog.Logger) Option {
	return func(p *Provisioner) {
		if log != nil {
			p.log = log
		}
	}
}

func WithMetrics(m *metrics.Pipeline) Option {
	return func(p *Provisioner) { p.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(p *Provisioner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithCompensation toggles deleting the price rule when code creation fails.
func WithCompensation(on bool) Option {
	return func(p *Provisioner) { p.compensate = on }
}

func New(platform Platform, opts ...Option) (*Provisioner, error) {
	if platform == nil {
		return nil, ErrInvalidInput
	}
	p := &Provisioner{
		platform:   platform,
		log:        slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
		compensate: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Title is the price rule title shown to the merchant.
func Title(creatorLabel, code string) string {
	label := strings.TrimSpace(creatorLabel)
	if label == "" {
		label = "Creator"
	}
	return fmt.Sprintf("Coupon %s - %s", label, code)
}

// Provision creates the price rule and its discount code.
func (p *Provisioner) Provision(ctx context.Context, sess shopify.Session, req Request) (ids ledger.ProvisionedIDs, err error) {
	defer func() { p.metrics.Provisioning(provisionResult(err)) }()

	code := ledger.NormalizeCode(req.Code)
	if code == "" || sess.Shop == "" || sess.AccessToken == "" {
		return ledger.ProvisionedIDs{}, ErrInvalidInput
	}
	if !req.DiscountValue.IsPositive() || req.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return ledger.ProvisionedIDs{}, fmt.Errorf("%w: discount value %s", ErrInvalidInput, req.DiscountValue)
	}

	rule := shopify.PriceRule{
		Title:             Title(req.CreatorLabel, code),
		ValueType:         valueTypePercentage,
		Value:             req.DiscountValue.Neg().String(),
		CustomerSelection: customerSelectionAll,
		TargetType:        targetTypeLineItem,
		TargetSelection:   targetSelectionAll,
		AllocationMethod:  allocationMethodAcross,
		StartsAt:          p.now(),
	}

	ruleID, err := p.platform.CreateDiscountRule(ctx, sess, rule)
	if err != nil {
		p.log.Error("provision.rule.fail", "shop", sess.Shop, "code", code, "err", err)
		return ledger.ProvisionedIDs{}, classify("price_rule", err)
	}

	discountID, err := p.platform.CreateDiscountCode(ctx, sess, ruleID, code)
	if err != nil {
		p.log.Error("provision.code.fail", "shop", sess.Shop, "code", code, "price_rule_id", ruleID, "err", err)
		p.rollback(ctx, sess, ruleID, code)
		return ledger.ProvisionedIDs{}, classify("discount_code", err)
	}

	p.log.Info("provision.ok", "shop", sess.Shop, "code", code, "price_rule_id", ruleID, "discount_id", discountID)
	return ledger.ProvisionedIDs{PriceRuleID: ruleID, DiscountID: discountID}, nil
}

// rollback deletes a price rule left without a code. It runs on a fresh
// context so a cancelled request still cleans up.
func (p *Provisioner) rollback(ctx context.Context, sess shopify.Session, ruleID, code string) {
	if !p.compensate {
		p.orphaned(sess, ruleID, code, errors.New("compensation disabled"))
		return
	}
	if err := p.deleteRule(ctx, sess, ruleID); err != nil {
		p.orphaned(sess, ruleID, code, err)
		return
	}
	p.log.Info("provision.rule.compensated", "shop", sess.Shop, "price_rule_id", ruleID)
}

func (p *Provisioner) deleteRule(ctx context.Context, sess shopify.Session, ruleID string) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	return p.platform.DeleteDiscountRule(cctx, sess, ruleID)
}

// Undo deletes a provisioned price rule, and with it the discount code, after
// the approval failed to commit. A rule that cannot be deleted is logged and
// counted as orphaned.
func (p *Provisioner) Undo(ctx context.Context, sess shopify.Session, code string, ids ledger.ProvisionedIDs) error {
	if ids.PriceRuleID == "" {
		return nil
	}
	if !p.compensate {
		err := errors.New("compensation disabled")
		p.orphaned(sess, ids.PriceRuleID, code, err)
		return err
	}
	if err := p.deleteRule(ctx, sess, ids.PriceRuleID); err != nil {
		p.orphaned(sess, ids.PriceRuleID, code, err)
		return err
	}
	p.log.Warn("provision.undone", "shop", sess.Shop, "code", code, "price_rule_id", ids.PriceRuleID, "discount_id", ids.DiscountID)
	return nil
}

func (p *Provisioner) orphaned(sess shopify.Session, ruleID, code string, err error) {
	p.log.Error("provision.rule.orphaned", "shop", sess.Shop, "code", code, "price_rule_id", ruleID, "err", err)
	p.metrics.ProvisioningOrphan()
}

// ForApproval adapts the provisioner to the ledger's approval callback.
// Credentials are resolved inside the row lock so a disconnect in flight
// is observed.
func (p *Provisioner) ForApproval(sessions Sessions) ledger.ProvisionFunc {
	return func(ctx context.Context, a ledger.Approval) (ledger.ProvisionedIDs, error) {
		sess, err := sessions.Session(a.Store)
		if err != nil {
			return ledger.ProvisionedIDs{}, err
		}
		return p.Provision(ctx, sess, Request{
			Code:          a.Partnership.CouponCode,
			CreatorLabel:  a.Partnership.CreatorLabel,
			DiscountValue: a.Partnership.DiscountValue,
		})
	}
}

// UndoForApproval adapts Undo to the ledger's undo callback.
func (p *Provisioner) UndoForApproval(sessions Sessions) ledger.UndoFunc {
	return func(ctx context.Context, a ledger.Approval, ids ledger.ProvisionedIDs) error {
		code := ledger.NormalizeCode(a.Partnership.CouponCode)
		sess, err := sessions.Session(a.Store)
		if err != nil {
			p.orphaned(shopify.Session{Shop: a.Store.StoreURL}, ids.PriceRuleID, code, err)
			return err
		}
		return p.Undo(ctx, sess, code, ids)
	}
}

func classify(step string, err error) error {
	var ue *shopify.UserError
	if errors.As(err, &ue) {
		return &RejectedError{Step: step, Message: ue.Message, Err: err}
	}
	return err
}

func provisionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrProvisioningRejected):
		return "rejected"
	case errors.Is(err, shopify.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, shopify.ErrAccessRevoked):
		return "access_revoked"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
