package partnership

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

var (
	DefaultCommissionRate = decimal.RequireFromString("0.10")
	DefaultDiscountValue  = decimal.NewFromInt(10)

	hundred = decimal.NewFromInt(100)
)

// Creator is the requesting creator's identity.
type Creator struct {
	ID    string
	Name  string
	Email string
}

// Label is what brands see: name, else email, else id.
func (c Creator) Label() string {
	for _, v := range []string{c.Name, c.Email, c.ID} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// RequestInput asks a brand's store for a coupon. Nil terms take the defaults.
type RequestInput struct {
	Creator        Creator
	StoreID        string
	CommissionRate *decimal.Decimal
	DiscountValue  *decimal.Decimal
}

// Action is a brand's decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction accepts "approve" and "reject", case-insensitively.
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionApprove:
		return ActionApprove, true
	case ActionReject:
		return ActionReject, true
	default:
		return "", false
	}
}

// DecideInput is a brand's decision on one pending partnership.
type DecideInput struct {
	CouponID string
	BrandID  string
	Action   Action
}

// Service is the PartnershipLedger.
type Service struct {
	repo      ledger.Store
	provision ledger.ProvisionFunc
	undo      ledger.UndoFunc
	codes     *CodeGenerator
	sink      notify.Sink

	defaultRate     decimal.Decimal
	defaultDiscount decimal.Decimal

	log     *slog.Logger
	metrics *metrics.Pipeline
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithMetrics(m *metrics.Pipeline) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithNotifier(sink notify.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithUndo sets the callback that removes a discount whose approval did not
// commit. Without it such discounts are only logged.
func WithUndo(undo ledger.UndoFunc) Option {
	return func(s *Service) { s.undo = undo }
}

func WithCodeGenerator(g *CodeGenerator) Option {
	return func(s *Service) {
		if g != nil {
			s.codes = g
		}
	}
}

// WithDefaultTerms overrides the terms used when a request omits them.
func WithDefaultTerms(rate, discount decimal.Decimal) Option {
	return func(s *Service) {
		s.defaultRate = rate
		s.defaultDiscount = discount
	}
}

// NewService constructs a Service. provision runs under the approval lock.
func NewService(repo ledger.Store, provision ledger.ProvisionFunc, opts ...Option) (*Service, error) {
	if repo == nil || provision == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		repo:            repo,
		provision:       provision,
		sink:            notify.Discard{},
		defaultRate:     DefaultCommissionRate,
		defaultDiscount: DefaultDiscountValue,
		log:             slog.Default(),
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.codes == nil {
		g, err := NewCodeGenerator()
		if err != nil {
			return nil, err
		}
		s.codes = g
	}
	if err := validateTerms(s.defaultRate, s.defaultDiscount); err != nil {
		return nil, fmt.Errorf("default terms: %w", err)
	}
	return s, nil
}

// validateTerms checks a commission rate and discount value.
func validateTerms(rate, discount decimal.Decimal) error {
	if !rate.IsPositive() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: commission rate must be in (0, 1]", ErrInvalidInput)
	}
	if !rate.Equal(rate.Round(4)) {
		return fmt.Errorf("%w: commission rate allows at most 4 decimal places", ErrInvalidInput)
	}
	if !discount.IsPositive() || discount.GreaterThan(hundred) {
		return fmt.Errorf("%w: discount value must be in (0, 100]", ErrInvalidInput)
	}
	if !discount.Equal(discount.Round(2)) {
		return fmt.Errorf("%w: discount value allows at most 2 decimal places", ErrInvalidInput)
	}
	return nil
}

// Request creates a PENDING partnership and notifies the brand.
func (s *Service) Request(ctx context.Context, in RequestInput) (ledger.Partnership, error) {
	creatorID := strings.TrimSpace(in.Creator.ID)
	storeID := strings.TrimSpace(in.StoreID)
	if creatorID == "" || storeID == "" {
		return ledger.Partnership{}, ErrInvalidInput
	}

	rate, discount := s.defaultRate, s.defaultDiscount
	if in.CommissionRate != nil {
		rate = *in.CommissionRate
	}
	if in.DiscountValue != nil {
		discount = *in.DiscountValue
	}
	if err := validateTerms(rate, discount); err != nil {
		return ledger.Partnership{}, err
	}

	store, err := s.repo.GetStore(ctx, storeID)
	if err != nil {
		if ledger.IsNotFound(err) {
			return ledger.Partnership{}, ErrNotFound
		}
		return ledger.Partnership{}, err
	}
	if !store.Connected() {
		return ledger.Partnership{}, ErrStoreNotConnected
	}

	label := in.Creator.Label()
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		now := s.now()
		id, err := ids.NewULID(now)
		if err != nil {
			return ledger.Partnership{}, err
		}
		p, err := s.repo.CreatePartnership(ctx, ledger.CreatePartnershipRecord{
			ID:             id,
			CreatorID:      creatorID,
			CreatorLabel:   label,
			StoreID:        store.ID,
			CouponCode:     s.codes.Generate(in.Creator.Name, in.Creator.Email),
			CommissionRate: rate,
			DiscountValue:  discount,
			Now:            now,
		})
		switch {
		case err == nil:
			s.log.Info("partnership.requested", "partnership_id", p.ID, "creator_id", creatorID, "store_id", store.ID, "coupon_code", p.CouponCode)
			s.sink.Notify(ctx, notify.Notification{
				UserID:  store.BrandID,
				Type:    notify.TypeNewRequest,
				Title:   "New partnership request",
				Message: fmt.Sprintf("%s wants to promote %s with code %s", label, store.DisplayName(), p.CouponCode),
				Metadata: map[string]any{
					"partnership_id":  p.ID,
					"coupon_code":     p.CouponCode,
					"creator_id":      creatorID,
					"store_id":        store.ID,
					"commission_rate": p.CommissionRate.String(),
					"discount_value":  p.DiscountValue.String(),
				},
			})
			return p, nil
		case ledger.IsConflictOn(err, ledger.FieldCouponCode):
			s.log.Debug("partnership.code.collision", "attempt", attempt)
			continue
		case ledger.IsConflictOn(err, ledger.FieldActivePartnership):
			return ledger.Partnership{}, ErrDuplicateActiveRequest
		case ledger.IsNotFound(err):
			return ledger.Partnership{}, ErrNotFound
		case errors.Is(err, ledger.ErrInvalidInput):
			return ledger.Partnership{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		default:
			s.log.Error("partnership.request.fail", "creator_id", creatorID, "store_id", store.ID, "err", err)
			return ledger.Partnership{}, err
		}
	}
	s.log.Error("partnership.code.exhausted", "creator_id", creatorID, "store_id", store.ID)
	return ledger.Partnership{}, ErrCodeSpaceExhausted
}

// Decide approves or rejects a pending partnership owned by the brand.
// Approval provisions the platform discount before the status changes; a
// provisioning failure leaves the partnership PENDING.
func (s *Service) Decide(ctx context.Context, in DecideInput) (p ledger.Partnership, err error) {
	action, ok := ParseAction(string(in.Action))
	couponID := strings.TrimSpace(in.CouponID)
	brandID := strings.TrimSpace(in.BrandID)
	if !ok || couponID == "" || brandID == "" {
		return ledger.Partnership{}, ErrInvalidInput
	}
	defer func() { s.metrics.PartnershipDecision(string(action), decisionResult(err)) }()

	rec := ledger.DecisionRecord{PartnershipID: couponID, BrandID: brandID, Now: s.now()}
	if action == ActionApprove {
		p, err = s.repo.ApprovePartnership(ctx, rec, s.provision)
	} else {
		p, err = s.repo.RejectPartnership(ctx, rec)
	}
	if err != nil {
		var ue *ledger.UnrecordedError
		if errors.As(err, &ue) {
			s.undoUnrecorded(ctx, ue)
		}
		err = mapDecisionError(err)
		s.log.Warn("partnership.decide.fail", "action", string(action), "partnership_id", couponID, "brand_id", brandID, "err", err)
		return ledger.Partnership{}, err
	}

	s.log.Info("partnership.decided", "action", string(action), "partnership_id", p.ID, "brand_id", brandID, "status", string(p.Status))
	s.notifyDecision(ctx, p)
	return p, nil
}

func (s *Service) undoUnrecorded(ctx context.Context, ue *ledger.UnrecordedError) {
	attrs := []any{
		"partnership_id", ue.Approval.Partnership.ID,
		"coupon_code", ue.Approval.Partnership.CouponCode,
		"price_rule_id", ue.IDs.PriceRuleID,
		"discount_id", ue.IDs.DiscountID,
		"err", ue.Err,
	}
	if s.undo == nil {
		s.log.Error("partnership.approve.orphaned", attrs...)
		s.metrics.ProvisioningOrphan()
		return
	}
	if err := s.undo(context.WithoutCancel(ctx), ue.Approval, ue.IDs); err != nil {
		s.log.Error("partnership.approve.undo.fail", append(attrs, "undo_err", err)...)
		return
	}
	s.log.Warn("partnership.approve.undone", attrs...)
}

func (s *Service) notifyDecision(ctx context.Context, p ledger.Partnership) {
	storeName := p.StoreID
	if st, err := s.repo.GetStore(ctx, p.StoreID); err == nil {
		storeName = st.DisplayName()
	}
	meta := map[string]any{
		"partnership_id": p.ID,
		"coupon_code":    p.CouponCode,
		"store_id":       p.StoreID,
	}

	n := notify.Notification{UserID: p.CreatorID, Metadata: meta}
	switch p.Status {
	case ledger.StatusApproved:
		n.Type = notify.TypeCouponApproved
		n.Title = "Coupon approved"
		n.Message = fmt.Sprintf("%s approved your code %s (%s%% off)", storeName, p.CouponCode, p.DiscountValue.String())
		meta["discount_value"] = p.DiscountValue.String()
		meta["commission_rate"] = p.CommissionRate.String()
	case ledger.StatusRejected:
		n.Type = notify.TypeCouponRejected
		n.Title = "Coupon request declined"
		n.Message = fmt.Sprintf("%s declined your request for code %s", storeName, p.CouponCode)
	default:
		return
	}
	s.sink.Notify(ctx, n)
}

func mapDecisionError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ledger.ErrNotOwner):
		return ErrForbidden
	case errors.Is(err, ledger.ErrNotPending):
		return ErrAlreadyProcessed
	case errors.Is(err, ledger.ErrInvalidInput):
		return ErrInvalidInput
	default:
		return err
	}
}

func decisionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	default:
		return "error"
	}
}

// Pending lists the brand's pending requests, oldest first.
func (s *Service) Pending(ctx context.Context, brandID string) ([]ledger.Partnership, error) {
	if strings.TrimSpace(brandID) == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListPendingForBrand(ctx, brandID)
}

// ForCreator lists the creator's partnerships, newest first.
func (s *Service) ForCreator(ctx context.Context, creatorID string) ([]ledger.CreatorPartnership, error) {
	if strings.TrimSpace(creatorID) == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListForCreator(ctx, creatorID)
}

// CreatorStats aggregates the creator's sales and commissions.
func (s *Service) CreatorStats(ctx context.Context, creatorID string) (ledger.CreatorStats, error) {
	if strings.TrimSpace(creatorID) == "" {
		return ledger.CreatorStats{}, ErrInvalidInput
	}
	return s.repo.CreatorStats(ctx, creatorID)
}

// Directory lists public connected stores as seen by the creator.
func (s *Service) Directory(ctx context.Context, creatorID string) ([]ledger.DirectoryEntry, error) {
	if strings.TrimSpace(creatorID) == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.Directory(ctx, creatorID)
}
