package partnership

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"affilink/internal/ids"
	"affilink/internal/ledger"
	"affilink/internal/notify"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkRecorder struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *sinkRecorder) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *sinkRecorder) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.got...)
}

type provisionCounter struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (p *provisionCounter) fn(_ context.Context, a ledger.Approval) (ledger.ProvisionedIDs, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return ledger.ProvisionedIDs{}, p.err
	}
	return ledger.ProvisionedIDs{PriceRuleID: "rule-" + a.Partnership.CouponCode, DiscountID: "disc-" + a.Partnership.CouponCode}, nil
}

type fixture struct {
	svc   *Service
	repo  *ledger.MemoryStore
	prov  *provisionCounter
	sink  *sinkRecorder
	store ledger.ConnectedStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{repo: ledger.NewMemoryStore(), prov: &provisionCounter{}, sink: &sinkRecorder{}}
	f.store = connectStore(t, f.repo, "brand-1", "acme.myshopify.com")

	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNotifier(f.sink),
	}
	svc, err := NewService(f.repo, f.prov.fn, append(base, opts...)...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func connectStore(t *testing.T, repo *ledger.MemoryStore, brandID, url string) ledger.ConnectedStore {
	t.Helper()
	id, err := ids.NewULID(time.Now())
	require.NoError(t, err)
	st, err := repo.UpsertStore(context.Background(), ledger.ConnectStoreRecord{
		ID: id, BrandID: brandID, StoreURL: url, EncryptedAccessToken: "sealed",
	})
	require.NoError(t, err)
	return st
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

var jane = Creator{ID: "creator-1", Name: "Jane Doe", Email: "jane@example.com"}

func TestRequest_DefaultsAndNotification(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p, err := f.svc.Request(context.Background(), RequestInput{Creator: jane, StoreID: f.store.ID})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusPending, p.Status)
	assert.True(t, p.CommissionRate.Equal(decimal.RequireFromString("0.10")))
	assert.True(t, p.DiscountValue.Equal(decimal.NewFromInt(10)))
	assert.Regexp(t, `^JANEDOE[A-Z0-9]{4}$`, p.CouponCode)
	assert.Equal(t, "Jane Doe", p.CreatorLabel)

	got := f.sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, "brand-1", got[0].UserID)
	assert.Equal(t, notify.TypeNewRequest, got[0].Type)
	assert.Equal(t, p.CouponCode, got[0].Metadata["coupon_code"])
}

func TestRequest_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   RequestInput
	}{
		{"no creator", RequestInput{StoreID: f.store.ID}},
		{"no store", RequestInput{Creator: jane}},
		{"zero rate", RequestInput{Creator: jane, StoreID: f.store.ID, CommissionRate: dec("0")}},
		{"rate above one", RequestInput{Creator: jane, StoreID: f.store.ID, CommissionRate: dec("1.01")}},
		{"rate precision", RequestInput{Creator: jane, StoreID: f.store.ID, CommissionRate: dec("0.12345")}},
		{"zero discount", RequestInput{Creator: jane, StoreID: f.store.ID, DiscountValue: dec("0")}},
		{"discount above 100", RequestInput{Creator: jane, StoreID: f.store.ID, DiscountValue: dec("100.5")}},
	}
	for _, tc := range cases {
		_, err := f.svc.Request(ctx, tc.in)
		require.ErrorIs(t, err, ErrInvalidInput, tc.name)
	}

	p, err := f.svc.Request(ctx, RequestInput{Creator: jane, StoreID: f.store.ID, CommissionRate: dec("1"), DiscountValue: dec("100")})
	require.NoError(t, err, "bounds are inclusive")
	assert.True(t, p.CommissionRate.Equal(decimal.NewFromInt(1)))

	_, err = f.svc.Request(ctx, RequestInput{Creator: jane, StoreID: "01JZZZZZZZZZZZZZZZZZZZZZZZ"})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, f.sink.all(), 1)
}

type disconnectedRepo struct {
	*ledger.MemoryStore
}

func (r disconnectedRepo) GetStore(ctx context.Context, id string) (ledger.ConnectedStore, error) {
	st, err := r.MemoryStore.GetStore(ctx, id)
	st.EncryptedAccessToken = ""
	return st, err
}

func TestRequest_StoreWithoutCredential(t *testing.T) {
	t.Parallel()

	repo := ledger.NewMemoryStore()
	st := connectStore(t, repo, "brand-1", "acme.myshopify.com")
	svc, err := NewService(disconnectedRepo{repo}, (&provisionCounter{}).fn)
	require.NoError(t, err)

	_, err = svc.Request(context.Background(), RequestInput{Creator: jane, StoreID: st.ID})
	require.ErrorIs(t, err, ErrStoreNotConnected)
}

func TestRequest_DuplicateAndRetryAfterReject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Request(ctx, RequestInput{Creator: jane, StoreID: f.store.ID})
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, RequestInput{Creator: jane, StoreID: f.store.ID})
	require.ErrorIs(t, err, ErrDuplicateActiveRequest)

	_, err = f.svc.Decide(ctx, DecideInput{CouponID: first.ID, BrandID: "brand-1", Action: ActionReject})
	require.NoError(t, err)

	_, err = f.svc.Request(ctx, RequestInput{Creator: jane, StoreID: f.store.ID})
	require.NoError(t, err, "a rejected partnership does not block a new request")
}

func TestRequest_CodeCollisionRetries(t *testing.T) {
	t.Parallel()

	suffixes := []string{"AAAA", "AAAA", "AAAA", "BBBB"}
	var i atomic.Int32
	gen := &CodeGenerator{suffix: func() string {
		n := int(i.Add(1)) - 1
		if n >= len(suffixes) {
			return suffixes[len(suffixes)-1]
		}
		return suffixes[n]
	}}

	f := newFixture(t, WithCodeGenerator(gen))
	other := connectStore(t, f.repo, "brand-2", "other.myshopify.com")
	ctx := context.Background()

	p1, err := f.svc.Request(ctx, RequestInput{Creator: jane, StoreID: f.store.ID})
	require.NoError(t, err)
	assert.Equal(t, "JANEDOEAAAA", p1.CouponCode)

	p2, err := f.svc.Request(ctx, RequestInput{Creator: jane, StoreID: other.ID})
	require.NoError(t, err)
	assert.Equal(t, "JANEDOEBBBB", p2.CouponCode)
}

func TestRequest_CodeSpaceExhausted(t *testing.T) {
	t.Parallel()

	gen := &CodeGenerator{suffix: func() string { return "ZZZZ" }}
	f := newFixture(t, WithCodeGenerator(gen))
	other := connectStore(t, f.repo, "brand-2", "other.myshopify.com")
	ctx := context.Background()

	_, err := f.svc.Request(ctx, RequestInput{Creator: jane, StoreID: f.store.ID})
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, RequestInput{Creator: jane, StoreID: other.ID})
	require.ErrorIs(t, err, ErrCodeSpaceExhausted)
}

func TestRequest_ConcurrentLeavesOnePending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	const n = 8
	var (
		wg       sync.WaitGroup
		okCount  atomic.Int32
		dupCount atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Request(context.Background(), RequestInput{Creator: jane, StoreID: f.store.ID})
			switch {
			case err == nil:
				okCount.Add(1)
			case errors.Is(err, ErrDuplicateActiveRequest):
				dupCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), okCount.Load())
	assert.Equal(t, int32(n-1), dupCount.Load())

	pending, err := f.svc.Pending(context.Background(), "brand-1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDecide_Approve(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Request(ctx, RequestInput{Creator: jane, StoreID: f.store.ID, DiscountValue: dec("15")})
	require.NoError(t, err)

	approved, err := f.svc.Decide(ctx, DecideInput{CouponID: p.ID, BrandID: "brand-1", Action: "APPROVE"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, approved.Status)
	require.NotNil(t, approved.PriceRuleID)
	assert.Equal(t, "rule-"+p.CouponCode, *approved.PriceRuleID)
	require.NotNil(t, approved.ApprovedAt)

	got := f.sink.all()
	require.Len(t, got, 2)
	assert.Equal(t, "creator-1", got[1].UserID)
	assert.Equal(t, notify.TypeCouponApproved, got[1].Type)
	assert.Contains(t, got[1].Message, "acme.myshopify.com")

	_, err = f.svc.Decide(ctx, DecideInput{CouponID: p.ID, BrandID: "brand-1", Action: ActionReject})
	require.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestDecide_UnrecordedApprovalIsUndone(t *testing.T) {
	t.Parallel()

	repo := ledger.NewMemoryStore()
	store := connectStore(t, repo, "brand-1", "acme.myshopify.com")

	// The store is disconnected while the discount is being created, so the
	// approval cannot be recorded afterwards.
	provision := func(ctx context.Context, a ledger.Approval) (ledger.ProvisionedIDs, error) {
		if _, err := repo.DeleteStoreByBrand(ctx, a.Store.BrandID); err != nil {
			return ledger.ProvisionedIDs{}, err
		}
		return ledger.ProvisionedIDs{PriceRuleID: "rule-1", DiscountID: "disc-1"}, nil
	}

	var (
		undoCalls int
		undoneIDs ledger.ProvisionedIDs
		undoneFor string
	)
	undo := func(_ context.Context, a ledger.Approval, got ledger.ProvisionedIDs) error {
		undoCalls++
		undoneIDs = got
		undoneFor = a.Partnership.ID
		return nil
	}

	sink := &sinkRecorder{}
	svc, err := NewService(repo, provision,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNotifier(sink),
		WithUndo(undo),
	)
	require.NoError(t, err)

	ctx := context.Background()
	p, err := svc.Request(ctx, RequestInput{Creator: jane, StoreID: store.ID})
	require.NoError(t, err)

	_, err = svc.Decide(ctx, DecideInput{CouponID: p.ID, BrandID: "brand-1", Action: ActionApprove})
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1, undoCalls)
	assert.Equal(t, ledger.ProvisionedIDs{PriceRuleID: "rule-1", DiscountID: "disc-1"}, undoneIDs)
	assert.Equal(t, p.ID, undoneFor)

	for _, n := range sink.all() {
		assert.NotEqual(t, notify.TypeCouponApproved, n.Type)
	}
}

func TestDecide_UnrecordedApprovalWithoutUndo(t *testing.T) {
	t.Parallel()

	repo := ledger.NewMemoryStore()
	store := connectStore(t, repo, "brand-1", "acme.myshopify.com")
	provision := func(ctx context.Context, a ledger.Approval) (ledger.ProvisionedIDs, error) {
		_, err := repo.DeleteStoreByBrand(ctx, a.Store.BrandID)
		return ledger.ProvisionedIDs{PriceRuleID: "rule-1"}, err
	}
	svc, err := NewService(repo, provision, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	ctx := context.Background()
	p, err := svc.Request(ctx, RequestInput{Creator: jane, StoreID: store.ID})
	require.NoError(t, err)

	_, err = svc.Decide(ctx, DecideInput{CouponID: p.ID, BrandID: "brand-1", Action: ActionApprove})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDecide_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	connectStore(t, f.repo, "brand-2", "other.myshopify.com")
	p, err := f.svc.Request(ctx, RequestInput{Creator: jane, StoreID: f.store.ID})
	require.NoError(t, err)

	_, err = f.svc.Decide(ctx, DecideInput{CouponID: p.ID, BrandID: "brand-2", Action: ActionApprove})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Decide(ctx, DecideInput{CouponID: p.ID, BrandID: "brand-2", Action: ActionReject})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Decide(ctx, DecideInput{CouponID: "missing", BrandID: "brand-1", Action: ActionApprove})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Decide(ctx, DecideInput{CouponID: p.ID, BrandID: "brand-1", Action: "maybe"})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, f.prov.calls.Load(), "provisioning runs only after ownership checks")

	f.prov.err = errors.New("platform down")
	_, err = f.svc.Decide(ctx, DecideInput{CouponID: p.ID, BrandID: "brand-1", Action: ActionApprove})
	require.ErrorContains(t, err, "platform down")

	still, err := f.repo.GetPartnership(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, still.Status)
	assert.Len(t, f.sink.all(), 1, "no decision notification on failure")
}

func TestDecide_ConcurrentApprovalsProvisionOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.prov.delay = 20 * time.Millisecond
	ctx := context.Background()
	p, err := f.svc.Request(ctx, RequestInput{Creator: jane, StoreID: f.store.ID})
	require.NoError(t, err)

	const n = 6
	var (
		wg        sync.WaitGroup
		approved  atomic.Int32
		processed atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Decide(ctx, DecideInput{CouponID: p.ID, BrandID: "brand-1", Action: ActionApprove})
			switch {
			case err == nil:
				approved.Add(1)
			case errors.Is(err, ErrAlreadyProcessed):
				processed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), approved.Load())
	assert.Equal(t, int32(n-1), processed.Load())
	assert.Equal(t, int32(1), f.prov.calls.Load())
}

func TestReadModels(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Request(ctx, RequestInput{Creator: jane, StoreID: f.store.ID})
	require.NoError(t, err)

	mine, err := f.svc.ForCreator(ctx, jane.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "acme.myshopify.com", mine[0].StoreURL)

	dir, err := f.svc.Directory(ctx, jane.ID)
	require.NoError(t, err)
	require.Len(t, dir, 1)
	assert.True(t, dir[0].HasPendingRequest)
	assert.Equal(t, 0, dir[0].ActiveCoupons)

	_, err = f.svc.Decide(ctx, DecideInput{CouponID: p.ID, BrandID: "brand-1", Action: ActionApprove})
	require.NoError(t, err)

	stats, err := f.svc.CreatorStats(ctx, jane.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveCoupons)
	assert.True(t, stats.TotalSales.IsZero())

	_, err = f.svc.Pending(ctx, " ")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.ForCreator(ctx, "")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewService_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewService(nil, (&provisionCounter{}).fn)
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = NewService(ledger.NewMemoryStore(), nil)
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = NewService(ledger.NewMemoryStore(), (&provisionCounter{}).fn, WithDefaultTerms(decimal.NewFromInt(2), decimal.NewFromInt(10)))
	require.ErrorIs(t, err, ErrInvalidInput)
}
