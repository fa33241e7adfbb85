package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"affilink/internal/ids"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("UpsertStoreOnePerBrand", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		first := mustConnect(t, st, "brand-1", "Alpha.myshopify.com/")
		require.Equal(t, "alpha.myshopify.com", first.StoreURL)
		require.True(t, first.Connected())

		again, err := st.UpsertStore(ctx, ConnectStoreRecord{
			ID:                   mustID(t),
			BrandID:              "brand-1",
			StoreURL:             "beta.myshopify.com",
			EncryptedAccessToken: "cipher-2",
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, "beta.myshopify.com", again.StoreURL)
		assert.Equal(t, "cipher-2", again.EncryptedAccessToken)

		got, err := st.GetStoreByBrand(ctx, "brand-1")
		require.NoError(t, err)
		assert.Equal(t, again.ID, got.ID)

		_, err = st.GetStoreByBrand(ctx, "brand-missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("CreatePartnershipConstraints", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		store := mustConnect(t, st, "brand-1", "alpha.myshopify.com")

		p := mustRequest(t, st, "creator-1", store.ID, "mariaABCD")
		assert.Equal(t, StatusPending, p.Status)
		assert.Equal(t, "MARIAABCD", p.CouponCode)
		assert.True(t, p.CommissionRate.Equal(decimal.RequireFromString("0.10")))

		_, err := st.CreatePartnership(ctx, newRequestRecord(t, "creator-1", store.ID, "OTHER123"))
		require.ErrorIs(t, err, ErrConflict)
		assert.True(t, IsConflictOn(err, FieldActivePartnership))

		_, err = st.CreatePartnership(ctx, newRequestRecord(t, "creator-2", store.ID, "mariaabcd"))
		require.ErrorIs(t, err, ErrConflict)
		assert.True(t, IsConflictOn(err, FieldCouponCode))

		_, err = st.CreatePartnership(ctx, newRequestRecord(t, "creator-3", mustID(t), "NOSTORE1"))
		require.ErrorIs(t, err, ErrNotFound)

		bad := newRequestRecord(t, "creator-4", store.ID, "BADRATE1")
		bad.CommissionRate = decimal.RequireFromString("1.5")
		_, err = st.CreatePartnership(ctx, bad)
		require.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("RejectedPairMayRequestAgain", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		store := mustConnect(t, st, "brand-1", "alpha.myshopify.com")

		p := mustRequest(t, st, "creator-1", store.ID, "FIRST001")
		rejected, err := st.RejectPartnership(ctx, DecisionRecord{PartnershipID: p.ID, BrandID: "brand-1"})
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, rejected.Status)
		require.NotNil(t, rejected.RejectedAt)

		_, err = st.RejectPartnership(ctx, DecisionRecord{PartnershipID: p.ID, BrandID: "brand-1"})
		require.ErrorIs(t, err, ErrNotPending)

		again := mustRequest(t, st, "creator-1", store.ID, "SECOND01")
		assert.Equal(t, StatusPending, again.Status)
	})

	t.Run("DecisionOwnership", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		store := mustConnect(t, st, "brand-1", "alpha.myshopify.com")
		mustConnect(t, st, "brand-2", "beta.myshopify.com")
		p := mustRequest(t, st, "creator-1", store.ID, "OWNED001")

		_, err := st.RejectPartnership(ctx, DecisionRecord{PartnershipID: p.ID, BrandID: "brand-2"})
		require.ErrorIs(t, err, ErrNotOwner)

		called := false
		_, err = st.ApprovePartnership(ctx, DecisionRecord{PartnershipID: p.ID, BrandID: "brand-2"},
			func(context.Context, Approval) (ProvisionedIDs, error) {
				called = true
				return ProvisionedIDs{}, nil
			})
		require.ErrorIs(t, err, ErrNotOwner)
		assert.False(t, called)

		_, err = st.RejectPartnership(ctx, DecisionRecord{PartnershipID: mustID(t), BrandID: "brand-1"})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ApproveProvisionFailureKeepsPending", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		store := mustConnect(t, st, "brand-1", "alpha.myshopify.com")
		p := mustRequest(t, st, "creator-1", store.ID, "FAILPROV")

		boom := errors.New("platform down")
		_, err := st.ApprovePartnership(ctx, DecisionRecord{PartnershipID: p.ID, BrandID: "brand-1"},
			func(context.Context, Approval) (ProvisionedIDs, error) { return ProvisionedIDs{}, boom })
		require.ErrorIs(t, err, boom)

		got, err := st.GetPartnership(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, got.Status)
		assert.Nil(t, got.PriceRuleID)
	})

	t.Run("ApproveCommitsAfterRequestCancelled", func(t *testing.T) {
		st := newStore(t)
		store := mustConnect(t, st, "brand-1", "alpha.myshopify.com")
		p := mustRequest(t, st, "creator-1", store.ID, "CANCEL01")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		got, err := st.ApprovePartnership(ctx, DecisionRecord{PartnershipID: p.ID, BrandID: "brand-1"},
			func(context.Context, Approval) (ProvisionedIDs, error) {
				cancel()
				return ProvisionedIDs{PriceRuleID: "rule-9", DiscountID: "disc-9"}, nil
			})
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, got.Status)

		stored, err := st.GetPartnership(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, stored.Status)
		require.NotNil(t, stored.PriceRuleID)
		assert.Equal(t, "rule-9", *stored.PriceRuleID)
	})

	t.Run("ConcurrentApprovalsProvisionOnce", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		store := mustConnect(t, st, "brand-1", "alpha.myshopify.com")
		p := mustRequest(t, st, "creator-1", store.ID, "RACE0001")

		var (
			mu    sync.Mutex
			calls int
		)
		provision := func(_ context.Context, a Approval) (ProvisionedIDs, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			assert.Equal(t, "alpha.myshopify.com", a.Store.StoreURL)
			time.Sleep(20 * time.Millisecond)
			return ProvisionedIDs{PriceRuleID: "gid://shopify/PriceRule/1", DiscountID: "gid://shopify/PriceRuleDiscountCode/2"}, nil
		}

		const workers = 6
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := st.ApprovePartnership(ctx, DecisionRecord{PartnershipID: p.ID, BrandID: "brand-1"}, provision)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		var ok, notPending int
		for err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrNotPending):
				notPending++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, workers-1, notPending)
		assert.Equal(t, 1, calls)

		got, err := st.GetPartnership(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, got.Status)
		require.NotNil(t, got.PriceRuleID)
		require.NotNil(t, got.DiscountID)
		assert.Equal(t, "gid://shopify/PriceRule/1", *got.PriceRuleID)
	})

	t.Run("ConcurrentRequestsSinglePending", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		store := mustConnect(t, st, "brand-1", "alpha.myshopify.com")

		codes := []string{"CONC0001", "CONC0002", "CONC0003", "CONC0004", "CONC0005"}
		records := make([]CreatePartnershipRecord, 0, len(codes))
		for _, code := range codes {
			records = append(records, newRequestRecord(t, "creator-1", store.ID, code))
		}
		var wg sync.WaitGroup
		errs := make(chan error, len(records))
		for _, rec := range records {
			wg.Add(1)
			go func(rec CreatePartnershipRecord) {
				defer wg.Done()
				_, err := st.CreatePartnership(ctx, rec)
				errs <- err
			}(rec)
		}
		wg.Wait()
		close(errs)

		var ok, conflicts int
		for err := range errs {
			switch {
			case err == nil:
				ok++
			case IsConflictOn(err, FieldActivePartnership):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, len(codes)-1, conflicts)
	})

	t.Run("TransactionsOncePerOrder", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		store := mustConnect(t, st, "brand-1", "alpha.myshopify.com")
		p := mustApproved(t, st, "creator-1", store.ID, "SALE0001")

		in := InsertTransactionRecord{
			ID:               mustID(t),
			OrderID:          "820982911946154508",
			OrderTotal:       decimal.RequireFromString("200.00"),
			CommissionAmount: decimal.RequireFromString("20.00"),
			PartnershipID:    p.ID,
			StoreID:          store.ID,
		}
		first, inserted, err := st.InsertTransaction(ctx, in)
		require.NoError(t, err)
		require.True(t, inserted)
		assert.Equal(t, TxPending, first.Status)
		assert.True(t, first.CommissionAmount.Equal(decimal.RequireFromString("20")))

		in.ID = mustID(t)
		dup, inserted, err := st.InsertTransaction(ctx, in)
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.Equal(t, first.ID, dup.ID)

		got, err := st.GetPartnership(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.UsageCount)

		byCode, err := st.GetPartnershipByCode(ctx, " sale0001 ")
		require.NoError(t, err)
		assert.Equal(t, p.ID, byCode.ID)
	})

	t.Run("StatsDirectoryAndListings", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		alpha := mustConnect(t, st, "brand-1", "alpha.myshopify.com")
		beta := mustConnect(t, st, "brand-2", "beta.myshopify.com")

		approved := mustApproved(t, st, "creator-1", alpha.ID, "STAT0001")
		pending := mustRequest(t, st, "creator-1", beta.ID, "STAT0002")
		mustRequest(t, st, "creator-2", alpha.ID, "STAT0003")

		for i, total := range []string{"200.00", "99.99"} {
			_, _, err := st.InsertTransaction(ctx, InsertTransactionRecord{
				ID:               mustID(t),
				OrderID:          "order-" + string(rune('a'+i)),
				OrderTotal:       decimal.RequireFromString(total),
				CommissionAmount: decimal.RequireFromString(total).Mul(approved.CommissionRate),
				PartnershipID:    approved.ID,
				StoreID:          alpha.ID,
			})
			require.NoError(t, err)
		}

		stats, err := st.CreatorStats(ctx, "creator-1")
		require.NoError(t, err)
		assert.True(t, stats.TotalSales.Equal(decimal.RequireFromString("299.99")), stats.TotalSales.String())
		assert.True(t, stats.PendingCommission.Equal(decimal.RequireFromString("29.999")), stats.PendingCommission.String())
		assert.True(t, stats.PaidCommission.IsZero())
		assert.Equal(t, 1, stats.ActiveCoupons)

		empty, err := st.CreatorStats(ctx, "creator-nobody")
		require.NoError(t, err)
		assert.True(t, empty.TotalSales.IsZero())
		assert.Equal(t, 0, empty.ActiveCoupons)

		mine, err := st.ListForCreator(ctx, "creator-1")
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, pending.ID, mine[0].ID)
		assert.Equal(t, "beta.myshopify.com", mine[0].StoreURL)

		queue, err := st.ListPendingForBrand(ctx, "brand-1")
		require.NoError(t, err)
		require.Len(t, queue, 1)
		assert.Equal(t, "creator-2", queue[0].CreatorID)

		dir, err := st.Directory(ctx, "creator-1")
		require.NoError(t, err)
		require.Len(t, dir, 2)
		byStore := map[string]DirectoryEntry{}
		for _, e := range dir {
			byStore[e.StoreID] = e
		}
		assert.Equal(t, 1, byStore[alpha.ID].ActiveCoupons)
		assert.False(t, byStore[alpha.ID].HasPendingRequest)
		assert.True(t, byStore[beta.ID].HasPendingRequest)
	})

	t.Run("DisconnectCascades", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		store := mustConnect(t, st, "brand-1", "alpha.myshopify.com")
		p := mustApproved(t, st, "creator-1", store.ID, "GONE0001")
		_, _, err := st.InsertTransaction(ctx, InsertTransactionRecord{
			ID:               mustID(t),
			OrderID:          "order-gone",
			OrderTotal:       decimal.RequireFromString("10"),
			CommissionAmount: decimal.RequireFromString("1"),
			PartnershipID:    p.ID,
			StoreID:          store.ID,
		})
		require.NoError(t, err)

		deleted, err := st.DeleteStoreByBrand(ctx, "brand-1")
		require.NoError(t, err)
		assert.Equal(t, store.ID, deleted.ID)

		_, err = st.GetPartnership(ctx, p.ID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = st.GetTransactionByOrderID(ctx, "order-gone")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = st.DeleteStoreByBrand(ctx, "brand-1")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func mustID(t *testing.T) string {
	t.Helper()
	id, err := ids.NewULID(time.Now().UTC())
	require.NoError(t, err)
	return id
}

func mustConnect(t *testing.T, st Store, brandID, url string) ConnectedStore {
	t.Helper()
	out, err := st.UpsertStore(context.Background(), ConnectStoreRecord{
		ID:                   mustID(t),
		BrandID:              brandID,
		StoreURL:             url,
		EncryptedAccessToken: "cipher-" + brandID,
	})
	require.NoError(t, err)
	return out
}

func newRequestRecord(t *testing.T, creatorID, storeID, code string) CreatePartnershipRecord {
	t.Helper()
	return CreatePartnershipRecord{
		ID:             mustID(t),
		CreatorID:      creatorID,
		CreatorLabel:   "Maria",
		StoreID:        storeID,
		CouponCode:     code,
		CommissionRate: decimal.RequireFromString("0.10"),
		DiscountValue:  decimal.RequireFromString("10"),
	}
}

func mustRequest(t *testing.T, st Store, creatorID, storeID, code string) Partnership {
	t.Helper()
	p, err := st.CreatePartnership(context.Background(), newRequestRecord(t, creatorID, storeID, code))
	require.NoError(t, err)
	// Keep created_at strictly increasing for ordering assertions.
	time.Sleep(2 * time.Millisecond)
	return p
}

func mustApproved(t *testing.T, st Store, creatorID, storeID, code string) Partnership {
	t.Helper()
	p := mustRequest(t, st, creatorID, storeID, code)
	store, err := st.GetStore(context.Background(), storeID)
	require.NoError(t, err)
	out, err := st.ApprovePartnership(context.Background(),
		DecisionRecord{PartnershipID: p.ID, BrandID: store.BrandID},
		func(context.Context, Approval) (ProvisionedIDs, error) {
			return ProvisionedIDs{PriceRuleID: "rule-" + p.ID, DiscountID: "code-" + p.ID}, nil
		})
	require.NoError(t, err)
	return out
}
