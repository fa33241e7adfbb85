package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store with the same constraints as PostgresStore.
type MemoryStore struct {
	mu           sync.Mutex
	stores       map[string]ConnectedStore // by id
	brandStore   map[string]string         // brand id -> store id
	partnerships map[string]Partnership    // by id
	codes        map[string]string         // coupon code -> partnership id
	transactions map[string]Transaction    // by order id

	lockMu   sync.Mutex
	rowLocks map[string]*sync.Mutex
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stores:       make(map[string]ConnectedStore),
		brandStore:   make(map[string]string),
		partnerships: make(map[string]Partnership),
		codes:        make(map[string]string),
		transactions: make(map[string]Transaction),
		rowLocks:     make(map[string]*sync.Mutex),
	}
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)

func (m *MemoryStore) UpsertStore(ctx context.Context, in ConnectStoreRecord) (ConnectedStore, error) {
	if err := ctx.Err(); err != nil {
		return ConnectedStore{}, err
	}
	in.BrandID = trimmed(in.BrandID)
	in.StoreURL = NormalizeStoreURL(in.StoreURL)
	if trimmed(in.ID) == "" || in.BrandID == "" || in.StoreURL == "" || trimmed(in.EncryptedAccessToken) == "" {
		return ConnectedStore{}, ErrInvalidInput
	}
	if in.Platform == "" {
		in.Platform = PlatformShopify
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.brandStore[in.BrandID]; ok {
		st := m.stores[id]
		st.StoreURL = in.StoreURL
		st.EncryptedAccessToken = in.EncryptedAccessToken
		st.UpdatedAt = in.Now
		m.stores[id] = st
		return st, nil
	}

	st := ConnectedStore{
		ID:                   in.ID,
		BrandID:              in.BrandID,
		StoreURL:             in.StoreURL,
		IsPublic:             true,
		Platform:             in.Platform,
		EncryptedAccessToken: in.EncryptedAccessToken,
		CreatedAt:            in.Now,
		UpdatedAt:            in.Now,
	}
	m.stores[st.ID] = st
	m.brandStore[st.BrandID] = st.ID
	return st, nil
}

func (m *MemoryStore) GetStore(ctx context.Context, storeID string) (ConnectedStore, error) {
	if err := ctx.Err(); err != nil {
		return ConnectedStore{}, err
	}
	storeID = trimmed(storeID)
	if storeID == "" {
		return ConnectedStore{}, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.stores[storeID]
	if !ok {
		return ConnectedStore{}, ErrNotFound
	}
	return st, nil
}

func (m *MemoryStore) GetStoreByBrand(ctx context.Context, brandID string) (ConnectedStore, error) {
	if err := ctx.Err(); err != nil {
		return ConnectedStore{}, err
	}
	brandID = trimmed(brandID)
	if brandID == "" {
		return ConnectedStore{}, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.brandStore[brandID]
	if !ok {
		return ConnectedStore{}, ErrNotFound
	}
	return m.stores[id], nil
}

func (m *MemoryStore) DeleteStoreByBrand(ctx context.Context, brandID string) (ConnectedStore, error) {
	if err := ctx.Err(); err != nil {
		return ConnectedStore{}, err
	}
	brandID = trimmed(brandID)
	if brandID == "" {
		return ConnectedStore{}, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.brandStore[brandID]
	if !ok {
		return ConnectedStore{}, ErrNotFound
	}
	st := m.stores[id]

	for orderID, t := range m.transactions {
		if t.StoreID == id {
			delete(m.transactions, orderID)
		}
	}
	for pid, p := range m.partnerships {
		if p.StoreID == id {
			delete(m.codes, p.CouponCode)
			delete(m.partnerships, pid)
		}
	}
	delete(m.stores, id)
	delete(m.brandStore, brandID)
	return st, nil
}

func (m *MemoryStore) Directory(ctx context.Context, creatorID string) ([]DirectoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	creatorID = trimmed(creatorID)
	if creatorID == "" {
		return nil, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]DirectoryEntry, 0, len(m.stores))
	for _, st := range m.stores {
		if !st.IsPublic || !st.Connected() {
			continue
		}
		e := DirectoryEntry{
			StoreID:          st.ID,
			BrandID:          st.BrandID,
			StoreURL:         st.StoreURL,
			StoreName:        st.StoreName,
			StoreDescription: st.StoreDescription,
			Platform:         st.Platform,
		}
		for _, p := range m.partnerships {
			if p.StoreID != st.ID {
				continue
			}
			if p.Status.Attributable() {
				e.ActiveCoupons++
			}
			if p.CreatorID == creatorID && p.Status == StatusPending {
				e.HasPendingRequest = true
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := m.stores[out[i].StoreID], m.stores[out[j].StoreID]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID > b.ID
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CreatePartnership(ctx context.Context, in CreatePartnershipRecord) (Partnership, error) {
	if err := ctx.Err(); err != nil {
		return Partnership{}, err
	}
	in.CouponCode = NormalizeCode(in.CouponCode)
	if err := validateCreatePartnership(in); err != nil {
		return Partnership{}, err
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	const op = "ledger.CreatePartnership"

	m.mu.Lock()
	defer m.mu.Unlock()

	storeID := trimmed(in.StoreID)
	creatorID := trimmed(in.CreatorID)
	if _, ok := m.stores[storeID]; !ok {
		return Partnership{}, OpError{Op: op, Kind: ErrNotFound, Msg: "store"}
	}
	for _, p := range m.partnerships {
		if p.CreatorID == creatorID && p.StoreID == storeID && p.Status.Holding() {
			return Partnership{}, ConflictError{Op: op, Field: FieldActivePartnership}
		}
	}
	if _, taken := m.codes[in.CouponCode]; taken {
		return Partnership{}, ConflictError{Op: op, Field: FieldCouponCode}
	}

	p := Partnership{
		ID:             in.ID,
		CreatorID:      creatorID,
		CreatorLabel:   trimmed(in.CreatorLabel),
		StoreID:        storeID,
		CouponCode:     in.CouponCode,
		CommissionRate: in.CommissionRate,
		DiscountValue:  in.DiscountValue,
		Status:         StatusPending,
		CreatedAt:      in.Now,
	}
	m.partnerships[p.ID] = p
	m.codes[p.CouponCode] = p.ID
	return p, nil
}

func (m *MemoryStore) GetPartnership(ctx context.Context, id string) (Partnership, error) {
	if err := ctx.Err(); err != nil {
		return Partnership{}, err
	}
	id = trimmed(id)
	if id == "" {
		return Partnership{}, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.partnerships[id]
	if !ok {
		return Partnership{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) GetPartnershipByCode(ctx context.Context, code string) (Partnership, error) {
	if err := ctx.Err(); err != nil {
		return Partnership{}, err
	}
	code = NormalizeCode(code)
	if code == "" {
		return Partnership{}, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.codes[code]
	if !ok {
		return Partnership{}, ErrNotFound
	}
	return m.partnerships[id], nil
}

// rowLock returns the per-partnership mutex standing in for SELECT ... FOR UPDATE.
func (m *MemoryStore) rowLock(id string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.rowLocks[id] = l
	}
	return l
}

func (m *MemoryStore) ApprovePartnership(ctx context.Context, in DecisionRecord, provision ProvisionFunc) (Partnership, error) {
	if err := ctx.Err(); err != nil {
		return Partnership{}, err
	}
	in.PartnershipID = trimmed(in.PartnershipID)
	in.BrandID = trimmed(in.BrandID)
	if in.PartnershipID == "" || in.BrandID == "" || provision == nil {
		return Partnership{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	row := m.rowLock(in.PartnershipID)
	row.Lock()
	defer row.Unlock()

	m.mu.Lock()
	current, ok := m.partnerships[in.PartnershipID]
	var store ConnectedStore
	if ok {
		store = m.stores[current.StoreID]
	}
	m.mu.Unlock()

	if !ok {
		return Partnership{}, ErrNotFound
	}
	if store.BrandID != in.BrandID {
		return Partnership{}, ErrNotOwner
	}
	if current.Status != StatusPending {
		return Partnership{}, ErrNotPending
	}

	approval := Approval{Partnership: current, Store: store}
	ids, err := provision(ctx, approval)
	if err != nil {
		return Partnership{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.partnerships[in.PartnershipID]
	if !ok {
		return Partnership{}, &UnrecordedError{Approval: approval, IDs: ids, Err: ErrNotFound}
	}
	if p.Status != StatusPending {
		return Partnership{}, &UnrecordedError{Approval: approval, IDs: ids, Err: ErrNotPending}
	}
	now := in.Now
	p.Status = StatusApproved
	p.ApprovedAt = &now
	p.PriceRuleID = nilIfEmpty(ids.PriceRuleID)
	p.DiscountID = nilIfEmpty(ids.DiscountID)
	m.partnerships[p.ID] = p
	return p, nil
}

func (m *MemoryStore) RejectPartnership(ctx context.Context, in DecisionRecord) (Partnership, error) {
	if err := ctx.Err(); err != nil {
		return Partnership{}, err
	}
	in.PartnershipID = trimmed(in.PartnershipID)
	in.BrandID = trimmed(in.BrandID)
	if in.PartnershipID == "" || in.BrandID == "" {
		return Partnership{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	row := m.rowLock(in.PartnershipID)
	row.Lock()
	defer row.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.partnerships[in.PartnershipID]
	if !ok {
		return Partnership{}, ErrNotFound
	}
	if m.stores[p.StoreID].BrandID != in.BrandID {
		return Partnership{}, ErrNotOwner
	}
	if p.Status != StatusPending {
		return Partnership{}, ErrNotPending
	}
	now := in.Now
	p.Status = StatusRejected
	p.RejectedAt = &now
	m.partnerships[p.ID] = p
	return p, nil
}

func (m *MemoryStore) ListPendingForBrand(ctx context.Context, brandID string) ([]Partnership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	brandID = trimmed(brandID)
	if brandID == "" {
		return nil, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	storeID, ok := m.brandStore[brandID]
	out := make([]Partnership, 0, 8)
	if !ok {
		return out, nil
	}
	for _, p := range m.partnerships {
		if p.StoreID == storeID && p.Status == StatusPending {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) ListForCreator(ctx context.Context, creatorID string) ([]CreatorPartnership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	creatorID = trimmed(creatorID)
	if creatorID == "" {
		return nil, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]CreatorPartnership, 0, 8)
	for _, p := range m.partnerships {
		if p.CreatorID != creatorID {
			continue
		}
		st := m.stores[p.StoreID]
		out = append(out, CreatorPartnership{
			Partnership: p,
			StoreURL:    st.StoreURL,
			StoreName:   st.StoreName,
			Platform:    st.Platform,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CreatorStats(ctx context.Context, creatorID string) (CreatorStats, error) {
	if err := ctx.Err(); err != nil {
		return CreatorStats{}, err
	}
	creatorID = trimmed(creatorID)
	if creatorID == "" {
		return CreatorStats{}, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := CreatorStats{
		TotalSales:        decimal.Zero,
		PendingCommission: decimal.Zero,
		PaidCommission:    decimal.Zero,
	}
	for _, p := range m.partnerships {
		if p.CreatorID == creatorID && p.Status.Attributable() {
			out.ActiveCoupons++
		}
	}
	for _, t := range m.transactions {
		p, ok := m.partnerships[t.PartnershipID]
		if !ok || p.CreatorID != creatorID {
			continue
		}
		out.TotalSales = out.TotalSales.Add(t.OrderTotal)
		switch t.Status {
		case TxPending, TxEligible:
			out.PendingCommission = out.PendingCommission.Add(t.CommissionAmount)
		case TxPaid:
			out.PaidCommission = out.PaidCommission.Add(t.CommissionAmount)
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertTransaction(ctx context.Context, in InsertTransactionRecord) (Transaction, bool, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, false, err
	}
	in.OrderID = trimmed(in.OrderID)
	if trimmed(in.ID) == "" || in.OrderID == "" || trimmed(in.PartnershipID) == "" || trimmed(in.StoreID) == "" {
		return Transaction{}, false, ErrInvalidInput
	}
	if in.OrderTotal.IsNegative() || in.CommissionAmount.IsNegative() {
		return Transaction{}, false, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.transactions[in.OrderID]; ok {
		return existing, false, nil
	}
	p, ok := m.partnerships[in.PartnershipID]
	if !ok {
		return Transaction{}, false, OpError{Op: "ledger.InsertTransaction", Kind: ErrNotFound, Msg: "partnership"}
	}
	if _, ok := m.stores[in.StoreID]; !ok {
		return Transaction{}, false, OpError{Op: "ledger.InsertTransaction", Kind: ErrNotFound, Msg: "store"}
	}

	t := Transaction{
		ID:               in.ID,
		OrderID:          in.OrderID,
		OrderTotal:       in.OrderTotal,
		CommissionAmount: in.CommissionAmount,
		Status:           TxPending,
		PartnershipID:    in.PartnershipID,
		StoreID:          in.StoreID,
		CreatedAt:        in.Now,
	}
	m.transactions[t.OrderID] = t
	p.UsageCount++
	m.partnerships[p.ID] = p
	return t, true, nil
}

func (m *MemoryStore) GetTransactionByOrderID(ctx context.Context, orderID string) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	orderID = trimmed(orderID)
	if orderID == "" {
		return Transaction{}, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transactions[orderID]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return t, nil
}

// SetStoreProfile updates display metadata; used by tests and seeding.
func (m *MemoryStore) SetStoreProfile(storeID, name, description string, public bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.stores[storeID]
	if !ok {
		return ErrNotFound
	}
	st.StoreName = name
	st.StoreDescription = description
	st.IsPublic = public
	m.stores[storeID] = st
	return nil
}

// SetTransactionStatus moves a transaction along the payout lifecycle.
func (m *MemoryStore) SetTransactionStatus(orderID string, status TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transactions[orderID]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	m.transactions[orderID] = t
	return nil
}
