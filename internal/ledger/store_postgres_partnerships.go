package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// CreatePartnership inserts a PENDING partnership.
func (s *PostgresStore) CreatePartnership(ctx context.Context, in CreatePartnershipRecord) (Partnership, error) {
	if err := s.ready(ctx); err != nil {
		return Partnership{}, err
	}
	in.CouponCode = NormalizeCode(in.CouponCode)
	if err := validateCreatePartnership(in); err != nil {
		return Partnership{}, err
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	var ps partnershipScan
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.partnerships()+` AS p (
		     id, creator_id, creator_label, store_id, coupon_code,
		     commission_rate, discount_value, status, usage_count, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, 'PENDING', 0, $8)
		 RETURNING `+partnershipCols,
		in.ID,
		trimmed(in.CreatorID),
		trimmed(in.CreatorLabel),
		trimmed(in.StoreID),
		in.CouponCode,
		numericParam(in.CommissionRate),
		numericParam(in.DiscountValue),
		in.Now,
	).Scan(ps.dest()...)
	if err != nil {
		return Partnership{}, mapWriteError("ledger.CreatePartnership", err)
	}
	return ps.finish()
}

func validateCreatePartnership(in CreatePartnershipRecord) error {
	if trimmed(in.ID) == "" || trimmed(in.CreatorID) == "" || trimmed(in.StoreID) == "" || in.CouponCode == "" {
		return ErrInvalidInput
	}
	if in.CommissionRate.IsNegative() || in.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return OpError{Op: "ledger.CreatePartnership", Kind: ErrInvalidInput, Msg: "commission rate out of range"}
	}
	if !in.DiscountValue.IsPositive() || in.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return OpError{Op: "ledger.CreatePartnership", Kind: ErrInvalidInput, Msg: "discount value out of range"}
	}
	return nil
}

// GetPartnership fetches a partnership by id.
func (s *PostgresStore) GetPartnership(ctx context.Context, id string) (Partnership, error) {
	return s.getPartnershipWhere(ctx, "p.id = $1", trimmed(id))
}

// GetPartnershipByCode fetches a partnership by coupon code, case-insensitively.
func (s *PostgresStore) GetPartnershipByCode(ctx context.Context, code string) (Partnership, error) {
	return s.getPartnershipWhere(ctx, "p.coupon_code = $1", NormalizeCode(code))
}

func (s *PostgresStore) getPartnershipWhere(ctx context.Context, where, arg string) (Partnership, error) {
	if err := s.ready(ctx); err != nil {
		return Partnership{}, err
	}
	if arg == "" {
		return Partnership{}, ErrInvalidInput
	}

	var ps partnershipScan
	err := s.pool.QueryRow(ctx,
		`SELECT `+partnershipCols+` FROM `+s.partnerships()+` p WHERE `+where,
		arg,
	).Scan(ps.dest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partnership{}, ErrNotFound
		}
		return Partnership{}, err
	}
	return ps.finish()
}

// ApprovePartnership holds a row lock on the partnership while provision runs,
// so a second approver blocks and then observes a non-PENDING status.
func (s *PostgresStore) ApprovePartnership(ctx context.Context, in DecisionRecord, provision ProvisionFunc) (Partnership, error) {
	if err := s.ready(ctx); err != nil {
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Partnership{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		ps    partnershipScan
		store ConnectedStore
	)
	dest := append(ps.dest(), storeDest(&store)...)
	err = tx.QueryRow(ctx,
		`SELECT `+partnershipCols+`, `+storeCols+`
		   FROM `+s.partnerships()+` p
		   JOIN `+s.stores()+` s ON s.id = p.store_id
		  WHERE p.id = $1
		  FOR UPDATE OF p`,
		in.PartnershipID,
	).Scan(dest...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partnership{}, ErrNotFound
		}
		return Partnership{}, err
	}
	current, err := ps.finish()
	if err != nil {
		return Partnership{}, err
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
	unrecorded := func(err error) error {
		return &UnrecordedError{Approval: approval, IDs: ids, Err: err}
	}

	// The discount exists on the platform now; a cancelled request must not
	// drop the status change.
	wctx := context.WithoutCancel(ctx)

	var out partnershipScan
	err = tx.QueryRow(wctx,
		`UPDATE `+s.partnerships()+` AS p
		    SET status = 'APPROVED',
		        approved_at = $2,
		        price_rule_id = $3,
		        discount_id = $4
		  WHERE p.id = $1 AND p.status = 'PENDING'
		RETURNING `+partnershipCols,
		in.PartnershipID,
		in.Now,
		nilIfEmpty(ids.PriceRuleID),
		nilIfEmpty(ids.DiscountID),
	).Scan(out.dest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partnership{}, unrecorded(ErrNotPending)
		}
		return Partnership{}, unrecorded(err)
	}

	if err := tx.Commit(wctx); err != nil {
		return Partnership{}, unrecorded(err)
	}
	return out.finish()
}

// RejectPartnership moves a PENDING partnership owned by the brand to REJECTED.
func (s *PostgresStore) RejectPartnership(ctx context.Context, in DecisionRecord) (Partnership, error) {
	if err := s.ready(ctx); err != nil {
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

	var ps partnershipScan
	err := s.pool.QueryRow(ctx,
		`UPDATE `+s.partnerships()+` AS p
		    SET status = 'REJECTED',
		        rejected_at = $3
		   FROM `+s.stores()+` s
		  WHERE p.id = $1
		    AND s.id = p.store_id
		    AND s.brand_id = $2
		    AND p.status = 'PENDING'
		RETURNING `+partnershipCols,
		in.PartnershipID,
		in.BrandID,
		in.Now,
	).Scan(ps.dest()...)
	if err == nil {
		return ps.finish()
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Partnership{}, err
	}

	// Distinguish not-found vs not-owner vs already decided.
	cur, selErr := s.GetPartnership(ctx, in.PartnershipID)
	if selErr != nil {
		return Partnership{}, selErr
	}
	st, selErr := s.GetStore(ctx, cur.StoreID)
	if selErr != nil {
		return Partnership{}, selErr
	}
	if st.BrandID != in.BrandID {
		return Partnership{}, ErrNotOwner
	}
	return Partnership{}, ErrNotPending
}

// ListPendingForBrand returns the brand's PENDING partnerships, oldest first.
func (s *PostgresStore) ListPendingForBrand(ctx context.Context, brandID string) ([]Partnership, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	brandID = trimmed(brandID)
	if brandID == "" {
		return nil, ErrInvalidInput
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+partnershipCols+`
		   FROM `+s.partnerships()+` p
		   JOIN `+s.stores()+` s ON s.id = p.store_id
		  WHERE s.brand_id = $1 AND p.status = 'PENDING'
		  ORDER BY p.created_at ASC, p.id ASC`,
		brandID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Partnership, 0, 8)
	for rows.Next() {
		var ps partnershipScan
		if err := rows.Scan(ps.dest()...); err != nil {
			return nil, err
		}
		p, err := ps.finish()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListForCreator returns every partnership of the creator, newest first.
func (s *PostgresStore) ListForCreator(ctx context.Context, creatorID string) ([]CreatorPartnership, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	creatorID = trimmed(creatorID)
	if creatorID == "" {
		return nil, ErrInvalidInput
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+partnershipCols+`, s.store_url, s.store_name, s.platform
		   FROM `+s.partnerships()+` p
		   JOIN `+s.stores()+` s ON s.id = p.store_id
		  WHERE p.creator_id = $1
		  ORDER BY p.created_at DESC, p.id DESC`,
		creatorID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CreatorPartnership, 0, 8)
	for rows.Next() {
		var (
			ps partnershipScan
			cp CreatorPartnership
		)
		dest := append(ps.dest(), &cp.StoreURL, &cp.StoreName, &cp.Platform)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		p, err := ps.finish()
		if err != nil {
			return nil, err
		}
		cp.Partnership = p
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CreatorStats aggregates the creator's sales and commissions.
func (s *PostgresStore) CreatorStats(ctx context.Context, creatorID string) (CreatorStats, error) {
	if err := s.ready(ctx); err != nil {
		return CreatorStats{}, err
	}
	creatorID = trimmed(creatorID)
	if creatorID == "" {
		return CreatorStats{}, ErrInvalidInput
	}

	var total, pending, paid string
	var active int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(t.order_total), 0)::text,
		        COALESCE(SUM(t.commission_amount) FILTER (WHERE t.status IN ('PENDING', 'ELIGIBLE')), 0)::text,
		        COALESCE(SUM(t.commission_amount) FILTER (WHERE t.status = 'PAID'), 0)::text,
		        (SELECT count(*) FROM `+s.partnerships()+` a
		          WHERE a.creator_id = $1 AND a.status IN ('APPROVED', 'ACTIVE'))
		   FROM `+s.transactions()+` t
		   JOIN `+s.partnerships()+` p ON p.id = t.partnership_id
		  WHERE p.creator_id = $1`,
		creatorID,
	).Scan(&total, &pending, &paid, &active)
	if err != nil {
		return CreatorStats{}, err
	}

	out := CreatorStats{ActiveCoupons: active}
	if out.TotalSales, err = decimal.NewFromString(total); err != nil {
		return CreatorStats{}, err
	}
	if out.PendingCommission, err = decimal.NewFromString(pending); err != nil {
		return CreatorStats{}, err
	}
	if out.PaidCommission, err = decimal.NewFromString(paid); err != nil {
		return CreatorStats{}, err
	}
	return out, nil
}

func nilIfEmpty(s string) *string {
	s = trimmed(s)
	if s == "" {
		return nil
	}
	return &s
}
