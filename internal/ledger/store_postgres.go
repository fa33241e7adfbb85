package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists ledger state in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "affilink").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "affilink"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

func (s *PostgresStore) ready(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	return ctx.Err()
}

func (s *PostgresStore) stores() string       { return pgIdent(s.schema, "connected_stores") }
func (s *PostgresStore) partnerships() string { return pgIdent(s.schema, "partnerships") }
func (s *PostgresStore) transactions() string { return pgIdent(s.schema, "transactions") }

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

const storeCols = `s.id, s.brand_id, s.store_url, s.store_name, s.store_description, s.is_public,
	s.platform, s.encrypted_access_token, s.webhook_secret, s.created_at, s.updated_at`

const partnershipCols = `p.id, p.creator_id, p.creator_label, p.store_id, p.coupon_code,
	p.commission_rate::text, p.discount_value::text, p.status, p.usage_count,
	p.price_rule_id, p.discount_id, p.created_at, p.approved_at, p.rejected_at`

const transactionCols = `t.id, t.order_id, t.order_total::text, t.commission_amount::text,
	t.status, t.partnership_id, t.store_id, t.created_at`

func storeDest(out *ConnectedStore) []any {
	return []any{
		&out.ID,
		&out.BrandID,
		&out.StoreURL,
		&out.StoreName,
		&out.StoreDescription,
		&out.IsPublic,
		&out.Platform,
		&out.EncryptedAccessToken,
		&out.WebhookSecret,
		&out.CreatedAt,
		&out.UpdatedAt,
	}
}

// partnershipScan collects raw columns; finish converts decimals.
type partnershipScan struct {
	out      Partnership
	rate     string
	discount string
}

func (ps *partnershipScan) dest() []any {
	return []any{
		&ps.out.ID,
		&ps.out.CreatorID,
		&ps.out.CreatorLabel,
		&ps.out.StoreID,
		&ps.out.CouponCode,
		&ps.rate,
		&ps.discount,
		&ps.out.Status,
		&ps.out.UsageCount,
		&ps.out.PriceRuleID,
		&ps.out.DiscountID,
		&ps.out.CreatedAt,
		&ps.out.ApprovedAt,
		&ps.out.RejectedAt,
	}
}

func (ps *partnershipScan) finish() (Partnership, error) {
	var err error
	if ps.out.CommissionRate, err = decimal.NewFromString(ps.rate); err != nil {
		return Partnership{}, err
	}
	if ps.out.DiscountValue, err = decimal.NewFromString(ps.discount); err != nil {
		return Partnership{}, err
	}
	return ps.out, nil
}

type transactionScan struct {
	out        Transaction
	total      string
	commission string
}

func (ts *transactionScan) dest() []any {
	return []any{
		&ts.out.ID,
		&ts.out.OrderID,
		&ts.total,
		&ts.commission,
		&ts.out.Status,
		&ts.out.PartnershipID,
		&ts.out.StoreID,
		&ts.out.CreatedAt,
	}
}

func (ts *transactionScan) finish() (Transaction, error) {
	var err error
	if ts.out.OrderTotal, err = decimal.NewFromString(ts.total); err != nil {
		return Transaction{}, err
	}
	if ts.out.CommissionAmount, err = decimal.NewFromString(ts.commission); err != nil {
		return Transaction{}, err
	}
	return ts.out, nil
}

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapWriteError translates constraint violations into ledger errors.
func mapWriteError(op string, err error) error {
	pgErr, ok := pgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case "uq_partnerships_active_pair":
			return ConflictError{Op: op, Field: FieldActivePartnership}
		case "uq_partnerships_coupon_code":
			return ConflictError{Op: op, Field: FieldCouponCode}
		}
		return ConflictError{Op: op, Field: pgErr.ConstraintName}
	case "23503":
		return OpError{Op: op, Kind: ErrNotFound, Msg: pgErr.ConstraintName}
	case "23514":
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: pgErr.ConstraintName}
	}
	return err
}

func numericParam(d decimal.Decimal) string { return d.String() }
