package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertTransaction records a commission once per order id and bumps the
// partnership usage count in the same transaction.
func (s *PostgresStore) InsertTransaction(ctx context.Context, in InsertTransactionRecord) (Transaction, bool, error) {
	if err := s.ready(ctx); err != nil {
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var ts transactionScan
	err = tx.QueryRow(ctx,
		`INSERT INTO `+s.transactions()+` AS t (
		     id, order_id, order_total, commission_amount, status, partnership_id, store_id, created_at
		   ) VALUES ($1, $2, $3::numeric, $4::numeric, 'PENDING', $5, $6, $7)
		 ON CONFLICT (order_id) DO NOTHING
		 RETURNING `+transactionCols,
		in.ID,
		in.OrderID,
		numericParam(in.OrderTotal),
		numericParam(in.CommissionAmount),
		in.PartnershipID,
		in.StoreID,
		in.Now,
	).Scan(ts.dest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_ = tx.Rollback(ctx)
			existing, getErr := s.GetTransactionByOrderID(ctx, in.OrderID)
			if getErr != nil {
				return Transaction{}, false, getErr
			}
			return existing, false, nil
		}
		return Transaction{}, false, mapWriteError("ledger.InsertTransaction", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+s.partnerships()+` SET usage_count = usage_count + 1 WHERE id = $1`,
		in.PartnershipID,
	); err != nil {
		return Transaction{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, false, mapWriteError("ledger.InsertTransaction", err)
	}
	out, err := ts.finish()
	if err != nil {
		return Transaction{}, false, err
	}
	return out, true, nil
}

// GetTransactionByOrderID fetches the transaction recorded for an order.
func (s *PostgresStore) GetTransactionByOrderID(ctx context.Context, orderID string) (Transaction, error) {
	if err := s.ready(ctx); err != nil {
		return Transaction{}, err
	}
	orderID = trimmed(orderID)
	if orderID == "" {
		return Transaction{}, ErrInvalidInput
	}

	var ts transactionScan
	err := s.pool.QueryRow(ctx,
		`SELECT `+transactionCols+` FROM `+s.transactions()+` t WHERE t.order_id = $1`,
		orderID,
	).Scan(ts.dest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	return ts.finish()
}
