package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists notifications in PostgreSQL.
//
// The pool is owned by the caller. Seq allocation goes through a per-user
// cursor row, so concurrent appends for one user serialize on that row.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema (default: "affilink").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("notify: empty schema")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
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
		return nil, errors.New("notify: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) Append(ctx context.Context, n Notification) (Notification, error) {
	if s == nil || s.pool == nil {
		return Notification{}, errors.New("notify: nil store")
	}
	if !validAppend(n) {
		return Notification{}, ErrInvalidInput
	}

	meta := []byte("{}")
	if len(n.Metadata) > 0 {
		raw, err := json.Marshal(n.Metadata)
		if err != nil {
			return Notification{}, fmt.Errorf("metadata: %w", err)
		}
		meta = raw
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Notification{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cursors := pgIdent(s.schema, "notification_cursors")
	notifications := pgIdent(s.schema, "notifications")

	if err := tx.QueryRow(ctx,
		`INSERT INTO `+cursors+` AS c (user_id, last_seq) VALUES ($1, 1)
		 ON CONFLICT (user_id) DO UPDATE SET last_seq = c.last_seq + 1
		 RETURNING last_seq`,
		n.UserID,
	).Scan(&n.Seq); err != nil {
		return Notification{}, fmt.Errorf("allocate seq: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+notifications+` (id, user_id, seq, type, title, message, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)`,
		n.ID, n.UserID, n.Seq, string(n.Type), n.Title, n.Message, string(meta), n.CreatedAt,
	); err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Notification{}, err
	}
	return n, nil
}

func (s *PostgresStore) List(ctx context.Context, in ListInput) (ListResult, error) {
	if s == nil || s.pool == nil {
		return ListResult{}, errors.New("notify: nil store")
	}
	if in.UserID == "" || in.AfterSeq < 0 {
		return ListResult{}, ErrInvalidInput
	}
	limit := clampLimit(in.Limit)

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, seq, type, title, message, metadata, created_at
		   FROM `+pgIdent(s.schema, "notifications")+`
		  WHERE user_id = $1 AND seq > $2
		  ORDER BY seq ASC
		  LIMIT $3`,
		in.UserID, in.AfterSeq, limit+1,
	)
	if err != nil {
		return ListResult{}, err
	}
	defer rows.Close()

	items := make([]Notification, 0, limit+1)
	for rows.Next() {
		var (
			n    Notification
			typ  string
			meta []byte
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Seq, &typ, &n.Title, &n.Message, &meta, &n.CreatedAt); err != nil {
			return ListResult{}, err
		}
		n.Type = Type(typ)
		if len(meta) > 0 && string(meta) != "{}" {
			if err := json.Unmarshal(meta, &n.Metadata); err != nil {
				return ListResult{}, fmt.Errorf("metadata: %w", err)
			}
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	return ListResult{Items: items, HasMore: hasMore}, nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
