package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// UpsertStore creates the brand's store or refreshes its URL and credential.
func (s *PostgresStore) UpsertStore(ctx context.Context, in ConnectStoreRecord) (ConnectedStore, error) {
	if err := s.ready(ctx); err != nil {
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

	var out ConnectedStore
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.stores()+` AS s (
		     id, brand_id, store_url, platform, encrypted_access_token, webhook_secret, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, '', $6, $6)
		 ON CONFLICT (brand_id) DO UPDATE
		    SET store_url = EXCLUDED.store_url,
		        encrypted_access_token = EXCLUDED.encrypted_access_token,
		        updated_at = EXCLUDED.updated_at
		 RETURNING `+storeCols,
		in.ID,
		in.BrandID,
		in.StoreURL,
		string(in.Platform),
		in.EncryptedAccessToken,
		in.Now,
	).Scan(storeDest(&out)...)
	if err != nil {
		return ConnectedStore{}, mapWriteError("ledger.UpsertStore", err)
	}
	return out, nil
}

// GetStore fetches a store by id.
func (s *PostgresStore) GetStore(ctx context.Context, storeID string) (ConnectedStore, error) {
	return s.getStoreWhere(ctx, "s.id = $1", storeID)
}

// GetStoreByBrand fetches the brand's store.
func (s *PostgresStore) GetStoreByBrand(ctx context.Context, brandID string) (ConnectedStore, error) {
	return s.getStoreWhere(ctx, "s.brand_id = $1", brandID)
}

func (s *PostgresStore) getStoreWhere(ctx context.Context, where, arg string) (ConnectedStore, error) {
	if err := s.ready(ctx); err != nil {
		return ConnectedStore{}, err
	}
	arg = trimmed(arg)
	if arg == "" {
		return ConnectedStore{}, ErrInvalidInput
	}

	var out ConnectedStore
	err := s.pool.QueryRow(ctx,
		`SELECT `+storeCols+` FROM `+s.stores()+` s WHERE `+where,
		arg,
	).Scan(storeDest(&out)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConnectedStore{}, ErrNotFound
		}
		return ConnectedStore{}, err
	}
	return out, nil
}

// DeleteStoreByBrand removes the brand's store, its partnerships and their transactions.
func (s *PostgresStore) DeleteStoreByBrand(ctx context.Context, brandID string) (ConnectedStore, error) {
	if err := s.ready(ctx); err != nil {
		return ConnectedStore{}, err
	}
	brandID = trimmed(brandID)
	if brandID == "" {
		return ConnectedStore{}, ErrInvalidInput
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ConnectedStore{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var out ConnectedStore
	err = tx.QueryRow(ctx,
		`SELECT `+storeCols+` FROM `+s.stores()+` s WHERE s.brand_id = $1 FOR UPDATE`,
		brandID,
	).Scan(storeDest(&out)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConnectedStore{}, ErrNotFound
		}
		return ConnectedStore{}, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM `+s.transactions()+` WHERE store_id = $1`, out.ID); err != nil {
		return ConnectedStore{}, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+s.partnerships()+` WHERE store_id = $1`, out.ID); err != nil {
		return ConnectedStore{}, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+s.stores()+` WHERE id = $1`, out.ID); err != nil {
		return ConnectedStore{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ConnectedStore{}, err
	}
	return out, nil
}

// Directory lists public connected stores with per-creator request state.
func (s *PostgresStore) Directory(ctx context.Context, creatorID string) ([]DirectoryEntry, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	creatorID = trimmed(creatorID)
	if creatorID == "" {
		return nil, ErrInvalidInput
	}

	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.brand_id, s.store_url, s.store_name, s.store_description, s.platform,
		        (SELECT count(*) FROM `+s.partnerships()+` a
		          WHERE a.store_id = s.id AND a.status IN ('APPROVED', 'ACTIVE')),
		        EXISTS (SELECT 1 FROM `+s.partnerships()+` b
		          WHERE b.store_id = s.id AND b.creator_id = $1 AND b.status = 'PENDING')
		   FROM `+s.stores()+` s
		  WHERE s.is_public AND s.encrypted_access_token <> ''
		  ORDER BY s.created_at DESC, s.id DESC`,
		creatorID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]DirectoryEntry, 0, 16)
	for rows.Next() {
		var e DirectoryEntry
		if err := rows.Scan(
			&e.StoreID,
			&e.BrandID,
			&e.StoreURL,
			&e.StoreName,
			&e.StoreDescription,
			&e.Platform,
			&e.ActiveCoupons,
			&e.HasPendingRequest,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
