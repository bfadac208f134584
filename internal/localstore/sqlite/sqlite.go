package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"warungsync/backend/internal/domain"
	"warungsync/backend/internal/localstore"
	"warungsync/backend/internal/xid"
)

// Store is the embedded on-device database backing the offline sale queue
// and the reference-data snapshots. modernc sqlite is pure Go, so the
// binary stays cgo-free.
type Store struct {
	db *sqlx.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pending_sales (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0,
		synced_at DATETIME,
		seq INTEGER
	);`,
	`CREATE INDEX IF NOT EXISTS idx_pending_sales_tenant_synced
		ON pending_sales (tenant_id, synced, seq);`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		tenant_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (tenant_id, kind)
	);`,
}

func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY
	// under concurrent UI and sync writes.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnqueueSale(ctx context.Context, sale domain.PendingSale) (string, error) {
	if sale.TenantID == "" || len(sale.Sale.Items) == 0 {
		return "", localstore.ErrInvalid
	}
	if sale.ID == "" {
		sale.ID = xid.New("psale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(sale.Sale)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_sales (id, tenant_id, payload, created_at, synced, seq)
		VALUES (?, ?, ?, ?, 0, (SELECT COALESCE(MAX(seq), 0) + 1 FROM pending_sales))
	`, sale.ID, sale.TenantID, string(payload), sale.CreatedAt)
	if err != nil {
		return "", err
	}
	return sale.ID, nil
}

func (s *Store) ListPending(ctx context.Context, tenantID string) ([]domain.PendingSale, error) {
	return s.listByState(ctx, tenantID, 0)
}

func (s *Store) ListSynced(ctx context.Context, tenantID string) ([]domain.PendingSale, error) {
	return s.listByState(ctx, tenantID, 1)
}

func (s *Store) listByState(ctx context.Context, tenantID string, synced int) ([]domain.PendingSale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, payload, created_at, synced, synced_at
		FROM pending_sales
		WHERE tenant_id = ? AND synced = ?
		ORDER BY seq
	`, tenantID, synced)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.PendingSale, 0, 32)
	for rows.Next() {
		var (
			sale      domain.PendingSale
			payload   string
			syncedInt int
			syncedAt  sql.NullTime
		)
		if err := rows.Scan(&sale.ID, &sale.TenantID, &payload, &sale.CreatedAt, &syncedInt, &syncedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &sale.Sale); err != nil {
			return nil, err
		}
		sale.Synced = syncedInt == 1
		if syncedAt.Valid {
			at := syncedAt.Time
			sale.SyncedAt = &at
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) MarkSynced(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_sales
		SET synced = 1, synced_at = ?
		WHERE id = ? AND synced = 0
	`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either already synced (idempotent no-op) or unknown.
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM pending_sales WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return localstore.ErrNotFound
		}
	}
	return nil
}

func (s *Store) ReplaceSnapshot(ctx context.Context, tenantID string, kind string, payload []byte) error {
	if tenantID == "" || kind == "" {
		return localstore.ErrInvalid
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (tenant_id, kind, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, kind) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, tenantID, kind, string(payload), time.Now().UTC())
	return err
}

func (s *Store) Snapshot(ctx context.Context, tenantID string, kind string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM snapshots WHERE tenant_id = ? AND kind = ?
	`, tenantID, kind).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, localstore.ErrNotFound
		}
		return nil, err
	}
	return []byte(payload), nil
}
