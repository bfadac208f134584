package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"warungsync/backend/internal/domain"
	"warungsync/backend/internal/remote"
	"warungsync/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.TenantID == "" || len(sale.Data.Items) == 0 {
		return nil, remote.ErrInvalid
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}

	payload, err := json.Marshal(sale.Data)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sales (id, tenant_id, data, completed_at, created_at)
		VALUES ($1,$2,$3,$4,now())
	`, sale.ID, sale.TenantID, payload, sale.Data.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Same sale pushed twice; the first write is authoritative.
			return s.GetSale(ctx, sale.ID)
		}
		return nil, asTransient(err)
	}

	created := sale
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var (
		sale    domain.Sale
		payload []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, data
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.TenantID, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, remote.ErrNotFound
		}
		return nil, asTransient(err)
	}
	if err := json.Unmarshal(payload, &sale.Data); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, category_id, price_cents, cost_cents, stock, active
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.TenantID, &p.Name, &p.CategoryID, &p.PriceCents, &p.CostCents, &p.Stock, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, remote.ErrNotFound
		}
		return nil, asTransient(err)
	}
	return &p, nil
}

// UpdateProductStock overwrites the stock column with the caller-computed
// value. Two devices draining concurrently can both read stale stock and
// both subtract; that missed decrement is an accepted weak-consistency
// tradeoff of the read-then-write protocol. Deployments that need the
// atomic form can switch to `stock = stock - $n` here without touching
// callers.
func (s *Store) UpdateProductStock(ctx context.Context, id string, newStock int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock = $2, updated_at = now()
		WHERE id = $1
	`, id, newStock)
	if err != nil {
		return asTransient(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return remote.ErrNotFound
	}
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.TenantID == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, remote.ErrInvalid
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, tenant_id, name, category_id, price_cents, cost_cents, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
	`, product.ID, product.TenantID, product.Name, product.CategoryID, product.PriceCents, product.CostCents, product.Stock, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, remote.ErrInvalid
		}
		return nil, asTransient(err)
	}

	created := product
	return &created, nil
}

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, category_id, price_cents, cost_cents, stock, active
		FROM products
		WHERE tenant_id = $1 AND active = true
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, asTransient(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.CategoryID, &p.PriceCents, &p.CostCents, &p.Stock, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, asTransient(err)
	}
	return products, nil
}

func (s *Store) ListCategories(ctx context.Context, tenantID string) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name
		FROM categories
		WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, asTransient(err)
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 32)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, asTransient(err)
	}
	return categories, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.TenantID == "" || customer.Name == "" {
		return nil, remote.ErrInvalid
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, tenant_id, name, phone, created_at)
		VALUES ($1,$2,$3,$4,now())
	`, customer.ID, customer.TenantID, customer.Name, customer.Phone)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, remote.ErrInvalid
		}
		return nil, asTransient(err)
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, phone
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, remote.ErrNotFound
		}
		return nil, asTransient(err)
	}
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context, tenantID string) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, phone
		FROM customers
		WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, asTransient(err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, asTransient(err)
	}
	return customers, nil
}

func (s *Store) CreateLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	if entry.TenantID == "" || entry.AmountCents <= 0 {
		return nil, remote.ErrInvalid
	}
	if _, err := domain.ParseEntryType(string(entry.Type)); err != nil {
		return nil, remote.ErrInvalid
	}
	if _, err := domain.ParseEntryCategory(string(entry.Category)); err != nil {
		return nil, remote.ErrInvalid
	}
	if entry.ID == "" {
		entry.ID = xid.New("led")
	}
	if entry.Date.IsZero() {
		entry.Date = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, tenant_id, type, category, entity_id, amount_cents, method, reference_id, entry_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, entry.ID, entry.TenantID, string(entry.Type), string(entry.Category), entry.EntityID, entry.AmountCents, entry.Method, entry.ReferenceID, entry.Date)
	if err != nil {
		if isUniqueViolation(err) {
			// Re-pushed entry from a drain retry; the first write stands.
			return s.getLedgerEntry(ctx, entry.ID)
		}
		return nil, asTransient(err)
	}

	created := entry
	return &created, nil
}

func (s *Store) getLedgerEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	var (
		e           domain.LedgerEntry
		typeRaw     string
		categoryRaw string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, type, category, entity_id, amount_cents, method, reference_id, entry_date
		FROM ledger_entries
		WHERE id = $1
	`, id).Scan(&e.ID, &e.TenantID, &typeRaw, &categoryRaw, &e.EntityID, &e.AmountCents, &e.Method, &e.ReferenceID, &e.Date)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, remote.ErrNotFound
		}
		return nil, asTransient(err)
	}
	e.Type = domain.EntryType(typeRaw)
	e.Category = domain.EntryCategory(categoryRaw)
	return &e, nil
}

// ListLedgerEntries orders by entry date with id as the tiebreak so that
// FIFO allocation sees the same order on every device.
func (s *Store) ListLedgerEntries(ctx context.Context, tenantID string) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, type, category, entity_id, amount_cents, method, reference_id, entry_date
		FROM ledger_entries
		WHERE tenant_id = $1
		ORDER BY entry_date, id
	`, tenantID)
	if err != nil {
		return nil, asTransient(err)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, 256)
	for rows.Next() {
		var (
			e           domain.LedgerEntry
			typeRaw     string
			categoryRaw string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &typeRaw, &categoryRaw, &e.EntityID, &e.AmountCents, &e.Method, &e.ReferenceID, &e.Date); err != nil {
			return nil, err
		}
		e.Type = domain.EntryType(typeRaw)
		e.Category = domain.EntryCategory(categoryRaw)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, asTransient(err)
	}
	return entries, nil
}

func (s *Store) CreateWallet(ctx context.Context, wallet domain.Wallet) (*domain.Wallet, error) {
	if wallet.TenantID == "" || wallet.Name == "" {
		return nil, remote.ErrInvalid
	}
	if wallet.ID == "" {
		wallet.ID = xid.New("wal")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (id, tenant_id, name, type, balance_cents, is_default, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
	`, wallet.ID, wallet.TenantID, wallet.Name, wallet.Type, wallet.BalanceCents, wallet.IsDefault)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, remote.ErrInvalid
		}
		return nil, asTransient(err)
	}

	created := wallet
	return &created, nil
}

func (s *Store) ListWallets(ctx context.Context, tenantID string) ([]domain.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, type, balance_cents, is_default
		FROM wallets
		WHERE tenant_id = $1
		ORDER BY created_at, id
	`, tenantID)
	if err != nil {
		return nil, asTransient(err)
	}
	defer rows.Close()

	wallets := make([]domain.Wallet, 0, 8)
	for rows.Next() {
		var w domain.Wallet
		if err := rows.Scan(&w.ID, &w.TenantID, &w.Name, &w.Type, &w.BalanceCents, &w.IsDefault); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, asTransient(err)
	}
	return wallets, nil
}

func (s *Store) UpdateWalletBalance(ctx context.Context, id string, balanceCents int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE wallets
		SET balance_cents = $2, updated_at = now()
		WHERE id = $1
	`, id, balanceCents)
	if err != nil {
		return asTransient(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return remote.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// asTransient tags driver and network failures so callers can tell them
// apart from not-found and validation outcomes.
func asTransient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, remote.ErrNotFound) || errors.Is(err, remote.ErrInvalid) {
		return err
	}
	return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
}
