package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"warungsync/backend/internal/domain"
	"warungsync/backend/internal/remote"
	"warungsync/backend/internal/xid"
)

// Store is an in-memory remote ledger used in dev mode and tests. Entries
// keep their insertion index so date ties order deterministically.
type Store struct {
	mu          sync.RWMutex
	sales       map[string]domain.Sale
	products    map[string]domain.Product
	categories  map[string]domain.Category
	customers   map[string]domain.Customer
	wallets     map[string]domain.Wallet
	entries     []domain.LedgerEntry
	entryOrder  map[string]int
	walletOrder []string
}

func New() *Store {
	return &Store{
		sales:      make(map[string]domain.Sale),
		products:   make(map[string]domain.Product),
		categories: make(map[string]domain.Category),
		customers:  make(map[string]domain.Customer),
		wallets:    make(map[string]domain.Wallet),
		entries:    make([]domain.LedgerEntry, 0, 128),
		entryOrder: make(map[string]int),
	}
}

// NewSeeded returns a store pre-populated with demo data for one tenant.
func NewSeeded(tenantID string) *Store {
	s := New()

	categories := []domain.Category{
		{ID: "cat-grocery", TenantID: tenantID, Name: "Grocery"},
		{ID: "cat-beverage", TenantID: tenantID, Name: "Beverage"},
		{ID: "cat-household", TenantID: tenantID, Name: "Household"},
	}
	products := []domain.Product{
		{ID: "prd-mie-01", TenantID: tenantID, Name: "Mie Goreng Instan", CategoryID: "cat-grocery", PriceCents: 3500, CostCents: 2700, Stock: 120, Active: true},
		{ID: "prd-telur-01", TenantID: tenantID, Name: "Telur 10 Butir", CategoryID: "cat-grocery", PriceCents: 26500, CostCents: 23000, Stock: 80, Active: true},
		{ID: "prd-kopi-01", TenantID: tenantID, Name: "Kopi Sachet", CategoryID: "cat-beverage", PriceCents: 2600, CostCents: 1700, Stock: 200, Active: true},
		{ID: "prd-gula-01", TenantID: tenantID, Name: "Gula 1kg", CategoryID: "cat-grocery", PriceCents: 17400, CostCents: 15300, Stock: 60, Active: true},
		{ID: "prd-sabun-01", TenantID: tenantID, Name: "Sabun Mandi", CategoryID: "cat-household", PriceCents: 7400, CostCents: 5000, Stock: 90, Active: true},
	}
	customers := []domain.Customer{
		{ID: "cus-ibu-sari", TenantID: tenantID, Name: "Ibu Sari", Phone: "0812-1111-2222"},
		{ID: "cus-pak-budi", TenantID: tenantID, Name: "Pak Budi", Phone: "0813-3333-4444"},
	}

	for _, c := range categories {
		s.categories[c.ID] = c
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	for _, c := range customers {
		s.customers[c.ID] = c
	}

	return s
}

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.TenantID == "" || len(sale.Data.Items) == 0 {
		return nil, remote.ErrInvalid
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	s.sales[sale.ID] = sale
	created := sale
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, remote.ErrNotFound
	}
	copySale := sale
	return &copySale, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, remote.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProductStock(_ context.Context, id string, newStock int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return remote.ErrNotFound
	}
	product.Stock = newStock
	s.products[id] = product
	return nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.TenantID == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, remote.ErrInvalid
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, remote.ErrInvalid
	}
	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) ListProducts(_ context.Context, tenantID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.TenantID != tenantID || !p.Active {
			continue
		}
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		return strings.Compare(products[i].Name, products[j].Name) < 0
	})
	return products, nil
}

func (s *Store) ListCategories(_ context.Context, tenantID string) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		if c.TenantID != tenantID {
			continue
		}
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })
	return categories, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.TenantID == "" || customer.Name == "" {
		return nil, remote.ErrInvalid
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, remote.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) ListCustomers(_ context.Context, tenantID string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if c.TenantID != tenantID {
			continue
		}
		customers = append(customers, c)
	}
	sort.Slice(customers, func(i, j int) bool { return customers[i].Name < customers[j].Name })
	return customers, nil
}

func (s *Store) CreateLedgerEntry(_ context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	// Re-pushed entries (drain retries) are deduplicated by id; the first
	// write is authoritative.
	if i, exists := s.entryOrder[entry.ID]; exists {
		existing := s.entries[i]
		return &existing, nil
	}
	s.entryOrder[entry.ID] = len(s.entries)
	s.entries = append(s.entries, entry)
	created := entry
	return &created, nil
}

func (s *Store) ListLedgerEntries(_ context.Context, tenantID string) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.LedgerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.TenantID != tenantID {
			continue
		}
		entries = append(entries, e)
	}
	// Deterministic order: date, then insertion order.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Date.Equal(entries[j].Date) {
			return s.entryOrder[entries[i].ID] < s.entryOrder[entries[j].ID]
		}
		return entries[i].Date.Before(entries[j].Date)
	})
	return entries, nil
}

func (s *Store) CreateWallet(_ context.Context, wallet domain.Wallet) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wallet.TenantID == "" || wallet.Name == "" {
		return nil, remote.ErrInvalid
	}
	if wallet.ID == "" {
		wallet.ID = xid.New("wal")
	}
	if _, exists := s.wallets[wallet.ID]; exists {
		return nil, remote.ErrInvalid
	}
	s.wallets[wallet.ID] = wallet
	s.walletOrder = append(s.walletOrder, wallet.ID)
	created := wallet
	return &created, nil
}

func (s *Store) ListWallets(_ context.Context, tenantID string) ([]domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wallets := make([]domain.Wallet, 0, len(s.walletOrder))
	for _, id := range s.walletOrder {
		w := s.wallets[id]
		if w.TenantID != tenantID {
			continue
		}
		wallets = append(wallets, w)
	}
	return wallets, nil
}

func (s *Store) UpdateWalletBalance(_ context.Context, id string, balanceCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wallet, exists := s.wallets[id]
	if !exists {
		return remote.ErrNotFound
	}
	wallet.BalanceCents = balanceCents
	s.wallets[id] = wallet
	return nil
}
