package remote

import (
	"context"
	"errors"

	"warungsync/backend/internal/domain"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("remote store unavailable")
	ErrInvalid     = errors.New("invalid record")
)

// Ledger is the system of record shared by all devices of a tenant. Every
// call is tenant-scoped; isolation is by query filter, not by lock.
type Ledger interface {
	Ping(ctx context.Context) error

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)

	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	UpdateProductStock(ctx context.Context, id string, newStock int) error
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)

	ListCategories(ctx context.Context, tenantID string) ([]domain.Category, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, tenantID string) ([]domain.Customer, error)

	CreateLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, tenantID string) ([]domain.LedgerEntry, error)

	CreateWallet(ctx context.Context, wallet domain.Wallet) (*domain.Wallet, error)
	ListWallets(ctx context.Context, tenantID string) ([]domain.Wallet, error)
	UpdateWalletBalance(ctx context.Context, id string, balanceCents int64) error
}
