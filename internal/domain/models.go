package domain

import (
	"fmt"
	"strings"
	"time"
)

type Product struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	Name       string `json:"name"`
	CategoryID string `json:"category_id"`
	PriceCents int64  `json:"price_cents"`
	CostCents  int64  `json:"cost_cents"`
	Stock      int    `json:"stock"`
	Active     bool   `json:"active"`
}

type Category struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

type Customer struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

type SaleLine struct {
	ProductID      string `json:"product_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	UnitCostCents  int64  `json:"unit_cost_cents"`
}

// SaleData is the immutable checkout snapshot. CustomerID is empty for
// walk-in sales.
type SaleData struct {
	Items          []SaleLine `json:"items"`
	CustomerID     string     `json:"customer_id,omitempty"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	DiscountCents  int64      `json:"discount_cents"`
	TaxCents       int64      `json:"tax_cents"`
	TotalCents     int64      `json:"total_cents"`
	TaxRatePercent float64    `json:"tax_rate_percent"`
	PaymentMethod  string     `json:"payment_method"`
	CashierID      string     `json:"cashier_id"`
	CompletedAt    time.Time  `json:"completed_at"`
}

// PendingSale is a sale captured while the device was offline. It is kept
// after sync as an audit trail; only Synced and SyncedAt ever change after
// creation.
type PendingSale struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Sale      SaleData   `json:"sale"`
	CreatedAt time.Time  `json:"created_at"`
	Synced    bool       `json:"synced"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`
}

type Sale struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenant_id"`
	Data     SaleData `json:"data"`
}

type Wallet struct {
	ID           string `json:"id"`
	TenantID     string `json:"tenant_id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	BalanceCents int64  `json:"balance_cents"`
	IsDefault    bool   `json:"is_default"`
}

type EntryType string

const (
	EntryIn  EntryType = "in"
	EntryOut EntryType = "out"
)

type EntryCategory string

const (
	CategorySale            EntryCategory = "sale"
	CategoryCustomerPayment EntryCategory = "customer_payment"
	CategoryExpense         EntryCategory = "expense"
	CategoryAdjustment      EntryCategory = "adjustment"
	CategorySupplierPayment EntryCategory = "supplier_payment"
)

func ParseEntryType(raw string) (EntryType, error) {
	switch EntryType(strings.ToLower(strings.TrimSpace(raw))) {
	case EntryIn:
		return EntryIn, nil
	case EntryOut:
		return EntryOut, nil
	}
	return "", fmt.Errorf("unknown entry type %q", raw)
}

func ParseEntryCategory(raw string) (EntryCategory, error) {
	switch EntryCategory(strings.ToLower(strings.TrimSpace(raw))) {
	case CategorySale:
		return CategorySale, nil
	case CategoryCustomerPayment:
		return CategoryCustomerPayment, nil
	case CategoryExpense:
		return CategoryExpense, nil
	case CategoryAdjustment:
		return CategoryAdjustment, nil
	case CategorySupplierPayment:
		return CategorySupplierPayment, nil
	}
	return "", fmt.Errorf("unknown entry category %q", raw)
}

// PaymentMethodCredit marks a sale as on-account: it settles later through
// customer payments, not through a wallet at checkout time.
const PaymentMethodCredit = "credit"

// LedgerEntry is an append-only cash movement record. Method names the
// wallet the money moved through. For sale entries ReferenceID is the sale
// id; for customer_payment entries it is the id of the sale the payment
// settles.
type LedgerEntry struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenant_id"`
	Type        EntryType     `json:"type"`
	Category    EntryCategory `json:"category"`
	EntityID    string        `json:"entity_id,omitempty"`
	AmountCents int64         `json:"amount_cents"`
	Method      string        `json:"method"`
	ReferenceID string        `json:"reference_id,omitempty"`
	Date        time.Time     `json:"date"`
}

// SignedAmount returns the entry amount as seen by its wallet: inflows
// positive, outflows negative.
func (e LedgerEntry) SignedAmount() int64 {
	if e.Type == EntryOut {
		return -e.AmountCents
	}
	return e.AmountCents
}

// Allocation records how much of one payment settled one credit sale.
type Allocation struct {
	SaleID      string `json:"sale_id"`
	AmountCents int64  `json:"amount_cents"`
}

type SyncStatus string

const (
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
)

type SyncEvent struct {
	Status  SyncStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}

// Snapshot kinds for the local offline read cache.
const (
	SnapshotProducts   = "products"
	SnapshotCategories = "categories"
	SnapshotCustomers  = "customers"
)

// DefaultWallets is the virtual wallet set for tenants that never
// provisioned custom wallets. Balances for these are view-computed from
// the ledger, never persisted.
func DefaultWallets(tenantID string) []Wallet {
	return []Wallet{
		{ID: "default-cash", TenantID: tenantID, Name: "Cash", Type: "cash", IsDefault: true},
		{ID: "default-bank", TenantID: tenantID, Name: "Bank", Type: "bank", IsDefault: true},
		{ID: "default-mobile", TenantID: tenantID, Name: "Mobile Money", Type: "mobile", IsDefault: true},
	}
}

type SaleRequest struct {
	TenantID       string     `json:"tenant_id"`
	CashierID      string     `json:"cashier_id"`
	CustomerID     string     `json:"customer_id,omitempty"`
	PaymentMethod  string     `json:"payment_method"`
	DiscountCents  int64      `json:"discount_cents"`
	TaxRatePercent float64    `json:"tax_rate_percent"`
	Items          []SaleLine `json:"items"`
}

type SaleResponse struct {
	SaleID        string `json:"sale_id"`
	Queued        bool   `json:"queued"`
	SubtotalCents int64  `json:"subtotal_cents"`
	DiscountCents int64  `json:"discount_cents"`
	TaxCents      int64  `json:"tax_cents"`
	TotalCents    int64  `json:"total_cents"`
	CreatedAt     string `json:"created_at"`
}

type PaymentRequest struct {
	TenantID    string `json:"tenant_id"`
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
	Method      string `json:"method"`
}

type PaymentResponse struct {
	PaymentID        string       `json:"payment_id"`
	AmountCents      int64        `json:"amount_cents"`
	Allocations      []Allocation `json:"allocations"`
	OutstandingCents int64        `json:"outstanding_cents"`
}

type CashMovementRequest struct {
	TenantID    string `json:"tenant_id"`
	Type        string `json:"type"`
	Category    string `json:"category"`
	EntityID    string `json:"entity_id,omitempty"`
	AmountCents int64  `json:"amount_cents"`
	Method      string `json:"method"`
	ReferenceID string `json:"reference_id,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}
