package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"warungsync/backend/internal/domain"
	"warungsync/backend/internal/remote"
)

var (
	ErrOverpayment   = errors.New("payment exceeds outstanding balance")
	ErrNothingOwed   = errors.New("customer has no outstanding credit sales")
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Engine keeps wallet balances and customer receivables consistent with
// the ledger. The ledger entries are the source of truth; wallet balances
// are derived and re-derivable via SyncWalletBalances.
type Engine struct {
	remote remote.Ledger

	// walletMu serializes the incremental read-modify-write on wallet
	// balances so concurrently drained sales in one process cannot lose an
	// increment. Cross-device interleavings remain possible and are healed
	// by SyncWalletBalances.
	walletMu sync.Mutex
}

func NewEngine(rem remote.Ledger) *Engine {
	return &Engine{remote: rem}
}

// UpdateWalletBalance applies one signed movement to the wallet named by
// method. A tenant without a matching custom wallet is running on default
// wallets, whose balances are view-computed; the update is then a no-op,
// not an error, so the triggering sale or payment always completes.
func (e *Engine) UpdateWalletBalance(ctx context.Context, tenantID string, walletName string, amountCents int64, entryType domain.EntryType) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}

	e.walletMu.Lock()
	defer e.walletMu.Unlock()

	wallets, err := e.remote.ListWallets(ctx, tenantID)
	if err != nil {
		return err
	}

	for _, w := range wallets {
		if !strings.EqualFold(w.Name, walletName) {
			continue
		}
		balance := w.BalanceCents
		if entryType == domain.EntryOut {
			balance -= amountCents
		} else {
			balance += amountCents
		}
		return e.remote.UpdateWalletBalance(ctx, w.ID, balance)
	}

	// No custom wallet with this name; tenant uses default wallet views.
	return nil
}

// SyncWalletBalances is the authoritative recompute: every persisted wallet
// balance is overwritten with the signed sum of the ledger entries whose
// method matches the wallet name. Divergence from incremental updates is a
// bug in the incremental path, never in this one.
func (e *Engine) SyncWalletBalances(ctx context.Context, tenantID string) error {
	wallets, err := e.remote.ListWallets(ctx, tenantID)
	if err != nil {
		return err
	}
	entries, err := e.remote.ListLedgerEntries(ctx, tenantID)
	if err != nil {
		return err
	}

	for _, w := range wallets {
		var balance int64
		for _, entry := range entries {
			if !strings.EqualFold(entry.Method, w.Name) {
				continue
			}
			balance += entry.SignedAmount()
		}
		if err := e.remote.UpdateWalletBalance(ctx, w.ID, balance); err != nil {
			return fmt.Errorf("wallet %s: %w", w.Name, err)
		}
	}
	return nil
}

// WalletViews returns the tenant's wallets with balances. Tenants with
// custom wallets get the persisted records; tenants without get the fixed
// default set with balances computed from the ledger on the fly. The two
// are never mixed for one tenant.
func (e *Engine) WalletViews(ctx context.Context, tenantID string) ([]domain.Wallet, error) {
	wallets, err := e.remote.ListWallets(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(wallets) > 0 {
		return wallets, nil
	}

	entries, err := e.remote.ListLedgerEntries(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	defaults := domain.DefaultWallets(tenantID)
	for i := range defaults {
		for _, entry := range entries {
			if strings.EqualFold(entry.Method, defaults[i].Name) {
				defaults[i].BalanceCents += entry.SignedAmount()
			}
		}
	}
	return defaults, nil
}

// outstandingSale is one credit sale with its unpaid remainder.
type outstandingSale struct {
	saleID    string
	remaining int64
}

// outstandingSales replays the customer's ledger slice and returns their
// credit sales with unpaid remainders, oldest first. Entries arrive from
// the remote client already ordered by date then id, which makes the
// result deterministic. Payments referencing a sale reduce that sale;
// legacy payments without a reference reduce oldest-first.
func outstandingSales(entries []domain.LedgerEntry, customerID string) []outstandingSale {
	sales := make([]outstandingSale, 0, 8)
	index := make(map[string]int)

	for _, entry := range entries {
		if entry.EntityID != customerID {
			continue
		}
		switch {
		case entry.Category == domain.CategorySale && strings.EqualFold(entry.Method, domain.PaymentMethodCredit):
			index[entry.ReferenceID] = len(sales)
			sales = append(sales, outstandingSale{saleID: entry.ReferenceID, remaining: entry.AmountCents})
		case entry.Category == domain.CategoryCustomerPayment:
			applyPayment(sales, index, entry)
		}
	}

	unpaid := sales[:0]
	for _, sale := range sales {
		if sale.remaining > 0 {
			unpaid = append(unpaid, sale)
		}
	}
	return unpaid
}

func applyPayment(sales []outstandingSale, index map[string]int, payment domain.LedgerEntry) {
	remaining := payment.AmountCents

	if payment.ReferenceID != "" {
		if i, ok := index[payment.ReferenceID]; ok {
			applied := min64(remaining, sales[i].remaining)
			sales[i].remaining -= applied
			remaining -= applied
		}
	}
	for i := range sales {
		if remaining == 0 {
			return
		}
		applied := min64(remaining, sales[i].remaining)
		sales[i].remaining -= applied
		remaining -= applied
	}
}

// AllocatePayment distributes a customer payment across that customer's
// outstanding credit sales, strictly oldest first. The allocation is pure:
// no ledger entry or wallet update happens here. A payment larger than the
// total outstanding balance is rejected before any mutation, so a customer
// balance can never go negative.
func (e *Engine) AllocatePayment(ctx context.Context, tenantID string, customerID string, amountCents int64) ([]domain.Allocation, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	entries, err := e.remote.ListLedgerEntries(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	outstanding := outstandingSales(entries, customerID)
	if len(outstanding) == 0 {
		return nil, ErrNothingOwed
	}

	var total int64
	for _, sale := range outstanding {
		total += sale.remaining
	}
	if amountCents > total {
		return nil, fmt.Errorf("%w: outstanding %d, payment %d", ErrOverpayment, total, amountCents)
	}

	allocations := make([]domain.Allocation, 0, len(outstanding))
	remaining := amountCents
	for _, sale := range outstanding {
		if remaining == 0 {
			break
		}
		applied := min64(remaining, sale.remaining)
		allocations = append(allocations, domain.Allocation{SaleID: sale.saleID, AmountCents: applied})
		remaining -= applied
	}
	return allocations, nil
}

// CustomerBalance is the customer's receivable: credit sales minus
// payments received. Non-negative by construction of AllocatePayment.
func (e *Engine) CustomerBalance(ctx context.Context, tenantID string, customerID string) (int64, error) {
	entries, err := e.remote.ListLedgerEntries(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	var balance int64
	for _, entry := range entries {
		if entry.EntityID != customerID {
			continue
		}
		switch {
		case entry.Category == domain.CategorySale && strings.EqualFold(entry.Method, domain.PaymentMethodCredit):
			balance += entry.AmountCents
		case entry.Category == domain.CategoryCustomerPayment:
			balance -= entry.AmountCents
		}
	}
	return balance, nil
}

// RecordEntry appends a validated ledger entry and applies the wallet side
// effect. The wallet update is best-effort: its failure is logged and
// swallowed so the entry itself, once written, stands.
func (e *Engine) RecordEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	created, err := e.remote.CreateLedgerEntry(ctx, entry)
	if err != nil {
		return nil, err
	}

	if err := e.UpdateWalletBalance(ctx, created.TenantID, created.Method, created.AmountCents, created.Type); err != nil {
		log.Printf("[ledger] WARN: wallet update failed for entry %s method=%s: %v", created.ID, created.Method, err)
	}
	return created, nil
}

// PostSale writes a sale to the system of record together with its sale
// ledger entry. Both the online checkout path and the offline drain go
// through here so the two stay behaviorally identical. The ledger entry id
// derives from the sale id, so a drain retry after a partial failure
// cannot double-write either record.
func (e *Engine) PostSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	created, err := e.remote.CreateSale(ctx, sale)
	if err != nil {
		return nil, err
	}

	if sale.Data.TotalCents > 0 {
		entry := domain.LedgerEntry{
			ID:          "led-" + created.ID,
			TenantID:    created.TenantID,
			Type:        domain.EntryIn,
			Category:    domain.CategorySale,
			EntityID:    sale.Data.CustomerID,
			AmountCents: sale.Data.TotalCents,
			Method:      sale.Data.PaymentMethod,
			ReferenceID: created.ID,
			Date:        sale.Data.CompletedAt,
		}
		if _, err := e.RecordEntry(ctx, entry); err != nil {
			return nil, err
		}
	}
	return created, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
