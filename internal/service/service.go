package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"warungsync/backend/internal/cache"
	"warungsync/backend/internal/domain"
	"warungsync/backend/internal/ledger"
	"warungsync/backend/internal/localstore"
	"warungsync/backend/internal/remote"
	"warungsync/backend/internal/xid"
)

var (
	ErrValidation      = errors.New("invalid request")
	ErrCustomerUnknown = errors.New("customer not found")
	ErrOffline         = errors.New("operation requires connectivity")
)

const listCacheTTL = 20 * time.Second

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service is the POS flow over the remote ledger, the local durable queue
// and the balance engine. The online function reports current
// connectivity; it decides whether a sale writes through or queues.
type Service struct {
	remote          remote.Ledger
	local           localstore.Store
	engine          *ledger.Engine
	lists           cache.ListCache
	online          func() bool
	defaultTenantID string
}

func New(rem remote.Ledger, local localstore.Store, engine *ledger.Engine, lists cache.ListCache, online func() bool, defaultTenantID string) *Service {
	if defaultTenantID == "" {
		defaultTenantID = "main-tenant"
	}
	if online == nil {
		online = func() bool { return true }
	}
	if lists == nil {
		lists = cache.NoopListCache{}
	}
	return &Service{
		remote:          rem,
		local:           local,
		engine:          engine,
		lists:           lists,
		online:          online,
		defaultTenantID: defaultTenantID,
	}
}

// CompleteSale finishes a checkout. Online, the sale and its ledger entry
// go straight to the system of record and remote stock is decremented
// immediately; offline, the sale lands in the durable queue and only the
// local product snapshot is decremented. Either way a line item ends up
// decrementing remote stock exactly once over its lifetime.
func (s *Service) CompleteSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	if req.TenantID == "" {
		req.TenantID = s.defaultTenantID
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "Cash"
	}
	if len(req.Items) == 0 || req.DiscountCents < 0 {
		return domain.SaleResponse{}, ErrValidation
	}
	if req.TaxRatePercent < 0 || req.TaxRatePercent > 100 {
		return domain.SaleResponse{}, ErrValidation
	}
	if strings.EqualFold(req.PaymentMethod, domain.PaymentMethodCredit) && req.CustomerID == "" {
		return domain.SaleResponse{}, fmt.Errorf("%w: credit sale requires a customer", ErrValidation)
	}
	for _, item := range req.Items {
		if item.ProductID == "" || item.Qty < 1 {
			return domain.SaleResponse{}, ErrValidation
		}
	}

	products, err := s.productCatalog(ctx, req.TenantID)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	var subtotal int64
	lines := make([]domain.SaleLine, 0, len(req.Items))
	for _, item := range req.Items {
		product, exists := products[item.ProductID]
		if !exists {
			return domain.SaleResponse{}, fmt.Errorf("%w: unknown product %s", ErrValidation, item.ProductID)
		}
		lines = append(lines, domain.SaleLine{
			ProductID:      item.ProductID,
			Qty:            item.Qty,
			UnitPriceCents: product.PriceCents,
			UnitCostCents:  product.CostCents,
		})
		subtotal += int64(item.Qty) * product.PriceCents
	}

	discount := req.DiscountCents
	if discount > subtotal {
		discount = subtotal
	}
	taxBase := subtotal - discount
	tax := int64(math.Round(float64(taxBase) * req.TaxRatePercent / 100))
	total := taxBase + tax

	now := time.Now().UTC()
	data := domain.SaleData{
		Items:          lines,
		CustomerID:     req.CustomerID,
		SubtotalCents:  subtotal,
		DiscountCents:  discount,
		TaxCents:       tax,
		TotalCents:     total,
		TaxRatePercent: req.TaxRatePercent,
		PaymentMethod:  req.PaymentMethod,
		CashierID:      req.CashierID,
		CompletedAt:    now,
	}

	resp := domain.SaleResponse{
		SubtotalCents: subtotal,
		DiscountCents: discount,
		TaxCents:      tax,
		TotalCents:    total,
		CreatedAt:     now.Format(time.RFC3339),
	}

	if s.online() {
		saleID, err := s.writeSaleOnline(ctx, req.TenantID, data)
		if err == nil {
			resp.SaleID = saleID
			return resp, nil
		}
		if !errors.Is(err, remote.ErrUnavailable) {
			return domain.SaleResponse{}, err
		}
		// Transient remote failure mid-checkout: fall through and queue the
		// sale opportunistically rather than losing it.
		log.Printf("[service] WARN: online sale write failed, queueing locally: %v", err)
	}

	saleID, err := s.queueSaleOffline(ctx, req.TenantID, data)
	if err != nil {
		// Local durability failure is fatal: the sale is not accepted.
		return domain.SaleResponse{}, err
	}
	resp.SaleID = saleID
	resp.Queued = true
	return resp, nil
}

func (s *Service) writeSaleOnline(ctx context.Context, tenantID string, data domain.SaleData) (string, error) {
	created, err := s.engine.PostSale(ctx, domain.Sale{
		ID:       xid.New("sale"),
		TenantID: tenantID,
		Data:     data,
	})
	if err != nil {
		return "", err
	}

	for _, item := range data.Items {
		product, err := s.remote.GetProductByID(ctx, item.ProductID)
		if err != nil {
			log.Printf("[service] WARN: stock read failed for %s: %v", item.ProductID, err)
			continue
		}
		if err := s.remote.UpdateProductStock(ctx, item.ProductID, product.Stock-item.Qty); err != nil {
			log.Printf("[service] WARN: stock write failed for %s: %v", item.ProductID, err)
		}
	}
	return created.ID, nil
}

func (s *Service) queueSaleOffline(ctx context.Context, tenantID string, data domain.SaleData) (string, error) {
	id, err := s.local.EnqueueSale(ctx, domain.PendingSale{
		TenantID: tenantID,
		Sale:     data,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue sale: %w", err)
	}

	// Offline stock arithmetic runs against the snapshot only; the remote
	// decrement happens exactly once later, during drain.
	if err := s.decrementSnapshotStock(ctx, tenantID, data.Items); err != nil {
		log.Printf("[service] WARN: snapshot stock update failed: %v", err)
	}
	return id, nil
}

func (s *Service) decrementSnapshotStock(ctx context.Context, tenantID string, items []domain.SaleLine) error {
	payload, err := s.local.Snapshot(ctx, tenantID, domain.SnapshotProducts)
	if err != nil {
		return err
	}
	var products []domain.Product
	if err := json.Unmarshal(payload, &products); err != nil {
		return err
	}

	for _, item := range items {
		for i := range products {
			if products[i].ID == item.ProductID {
				products[i].Stock -= item.Qty
				break
			}
		}
	}

	updated, err := json.Marshal(products)
	if err != nil {
		return err
	}
	return s.local.ReplaceSnapshot(ctx, tenantID, domain.SnapshotProducts, updated)
}

// ReceivePayment applies a customer payment against that customer's oldest
// outstanding credit sales. Validation happens before any write: an
// unknown customer or an amount above the outstanding balance leaves no
// partial state. Ledger entries are the primary writes; the wallet update
// inside RecordEntry is best-effort.
func (s *Service) ReceivePayment(ctx context.Context, req domain.PaymentRequest) (domain.PaymentResponse, error) {
	if req.TenantID == "" {
		req.TenantID = s.defaultTenantID
	}
	if req.CustomerID == "" || req.AmountCents <= 0 || req.Method == "" {
		return domain.PaymentResponse{}, ErrValidation
	}
	if !s.online() {
		return domain.PaymentResponse{}, ErrOffline
	}

	if _, err := s.remote.GetCustomerByID(ctx, req.CustomerID); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return domain.PaymentResponse{}, ErrCustomerUnknown
		}
		return domain.PaymentResponse{}, err
	}

	allocations, err := s.engine.AllocatePayment(ctx, req.TenantID, req.CustomerID, req.AmountCents)
	if err != nil {
		return domain.PaymentResponse{}, err
	}

	paymentID := xid.New("pay")
	now := time.Now().UTC()
	for i, alloc := range allocations {
		entry := domain.LedgerEntry{
			ID:          fmt.Sprintf("%s-%d", paymentID, i),
			TenantID:    req.TenantID,
			Type:        domain.EntryIn,
			Category:    domain.CategoryCustomerPayment,
			EntityID:    req.CustomerID,
			AmountCents: alloc.AmountCents,
			Method:      req.Method,
			ReferenceID: alloc.SaleID,
			Date:        now,
		}
		if _, err := s.engine.RecordEntry(ctx, entry); err != nil {
			return domain.PaymentResponse{}, fmt.Errorf("record payment entry: %w", err)
		}
	}

	outstanding, err := s.engine.CustomerBalance(ctx, req.TenantID, req.CustomerID)
	if err != nil {
		log.Printf("[service] WARN: balance read after payment failed: %v", err)
		outstanding = 0
	}

	return domain.PaymentResponse{
		PaymentID:        paymentID,
		AmountCents:      req.AmountCents,
		Allocations:      allocations,
		OutstandingCents: outstanding,
	}, nil
}

// RecordCashMovement books an expense, adjustment or supplier payment as a
// typed ledger entry with the usual wallet side effect. Customer payments
// must go through ReceivePayment so they allocate.
func (s *Service) RecordCashMovement(ctx context.Context, req domain.CashMovementRequest) (*domain.LedgerEntry, error) {
	if req.TenantID == "" {
		req.TenantID = s.defaultTenantID
	}
	if req.AmountCents <= 0 || req.Method == "" {
		return nil, ErrValidation
	}
	entryType, err := domain.ParseEntryType(req.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	category, err := domain.ParseEntryCategory(req.Category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if category == domain.CategoryCustomerPayment || category == domain.CategorySale {
		return nil, fmt.Errorf("%w: category %s has a dedicated flow", ErrValidation, category)
	}
	if !s.online() {
		return nil, ErrOffline
	}

	return s.engine.RecordEntry(ctx, domain.LedgerEntry{
		ID:          xid.New("led"),
		TenantID:    req.TenantID,
		Type:        entryType,
		Category:    category,
		EntityID:    req.EntityID,
		AmountCents: req.AmountCents,
		Method:      req.Method,
		ReferenceID: req.ReferenceID,
		Date:        time.Now().UTC(),
	})
}

// productCatalog returns the catalog keyed by id: live remote data when
// online (through the list cache), the local snapshot when offline.
func (s *Service) productCatalog(ctx context.Context, tenantID string) (map[string]domain.Product, error) {
	products, err := s.ListProducts(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	catalog := make(map[string]domain.Product, len(products))
	for _, p := range products {
		catalog[p.ID] = p
	}
	return catalog, nil
}

func (s *Service) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}

	if !s.online() {
		return snapshotList[domain.Product](ctx, s.local, tenantID, domain.SnapshotProducts)
	}

	key := "lists:" + tenantID + ":products"
	if payload, hit, err := s.lists.Get(ctx, key); err == nil && hit {
		var products []domain.Product
		if err := json.Unmarshal(payload, &products); err == nil {
			return products, nil
		}
	}

	products, err := s.remote.ListProducts(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(products); err == nil {
		if err := s.lists.Set(ctx, key, payload, listCacheTTL); err != nil {
			log.Printf("[service] WARN: list cache write failed: %v", err)
		}
	}
	return products, nil
}

func (s *Service) ListCustomers(ctx context.Context, tenantID string) ([]domain.Customer, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	if !s.online() {
		return snapshotList[domain.Customer](ctx, s.local, tenantID, domain.SnapshotCustomers)
	}
	return s.remote.ListCustomers(ctx, tenantID)
}

func (s *Service) ListCategories(ctx context.Context, tenantID string) ([]domain.Category, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	if !s.online() {
		return snapshotList[domain.Category](ctx, s.local, tenantID, domain.SnapshotCategories)
	}
	return s.remote.ListCategories(ctx, tenantID)
}

func snapshotList[T any](ctx context.Context, local localstore.Store, tenantID string, kind string) ([]T, error) {
	payload, err := local.Snapshot(ctx, tenantID, kind)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return []T{}, nil
		}
		return nil, err
	}
	var records []T
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) Wallets(ctx context.Context, tenantID string) ([]domain.Wallet, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	return s.engine.WalletViews(ctx, tenantID)
}

// ReconcileWallets runs the authoritative full recompute of every
// persisted wallet balance from the ledger.
func (s *Service) ReconcileWallets(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	return s.engine.SyncWalletBalances(ctx, tenantID)
}

func (s *Service) CustomerBalance(ctx context.Context, tenantID string, customerID string) (int64, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	if customerID == "" {
		return 0, ErrValidation
	}
	return s.engine.CustomerBalance(ctx, tenantID, customerID)
}

func (s *Service) LedgerEntries(ctx context.Context, tenantID string) ([]domain.LedgerEntry, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	return s.remote.ListLedgerEntries(ctx, tenantID)
}

// PendingSales exposes the unsynced queue for the UI counter.
func (s *Service) PendingSales(ctx context.Context, tenantID string) ([]domain.PendingSale, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	return s.local.ListPending(ctx, tenantID)
}

// SyncedSales exposes the retained audit trail of drained sales.
func (s *Service) SyncedSales(ctx context.Context, tenantID string) ([]domain.PendingSale, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	return s.local.ListSynced(ctx, tenantID)
}
