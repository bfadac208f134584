package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"warungsync/backend/internal/domain"
	"warungsync/backend/internal/ledger"
	"warungsync/backend/internal/localstore"
	localmemory "warungsync/backend/internal/localstore/memory"
	"warungsync/backend/internal/remote"
	remotememory "warungsync/backend/internal/remote/memory"
)

const testTenant = "tenant-test"

func newTestSyncer(t *testing.T) (*Syncer, *localmemory.Store, *remotememory.Store) {
	t.Helper()
	local := localmemory.New()
	rem := remotememory.NewSeeded(testTenant)
	engine := ledger.NewEngine(rem)
	return New(testTenant, local, rem, engine, 5*time.Second), local, rem
}

func enqueueTestSale(t *testing.T, local *localmemory.Store, id string, productID string, qty int, total int64) {
	t.Helper()
	_, err := local.EnqueueSale(context.Background(), domain.PendingSale{
		ID:       id,
		TenantID: testTenant,
		Sale: domain.SaleData{
			Items:         []domain.SaleLine{{ProductID: productID, Qty: qty, UnitPriceCents: total / int64(qty)}},
			TotalCents:    total,
			PaymentMethod: "Cash",
			CompletedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		},
	})
	if err != nil {
		t.Fatalf("enqueue %s: %v", id, err)
	}
}

func TestSyncDrainsQueueAndDecrementsStockOnce(t *testing.T) {
	s, local, rem := newTestSyncer(t)

	enqueueTestSale(t, local, "psale-1", "prd-mie-01", 3, 10500)
	enqueueTestSale(t, local, "psale-2", "prd-kopi-01", 2, 5200)

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	pending, _ := local.ListPending(context.Background(), testTenant)
	if len(pending) != 0 {
		t.Fatalf("expected empty queue after sync, got %d pending", len(pending))
	}
	synced, _ := local.ListSynced(context.Background(), testTenant)
	if len(synced) != 2 {
		t.Fatalf("expected 2 synced sales retained, got %d", len(synced))
	}

	mie, err := rem.GetProductByID(context.Background(), "prd-mie-01")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if mie.Stock != 117 {
		t.Fatalf("expected stock 120-3=117, got %d", mie.Stock)
	}

	// Each drained sale leaves exactly one sale ledger entry.
	entries, err := rem.ListLedgerEntries(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}

	event := s.LastEvent()
	if event.Status != domain.SyncStatusSuccess {
		t.Fatalf("expected success event, got %+v", event)
	}
	if event.Message != "2 sales synced" {
		t.Fatalf("unexpected success message %q", event.Message)
	}
}

func TestSyncIsIdempotentAcrossCycles(t *testing.T) {
	s, local, rem := newTestSyncer(t)

	enqueueTestSale(t, local, "psale-1", "prd-mie-01", 3, 10500)

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	mie, _ := rem.GetProductByID(context.Background(), "prd-mie-01")
	if mie.Stock != 117 {
		t.Fatalf("stock decremented more than once: got %d", mie.Stock)
	}
	entries, _ := rem.ListLedgerEntries(context.Background(), testTenant)
	if len(entries) != 1 {
		t.Fatalf("ledger entry duplicated across cycles: got %d", len(entries))
	}
	if s.LastEvent().Message != "0 sales synced" {
		t.Fatalf("expected empty second cycle, got %q", s.LastEvent().Message)
	}
}

func TestSyncRefreshesSnapshots(t *testing.T) {
	s, local, rem := newTestSyncer(t)

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	payload, err := local.Snapshot(context.Background(), testTenant, domain.SnapshotProducts)
	if err != nil {
		t.Fatalf("snapshot missing after sync: %v", err)
	}
	var products []domain.Product
	if err := json.Unmarshal(payload, &products); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	remoteProducts, _ := rem.ListProducts(context.Background(), testTenant)
	if len(products) != len(remoteProducts) {
		t.Fatalf("snapshot has %d products, remote has %d", len(products), len(remoteProducts))
	}

	for _, kind := range []string{domain.SnapshotCategories, domain.SnapshotCustomers} {
		if _, err := local.Snapshot(context.Background(), testTenant, kind); err != nil {
			t.Fatalf("%s snapshot missing after sync: %v", kind, err)
		}
	}
}

// blockingLedger parks CreateSale until released, to hold a cycle open.
type blockingLedger struct {
	remote.Ledger
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingLedger) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Ledger.CreateSale(ctx, sale)
}

func TestSyncRejectsConcurrentCycle(t *testing.T) {
	local := localmemory.New()
	rem := &blockingLedger{
		Ledger:  remotememory.NewSeeded(testTenant),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	engine := ledger.NewEngine(rem)
	s := New(testTenant, local, rem, engine, 5*time.Second)

	enqueueTestSale(t, local, "psale-1", "prd-mie-01", 1, 3500)

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.Sync(context.Background()) }()

	<-rem.entered
	if err := s.Sync(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress for overlapping cycle, got %v", err)
	}

	close(rem.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first sync: %v", err)
	}

	// The guard clears once the cycle settles.
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("follow-up sync: %v", err)
	}
}

// failingLists makes snapshot refresh fail while the drain still works.
type failingLists struct {
	remote.Ledger
}

func (f *failingLists) ListProducts(context.Context, string) ([]domain.Product, error) {
	return nil, fmt.Errorf("%w: listing offline", remote.ErrUnavailable)
}

func TestSyncRefreshFailureKeepsDrainedSalesSynced(t *testing.T) {
	local := localmemory.New()
	rem := &failingLists{Ledger: remotememory.NewSeeded(testTenant)}
	engine := ledger.NewEngine(rem)
	s := New(testTenant, local, rem, engine, 5*time.Second)

	enqueueTestSale(t, local, "psale-1", "prd-mie-01", 1, 3500)

	if err := s.Sync(context.Background()); err == nil {
		t.Fatalf("expected refresh failure to surface")
	}

	pending, _ := local.ListPending(context.Background(), testTenant)
	if len(pending) != 0 {
		t.Fatalf("drained sale reverted to pending after refresh failure")
	}
	if s.LastEvent().Status != domain.SyncStatusError {
		t.Fatalf("expected error event, got %+v", s.LastEvent())
	}
}

// unreadableQueue fails every queue read.
type unreadableQueue struct {
	localstore.Store
}

func (u *unreadableQueue) ListPending(context.Context, string) ([]domain.PendingSale, error) {
	return nil, errors.New("disk i/o error")
}

func TestSyncFailsWhenQueueUnreadable(t *testing.T) {
	inner := localmemory.New()
	rem := remotememory.NewSeeded(testTenant)
	engine := ledger.NewEngine(rem)
	s := New(testTenant, &unreadableQueue{Store: inner}, rem, engine, 5*time.Second)

	enqueueTestSale(t, inner, "psale-1", "prd-mie-01", 1, 3500)

	if err := s.Sync(context.Background()); err == nil {
		t.Fatalf("expected queue read failure to fail the cycle")
	}

	event := s.LastEvent()
	if event.Status != domain.SyncStatusError {
		t.Fatalf("expected error event, got %+v", event)
	}
	if event.Message == "0 sales synced" {
		t.Fatalf("unreadable queue must not report a clean cycle")
	}

	// Nothing was pushed while the queue was unreadable.
	entries, _ := rem.ListLedgerEntries(context.Background(), testTenant)
	if len(entries) != 0 {
		t.Fatalf("expected no remote writes, got %d entries", len(entries))
	}
}

// failingSaleLedger rejects one sale id and accepts the rest.
type failingSaleLedger struct {
	remote.Ledger
	rejectID string
}

func (f *failingSaleLedger) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == f.rejectID {
		return nil, fmt.Errorf("%w: write refused", remote.ErrUnavailable)
	}
	return f.Ledger.CreateSale(ctx, sale)
}

func TestSyncPartialFailureKeepsFailedSalePending(t *testing.T) {
	local := localmemory.New()
	rem := &failingSaleLedger{Ledger: remotememory.NewSeeded(testTenant), rejectID: "psale-bad"}
	engine := ledger.NewEngine(rem)
	s := New(testTenant, local, rem, engine, 5*time.Second)

	enqueueTestSale(t, local, "psale-ok", "prd-mie-01", 1, 3500)
	enqueueTestSale(t, local, "psale-bad", "prd-kopi-01", 1, 2600)

	if err := s.Sync(context.Background()); err == nil {
		t.Fatalf("expected partial failure to surface")
	}

	pending, _ := local.ListPending(context.Background(), testTenant)
	if len(pending) != 1 || pending[0].ID != "psale-bad" {
		t.Fatalf("expected only psale-bad pending, got %+v", pending)
	}
	synced, _ := local.ListSynced(context.Background(), testTenant)
	if len(synced) != 1 || synced[0].ID != "psale-ok" {
		t.Fatalf("expected psale-ok synced, got %+v", synced)
	}

	event := s.LastEvent()
	if event.Status != domain.SyncStatusError || event.Message != "1 sales synced, 1 still pending" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestSyncSkipsSalesForDeletedProducts(t *testing.T) {
	s, local, _ := newTestSyncer(t)

	enqueueTestSale(t, local, "psale-1", "prd-gone", 1, 1000)

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	pending, _ := local.ListPending(context.Background(), testTenant)
	if len(pending) != 0 {
		t.Fatalf("sale for deleted product should still sync, got %d pending", len(pending))
	}
}

func TestSubscribePublishesAndUnsubscribes(t *testing.T) {
	s, _, _ := newTestSyncer(t)

	var mu sync.Mutex
	var got []domain.SyncEvent
	var dropped int

	unsubscribe := s.Subscribe(func(event domain.SyncEvent) {
		mu.Lock()
		got = append(got, event)
		mu.Unlock()
	})
	cancelOther := s.Subscribe(func(domain.SyncEvent) {
		mu.Lock()
		dropped++
		mu.Unlock()
	})
	cancelOther()

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	unsubscribe()
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	// One cycle publishes exactly syncing then a terminal event.
	if len(got) != 2 {
		t.Fatalf("expected 2 events from the subscribed cycle, got %d: %+v", len(got), got)
	}
	if got[0].Status != domain.SyncStatusSyncing || got[1].Status != domain.SyncStatusSuccess {
		t.Fatalf("unexpected event order %+v", got)
	}
	if dropped != 0 {
		t.Fatalf("unsubscribed listener still received %d events", dropped)
	}
}

func TestSyncWithoutTenantFails(t *testing.T) {
	local := localmemory.New()
	rem := remotememory.New()
	s := New("", local, rem, ledger.NewEngine(rem), time.Second)

	if err := s.Sync(context.Background()); !errors.Is(err, ErrNoTenant) {
		t.Fatalf("expected ErrNoTenant, got %v", err)
	}
	if s.LastEvent().Status != domain.SyncStatusError {
		t.Fatalf("expected error event, got %+v", s.LastEvent())
	}
}

func TestWatchSyncsOnOfflineToOnlineTransition(t *testing.T) {
	s, local, _ := newTestSyncer(t)
	enqueueTestSale(t, local, "psale-1", "prd-mie-01", 1, 3500)

	online := make(chan bool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Watch(ctx, online, false)
		close(done)
	}()

	online <- true

	deadline := time.After(2 * time.Second)
	for {
		pending, _ := local.ListPending(context.Background(), testTenant)
		if len(pending) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("watch did not drain the queue after reconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}

	close(online)
	<-done
}
