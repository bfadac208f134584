package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"warungsync/backend/internal/domain"
	"warungsync/backend/internal/ledger"
	"warungsync/backend/internal/localstore"
	"warungsync/backend/internal/remote"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrNoTenant       = errors.New("no tenant resolved")
)

// Syncer drains the offline sale queue into the remote system of record
// and refreshes the local reference-data snapshots afterwards. At most one
// cycle runs per process; a request arriving while one is in flight is
// dropped, not queued.
type Syncer struct {
	tenantID string
	local    localstore.Store
	remote   remote.Ledger
	engine   *ledger.Engine

	callTimeout time.Duration

	mu      sync.Mutex
	syncing bool
	subs    map[int]func(domain.SyncEvent)
	nextSub int
	last    domain.SyncEvent
}

func New(tenantID string, local localstore.Store, rem remote.Ledger, engine *ledger.Engine, callTimeout time.Duration) *Syncer {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Syncer{
		tenantID:    tenantID,
		local:       local,
		remote:      rem,
		engine:      engine,
		callTimeout: callTimeout,
		subs:        make(map[int]func(domain.SyncEvent)),
	}
}

// Subscribe registers a status listener and returns its unsubscribe
// function. Unsubscribing never disturbs other listeners.
func (s *Syncer) Subscribe(fn func(domain.SyncEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// LastEvent returns the most recently published status event.
func (s *Syncer) LastEvent() domain.SyncEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Syncer) publish(event domain.SyncEvent) {
	s.mu.Lock()
	s.last = event
	listeners := make([]func(domain.SyncEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
}

// Sync runs one drain+refresh cycle. A concurrent call while a cycle is in
// flight returns ErrSyncInProgress. The guard clears when the running
// cycle settles; every remote call carries a bounded timeout so a hung
// network call cannot hold the guard forever.
func (s *Syncer) Sync(ctx context.Context) error {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return ErrSyncInProgress
	}
	s.syncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	s.publish(domain.SyncEvent{Status: domain.SyncStatusSyncing, Message: "sync started"})

	if s.tenantID == "" {
		s.publish(domain.SyncEvent{Status: domain.SyncStatusError, Message: "no tenant configured"})
		return ErrNoTenant
	}

	synced, failed, err := s.drain(ctx)
	if err != nil {
		// The queue itself is unreadable: a local-durability failure, not a
		// partial drain. Nothing was pushed; the cycle fails outright.
		s.publish(domain.SyncEvent{Status: domain.SyncStatusError, Message: "local queue unavailable"})
		return err
	}

	if err := s.refresh(ctx); err != nil {
		// Drained sales stay synced; only the cache refresh is reported.
		s.publish(domain.SyncEvent{
			Status:  domain.SyncStatusError,
			Message: fmt.Sprintf("%d sales synced, cache refresh failed", synced),
		})
		return err
	}

	if failed > 0 {
		s.publish(domain.SyncEvent{
			Status:  domain.SyncStatusError,
			Message: fmt.Sprintf("%d sales synced, %d still pending", synced, failed),
		})
		return fmt.Errorf("%d pending sales failed to sync", failed)
	}

	s.publish(domain.SyncEvent{
		Status:  domain.SyncStatusSuccess,
		Message: fmt.Sprintf("%d sales synced", synced),
	})
	return nil
}

// drain pushes every pending sale, fanning out one goroutine per sale and
// settling all of them: one sale's failure never aborts the rest. Failed
// sales keep their queue position for the next cycle.
func (s *Syncer) drain(ctx context.Context) (synced int, failed int, err error) {
	pending, err := s.local.ListPending(ctx, s.tenantID)
	if err != nil {
		return 0, 0, fmt.Errorf("list pending sales: %w", err)
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	results := make([]error, len(pending))
	var wg sync.WaitGroup
	for i, sale := range pending {
		wg.Add(1)
		go func(i int, sale domain.PendingSale) {
			defer wg.Done()
			results[i] = s.pushSale(ctx, sale)
		}(i, sale)
	}
	wg.Wait()

	for i, err := range results {
		if err != nil {
			failed++
			log.Printf("[syncer] sale %s stays pending: %v", pending[i].ID, err)
			continue
		}
		synced++
	}
	return synced, failed, nil
}

// pushSale writes one pending sale through the same path the online
// checkout uses, decrements remote stock once per line, and marks the sale
// synced. Already-synced sales are skipped before any remote write, which
// is what makes a repeated drain idempotent.
func (s *Syncer) pushSale(ctx context.Context, sale domain.PendingSale) error {
	if sale.Synced {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	if _, err := s.engine.PostSale(callCtx, domain.Sale{
		ID:       sale.ID,
		TenantID: sale.TenantID,
		Data:     sale.Sale,
	}); err != nil {
		return fmt.Errorf("write sale: %w", err)
	}

	for _, item := range sale.Sale.Items {
		product, err := s.remote.GetProductByID(callCtx, item.ProductID)
		if err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				// Product deleted remotely since the sale; nothing to decrement.
				continue
			}
			return fmt.Errorf("read stock %s: %w", item.ProductID, err)
		}
		if err := s.remote.UpdateProductStock(callCtx, item.ProductID, product.Stock-item.Qty); err != nil {
			return fmt.Errorf("write stock %s: %w", item.ProductID, err)
		}
	}

	if err := s.local.MarkSynced(ctx, sale.ID); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// refresh overwrites the local snapshots with fresh server reference data.
func (s *Syncer) refresh(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	products, err := s.remote.ListProducts(callCtx, s.tenantID)
	if err != nil {
		return fmt.Errorf("refresh products: %w", err)
	}
	categories, err := s.remote.ListCategories(callCtx, s.tenantID)
	if err != nil {
		return fmt.Errorf("refresh categories: %w", err)
	}
	customers, err := s.remote.ListCustomers(callCtx, s.tenantID)
	if err != nil {
		return fmt.Errorf("refresh customers: %w", err)
	}

	for _, snap := range []struct {
		kind string
		data any
	}{
		{domain.SnapshotProducts, products},
		{domain.SnapshotCategories, categories},
		{domain.SnapshotCustomers, customers},
	} {
		payload, err := json.Marshal(snap.data)
		if err != nil {
			return err
		}
		if err := s.local.ReplaceSnapshot(ctx, s.tenantID, snap.kind, payload); err != nil {
			return fmt.Errorf("store %s snapshot: %w", snap.kind, err)
		}
	}
	return nil
}

// Watch triggers a sync on every offline-to-online transition reported on
// the connectivity channel, and one at start if the device is already
// online. It returns when ctx is cancelled or the channel closes.
func (s *Syncer) Watch(ctx context.Context, online <-chan bool, startOnline bool) {
	trigger := func() {
		if err := s.Sync(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			log.Printf("[syncer] sync failed: %v", err)
		}
	}

	if startOnline {
		trigger()
	}

	wasOnline := startOnline
	for {
		select {
		case <-ctx.Done():
			return
		case isOnline, ok := <-online:
			if !ok {
				return
			}
			if isOnline && !wasOnline {
				trigger()
			}
			wasOnline = isOnline
		}
	}
}
