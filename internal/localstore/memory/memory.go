package memory

import (
	"context"
	"sync"
	"time"

	"warungsync/backend/internal/domain"
	"warungsync/backend/internal/localstore"
	"warungsync/backend/internal/xid"
)

type snapshotKey struct {
	tenantID string
	kind     string
}

// Store is a non-durable localstore.Store for tests and dev mode.
type Store struct {
	mu        sync.RWMutex
	order     []string
	salesByID map[string]domain.PendingSale
	snapshots map[snapshotKey][]byte
}

func New() *Store {
	return &Store{
		salesByID: make(map[string]domain.PendingSale),
		snapshots: make(map[snapshotKey][]byte),
	}
}

func (s *Store) EnqueueSale(_ context.Context, sale domain.PendingSale) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.TenantID == "" || len(sale.Sale.Items) == 0 {
		return "", localstore.ErrInvalid
	}
	if sale.ID == "" {
		sale.ID = xid.New("psale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Synced = false
	sale.SyncedAt = nil

	s.salesByID[sale.ID] = sale
	s.order = append(s.order, sale.ID)
	return sale.ID, nil
}

func (s *Store) ListPending(_ context.Context, tenantID string) ([]domain.PendingSale, error) {
	return s.listByState(tenantID, false), nil
}

func (s *Store) ListSynced(_ context.Context, tenantID string) ([]domain.PendingSale, error) {
	return s.listByState(tenantID, true), nil
}

func (s *Store) listByState(tenantID string, synced bool) []domain.PendingSale {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.PendingSale, 0, len(s.order))
	for _, id := range s.order {
		sale := s.salesByID[id]
		if sale.TenantID != tenantID || sale.Synced != synced {
			continue
		}
		sales = append(sales, sale)
	}
	return sales
}

func (s *Store) MarkSynced(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return localstore.ErrNotFound
	}
	if sale.Synced {
		return nil
	}
	now := time.Now().UTC()
	sale.Synced = true
	sale.SyncedAt = &now
	s.salesByID[id] = sale
	return nil
}

func (s *Store) ReplaceSnapshot(_ context.Context, tenantID string, kind string, payload []byte) error {
	if tenantID == "" || kind == "" {
		return localstore.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]byte, len(payload))
	copy(copied, payload)
	s.snapshots[snapshotKey{tenantID, kind}] = copied
	return nil
}

func (s *Store) Snapshot(_ context.Context, tenantID string, kind string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, exists := s.snapshots[snapshotKey{tenantID, kind}]
	if !exists {
		return nil, localstore.ErrNotFound
	}
	copied := make([]byte, len(payload))
	copy(copied, payload)
	return copied, nil
}
