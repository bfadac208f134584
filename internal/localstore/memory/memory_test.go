package memory

import (
	"context"
	"errors"
	"testing"

	"warungsync/backend/internal/domain"
	"warungsync/backend/internal/localstore"
)

func testSale(id string, qty int) domain.PendingSale {
	return domain.PendingSale{
		ID:       id,
		TenantID: "tenant-test",
		Sale: domain.SaleData{
			Items:         []domain.SaleLine{{ProductID: "prd-1", Qty: qty, UnitPriceCents: 2600}},
			TotalCents:    int64(qty) * 2600,
			PaymentMethod: "Cash",
		},
	}
}

func TestEnqueueListMarkSyncedRoundTrip(t *testing.T) {
	store := New()

	for _, id := range []string{"psale-a", "psale-b"} {
		if _, err := store.EnqueueSale(context.Background(), testSale(id, 1)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	pending, _ := store.ListPending(context.Background(), "tenant-test")
	if len(pending) != 2 || pending[0].ID != "psale-a" {
		t.Fatalf("unexpected pending order %+v", pending)
	}

	if err := store.MarkSynced(context.Background(), "psale-a"); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if err := store.MarkSynced(context.Background(), "psale-a"); err != nil {
		t.Fatalf("repeat mark synced must be a no-op: %v", err)
	}
	if err := store.MarkSynced(context.Background(), "psale-nope"); !errors.Is(err, localstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	pending, _ = store.ListPending(context.Background(), "tenant-test")
	if len(pending) != 1 || pending[0].ID != "psale-b" {
		t.Fatalf("unexpected pending after sync %+v", pending)
	}
	synced, _ := store.ListSynced(context.Background(), "tenant-test")
	if len(synced) != 1 || synced[0].SyncedAt == nil {
		t.Fatalf("unexpected synced view %+v", synced)
	}
}

func TestEnqueueGeneratesIDAndValidates(t *testing.T) {
	store := New()

	id, err := store.EnqueueSale(context.Background(), testSale("", 1))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated id")
	}

	if _, err := store.EnqueueSale(context.Background(), domain.PendingSale{TenantID: "tenant-test"}); !errors.Is(err, localstore.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	store := New()

	payload := []byte(`[{"id":"prd-1"}]`)
	if err := store.ReplaceSnapshot(context.Background(), "tenant-test", domain.SnapshotProducts, payload); err != nil {
		t.Fatalf("replace: %v", err)
	}
	// Mutating the caller's slice must not reach the stored copy.
	payload[2] = 'X'

	stored, err := store.Snapshot(context.Background(), "tenant-test", domain.SnapshotProducts)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if string(stored) != `[{"id":"prd-1"}]` {
		t.Fatalf("stored snapshot aliased caller buffer: %s", stored)
	}

	if _, err := store.Snapshot(context.Background(), "tenant-test", domain.SnapshotCustomers); !errors.Is(err, localstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
