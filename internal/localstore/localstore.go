package localstore

import (
	"context"
	"errors"

	"warungsync/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid record")
)

// Store is the device-local durable store: the offline sale queue plus the
// reference-data snapshots used for offline browsing. Writes never touch
// the network; a failed enqueue is fatal to the sale that triggered it.
type Store interface {
	// EnqueueSale persists a pending sale with synced=false and returns its id.
	EnqueueSale(ctx context.Context, sale domain.PendingSale) (string, error)
	// ListPending returns unsynced sales in insertion order.
	ListPending(ctx context.Context, tenantID string) ([]domain.PendingSale, error)
	// ListSynced returns already-synced sales for audit reads.
	ListSynced(ctx context.Context, tenantID string) ([]domain.PendingSale, error)
	// MarkSynced flips synced to true. Marking an already-synced sale is a
	// no-op, not an error.
	MarkSynced(ctx context.Context, id string) error

	// ReplaceSnapshot overwrites one reference-data snapshot wholesale.
	// Last writer wins; there is no merge.
	ReplaceSnapshot(ctx context.Context, tenantID string, kind string, payload []byte) error
	// Snapshot returns the stored payload, or ErrNotFound if the kind has
	// never been cached for this tenant.
	Snapshot(ctx context.Context, tenantID string, kind string) ([]byte, error)
}
