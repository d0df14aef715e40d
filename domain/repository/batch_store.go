package repository

import (
	"context"
	"time"

	"github.com/facturio/invoicing-engine/domain/entity"
)

// BatchStore durably holds in-progress batches between "user reviewed
// totals" and "user confirmed", keyed by (ownerID, batchID) so one user can
// never read or confirm another user's batch. TTL expiry is enforced by the
// store, not polled by the application.
type BatchStore interface {
	Save(ctx context.Context, ownerID, batchID string, batch *entity.Batch, ttl time.Duration) error

	// Load returns ErrCodeNotFound for missing or expired batches.
	Load(ctx context.Context, ownerID, batchID string) (*entity.Batch, error)

	// Delete is idempotent; deleting an already-consumed batch is a no-op.
	Delete(ctx context.Context, ownerID, batchID string) error
}
