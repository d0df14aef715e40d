// Package batch persists in-progress batches between review and
// confirmation, keyed by (ownerID, batchID) with a store-enforced TTL.
package batch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/facturio/invoicing-engine/domain/entity"
	"github.com/facturio/invoicing-engine/domain/repository"
	"github.com/facturio/invoicing-engine/infrastructure/cache"
	"github.com/facturio/invoicing-engine/shared/common"
)

// Store implements repository.BatchStore over the shared key-value store
type Store struct {
	kv        repository.KeyValueStore
	keyPrefix string
	compress  bool
	logger    *zap.Logger
}

// NewStore creates a batch state store
func NewStore(kv repository.KeyValueStore, keyPrefix string, compress bool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "batch"
	}

	return &Store{
		kv:        kv,
		keyPrefix: keyPrefix,
		compress:  compress,
		logger:    logger,
	}
}

// key scopes batches by owner so one user can never address another's batch,
// even with a guessed batch id.
func (s *Store) key(ownerID, batchID string) string {
	return fmt.Sprintf("%s:%s:%s", s.keyPrefix, ownerID, batchID)
}

// Save persists a batch with a TTL
func (s *Store) Save(ctx context.Context, ownerID, batchID string, b *entity.Batch, ttl time.Duration) error {
	if b == nil {
		return common.NewAppError(common.ErrCodeInvalidInput, "batch must not be nil")
	}

	payload, err := cache.EncodePayload(b, s.compress)
	if err != nil {
		return common.WrapError(err, common.ErrCodeStoreCorrupt, "failed to encode batch")
	}

	if err := s.kv.Set(ctx, s.key(ownerID, batchID), payload, ttl); err != nil {
		return err
	}

	s.logger.Debug("Batch saved",
		zap.String("owner_id", ownerID),
		zap.String("batch_id", batchID),
		zap.Int("line_items", len(b.LineItems)),
		zap.Duration("ttl", ttl))
	return nil
}

// Load returns the batch, or ErrCodeNotFound for missing/expired batches
func (s *Store) Load(ctx context.Context, ownerID, batchID string) (*entity.Batch, error) {
	payload, err := s.kv.Get(ctx, s.key(ownerID, batchID))
	if err != nil {
		return nil, err
	}

	var b entity.Batch
	if err := cache.DecodePayload(payload, &b); err != nil {
		return nil, common.WrapError(err, common.ErrCodeStoreCorrupt, "failed to decode batch")
	}
	return &b, nil
}

// Delete removes the batch; deleting an already-consumed batch is a no-op
func (s *Store) Delete(ctx context.Context, ownerID, batchID string) error {
	return s.kv.Delete(ctx, s.key(ownerID, batchID))
}
