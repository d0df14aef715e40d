// Package locking provides mutual exclusion keyed by arbitrary strings,
// backed by the shared key-value store.
package locking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/facturio/invoicing-engine/domain/repository"
	"github.com/facturio/invoicing-engine/shared/common"
	"github.com/facturio/invoicing-engine/shared/retry"
)

// LockHandle proves ownership of an acquired lock. The token is the fencing
// value checked at release time, so a delayed caller can never release a
// lock that expired and was re-acquired by someone else.
type LockHandle struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Service implements distributed locking over a repository.KeyValueStore
type Service struct {
	store  repository.KeyValueStore
	logger *zap.Logger

	retryDelay    time.Duration
	maxRetryDelay time.Duration
}

// NewService creates a lock service
func NewService(store repository.KeyValueStore, retryDelay, maxRetryDelay time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}
	if maxRetryDelay <= 0 {
		maxRetryDelay = 5 * time.Second
	}

	return &Service{
		store:         store,
		logger:        logger,
		retryDelay:    retryDelay,
		maxRetryDelay: maxRetryDelay,
	}
}

// Acquire attempts a single atomic set-if-absent with TTL. A held key
// returns ErrCodeLockHeld; the caller decides whether to retry.
func (s *Service) Acquire(ctx context.Context, key string, ttl time.Duration) (*LockHandle, error) {
	token := uuid.New().String()

	ok, err := s.store.SetIfAbsent(ctx, key, []byte(token), ttl)
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeStoreUnavailable, "lock store unavailable")
	}
	if !ok {
		return nil, common.NewAppError(common.ErrCodeLockHeld, "lock already held").WithContext("key", key)
	}

	return &LockHandle{
		Key:       key,
		Token:     token,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// Release deletes the lock only if the handle's token still owns it, as one
// atomic check-and-delete. Releasing a lock that expired or was re-acquired
// by another caller is a no-op.
func (s *Service) Release(ctx context.Context, handle *LockHandle) error {
	if handle == nil {
		return nil
	}

	released, err := s.store.CompareAndDelete(ctx, handle.Key, []byte(handle.Token))
	if err != nil {
		return common.WrapError(err, common.ErrCodeStoreUnavailable, "lock store unavailable")
	}
	if !released {
		s.logger.Debug("Stale lock release ignored", zap.String("key", handle.Key))
	}
	return nil
}

// WithLock acquires key, runs fn and guarantees release even when fn
// panics. Acquisition retries with capped exponential backoff up to
// maxRetries times, then fails with ErrCodeLockTimeout; it never blocks
// indefinitely.
func (s *Service) WithLock(ctx context.Context, key string, ttl time.Duration, maxRetries int, fn func(ctx context.Context) error) error {
	policy := retry.Policy{
		MaxAttempts:     maxRetries + 1,
		InitialInterval: s.retryDelay,
		MaxInterval:     s.maxRetryDelay,
		Multiplier:      2.0,
	}

	var handle *LockHandle
	err := retry.Do(ctx, policy, func() error {
		h, acquireErr := s.Acquire(ctx, key, ttl)
		if acquireErr != nil {
			return acquireErr
		}
		handle = h
		return nil
	})
	if err != nil {
		if common.IsCode(err, common.ErrCodeLockHeld) {
			return common.NewAppError(common.ErrCodeLockTimeout, "lock acquisition exhausted retries").
				WithContext("key", key).
				WithContext("max_retries", maxRetries).
				WithCause(err)
		}
		return err
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if releaseErr := s.Release(releaseCtx, handle); releaseErr != nil {
			s.logger.Warn("Failed to release lock",
				zap.String("key", key),
				zap.Error(releaseErr))
		}
	}()

	return fn(ctx)
}
