package cache

import (
	"bytes"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/facturio/invoicing-engine/shared/common"
)

// MemoryStore is the in-process fallback implementation of
// repository.KeyValueStore, used when the shared store is unreachable at
// startup. Lock state held here is NOT visible to other processes, so this
// mode is unsafe for clustered deployments; callers must surface that to
// operators. Expired entries are removed lazily on access and by a periodic
// sweep.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	logger  *zap.Logger
	done    chan struct{}
	once    sync.Once
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates an in-process key-value store with a background
// expiry sweep.
func NewMemoryStore(sweepInterval time.Duration, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Second
	}

	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		logger:  logger,
		done:    make(chan struct{}),
	}

	logger.Warn("Using in-process key-value store; unsafe for multi-process operation")

	go s.sweep(sweepInterval)
	return s
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, entry := range s.entries {
				if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// expired must be called with the mutex held
func (s *MemoryStore) expired(key string) bool {
	entry, ok := s.entries[key]
	if !ok {
		return true
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(s.entries, key)
		return true
	}
	return false
}

// SetIfAbsent stores value only when the key is absent or expired
func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.expired(key) {
		return false, nil
	}

	s.entries[key] = memoryEntry{value: copyBytes(value), expiresAt: deadline(ttl)}
	return true, nil
}

// CompareAndDelete deletes key only when its value equals expected
func (s *MemoryStore) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		return false, nil
	}
	if !bytes.Equal(s.entries[key].value, expected) {
		return false, nil
	}

	delete(s.entries, key)
	return true, nil
}

// Set stores value under key, overwriting any existing value
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{value: copyBytes(value), expiresAt: deadline(ttl)}
	return nil
}

// Get returns the value under key, or ErrCodeNotFound
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		return nil, common.NewAppError(common.ErrCodeNotFound, "key not found").WithContext("key", key)
	}
	return copyBytes(s.entries[key].value), nil
}

// Delete removes key; deleting an absent key is a no-op
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Healthy always reports true for the in-process store
func (s *MemoryStore) Healthy(_ context.Context) bool {
	return true
}

// Close stops the expiry sweep
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
