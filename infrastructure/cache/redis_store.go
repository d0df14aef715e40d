package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/facturio/invoicing-engine/shared/common"
)

// compareAndDeleteScript deletes a key only when its current value matches,
// as a single atomic server-side operation. This closes the race where a
// lock expires and is re-acquired between a holder's read and its delete.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisStore implements repository.KeyValueStore backed by Redis
type RedisStore struct {
	client         *redis.Client
	logger         *zap.Logger
	circuitBreaker *gobreaker.CircuitBreaker
}

// NewRedisStore creates a Redis-backed key-value store
func NewRedisStore(cfg common.RedisConfig, breakerCfg common.CircuitBreakerConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := cfg.Validate(); err != nil {
		return nil, common.WrapError(err, common.ErrCodeInvalidInput, "invalid redis configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addresses[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxConnAge:   cfg.ConnMaxLifetime,
	})

	store := &RedisStore{
		client: client,
		logger: logger,
	}

	failureThreshold := breakerCfg.FailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	store.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-kv-store",
		MaxRequests: breakerCfg.MaxRequests,
		Interval:    breakerCfg.Interval,
		Timeout:     breakerCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, common.WrapError(err, common.ErrCodeStoreUnavailable, "failed to ping redis")
	}

	logger.Info("Redis key-value store initialized", zap.String("address", cfg.Addresses[0]))
	return store, nil
}

// SetIfAbsent atomically stores value with a TTL when the key is absent
func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	result, err := s.circuitBreaker.Execute(func() (interface{}, error) {
		return s.client.SetNX(ctx, key, value, ttl).Result()
	})
	if err != nil {
		return false, s.storeError(err, "SETNX failed")
	}
	return result.(bool), nil
}

// CompareAndDelete deletes key only if its value equals expected
func (s *RedisStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	result, err := s.circuitBreaker.Execute(func() (interface{}, error) {
		return compareAndDeleteScript.Run(ctx, s.client, []string{key}, string(expected)).Int64()
	})
	if err != nil {
		return false, s.storeError(err, "compare-and-delete failed")
	}
	return result.(int64) == 1, nil
}

// Set stores value under key with a TTL
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		return s.storeError(err, "SET failed")
	}
	return nil
}

// Get returns the value under key
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.circuitBreaker.Execute(func() (interface{}, error) {
		value, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil, common.NewAppError(common.ErrCodeNotFound, "key not found").WithContext("key", key)
		}
		return value, err
	})
	if err != nil {
		if common.IsCode(err, common.ErrCodeNotFound) {
			return nil, err
		}
		return nil, s.storeError(err, "GET failed")
	}
	return result.([]byte), nil
}

// Delete removes key; deleting an absent key is not an error
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, key).Err()
	})
	if err != nil {
		return s.storeError(err, "DEL failed")
	}
	return nil
}

// Healthy reports whether Redis responds to ping
func (s *RedisStore) Healthy(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) storeError(err error, message string) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return common.WrapError(err, common.ErrCodeStoreUnavailable, "redis circuit breaker open")
	}
	if common.IsCode(err, common.ErrCodeNotFound) {
		return err
	}
	return common.WrapError(err, common.ErrCodeStoreUnavailable, message)
}
