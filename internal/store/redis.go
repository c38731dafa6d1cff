package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/cinder/internal/codec"
	"goflare.io/cinder/internal/models"
	"goflare.io/cinder/internal/retrier"
)

// Records outlive their expiry by this much so the manager can still observe
// and count the expiration.
const redisExpiryGrace = time.Hour

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	KeyPrefix string
	Codec     codec.Codec
	Codecs    *codec.Registry
	Breaker   gobreaker.Settings
	Retrier   *retrier.Retrier
	Logger    *zap.Logger
}

// RedisStore keeps one record per key in Redis. Every call runs through a
// circuit breaker and the retrier.
type RedisStore struct {
	client  redis.Cmdable
	prefix  string
	codec   codec.Codec
	codecs  *codec.Registry
	cb      *gobreaker.CircuitBreaker
	retrier *retrier.Retrier
	logger  *zap.Logger
}

// NewRedisStore creates a store on top of client.
func NewRedisStore(client redis.Cmdable, cfg RedisStoreConfig) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON{}
	}
	if cfg.Codecs == nil {
		cfg.Codecs = codec.NewRegistry(cfg.Codec)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retrier == nil {
		r, err := retrier.NewRetrier(3, 50*time.Millisecond, time.Second, 2, 0.2, retrier.ExponentialBackoff, IsRetryableRedisError)
		if err != nil {
			return nil, fmt.Errorf("failed to create retrier: %w", err)
		}
		cfg.Retrier = r
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "cinder-redis"
	}
	if cfg.Breaker.IsSuccessful == nil {
		// a missing key is an answer, not a failure
		cfg.Breaker.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		}
	}

	return &RedisStore{
		client:  client,
		prefix:  cfg.KeyPrefix,
		codec:   cfg.Codec,
		codecs:  cfg.Codecs,
		cb:      gobreaker.NewCircuitBreaker(cfg.Breaker),
		retrier: cfg.Retrier,
		logger:  cfg.Logger,
	}, nil
}

// IsRetryableRedisError reports whether a failed Redis call is worth retrying.
func IsRetryableRedisError(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, redis.Nil),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Read implements Store.
func (s *RedisStore) Read(ctx context.Context, key string) (*models.Entry, error) {
	var data []byte
	err := s.execute(ctx, func() error {
		var err error
		data, err = s.client.Get(ctx, s.prefix+key).Bytes()
		return err
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, ioError("read entry from redis", err)
	}

	e, err := decodeRecord(s.codecs, data)
	if err != nil {
		return nil, err
	}
	if e.Key != key {
		return nil, fmt.Errorf("%w: record holds key %q", ErrCorrupted, e.Key)
	}
	return e, nil
}

// Write implements Store. SET replaces the value in one step.
func (s *RedisStore) Write(ctx context.Context, e *models.Entry) error {
	data, err := encodeRecord(s.codec, e)
	if err != nil {
		return err
	}

	ttl := time.Until(e.ExpiresAt) + redisExpiryGrace
	if ttl < redisExpiryGrace {
		ttl = redisExpiryGrace
	}

	err = s.execute(ctx, func() error {
		return s.client.Set(ctx, s.prefix+e.Key, data, ttl).Err()
	})
	if err != nil {
		return ioError("write entry to redis", err)
	}
	return nil
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	err := s.execute(ctx, func() error {
		return s.client.Del(ctx, s.prefix+key).Err()
	})
	if err != nil {
		return ioError("remove entry from redis", err)
	}
	return nil
}

// List scans for every key under the prefix.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.execute(ctx, func() error {
		keys = keys[:0]
		var cursor uint64
		for {
			batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 1000).Result()
			if err != nil {
				return err
			}
			for _, k := range batch {
				keys = append(keys, k[len(s.prefix):])
			}
			if next == 0 {
				return nil
			}
			cursor = next
		}
	})
	if err != nil {
		return nil, ioError("scan redis keys", err)
	}
	return keys, nil
}

// Size sums the stored record lengths.
func (s *RedisStore) Size(ctx context.Context) (int64, error) {
	keys, err := s.List(ctx)
	if err != nil || len(keys) == 0 {
		return 0, err
	}

	var total int64
	err = s.execute(ctx, func() error {
		total = 0
		pipe := s.client.Pipeline()
		cmds := make([]*redis.IntCmd, len(keys))
		for i, key := range keys {
			cmds[i] = pipe.StrLen(ctx, s.prefix+key)
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to execute pipeline: %w", err)
		}
		for _, cmd := range cmds {
			total += cmd.Val()
		}
		return nil
	})
	if err != nil {
		return 0, ioError("measure redis entries", err)
	}
	return total, nil
}

// Close releases the client when it owns a connection pool.
func (s *RedisStore) Close() error {
	if closer, ok := s.client.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close redis connection: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) execute(ctx context.Context, fn func() error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.retrier.Run(ctx, fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		s.logger.Warn("Redis circuit breaker rejected call", zap.Error(err))
	}
	return err
}
