package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// REDIS LOCKER - SET NX PX + scripted compare-and-delete
// =============================================================================

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Redis is a Locker backed by a single Redis primary.
// The client is owned by the caller and closed at shutdown.
type Redis struct {
	client redis.UniversalClient
	logger *zap.Logger
}

func NewRedis(client redis.UniversalClient, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, logger: logger}
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, key string, opts Options) (string, error) {
	opts = opts.normalized()
	token := uuid.NewString()

	err := acquireWithRetry(ctx, key, opts, func(ctx context.Context) (bool, error) {
		return r.client.SetNX(ctx, key, token, opts.TTL).Result()
	})
	if err != nil {
		r.logger.Warn("lock not acquired",
			zap.String("key", key),
			zap.Int("max_retries", opts.MaxRetries),
			zap.Error(err),
		)
		return "", err
	}

	r.logger.Debug("lock acquired", zap.String("key", key), zap.Duration("ttl", opts.TTL))
	return token, nil
}

// Release implements Locker.
func (r *Redis) Release(ctx context.Context, key, token string) bool {
	n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
	if err != nil {
		r.logger.Error("lock release failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if n != 1 {
		r.logger.Warn("lock not released (expired or foreign owner)", zap.String("key", key))
		return false
	}
	r.logger.Debug("lock released", zap.String("key", key))
	return true
}

// Extend implements Locker.
func (r *Redis) Extend(ctx context.Context, key, token string, ttl time.Duration) bool {
	n, err := extendScript.Run(ctx, r.client, []string{key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		r.logger.Error("lock extend failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return n == 1
}
