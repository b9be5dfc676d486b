package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL bounds how long a crashed holder can keep a Redis lock.
const DefaultTTL = 5 * time.Minute

var errBusy = errors.New("lock busy")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *zap.Logger

	// poll interval bounds, exposed for tests
	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewRedisLocker creates a RedisLocker. A zero ttl uses DefaultTTL.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{
		client:          client,
		ttl:             ttl,
		prefix:          "lock:",
		logger:          logger.Named("redis_locker"),
		initialInterval: 50 * time.Millisecond,
		maxInterval:     time.Second,
	}
}

func (r *RedisLocker) Obtain(ctx context.Context, key string, wait time.Duration) (Lock, error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = wait

	err := backoff.Retry(func() error {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("redis SETNX %s: %w", redisKey, err))
		}
		if !ok {
			return errBusy
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if errors.Is(err, errBusy) {
			return nil, timeoutError(key, wait)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	r.logger.Debug("lock obtained", zap.String("key", redisKey))
	return &redisLock{locker: r, key: redisKey, token: token}, nil
}

type redisLock struct {
	locker *RedisLocker
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("redis release %s: %w", l.key, err)
	}
	if deleted == 0 {
		l.locker.logger.Warn("lock expired before release", zap.String("key", l.key))
	}
	return nil
}
