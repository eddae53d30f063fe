package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FleetRiskAPI/internal/logger"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultLockTTL   = 30 * time.Second
	lockPollInterval = 25 * time.Millisecond
	keyPrefix        = "fleetrisk:lock:"
)

// releaseScript deletes the key only if it still carries our token, so an
// expired holder never frees a lock that has since been taken by another node.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while we still own it.
var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker shares per-asset locks across API replicas.
type RedisLocker struct {
	rdb *goredis.Client
	ttl time.Duration
	log *logger.Logger
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func NewRedisLocker(opts RedisOptions, log *logger.Logger) (*RedisLocker, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisLockerFromClient(rdb, opts.TTL, log), nil
}

func NewRedisLockerFromClient(rdb *goredis.Client, ttl time.Duration, log *logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, log: log.With("lock")}
}

// Lock polls SET NX until it wins or ctx ends. While held, the lease is
// renewed every third of its TTL. lost closes when a renewal finds the key
// gone or owned by someone else, or when renewals keep failing until the
// lease would have expired.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), <-chan struct{}, error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := r.rdb.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("failed to acquire lock %q: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("%w %q: %v", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	lost := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.keepAlive(key, redisKey, token, stop, lost)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()

			// Release must not depend on the caller's ctx, which may already be done.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, r.rdb, []string{redisKey}, token).Err(); err != nil {
				r.log.Warn("Failed to release lock %s: %v", key, err)
			}
		})
	}, lost, nil
}

func (r *RedisLocker) keepAlive(key, redisKey, token string, stop <-chan struct{}, lost chan<- struct{}) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	renewed := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
		n, err := renewScript.Run(ctx, r.rdb, []string{redisKey}, token, r.ttl.Milliseconds()).Int64()
		cancel()

		switch {
		case err == nil && n == 1:
			renewed = time.Now()
			continue
		case err == nil:
			r.log.Error("Lock %s was taken over before release", key)
		case time.Since(renewed) < r.ttl:
			r.log.Warn("Failed to renew lock %s: %v", key, err)
			continue
		default:
			r.log.Error("Lock %s expired, renewals failing: %v", key, err)
		}
		close(lost)
		return
	}
}

func (r *RedisLocker) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisLocker) Close() error {
	return r.rdb.Close()
}
