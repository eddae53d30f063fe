//go:build integration

package lock

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"FleetRiskAPI/internal/logger"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := goredis.NewClient(&goredis.Options{Addr: fmt.Sprintf("%s:%d", host, port.Int())})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	rdb := startRedis(t)
	// Two lockers sharing one server behave like two API replicas.
	a := NewRedisLockerFromClient(rdb, 5*time.Second, logger.Discard())
	b := NewRedisLockerFromClient(rdb, 5*time.Second, logger.Discard())

	var mu sync.Mutex
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		l := a
		if i%2 == 1 {
			l = b
		}
		wg.Add(1)
		go func(l *RedisLocker) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			unlock, _, err := l.Lock(ctx, "TRUCK-9")
			require.NoError(t, err)

			mu.Lock()
			v := counter
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			counter = v + 1
			mu.Unlock()

			unlock()
		}(l)
	}
	wg.Wait()

	assert.Equal(t, 20, counter)
}

func TestRedisLocker_RenewsWhileHeld(t *testing.T) {
	rdb := startRedis(t)
	l := NewRedisLockerFromClient(rdb, 200*time.Millisecond, logger.Discard())

	unlock, lost, err := l.Lock(context.Background(), "A")
	require.NoError(t, err)

	// Held well past the TTL, the lease must still be ours.
	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()
	_, _, err = l.Lock(ctx, "A")
	assert.ErrorIs(t, err, ErrLockTimeout)

	select {
	case <-lost:
		t.Fatal("lease reported lost while renewals succeed")
	default:
	}

	unlock()
	exists, err := rdb.Exists(context.Background(), keyPrefix+"A").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestRedisLocker_TakeoverSignalsLost(t *testing.T) {
	rdb := startRedis(t)
	l := NewRedisLockerFromClient(rdb, 300*time.Millisecond, logger.Discard())

	unlock, lost, err := l.Lock(context.Background(), "A")
	require.NoError(t, err)

	// Another node took the key, e.g. after a long pause on this one.
	require.NoError(t, rdb.Set(context.Background(), keyPrefix+"A", "other-node", time.Minute).Err())

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("takeover was not detected")
	}

	// The old holder's unlock must not free the new holder's key.
	unlock()
	owner, err := rdb.Get(context.Background(), keyPrefix+"A").Result()
	require.NoError(t, err)
	assert.Equal(t, "other-node", owner)
}

func TestDo_RedisTakeoverCancelsSection(t *testing.T) {
	rdb := startRedis(t)
	l := NewRedisLockerFromClient(rdb, 300*time.Millisecond, logger.Discard())

	err := Do(context.Background(), l, "A", time.Second, func(ctx context.Context) error {
		require.NoError(t, rdb.Set(context.Background(), keyPrefix+"A", "other-node", time.Minute).Err())
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, ErrLockLost)
}
