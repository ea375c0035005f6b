package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func coordinators(t *testing.T) map[string]func() Coordinator {
	return map[string]func() Coordinator{
		"memory": func() Coordinator { return NewMemoryCoordinator() },
		"redis": func() Coordinator {
			_, client := setupTestRedis(t)
			return NewRedisCoordinator(client)
		},
	}
}

func TestCoordinator_Lock(t *testing.T) {
	for name, newCoordinator := range coordinators(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := newCoordinator()

			ok, err := c.Acquire(ctx, "fp1", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = c.Acquire(ctx, "fp1", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "second acquire must fail while held")

			ok, err = c.Acquire(ctx, "fp2", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "locks are per key")

			require.NoError(t, c.Release(ctx, "fp1"))
			ok, err = c.Acquire(ctx, "fp1", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			assert.NoError(t, c.Release(ctx, "never-held"))
			assert.NoError(t, c.Ping(ctx))
		})
	}
}

func TestCoordinator_Result(t *testing.T) {
	for name, newCoordinator := range coordinators(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := newCoordinator()

			_, err := c.Result(ctx, "fp1")
			assert.ErrorIs(t, err, ErrResultNotFound)

			stored := &RefreshResult{
				AccessToken:  "AT2",
				RefreshToken: "RT2",
				ExpiresIn:    3600,
				TokenType:    "Bearer",
				StoredAt:     time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, c.PutResult(ctx, "fp1", stored, 30*time.Second))

			got, err := c.Result(ctx, "fp1")
			require.NoError(t, err)
			assert.Equal(t, stored, got)

			require.NoError(t, c.PutResult(ctx, "fp2", &RefreshResult{Failed: true, StatusCode: 400}, 30*time.Second))
			got, err = c.Result(ctx, "fp2")
			require.NoError(t, err)
			assert.True(t, got.Failed)
			assert.Equal(t, 400, got.StatusCode)
		})
	}
}

func TestMemoryCoordinator_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := NewMemoryCoordinator()
	c.now = func() time.Time { return now }

	ok, _ := c.Acquire(ctx, "fp1", 10*time.Second)
	require.True(t, ok)
	require.NoError(t, c.PutResult(ctx, "fp1", &RefreshResult{AccessToken: "AT2"}, 30*time.Second))

	now = now.Add(11 * time.Second)
	ok, _ = c.Acquire(ctx, "fp1", 10*time.Second)
	assert.True(t, ok, "expired lock can be taken over")

	now = now.Add(20 * time.Second)
	_, err := c.Result(ctx, "fp1")
	assert.ErrorIs(t, err, ErrResultNotFound)

	count, err := c.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRedisCoordinator_Expiry(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)
	c := NewRedisCoordinator(client)

	ok, err := c.Acquire(ctx, "fp1", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c.PutResult(ctx, "fp1", &RefreshResult{AccessToken: "AT2"}, 30*time.Second))

	mr.FastForward(11 * time.Second)
	ok, err = c.Acquire(ctx, "fp1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(20 * time.Second)
	_, err = c.Result(ctx, "fp1")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestRedisCoordinator_ReleaseOnlyOwnLock(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	a := NewRedisCoordinator(client)
	b := NewRedisCoordinator(client)
	require.NotEqual(t, a.OwnerID(), b.OwnerID())

	ok, err := a.Acquire(ctx, "fp1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Release(ctx, "fp1"))
	ok, err = b.Acquire(ctx, "fp1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner must not free the lock")

	require.NoError(t, a.Release(ctx, "fp1"))
	ok, err = b.Acquire(ctx, "fp1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCoordinator_ConcurrentAcquire(t *testing.T) {
	for name, newCoordinator := range coordinators(t) {
		t.Run(name, func(t *testing.T) {
			c := newCoordinator()
			var winners atomic.Int32
			var wg sync.WaitGroup

			for range 20 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := c.Acquire(context.Background(), "fp1", time.Minute)
					if err == nil && ok {
						winners.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), winners.Load())
		})
	}
}

type countingSweeper struct {
	calls atomic.Int32
}

func (s *countingSweeper) CleanupExpired(context.Context) (int, error) {
	s.calls.Add(1)
	return 1, nil
}

func TestCleanupManager(t *testing.T) {
	sweeper := &countingSweeper{}
	cm := NewCleanupManager(sweeper, 10*time.Millisecond)

	cm.Start(context.Background())
	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cm.Stop()

	after := sweeper.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, sweeper.calls.Load(), "no sweeps after Stop")
}

func TestCleanupManager_StopWithoutStart(t *testing.T) {
	cm := NewCleanupManager(NewMemoryCoordinator(), time.Minute)

	done := make(chan struct{})
	go func() {
		cm.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without Start")
	}
}

func TestRedisCoordinator_OwnerID(t *testing.T) {
	_, client := setupTestRedis(t)
	id := NewRedisCoordinator(client).OwnerID()

	hostname, _ := os.Hostname()
	prefix := fmt.Sprintf("%s:%d:", hostname, os.Getpid())
	require.True(t, strings.HasPrefix(id, prefix), id)
	// 32 random bytes, unpadded base64url
	assert.Len(t, strings.TrimPrefix(id, prefix), 43)
}
