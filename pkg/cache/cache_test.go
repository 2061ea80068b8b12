package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "session:merchant@kaspi", "abc", time.Minute))

	val, err := s.Get(ctx, "session:merchant@kaspi")
	require.NoError(t, err)
	assert.Equal(t, "abc", val)

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrCacheMiss))
}

func TestMemoryStore_Expiration(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", "v", 10*time.Minute))

	now = now.Add(9 * time.Minute)
	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryStore_NoTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	now = now.Add(24 * 365 * time.Hour)

	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "k", "v", time.Minute)
	require.NoError(t, s.Delete(ctx, "k"))

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	lock, err := l.Acquire(ctx, "job:reconcile", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "job:reconcile", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// 不同任务名互不影响
	other, err := l.Acquire(ctx, "job:catalog", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)

	again, err := l.Acquire(ctx, "job:reconcile", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLocker_ExpiredLockCanBeTaken(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }

	stale, err := l.Acquire(ctx, "job", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)

	// 过期持有者不能释放新持有者的锁
	assert.ErrorIs(t, stale.Release(ctx), ErrLockNotHeld)
	assert.NoError(t, fresh.Release(ctx))
}

func TestMemoryLocker_Concurrent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(ctx, "job", time.Minute); err == nil {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired)
}

// ==================== Redis 实现 ====================

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setupMiniRedis(t)
	s := NewRedisStore(rdb, "kaspi:session:")

	require.NoError(t, s.Set(ctx, "shop@mail.kz", "abc", time.Minute))
	assert.True(t, mr.Exists("kaspi:session:shop@mail.kz"), "key 带前缀")

	val, err := s.Get(ctx, "shop@mail.kz")
	require.NoError(t, err)
	assert.Equal(t, "abc", val)

	mr.FastForward(2 * time.Minute)
	_, err = s.Get(ctx, "shop@mail.kz")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setupMiniRedis(t)
	l := NewRedisLocker(rdb, "kaspi:lock:")

	lock, err := l.Acquire(ctx, "job:reconcile", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("kaspi:lock:job:reconcile"))

	_, err = l.Acquire(ctx, "job:reconcile", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, lock.Release(ctx))
	assert.False(t, mr.Exists("kaspi:lock:job:reconcile"))

	again, err := l.Acquire(ctx, "job:reconcile", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

// 锁过期后被他人获取，原持有者释放不能删除新锁
func TestRedisLocker_ReleaseChecksToken(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setupMiniRedis(t)
	l := NewRedisLocker(rdb, "")

	stale, err := l.Acquire(ctx, "job:catalog_sync", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	fresh, err := l.Acquire(ctx, "job:catalog_sync", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, stale.Release(ctx), ErrLockNotHeld)
	assert.True(t, mr.Exists("lock:job:catalog_sync"), "新持有者的锁应保留")

	require.NoError(t, fresh.Release(ctx))
	assert.ErrorIs(t, fresh.Release(ctx), ErrLockNotHeld)
}
