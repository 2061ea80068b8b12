package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired 锁已被其他执行者持有
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld 释放时锁已过期或被他人持有
	ErrLockNotHeld = errors.New("lock not held")
)

// Locker 互斥锁（同名任务同一时刻只允许一个执行）
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock 已获取的锁
type Lock interface {
	Release(ctx context.Context) error
}

// ==================== Redis 实现 ====================

// 只有持有者 token 匹配时才删除
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker 基于 SET NX 的分布式锁
type RedisLocker struct {
	rdb       *redis.Client
	keyPrefix string
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(rdb *redis.Client, keyPrefix string) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = "lock:"
	}
	return &RedisLocker{rdb: rdb, keyPrefix: keyPrefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lockKey := l.keyPrefix + key
	token := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	return &redisLock{rdb: l.rdb, key: lockKey, token: token}, nil
}

type redisLock struct {
	rdb   *redis.Client
	key   string
	token string
}

func (lock *redisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.rdb, []string{lock.key}, lock.token).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// ==================== 进程内实现 ====================

// MemoryLocker 单进程互斥锁，语义与 RedisLocker 一致（含 TTL）
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLockEntry
	now   func() time.Time
}

type memoryLockEntry struct {
	token     string
	expiresAt time.Time
}

var _ Locker = (*MemoryLocker)(nil)

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryLockEntry), now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.locks[key]; ok && now.Before(entry.expiresAt) {
		return nil, ErrLockNotAcquired
	}

	token := uuid.New().String()
	l.locks[key] = memoryLockEntry{token: token, expiresAt: now.Add(ttl)}
	return &memoryLock{owner: l, key: key, token: token}, nil
}

type memoryLock struct {
	owner *MemoryLocker
	key   string
	token string
}

func (lock *memoryLock) Release(_ context.Context) error {
	l := lock.owner
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[lock.key]
	if !ok || entry.token != lock.token {
		return ErrLockNotHeld
	}
	delete(l.locks, lock.key)
	return nil
}
