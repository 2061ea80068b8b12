package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore 进程内 TTL 缓存
// 单节点部署或测试时替代 Redis
type MemoryStore struct {
	items sync.Map // key -> memoryItem
	now   func() time.Time
}

// memoryItem 内部结构，包含值和过期时间
type memoryItem struct {
	value      string
	expiration time.Time // 零值表示永不过期
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建进程内缓存
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Set 设置缓存，ttl <= 0 表示永不过期
func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiration = m.now().Add(ttl)
	}
	m.items.Store(key, item)
	return nil
}

// Get 获取缓存并验证是否过期
func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	val, ok := m.items.Load(key)
	if !ok {
		return "", ErrCacheMiss
	}

	item := val.(memoryItem)
	if !item.expiration.IsZero() && m.now().After(item.expiration) {
		m.items.Delete(key) // 懒删除
		return "", ErrCacheMiss
	}

	return item.value, nil
}

// Delete 删除缓存
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}
