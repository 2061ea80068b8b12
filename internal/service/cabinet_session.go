package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"kaspi_dumping_v1/pkg/cache"
)

const (
	sessionKeyPrefix = "cabinet_session:"
	// 合并登录与发起方的 ctx 解绑，单独限时
	sharedLoginTimeout = 30 * time.Second
)

// LoginFunc 向后台换取新会话
type LoginFunc func(ctx context.Context) (string, error)

// SessionCache 后台会话缓存
// 同一登录名的并发刷新合并为一次登录
type SessionCache struct {
	store cache.Store
	ttl   time.Duration
	group singleflight.Group
	log   *zap.Logger
}

func NewSessionCache(store cache.Store, ttl time.Duration, log *zap.Logger) *SessionCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SessionCache{store: store, ttl: ttl, log: log.With(zap.String("component", "session_cache"))}
}

// GetOrRefresh 命中缓存直接返回，否则调用 login 并写回缓存
func (c *SessionCache) GetOrRefresh(ctx context.Context, login string, fn LoginFunc) (string, error) {
	if token, ok := c.lookup(ctx, login); ok {
		return token, nil
	}

	v, err, _ := c.group.Do(login, func() (interface{}, error) {
		// 多个调用方共享这次登录，不能随第一个调用方取消
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoginTimeout)
		defer cancel()

		// 等待期间其他调用可能已经写入
		if token, ok := c.lookup(loginCtx, login); ok {
			return token, nil
		}
		token, err := fn(loginCtx)
		if err != nil {
			return "", err
		}
		// 写缓存失败不影响本次使用
		if err := c.store.Set(loginCtx, sessionKeyPrefix+login, token, c.ttl); err != nil {
			c.log.Warn("[Session] 写入会话缓存失败", zap.String("login", login), zap.Error(err))
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate 丢弃缓存的会话
func (c *SessionCache) Invalidate(ctx context.Context, login string) error {
	return c.store.Delete(ctx, sessionKeyPrefix+login)
}

func (c *SessionCache) lookup(ctx context.Context, login string) (string, bool) {
	// 缓存不可用按未命中处理，退化为重新登录
	token, err := c.store.Get(ctx, sessionKeyPrefix+login)
	if err != nil {
		return "", false
	}
	return token, token != ""
}
