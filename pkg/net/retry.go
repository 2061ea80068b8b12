package net

import (
	"context"
	"time"
)

// RetryPolicy 显式重试策略
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	// Retryable 为 nil 时所有错误都重试
	Retryable func(error) bool
}

// Result 带标签的调用结果
type Result[T any] struct {
	Value    T
	Err      error
	Attempts int
	// Exhausted 为 true 表示可重试错误耗尽了次数
	Exhausted bool
}

// OK 调用是否成功
func (r Result[T]) OK() bool { return r.Err == nil }

// TransientPolicy 扫描/抓取使用的默认策略
func TransientPolicy(attempts int, backoff time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Backoff: backoff, Retryable: IsTransient}
}

// AnyErrorPolicy 任意错误都重试（写价格）
func AnyErrorPolicy(attempts int, backoff time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Backoff: backoff}
}

// Retry 按策略执行 fn
// 不可重试的错误立即返回；可重试错误在次数耗尽后返回并标记 Exhausted
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) (T, error)) Result[T] {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var res Result[T]
	for i := 1; i <= attempts; i++ {
		res.Attempts = i
		v, err := fn(ctx, i)
		if err == nil {
			res.Value = v
			res.Err = nil
			return res
		}
		res.Err = err

		if p.Retryable != nil && !p.Retryable(err) {
			return res
		}
		if i == attempts {
			res.Exhausted = true
			return res
		}

		if p.Backoff > 0 {
			timer := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				res.Err = ctx.Err()
				return res
			case <-timer.C:
			}
		}
	}
	return res
}
