package utils

import (
	"context"
	"sync"
	"time"
)

// BatchThrottle 每累计 every 条结果暂停 pause
// 用于控制跨商户的整体请求速率
type BatchThrottle struct {
	mu    sync.Mutex
	every int
	pause time.Duration
	count int

	sleep func(ctx context.Context, d time.Duration) error
}

func NewBatchThrottle(every int, pause time.Duration) *BatchThrottle {
	return &BatchThrottle{every: every, pause: pause, sleep: Sleep}
}

// Add 记录 n 条结果；跨过阈值时阻塞 pause
// 返回本次是否触发了暂停
func (t *BatchThrottle) Add(ctx context.Context, n int) (bool, error) {
	if t == nil || t.every <= 0 || n <= 0 {
		return false, nil
	}

	t.mu.Lock()
	before := t.count / t.every
	t.count += n
	crossed := t.count/t.every > before
	t.mu.Unlock()

	if !crossed {
		return false, nil
	}
	return true, t.sleep(ctx, t.pause)
}

// Count 已累计的结果数
func (t *BatchThrottle) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Sleep 可被 ctx 打断的 sleep
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
