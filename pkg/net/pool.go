package net

import (
	"math/rand"
	"net/url"
	"sort"
	"sync"
)

// ProxyHandle 出口代理描述（运行期对象，不落库）
type ProxyHandle struct {
	ID  string
	URL *url.URL
}

// ProxyProvider 定义“提供代理”的行为标准
type ProxyProvider interface {
	// Get 轮询获取下一个代理；返回 nil 表示直连
	Get() *ProxyHandle
	// Len 可用代理数量，调用方据此计算并发批次
	Len() int
}

// Pool 代理池：打乱一次后固定顺序轮询
// 每一轮内所有代理各出现一次，之后才会重复
type Pool struct {
	mu      sync.Mutex
	handles []*ProxyHandle
	next    int
	// disabled 为 true 时 Get 恒返回 nil
	disabled bool
}

var _ ProxyProvider = (*Pool)(nil)

// NewPool 按 ID 去重并随机打乱
func NewPool(handles []*ProxyHandle) *Pool {
	return newPool(handles, rand.Shuffle)
}

func newPool(handles []*ProxyHandle, shuffle func(n int, swap func(i, j int))) *Pool {
	seen := make(map[string]struct{}, len(handles))
	uniq := make([]*ProxyHandle, 0, len(handles))
	for _, h := range handles {
		if h == nil || h.URL == nil {
			continue
		}
		if _, ok := seen[h.ID]; ok {
			continue
		}
		seen[h.ID] = struct{}{}
		uniq = append(uniq, h)
	}

	// 先按 ID 排序再打乱，保证同一 shuffle 源得到同一顺序
	sort.Slice(uniq, func(i, j int) bool { return uniq[i].ID < uniq[j].ID })
	if shuffle != nil {
		shuffle(len(uniq), func(i, j int) { uniq[i], uniq[j] = uniq[j], uniq[i] })
	}

	return &Pool{handles: uniq}
}

// DisabledPool 禁用代理时使用的空池（合法但直连）
func DisabledPool() *Pool {
	return &Pool{disabled: true}
}

// Get 轮询取下一个代理
func (p *Pool) Get() *ProxyHandle {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disabled || len(p.handles) == 0 {
		return nil
	}
	h := p.handles[p.next]
	p.next = (p.next + 1) % len(p.handles)
	return h
}

// Len 可用代理数；直连模式下按 1 计算，保证批次大小不为 0
func (p *Pool) Len() int {
	if p.disabled {
		return 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.handles) == 0 {
		return 1
	}
	return len(p.handles)
}

// Disabled 是否为直连模式
func (p *Pool) Disabled() bool {
	return p.disabled
}

// Handles 返回当前池内代理的拷贝（用于状态展示）
func (p *Pool) Handles() []*ProxyHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*ProxyHandle, len(p.handles))
	copy(out, p.handles)
	return out
}
