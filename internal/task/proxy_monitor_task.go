package task

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"kaspi_dumping_v1/internal/model"
)

// ProxyChecker 代理巡检
type ProxyChecker interface {
	StaticProxies(ctx context.Context) ([]model.Proxy, error)
	VerifyAndHeal(ctx context.Context, proxy *model.Proxy) error
	CheckBalance(ctx context.Context) (float64, bool, error)
}

// ProxyMonitor 代理巡检任务
type ProxyMonitor struct {
	schedule

	checker ProxyChecker
	runner  *JobRunner

	// 控制并发探测的数量，防止把本地带宽打满
	concurrencyLimit int
	sleepTime        time.Duration
}

func NewProxyMonitor(checker ProxyChecker, runner *JobRunner, spec string, log *zap.Logger) *ProxyMonitor {
	return &ProxyMonitor{
		schedule:         newSchedule("proxy_monitor", spec, 5*time.Minute, true, log),
		checker:          checker,
		runner:           runner,
		concurrencyLimit: 100,                   // 稍微调低并发，给其他业务让路
		sleepTime:        50 * time.Millisecond, // 每个协程启动间隔，平滑波峰
	}
}

// Start 启动代理巡检任务
func (m *ProxyMonitor) Start() error {
	return m.start(func(ctx context.Context) { _ = m.Execute(ctx) })
}

func (m *ProxyMonitor) Stop() { m.stop() }

// Execute 执行一次完整的巡检：静态代理体检 + 代理商余额
func (m *ProxyMonitor) Execute(ctx context.Context) error {
	return m.runner.Run(ctx, "proxy_monitor", func(ctx context.Context, runID string) error {
		m.checkProxies(ctx)

		if balance, supported, err := m.checker.CheckBalance(ctx); err == nil && supported {
			m.log.Info("[ProxyMonitor] 余额检查完成", zap.Float64("balance", balance))
		}
		return nil
	})
}

func (m *ProxyMonitor) checkProxies(ctx context.Context) {
	// 1. 查正常和暂时异常的代理，只有报废的才被抛弃
	proxies, err := m.checker.StaticProxies(ctx)
	if err != nil {
		m.log.Error("[ProxyMonitor] 获取代理列表失败", zap.Error(err))
		return
	}
	if len(proxies) == 0 {
		m.log.Info("[ProxyMonitor] 无需巡检的代理")
		return
	}

	// 2. 并发探测 (使用信号量控制并发)
	var wg sync.WaitGroup
	sem := make(chan struct{}, m.concurrencyLimit)

	for _, p := range proxies {
		select {
		case <-ctx.Done():
			m.log.Warn("[ProxyMonitor] 巡检超时，停止")
			wg.Wait()
			return
		default:
		}
		wg.Add(1)
		sem <- struct{}{} // 获取令牌

		time.Sleep(m.sleepTime)

		go func(proxy model.Proxy) {
			defer wg.Done()
			defer func() { <-sem }() // 释放令牌

			if err := m.checker.VerifyAndHeal(ctx, &proxy); err != nil {
				// 这里的 err 通常是数据库层面的严重错误，需记录
				m.log.Error("[ProxyMonitor] 代理巡检出错", zap.String("proxy", proxy.Key()), zap.Error(err))
			}
		}(p)
	}

	wg.Wait()
	m.log.Info("[ProxyMonitor] 巡检完成", zap.Int("checked", len(proxies)))
}
