package service

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"kaspi_dumping_v1/internal/metrics"
	"kaspi_dumping_v1/internal/model"
	"kaspi_dumping_v1/internal/repository"
	"kaspi_dumping_v1/pkg/net"
)

// ProxyOptions 代理池组建参数
type ProxyOptions struct {
	// Disabled 当前节点直连，不组建代理池
	Disabled         bool
	ProbeURL         string
	ProbeCityID      string
	ProbeSKUs        []string
	ProbeTimeout     time.Duration
	ProbeConcurrency int
	BalanceWarn      float64
	MaxFailCount     int
}

type ProxyService struct {
	vendor     ProxyVendor
	proxyRepo  repository.ProxyRepository
	dispatcher net.Dispatcher
	opts       ProxyOptions
	log        *zap.Logger
}

func NewProxyService(vendor ProxyVendor, proxyRepo repository.ProxyRepository, dispatcher net.Dispatcher, opts ProxyOptions, log *zap.Logger) *ProxyService {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 30 * time.Second
	}
	if opts.ProbeConcurrency <= 0 {
		opts.ProbeConcurrency = 50
	}
	if opts.MaxFailCount <= 0 {
		opts.MaxFailCount = 10 // 最大失败次数，超过判定 IP 死亡
	}
	if opts.ProbeCityID == "" {
		opts.ProbeCityID = model.CityAlmaty
	}
	return &ProxyService{
		vendor:     vendor,
		proxyRepo:  proxyRepo,
		dispatcher: dispatcher,
		opts:       opts,
		log:        log.With(zap.String("component", "proxy")),
	}
}

// ==================== 代理池组建 ====================

// AcquirePool 拉取候选代理并探测，只保留可用的
func (s *ProxyService) AcquirePool(ctx context.Context) (*net.Pool, error) {
	// 1. 直连节点
	if s.opts.Disabled {
		s.log.Info("[ProxyPool] 当前节点禁用代理，使用直连")
		return net.DisabledPool(), nil
	}

	// 2. 候选集合
	candidates, err := s.vendor.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s candidates: %v", ErrProxyProvider, s.vendor.Name(), err)
	}
	if len(candidates) == 0 {
		s.log.Error("[ProxyPool] 候选代理为空", zap.String("vendor", s.vendor.Name()))
		return nil, fmt.Errorf("%w: %s returned no proxies", ErrProxyProvider, s.vendor.Name())
	}

	handles, err := parseCandidates(candidates)
	if err != nil {
		return nil, err
	}

	// 3. 并发探测
	alive := s.probeAll(ctx, handles)
	s.log.Info("[ProxyPool] 代理探测完成",
		zap.String("vendor", s.vendor.Name()),
		zap.Int("candidates", len(handles)),
		zap.Int("valid", len(alive)))

	// 4. 无可用代理
	if len(alive) == 0 {
		return nil, fmt.Errorf("%w: no proxy passed validation", ErrProxyProvider)
	}

	pool := net.NewPool(alive)
	metrics.ProxyPoolSize.Set(float64(pool.Len()))
	return pool, nil
}

func parseCandidates(candidates map[string]string) ([]*net.ProxyHandle, error) {
	handles := make([]*net.ProxyHandle, 0, len(candidates))
	for id, raw := range candidates {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: invalid proxy %s", ErrProxyProvider, id)
		}
		handles = append(handles, &net.ProxyHandle{ID: id, URL: u})
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].ID < handles[j].ID })
	return handles, nil
}

func (s *ProxyService) probeAll(ctx context.Context, handles []*net.ProxyHandle) []*net.ProxyHandle {
	sem := semaphore.NewWeighted(int64(s.opts.ProbeConcurrency))
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		alive = make([]*net.ProxyHandle, 0, len(handles))
	)

	for _, h := range handles {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(h *net.ProxyHandle) {
			defer wg.Done()
			defer sem.Release(1)

			if s.Probe(ctx, h) {
				mu.Lock()
				alive = append(alive, h)
				mu.Unlock()
				return
			}
			s.dispatcher.Forget(h)
		}(h)
	}
	wg.Wait()
	return alive
}

type probeEntry struct {
	SKU string `json:"sku"`
}

type probeReq struct {
	Options []string     `json:"options"`
	CityID  string       `json:"cityId"`
	Entries []probeEntry `json:"entries"`
}

// Probe 通过代理请求一次报价接口；只有 200 视为可用
func (s *ProxyService) Probe(ctx context.Context, h *net.ProxyHandle) bool {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
	defer cancel()

	body := probeReq{Options: []string{"PRICE"}, CityID: s.opts.ProbeCityID}
	if len(s.opts.ProbeSKUs) > 0 {
		for i := 0; i < 5; i++ {
			body.Entries = append(body.Entries, probeEntry{SKU: s.opts.ProbeSKUs[rand.Intn(len(s.opts.ProbeSKUs))]})
		}
	}

	resp, err := net.BuildMarketplaceRequest(ctx, s.dispatcher.Client(h)).
		SetBody(body).
		Post(s.opts.ProbeURL)
	if err != nil {
		s.log.Warn("[ProxyPool] 代理不可用", zap.String("proxy_id", h.ID), zap.Error(err))
		return false
	}
	if resp.StatusCode() != 200 {
		s.log.Warn("[ProxyPool] 代理响应异常", zap.String("proxy_id", h.ID), zap.Int("status", resp.StatusCode()))
		return false
	}
	return true
}

// ==================== 巡检自愈 ====================

// VerifyAndHeal 对一条静态代理体检并更新状态
// 场景：ProxyMonitor 巡检循环调用
func (s *ProxyService) VerifyAndHeal(ctx context.Context, proxy *model.Proxy) error {
	u := proxy.ProxyURL()
	if u == nil {
		return fmt.Errorf("proxy %d has no endpoint", proxy.ID)
	}
	h := &net.ProxyHandle{ID: proxy.Key(), URL: u}

	// A. 探测连通性
	if s.Probe(ctx, h) {
		if proxy.FailureCount > 0 || proxy.Status != model.ProxyStatusNormal {
			proxy.FailureCount = 0
			proxy.Status = model.ProxyStatusNormal
			return s.proxyRepo.UpdateStatusAndCount(ctx, proxy)
		}
		return s.proxyRepo.UpdateLastCheckTime(ctx, proxy.ID)
	}

	// B. 异常：累计失败次数
	s.dispatcher.Forget(h)
	proxy.FailureCount++
	if proxy.FailureCount >= s.opts.MaxFailCount {
		proxy.Status = model.ProxyStatusDead
		s.log.Warn("[ProxyMonitor] 代理已报废", zap.String("proxy", proxy.Key()), zap.Int("failures", proxy.FailureCount))
	} else {
		proxy.Status = model.ProxyStatusUnstable
	}
	return s.proxyRepo.UpdateStatusAndCount(ctx, proxy)
}

// CheckBalance 查询代理商余额；不支持的代理商返回 false
func (s *ProxyService) CheckBalance(ctx context.Context) (float64, bool, error) {
	reporter, ok := s.vendor.(BalanceReporter)
	if !ok {
		return 0, false, nil
	}
	balance, err := reporter.Balance(ctx)
	if err != nil {
		s.log.Warn("[ProxyMonitor] 查询余额失败", zap.String("vendor", s.vendor.Name()), zap.Error(err))
		return 0, true, err
	}

	metrics.ProxyBalance.WithLabelValues(s.vendor.Name()).Set(balance)
	if balance < s.opts.BalanceWarn {
		s.log.Warn("[ProxyMonitor] 代理余额不足", zap.String("vendor", s.vendor.Name()), zap.Float64("balance", balance))
	} else {
		s.log.Info("[ProxyMonitor] 代理余额", zap.String("vendor", s.vendor.Name()), zap.Float64("balance", balance))
	}
	return balance, true, nil
}

// StaticProxies 巡检列表（只有 static 代理商落库）
func (s *ProxyService) StaticProxies(ctx context.Context) ([]model.Proxy, error) {
	return s.proxyRepo.FindCheckList(ctx)
}
