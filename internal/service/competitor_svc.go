package service

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kaspi_dumping_v1/internal/metrics"
	"kaspi_dumping_v1/pkg/net"
	"kaspi_dumping_v1/pkg/utils"
)

// ScannerOptions 竞争对手扫描参数
type ScannerOptions struct {
	OffersURL        string
	RequestsPerProxy int
	ChunkCooldown    time.Duration
	Timeout          time.Duration
	Retry            net.RetryPolicy
	// RateLimit 本节点每秒最多请求数，0 表示不限
	RateLimit float64
}

// Offer 前台报价中的一个卖家
type Offer struct {
	MasterSKU               string  `json:"masterSku"`
	MerchantID              string  `json:"merchantId"`
	MerchantName            string  `json:"merchantName"`
	MerchantSKU             string  `json:"merchantSku"`
	MerchantReviewsQuantity int     `json:"merchantReviewsQuantity"`
	MerchantRating          float64 `json:"merchantRating"`
	Title                   string  `json:"title"`
	Price                   float64 `json:"price"`
}

// PriceValue 价格取整（坚戈）
func (o Offer) PriceValue() int64 {
	return int64(math.Round(o.Price))
}

type offersReq struct {
	CityID         string `json:"cityId"`
	Limit          int    `json:"limit"`
	Sort           string `json:"sort"`
	InstallationID string `json:"installationId"`
}

type offersResp struct {
	Offers      []Offer `json:"offers"`
	Total       int     `json:"total"`
	OffersCount int     `json:"offersCount"`
}

// ScanStats 一次批量扫描的统计
type ScanStats struct {
	OK     int
	NoData int
	Failed int
}

// ScannerService 前台报价扫描
type ScannerService struct {
	dispatcher net.Dispatcher
	opts       ScannerOptions
	limiter    *rate.Limiter
	log        *zap.Logger
}

func NewScannerService(dispatcher net.Dispatcher, opts ScannerOptions, log *zap.Logger) *ScannerService {
	if opts.RequestsPerProxy <= 0 {
		opts.RequestsPerProxy = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = net.TransientPolicy(3, 2*time.Second)
	}
	s := &ScannerService{
		dispatcher: dispatcher,
		opts:       opts,
		log:        log.With(zap.String("component", "scanner")),
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return s
}

// Scan 获取一个 SKU 的前三名报价
// 每次尝试从代理池取下一个代理；可重试错误耗尽后返回 ErrNoData
func (s *ScannerService) Scan(ctx context.Context, proxies net.ProxyProvider, sku, cityID string) ([]Offer, error) {
	res := net.Retry(ctx, s.opts.Retry, func(ctx context.Context, attempt int) ([]Offer, error) {
		return s.fetchOffers(ctx, proxies.Get(), sku, cityID)
	})
	if res.OK() {
		metrics.ScansTotal.WithLabelValues("ok").Inc()
		return res.Value, nil
	}
	if res.Exhausted {
		metrics.ScansTotal.WithLabelValues("no_data").Inc()
		s.log.Warn("[Scanner] 重试耗尽，无竞争数据",
			zap.String("sku", sku), zap.Int("attempts", res.Attempts), zap.Error(res.Err))
		return nil, ErrNoData
	}
	metrics.ScansTotal.WithLabelValues("error").Inc()
	return nil, res.Err
}

func (s *ScannerService) fetchOffers(ctx context.Context, proxy *net.ProxyHandle, sku, cityID string) ([]Offer, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var res offersResp
	resp, err := net.BuildMarketplaceRequest(ctx, s.dispatcher.Client(proxy)).
		SetHeader("Referer", "https://kaspi.kz/shop/p/"+sku).
		SetBody(offersReq{CityID: cityID, Limit: 3, Sort: "true", InstallationID: "-1"}).
		SetResult(&res).
		Post(s.opts.OffersURL + "/" + sku)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, net.NewStatusError(resp.StatusCode(), resp.String())
	}
	return res.Offers, nil
}

// ScanAll 批量扫描
// 每批 pool.Len()*RequestsPerProxy 个并发请求，批次之间冷却；失败的 SKU 不出现在结果中
func (s *ScannerService) ScanAll(ctx context.Context, pool net.ProxyProvider, skus []string, cityID string) (map[string][]Offer, ScanStats) {
	var (
		mu      sync.Mutex
		stats   ScanStats
		results = make(map[string][]Offer, len(skus))
	)

	chunkSize := pool.Len() * s.opts.RequestsPerProxy
	if chunkSize < 1 {
		chunkSize = 1
	}

	// 每批等待全部完成后再进入下一批，并发数不超过 chunkSize
	chunks := utils.Chunk(skus, chunkSize)
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}

		var wg sync.WaitGroup
		for _, sku := range chunk {
			wg.Add(1)
			go func(sku string) {
				defer wg.Done()

				offers, err := s.Scan(ctx, pool, sku, cityID)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					stats.OK++
					results[sku] = offers
				case errors.Is(err, ErrNoData):
					stats.NoData++
				default:
					stats.Failed++
					s.log.Warn("[Scanner] 扫描失败", zap.String("sku", sku), zap.Error(err))
				}
			}(sku)
		}
		wg.Wait()

		if i < len(chunks)-1 {
			if err := utils.Sleep(ctx, s.opts.ChunkCooldown); err != nil {
				break
			}
		}
	}

	s.log.Info("[Scanner] 批量扫描完成",
		zap.Int("skus", len(skus)), zap.Int("ok", stats.OK),
		zap.Int("no_data", stats.NoData), zap.Int("failed", stats.Failed))
	return results, stats
}
