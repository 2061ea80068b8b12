package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kaspi_dumping_v1/internal/model"
	"kaspi_dumping_v1/internal/repository"
	"kaspi_dumping_v1/pkg/net"
	"kaspi_dumping_v1/pkg/utils"
)

// CatalogOptions 目录同步参数
type CatalogOptions struct {
	Retry         net.RetryPolicy
	SaveChunkSize int
}

// SyncReport 一次商户目录同步的结果
type SyncReport struct {
	MerchantID  int64
	Fetched     int
	Scanned     int
	Saved       int
	Deactivated int64
	// DroppedPages 重试耗尽被跳过的页码；非空时不做下架处理
	DroppedPages []int
}

// CatalogFetch 一次目录抓取的结果
type CatalogFetch struct {
	Items        []CabinetProduct
	Total        int
	DroppedPages []int
}

// Complete 是否所有页都抓取成功
func (f *CatalogFetch) Complete() bool { return len(f.DroppedPages) == 0 }

// CatalogService 后台商品目录抓取与入库
type CatalogService struct {
	cabinet       *CabinetClient
	scanner       *ScannerService
	productRepo   repository.ProductRepository
	notifications *NotificationService
	opts          CatalogOptions
	log           *zap.Logger
}

// NewCatalogService notifications 为 nil 时不发送登录异常通知
func NewCatalogService(
	cabinet *CabinetClient,
	scanner *ScannerService,
	productRepo repository.ProductRepository,
	notifications *NotificationService,
	opts CatalogOptions,
	log *zap.Logger,
) *CatalogService {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = net.TransientPolicy(3, 2*time.Second)
	}
	if opts.SaveChunkSize <= 0 {
		opts.SaveChunkSize = 200
	}
	return &CatalogService{
		cabinet:       cabinet,
		scanner:       scanner,
		productRepo:   productRepo,
		notifications: notifications,
		opts:          opts,
		log:           log.With(zap.String("component", "catalog")),
	}
}

// FetchCatalog 抓取商户全部商品
// 第 0 页确定总数，其余页按代理数量并发；重试耗尽的页记为数据缺口并跳过
func (s *CatalogService) FetchCatalog(ctx context.Context, merchant *model.Merchant, pool net.ProxyProvider, active bool) (*CatalogFetch, error) {
	pageSize := s.cabinet.PageSize()

	first := s.fetchPage(ctx, merchant, pool, 0, pageSize, active)
	if !first.OK() {
		return nil, fmt.Errorf("fetch catalog page 0 of merchant %d: %w", merchant.ID, first.Err)
	}

	pageCount := utils.CeilDiv(first.Value.Total, pageSize)
	pages := make([][]CabinetProduct, pageCount)
	if pageCount > 0 {
		pages[0] = first.Value.Data
	} else {
		pages = [][]CabinetProduct{first.Value.Data}
	}

	var (
		mu      sync.Mutex
		dropped []int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pool.Len())
	for page := 1; page < pageCount; page++ {
		page := page
		g.Go(func() error {
			res := s.fetchPage(gctx, merchant, pool, page, pageSize, active)
			mu.Lock()
			defer mu.Unlock()
			if !res.OK() {
				s.log.Error("[Catalog] 页面抓取失败，跳过",
					zap.Int64("merchant_id", merchant.ID), zap.Int("page", page),
					zap.Int("attempts", res.Attempts), zap.Error(res.Err))
				dropped = append(dropped, page)
				return nil
			}
			pages[page] = res.Value.Data
			return nil
		})
	}
	_ = g.Wait()
	sort.Ints(dropped)

	fetch := &CatalogFetch{
		Items:        make([]CabinetProduct, 0, first.Value.Total),
		Total:        first.Value.Total,
		DroppedPages: dropped,
	}
	for _, p := range pages {
		fetch.Items = append(fetch.Items, p...)
	}
	if err := ctx.Err(); err != nil {
		return fetch, err
	}

	s.log.Info("[Catalog] 目录抓取完成",
		zap.Int64("merchant_id", merchant.ID),
		zap.Int("total", fetch.Total),
		zap.Int("fetched", len(fetch.Items)),
		zap.Ints("dropped_pages", fetch.DroppedPages))
	return fetch, nil
}

func (s *CatalogService) fetchPage(ctx context.Context, merchant *model.Merchant, pool net.ProxyProvider, page, pageSize int, active bool) net.Result[*CabinetProductList] {
	return net.Retry(ctx, s.opts.Retry, func(ctx context.Context, attempt int) (*CabinetProductList, error) {
		return s.cabinet.ListProducts(ctx, pool.Get(), merchant, page, pageSize, active)
	})
}

// SyncMerchant 同步商户目录：抓取、扫描竞争对手、入库，并把下架商品移出工作集
func (s *CatalogService) SyncMerchant(ctx context.Context, merchant *model.Merchant, pool net.ProxyProvider, throttle *utils.BatchThrottle) (*SyncReport, error) {
	report := &SyncReport{MerchantID: merchant.ID}

	// 1. 抓取在售目录；密码错误时通知商户
	fetch, err := s.FetchCatalog(ctx, merchant, pool, true)
	if err != nil {
		if errors.Is(err, ErrIncorrectLogin) && s.notifications != nil {
			if _, nerr := s.notifications.ReportIncorrectLogin(ctx, merchant); nerr != nil {
				s.log.Error("[Catalog] 记录登录异常失败", zap.Int64("merchant_id", merchant.ID), zap.Error(nerr))
			}
		}
		return report, err
	}
	if s.notifications != nil {
		if err := s.notifications.ResolveLoginProblems(ctx, merchant); err != nil {
			s.log.Warn("[Catalog] 清除登录异常标记失败", zap.Int64("merchant_id", merchant.ID), zap.Error(err))
		}
	}
	items := fetch.Items
	report.Fetched = len(items)
	report.DroppedPages = fetch.DroppedPages

	// 2. 去重后扫描竞争对手
	seen := make(map[string]struct{}, len(items))
	unique := make([]CabinetProduct, 0, len(items))
	skus := make([]string, 0, len(items))
	for _, it := range items {
		if it.MasterSKU == "" {
			continue
		}
		if _, ok := seen[it.MasterSKU]; ok {
			continue
		}
		seen[it.MasterSKU] = struct{}{}
		unique = append(unique, it)
		skus = append(skus, it.MasterSKU)
	}
	offers, stats := s.scanner.ScanAll(ctx, pool, skus, merchant.EffectiveCityID())
	report.Scanned = stats.OK

	// 3. 分块入库
	now := time.Now()
	for _, chunk := range utils.Chunk(unique, s.opts.SaveChunkSize) {
		var scanned, unscanned []model.Product
		for _, it := range chunk {
			p := toProduct(merchant.ID, it)
			if list, ok := offers[it.MasterSKU]; ok {
				rank, prices := ComputeRank(FilterExcluded(list, merchant), merchant.Name)
				p.SetScanResult(rank, prices, now)
				scanned = append(scanned, p)
			} else {
				unscanned = append(unscanned, p)
			}
		}

		if err := s.productRepo.UpsertBatch(ctx, scanned, true); err != nil {
			return report, fmt.Errorf("save products of merchant %d: %w", merchant.ID, err)
		}
		if err := s.productRepo.UpsertBatch(ctx, unscanned, false); err != nil {
			return report, fmt.Errorf("save products of merchant %d: %w", merchant.ID, err)
		}
		report.Saved += len(chunk)

		if paused, err := throttle.Add(ctx, len(chunk)); err != nil {
			return report, err
		} else if paused {
			s.log.Info("[Catalog] 达到批量阈值，暂停", zap.Int("processed", throttle.Count()))
		}
	}

	// 4. 本次未出现的商品移出工作集；有页缺失时目录不完整，保留原状态
	if fetch.Complete() {
		deactivated, err := s.productRepo.MarkAbsentNotRecentlyParsed(ctx, merchant.ID, skus)
		if err != nil {
			return report, fmt.Errorf("mark absent products of merchant %d: %w", merchant.ID, err)
		}
		report.Deactivated = deactivated
	} else {
		s.log.Warn("[Catalog] 目录不完整，跳过下架处理",
			zap.Int64("merchant_id", merchant.ID), zap.Ints("dropped_pages", fetch.DroppedPages))
	}

	s.log.Info("[Catalog] 商户同步完成",
		zap.Int64("merchant_id", merchant.ID),
		zap.Int("fetched", report.Fetched),
		zap.Int("scanned", report.Scanned),
		zap.Int("saved", report.Saved),
		zap.Int64("deactivated", report.Deactivated))
	return report, nil
}

func toProduct(merchantID int64, it CabinetProduct) model.Product {
	p := model.Product{
		MerchantID:      merchantID,
		MasterSKU:       it.MasterSKU,
		Code:            it.SKU,
		Title:           it.MasterTitle,
		Price:           it.MinPrice,
		Available:       it.Available,
		Availabilities:  it.Availabilities,
		ProductCardLink: it.ShopLink,
		RecentlyParsed:  true,
	}
	if len(it.Images) > 0 {
		p.ProductImageLink = it.Images[0]
	}
	return p
}
