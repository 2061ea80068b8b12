package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kaspi_dumping_v1/internal/metrics"
	"kaspi_dumping_v1/internal/model"
	"kaspi_dumping_v1/internal/pricing"
	"kaspi_dumping_v1/internal/repository"
	"kaspi_dumping_v1/pkg/net"
	"kaspi_dumping_v1/pkg/utils"
)

// PoolSource 每次调用返回一个新探活的代理池
type PoolSource interface {
	AcquirePool(ctx context.Context) (*net.Pool, error)
}

// ReconcileOptions 对账改价参数
type ReconcileOptions struct {
	// BatchLimit 单次加载的商品上限
	BatchLimit    int
	WriteCooldown time.Duration
	// MaxChanges 商户未设置改价上限时使用
	MaxChanges int
	Skip       pricing.SkipConfig
}

// ReconcileReport 一次对账的统计
type ReconcileReport struct {
	RunUID    string `json:"run_uid"`
	Checked   int    `json:"checked"`
	Skipped   int    `json:"skipped"`
	Unchanged int    `json:"unchanged"`
	Changed   int    `json:"changed"`
	Failed    int    `json:"failed"`
	NoData    int    `json:"no_data"`
}

// Merge 累加另一份统计
func (r *ReconcileReport) Merge(o ReconcileReport) {
	r.Checked += o.Checked
	r.Skipped += o.Skipped
	r.Unchanged += o.Unchanged
	r.Changed += o.Changed
	r.Failed += o.Failed
	r.NoData += o.NoData
}

type pendingChange struct {
	product *model.Product
	price   int64
}

// ReconcileService 扫描竞争对手、决策并改价
type ReconcileService struct {
	pools         PoolSource
	cabinet       *CabinetClient
	scanner       *ScannerService
	writer        *PriceWriter
	notifications *NotificationService
	productRepo   repository.ProductRepository
	opts          ReconcileOptions
	now           func() time.Time
	log           *zap.Logger
}

func NewReconcileService(
	pools PoolSource,
	cabinet *CabinetClient,
	scanner *ScannerService,
	writer *PriceWriter,
	notifications *NotificationService,
	productRepo repository.ProductRepository,
	opts ReconcileOptions,
	log *zap.Logger,
) *ReconcileService {
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 50
	}
	if opts.WriteCooldown < 0 {
		opts.WriteCooldown = 0
	}
	if opts.Skip.WarmSkipN <= 0 && opts.Skip.ColdSkipN <= 0 {
		opts.Skip = pricing.DefaultSkipConfig()
	}
	return &ReconcileService{
		pools:         pools,
		cabinet:       cabinet,
		scanner:       scanner,
		writer:        writer,
		notifications: notifications,
		productRepo:   productRepo,
		opts:          opts,
		now:           time.Now,
		log:           log.With(zap.String("component", "reconcile")),
	}
}

// BatchLimit 单次加载的商品上限
func (s *ReconcileService) BatchLimit() int { return s.opts.BatchLimit }

// ProcessMerchant 对一个商户的全部自动改价商品执行对账
func (s *ReconcileService) ProcessMerchant(ctx context.Context, merchantID int64) (*ReconcileReport, error) {
	ids, err := s.productRepo.ListIDsForReconcile(ctx, []int64{merchantID})
	if err != nil {
		return nil, fmt.Errorf("list products of merchant %d: %w", merchantID, err)
	}
	return s.ProcessProducts(ctx, ids)
}

// ProcessProducts 对指定商品执行一次对账
// 代理池获取失败时整次调用中止；单个商户失败只影响该商户
func (s *ReconcileService) ProcessProducts(ctx context.Context, productIDs []int64) (*ReconcileReport, error) {
	report := &ReconcileReport{RunUID: uuid.NewString()}
	if len(productIDs) == 0 {
		return report, nil
	}

	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	// 1. 代理池
	pool, err := s.pools.AcquirePool(ctx)
	if err != nil {
		return report, err
	}

	// 2. 分批加载并按商户分组
	for _, ids := range utils.Chunk(productIDs, s.opts.BatchLimit) {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		products, err := s.productRepo.GetByIDs(ctx, ids)
		if err != nil {
			return report, fmt.Errorf("load products: %w", err)
		}

		for _, group := range groupByMerchant(products) {
			report.Merge(s.processMerchant(ctx, pool, group.merchant, group.products, report.RunUID))
		}
	}

	s.log.Info("[Reconcile] 对账完成",
		zap.String("run_uid", report.RunUID),
		zap.Int("checked", report.Checked),
		zap.Int("skipped", report.Skipped),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("changed", report.Changed),
		zap.Int("failed", report.Failed),
		zap.Int("no_data", report.NoData),
		zap.Duration("took", time.Since(start)))
	return report, nil
}

type merchantGroup struct {
	merchant *model.Merchant
	products []*model.Product
}

// groupByMerchant 保持加载顺序；没有关联商户的商品丢弃
func groupByMerchant(products []model.Product) []merchantGroup {
	var groups []merchantGroup
	index := make(map[int64]int)
	for i := range products {
		p := &products[i]
		if p.Merchant == nil {
			continue
		}
		pos, ok := index[p.MerchantID]
		if !ok {
			pos = len(groups)
			index[p.MerchantID] = pos
			groups = append(groups, merchantGroup{merchant: p.Merchant})
		}
		groups[pos].products = append(groups[pos].products, p)
	}
	return groups
}

func (s *ReconcileService) processMerchant(ctx context.Context, pool *net.Pool, merchant *model.Merchant, products []*model.Product, runUID string) ReconcileReport {
	var report ReconcileReport
	log := s.log.With(zap.Int64("merchant_id", merchant.ID), zap.String("run_uid", runUID))

	// 1. 会话
	if _, err := s.cabinet.Session(ctx, merchant); err != nil {
		report.Failed = len(products)
		if errors.Is(err, ErrIncorrectLogin) {
			log.Warn("[Reconcile] 后台登录失败，跳过商户")
			if _, nerr := s.notifications.ReportIncorrectLogin(ctx, merchant); nerr != nil {
				log.Error("[Reconcile] 记录登录异常失败", zap.Error(nerr))
			}
			return report
		}
		log.Error("[Reconcile] 获取会话失败，跳过商户", zap.Error(err))
		return report
	}
	if err := s.notifications.ResolveLoginProblems(ctx, merchant); err != nil {
		log.Warn("[Reconcile] 清除登录异常标记失败", zap.Error(err))
	}

	// 2. 跳过周期内的商品不扫描
	var toScan []*model.Product
	for _, p := range products {
		report.Checked++
		d := pricing.Decide(s.input(merchant, p))
		if d.Action != pricing.Skip {
			toScan = append(toScan, p)
			continue
		}
		metrics.DecisionsTotal.WithLabelValues(d.Action.String()).Inc()
		report.Skipped++
		s.advance(ctx, p, d)
	}
	if len(toScan) == 0 {
		return report
	}

	// 3. 扫描竞争对手
	skus := make([]string, 0, len(toScan))
	for _, p := range toScan {
		skus = append(skus, p.MasterSKU)
	}
	offers, _ := s.scanner.ScanAll(ctx, pool, skus, merchant.EffectiveCityID())

	// 4. 决策并推进温度
	var changes []pendingChange
	now := s.now()
	for _, p := range toScan {
		list, ok := offers[p.MasterSKU]
		if !ok {
			report.NoData++
			continue
		}
		rank, prices := ComputeRank(FilterExcluded(list, merchant), merchant.Name)
		p.SetScanResult(rank, prices, now)
		if err := s.productRepo.SaveScanResult(ctx, p); err != nil {
			log.Error("[Reconcile] 保存扫描结果失败", zap.Int64("product_id", p.ID), zap.Error(err))
		}

		d := pricing.Decide(s.input(merchant, p))
		metrics.DecisionsTotal.WithLabelValues(d.Action.String()).Inc()
		s.advance(ctx, p, d)

		switch d.Action {
		case pricing.Change:
			changes = append(changes, pendingChange{product: p, price: d.Price})
		case pricing.Skip:
			report.Skipped++
		default:
			report.Unchanged++
			log.Debug("[Reconcile] 无需改价",
				zap.Int64("product_id", p.ID), zap.String("sku", p.MasterSKU), zap.String("reason", string(d.Reason)))
		}
	}
	if len(changes) == 0 {
		return report
	}

	// 5. 改价数量超限时整批放弃
	if limit := merchant.MaxPriceChanges(s.opts.MaxChanges); len(changes) > limit {
		log.Warn("[Reconcile] 改价数量超过上限，本批不改价",
			zap.Int("changes", len(changes)), zap.Int("limit", limit), zap.Error(ErrTooManyChanges))
		report.Failed += len(changes)
		return report
	}

	changed, failed := s.writeChanges(ctx, pool, merchant, changes, runUID)
	report.Changed += changed
	report.Failed += failed
	return report
}

// writeChanges 按代理数量分批并发改价，批次间冷却
func (s *ReconcileService) writeChanges(ctx context.Context, pool *net.Pool, merchant *model.Merchant, changes []pendingChange, runUID string) (changed, failed int) {
	var mu sync.Mutex
	chunks := utils.Chunk(changes, pool.Len())
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			failed += countRemaining(chunks[i:])
			return changed, failed
		}

		var g errgroup.Group
		for _, c := range chunk {
			c := c
			g.Go(func() error {
				ok := s.writeOne(ctx, pool, merchant, c, runUID)
				mu.Lock()
				defer mu.Unlock()
				if ok {
					changed++
				} else {
					failed++
				}
				return nil
			})
		}
		_ = g.Wait()

		if i < len(chunks)-1 {
			if err := utils.Sleep(ctx, s.opts.WriteCooldown); err != nil {
				failed += countRemaining(chunks[i+1:])
				return changed, failed
			}
		}
	}
	return changed, failed
}

func (s *ReconcileService) writeOne(ctx context.Context, pool *net.Pool, merchant *model.Merchant, c pendingChange, runUID string) bool {
	details, err := s.cabinet.ProductDetails(ctx, pool.Get(), merchant, OfferSKU(c.product))
	if err != nil {
		s.log.Warn("[Reconcile] 获取商品详情失败，使用本地门店",
			zap.Int64("product_id", c.product.ID), zap.Error(err))
		details = nil
	}
	old := c.product.Price
	res := s.writer.WritePrice(ctx, pool, merchant, c.product, c.price, details, runUID)
	if !res.OK() {
		return false
	}
	s.log.Info("[Reconcile] 改价成功",
		zap.Int64("product_id", c.product.ID),
		zap.String("sku", c.product.MasterSKU),
		zap.Int64("old_price", old),
		zap.Int64("new_price", c.price),
		zap.String("run_uid", runUID))
	return true
}

func countRemaining(chunks [][]pendingChange) int {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	return n
}

func (s *ReconcileService) input(merchant *model.Merchant, p *model.Product) pricing.Input {
	return pricing.Input{
		CurrentPrice:     p.Price,
		CurrentRank:      p.CurrentPricePlace,
		CompetitorPrices: p.CompetitorPrices(),
		TargetRank:       pricing.ResolveTargetRank(p.TargetPricePlace, merchant.PricePlace),
		Delta:            pricing.ResolveDelta(p.PriceDifference, merchant.PriceDifference),
		MinPrice:         p.MinPrice,
		MaxPrice:         p.MaxPrice,
		ChecksToSkip:     p.NumChecksToSkip,
	}
}

// advance 推进温度并落库
func (s *ReconcileService) advance(ctx context.Context, p *model.Product, d pricing.Decision) {
	p.ApplyTemperature(pricing.Next(p.Temperature(), d, s.opts.Skip))
	if err := s.productRepo.SaveTemperature(ctx, p); err != nil {
		s.log.Error("[Reconcile] 保存温度状态失败", zap.Int64("product_id", p.ID), zap.Error(err))
	}
}
