package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kaspi_dumping_v1/internal/metrics"
	"kaspi_dumping_v1/internal/model"
	"kaspi_dumping_v1/internal/repository"
	"kaspi_dumping_v1/pkg/cache"
	"kaspi_dumping_v1/pkg/net"
)

const changeKeyPrefix = "product_changed:"

// ChangeKey 最近改价时间的缓存 key
func ChangeKey(productID int64) string {
	return fmt.Sprintf("%s%d", changeKeyPrefix, productID)
}

// PriceWriter 把新价格写回后台并留痕
type PriceWriter struct {
	cabinet     *CabinetClient
	productRepo repository.ProductRepository
	priceRepo   repository.ProductPriceRepository
	changes     cache.Store
	policy      net.RetryPolicy
	changeTTL   time.Duration
	now         func() time.Time
	log         *zap.Logger
}

func NewPriceWriter(
	cabinet *CabinetClient,
	productRepo repository.ProductRepository,
	priceRepo repository.ProductPriceRepository,
	changes cache.Store,
	policy net.RetryPolicy,
	changeTTL time.Duration,
	log *zap.Logger,
) *PriceWriter {
	if policy.MaxAttempts <= 0 {
		policy = net.AnyErrorPolicy(3, 2*time.Second)
	}
	if changeTTL <= 0 {
		changeTTL = 10 * time.Minute
	}
	return &PriceWriter{
		cabinet:     cabinet,
		productRepo: productRepo,
		priceRepo:   priceRepo,
		changes:     changes,
		policy:      policy,
		changeTTL:   changeTTL,
		now:         time.Now,
		log:         log.With(zap.String("component", "price_writer")),
	}
}

// OfferSKU 后台以商户 SKU 识别商品，缺失时退回平台 SKU
func OfferSKU(p *model.Product) string {
	if p.Code != "" {
		return p.Code
	}
	return p.MasterSKU
}

// WritePrice 上传新价格；成功后记录 ProductPrice 并更新商品价格
// details 为空时使用商品自身可售门店
func (w *PriceWriter) WritePrice(
	ctx context.Context,
	proxies net.ProxyProvider,
	merchant *model.Merchant,
	product *model.Product,
	newPrice int64,
	details *OfferDetails,
	runUID string,
) net.Result[*model.ProductPrice] {
	req := UpdateOfferReq{
		SKU:   OfferSKU(product),
		Model: product.Title,
		Price: newPrice,
	}
	if details != nil {
		req.Availabilities = details.Availabilities
		req.CityPrices = details.CityPrices
	}
	if len(req.Availabilities) == 0 {
		for _, a := range product.Availabilities {
			if a.Available == "yes" {
				req.Availabilities = append(req.Availabilities, a)
			}
		}
	}

	// 1. 上传（任意错误重试）
	upload := net.Retry(ctx, w.policy, func(ctx context.Context, attempt int) (struct{}, error) {
		if attempt > 1 {
			w.log.Info("[PriceWriter] 重试改价", zap.Int64("product_id", product.ID), zap.Int("attempt", attempt))
		}
		return struct{}{}, w.cabinet.UpdateOffer(ctx, proxies.Get(), merchant, req)
	})
	if !upload.OK() {
		metrics.PriceWritesTotal.WithLabelValues("failed").Inc()
		w.log.Error("[PriceWriter] 改价失败",
			zap.Int64("product_id", product.ID),
			zap.String("sku", req.SKU),
			zap.Int64("current_price", product.Price),
			zap.Int64("target_price", newPrice),
			zap.String("run_uid", runUID),
			zap.Error(upload.Err))
		return net.Result[*model.ProductPrice]{Err: upload.Err, Attempts: upload.Attempts, Exhausted: upload.Exhausted}
	}

	// 2. 留痕
	now := w.now()
	record := &model.ProductPrice{
		ProductID:      product.ID,
		ChangedPrice:   newPrice,
		DateOfChanging: now,
		RunUID:         runUID,
	}
	if err := w.priceRepo.Create(ctx, record); err != nil {
		w.log.Error("[PriceWriter] 保存改价记录失败", zap.Int64("product_id", product.ID), zap.Error(err))
	}
	if err := w.productRepo.UpdatePrice(ctx, product.ID, newPrice); err != nil {
		w.log.Error("[PriceWriter] 更新商品价格失败", zap.Int64("product_id", product.ID), zap.Error(err))
	}
	product.Price = newPrice

	// 3. 最近改价时间
	if err := w.changes.Set(ctx, ChangeKey(product.ID), now.Format(time.RFC3339), w.changeTTL); err != nil {
		w.log.Warn("[PriceWriter] 写改价缓存失败", zap.Int64("product_id", product.ID), zap.Error(err))
	}

	metrics.PriceWritesTotal.WithLabelValues("ok").Inc()
	return net.Result[*model.ProductPrice]{Value: record, Attempts: upload.Attempts}
}
