package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kaspi_dumping_v1/internal/model"
)

// ==================== 接口定义 ====================

// ProductRepository 商品仓储接口
type ProductRepository interface {
	Create(ctx context.Context, product *model.Product) error
	GetByID(ctx context.Context, id int64) (*model.Product, error)
	GetByIDs(ctx context.Context, ids []int64) ([]model.Product, error)
	GetByMerchantAndSKU(ctx context.Context, merchantID int64, masterSKU string) (*model.Product, error)

	// 改价调度
	ListIDsForReconcile(ctx context.Context, merchantIDs []int64) ([]int64, error)

	// 目录同步
	UpsertBatch(ctx context.Context, products []model.Product, withScan bool) error
	MarkAbsentNotRecentlyParsed(ctx context.Context, merchantID int64, keepSKUs []string) (int64, error)

	// 扫描与定价结果回写
	SaveScanResult(ctx context.Context, product *model.Product) error
	SaveTemperature(ctx context.Context, product *model.Product) error
	UpdatePrice(ctx context.Context, id int64, price int64) error
}

// ==================== 仓储实现 ====================

type productRepo struct {
	db *gorm.DB
}

// NewProductRepository 创建商品仓储
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepo{db: db}
}

// 同步时允许覆盖的列，定价规则和温度状态保持不变
var (
	upsertColumns = []string{
		"title", "code", "price", "available", "availabilities",
		"product_card_link", "product_image_link", "recently_parsed", "updated_at",
	}
	scanColumns = []string{
		"current_price_place", "first_place_price", "second_place_price", "third_place_price", "last_parsed_at",
	}
)

func (r *productRepo) Create(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *productRepo) GetByID(ctx context.Context, id int64) (*model.Product, error) {
	var product model.Product
	if err := r.db.WithContext(ctx).First(&product, id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// GetByIDs 按 ID 批量获取商品（带商户）
func (r *productRepo) GetByIDs(ctx context.Context, ids []int64) ([]model.Product, error) {
	var products []model.Product
	if len(ids) == 0 {
		return products, nil
	}
	err := r.db.WithContext(ctx).
		Preload("Merchant").
		Where("id IN ?", ids).
		Order("merchant_id ASC, id ASC").
		Find(&products).Error
	return products, err
}

func (r *productRepo) GetByMerchantAndSKU(ctx context.Context, merchantID int64, masterSKU string) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND master_sku = ?", merchantID, masterSKU).
		First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListIDsForReconcile 需要自动改价的商品 ID
func (r *productRepo) ListIDsForReconcile(ctx context.Context, merchantIDs []int64) ([]int64, error) {
	var ids []int64
	if len(merchantIDs) == 0 {
		return ids, nil
	}
	err := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("merchant_id IN ? AND recently_parsed = ? AND price_auto_change = ?", merchantIDs, true, true).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// UpsertBatch 以 (merchant_id, master_sku) 为键写入或更新
// withScan 为 false 时保留已有的名次和前三价格
func (r *productRepo) UpsertBatch(ctx context.Context, products []model.Product, withScan bool) error {
	if len(products) == 0 {
		return nil
	}
	columns := upsertColumns
	if withScan {
		columns = append(append([]string{}, upsertColumns...), scanColumns...)
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "merchant_id"}, {Name: "master_sku"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).
		Create(&products).Error
}

// MarkAbsentNotRecentlyParsed 本次同步未出现的商品移出工作集
func (r *productRepo) MarkAbsentNotRecentlyParsed(ctx context.Context, merchantID int64, keepSKUs []string) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("merchant_id = ? AND recently_parsed = ?", merchantID, true)
	if len(keepSKUs) > 0 {
		query = query.Where("master_sku NOT IN ?", keepSKUs)
	}
	result := query.Update("recently_parsed", false)
	return result.RowsAffected, result.Error
}

func (r *productRepo) SaveScanResult(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", product.ID).
		Updates(map[string]interface{}{
			"current_price_place": product.CurrentPricePlace,
			"first_place_price":   product.FirstPlacePrice,
			"second_place_price":  product.SecondPlacePrice,
			"third_place_price":   product.ThirdPlacePrice,
			"last_parsed_at":      product.LastParsedAt,
		}).Error
}

func (r *productRepo) SaveTemperature(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", product.ID).
		Updates(map[string]interface{}{
			"product_flag":                     product.ProductFlag,
			"num_checks_without_changed_price": product.NumChecksWithoutChangedPrice,
			"num_checks_to_skip":               product.NumChecksToSkip,
		}).Error
}

func (r *productRepo) UpdatePrice(ctx context.Context, id int64, price int64) error {
	return r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"price":      price,
			"updated_at": time.Now(),
		}).Error
}
