package repository

import (
	"context"

	"gorm.io/gorm"

	"kaspi_dumping_v1/internal/model"
)

// ProductPriceRepository 改价记录仓储
type ProductPriceRepository interface {
	Create(ctx context.Context, record *model.ProductPrice) error
	ListByProduct(ctx context.Context, productID int64, limit int) ([]model.ProductPrice, error)
}

type productPriceRepo struct {
	db *gorm.DB
}

func NewProductPriceRepository(db *gorm.DB) ProductPriceRepository {
	return &productPriceRepo{db: db}
}

func (r *productPriceRepo) Create(ctx context.Context, record *model.ProductPrice) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// ListByProduct 最近的改价记录，新的在前
func (r *productPriceRepo) ListByProduct(ctx context.Context, productID int64, limit int) ([]model.ProductPrice, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []model.ProductPrice
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("date_of_changing DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
