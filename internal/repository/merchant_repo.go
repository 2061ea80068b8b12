package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"kaspi_dumping_v1/internal/model"
)

// ==================== 接口定义 ====================

// MerchantRepository 商户仓储接口
type MerchantRepository interface {
	Create(ctx context.Context, merchant *model.Merchant) error
	GetByID(ctx context.Context, id int64) (*model.Merchant, error)
	GetByIDs(ctx context.Context, ids []int64) ([]model.Merchant, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error

	// 列表查询
	ListActive(ctx context.Context) ([]model.Merchant, error)
	ListSubscriptionExpired(ctx context.Context, now time.Time) ([]model.Merchant, error)

	// 状态相关
	SetInformedAboutLoginProblems(ctx context.Context, id int64, informed bool) error
	Disable(ctx context.Context, ids []int64) (int64, error)
}

// ==================== 仓储实现 ====================

type merchantRepo struct {
	db *gorm.DB
}

// NewMerchantRepository 创建商户仓储
func NewMerchantRepository(db *gorm.DB) MerchantRepository {
	return &merchantRepo{db: db}
}

func (r *merchantRepo) Create(ctx context.Context, merchant *model.Merchant) error {
	return r.db.WithContext(ctx).Create(merchant).Error
}

func (r *merchantRepo) GetByID(ctx context.Context, id int64) (*model.Merchant, error) {
	var merchant model.Merchant
	if err := r.db.WithContext(ctx).First(&merchant, id).Error; err != nil {
		return nil, err
	}
	return &merchant, nil
}

func (r *merchantRepo) GetByIDs(ctx context.Context, ids []int64) ([]model.Merchant, error) {
	var merchants []model.Merchant
	if len(ids) == 0 {
		return merchants, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&merchants).Error
	return merchants, err
}

func (r *merchantRepo) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.Merchant{}).Where("id = ?", id).Updates(fields).Error
}

// ListActive 启用且开启解析的商户
func (r *merchantRepo) ListActive(ctx context.Context) ([]model.Merchant, error) {
	var merchants []model.Merchant
	err := r.db.WithContext(ctx).
		Model(&model.Merchant{}).
		Where("enabled = ? AND enable_parsing = ?", true, true).
		Order("id ASC").
		Find(&merchants).Error
	return merchants, err
}

// ListSubscriptionExpired 仍启用但订阅已到期的商户
// 到期时间依赖 SubscriptionDays，按模型方法在内存中判定
func (r *merchantRepo) ListSubscriptionExpired(ctx context.Context, now time.Time) ([]model.Merchant, error) {
	var candidates []model.Merchant
	err := r.db.WithContext(ctx).
		Model(&model.Merchant{}).
		Where("enabled = ? AND subscription_start IS NOT NULL", true).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	expired := make([]model.Merchant, 0)
	for _, m := range candidates {
		if m.IsSubscriptionExpired(now) {
			expired = append(expired, m)
		}
	}
	return expired, nil
}

func (r *merchantRepo) SetInformedAboutLoginProblems(ctx context.Context, id int64, informed bool) error {
	return r.db.WithContext(ctx).
		Model(&model.Merchant{}).
		Where("id = ?", id).
		Update("informed_about_login_problems", informed).Error
}

// Disable 关闭商户及其解析
func (r *merchantRepo) Disable(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&model.Merchant{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"enabled":        false,
			"enable_parsing": false,
		})
	return result.RowsAffected, result.Error
}
