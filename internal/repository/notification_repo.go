package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kaspi_dumping_v1/internal/model"
)

// NotificationRepository 商户通知仓储
type NotificationRepository interface {
	// CreateIfAbsent 不存在未解决的同类通知时才创建；返回是否新建
	CreateIfAbsent(ctx context.Context, n *model.UserNotification) (bool, error)
	MarkDelivered(ctx context.Context, id int64) error
	Resolve(ctx context.Context, merchantID int64, messageType string) (int64, error)
	ListUnresolved(ctx context.Context, merchantID int64) ([]model.UserNotification, error)
}

type notificationRepo struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepo{db: db}
}

// CreateIfAbsent 依赖部分唯一索引 idx_notification_unresolved 去重
// 并发写入时只有一方插入成功，其余方读回已有记录
func (r *notificationRepo) CreateIfAbsent(ctx context.Context, n *model.UserNotification) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(n)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	var existing model.UserNotification
	err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND message_type = ? AND resolved = ?", n.MerchantID, n.MessageType, false).
		First(&existing).Error
	if err != nil {
		return false, err
	}
	*n = existing
	return false, nil
}

func (r *notificationRepo) MarkDelivered(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&model.UserNotification{}).Where("id = ?", id).Update("delivered", true).Error
}

// Resolve 关闭未解决的同类通知，下次事件会重新通知
func (r *notificationRepo) Resolve(ctx context.Context, merchantID int64, messageType string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.UserNotification{}).
		Where("merchant_id = ? AND message_type = ? AND resolved = ?", merchantID, messageType, false).
		Update("resolved", true)
	return result.RowsAffected, result.Error
}

func (r *notificationRepo) ListUnresolved(ctx context.Context, merchantID int64) ([]model.UserNotification, error) {
	var list []model.UserNotification
	err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND resolved = ?", merchantID, false).
		Order("id ASC").
		Find(&list).Error
	return list, err
}
