package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"kaspi_dumping_v1/internal/model"
)

// ProxyRepository 静态代理仓储接口
type ProxyRepository interface {
	Create(ctx context.Context, proxy *model.Proxy) error
	FindByEndpoint(ctx context.Context, ip, port string) (*model.Proxy, error)

	// 代理池与巡检
	ListUsable(ctx context.Context) ([]model.Proxy, error)
	FindCheckList(ctx context.Context) ([]model.Proxy, error)
	UpdateStatusAndCount(ctx context.Context, proxy *model.Proxy) error
	UpdateLastCheckTime(ctx context.Context, proxyID int64) error
}

type proxyRepo struct {
	db *gorm.DB
}

func NewProxyRepository(db *gorm.DB) ProxyRepository {
	return &proxyRepo{db: db}
}

// 1. 增查

// Create 创建代理
func (r *proxyRepo) Create(ctx context.Context, proxy *model.Proxy) error {
	return r.db.WithContext(ctx).Create(proxy).Error
}

// FindByEndpoint 根据 IP 和 Port 查重
func (r *proxyRepo) FindByEndpoint(ctx context.Context, ip, port string) (*model.Proxy, error) {
	var proxy model.Proxy
	err := r.db.WithContext(ctx).
		Where("ip = ? AND port = ?", ip, port).
		First(&proxy).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // 没找到，说明不重复
	}
	if err != nil {
		return nil, err
	}
	return &proxy, nil
}

// 2. 代理池

// ListUsable 启用且未报废的代理，作为代理池候选
func (r *proxyRepo) ListUsable(ctx context.Context) ([]model.Proxy, error) {
	var list []model.Proxy
	err := r.db.WithContext(ctx).
		Model(&model.Proxy{}).
		Where("is_active = ? AND status != ?", true, model.ProxyStatusDead).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

// 3. 巡检自愈

// FindCheckList 正常和暂时异常的代理；只有 status = 3 的被抛弃
func (r *proxyRepo) FindCheckList(ctx context.Context) ([]model.Proxy, error) {
	var list []model.Proxy
	err := r.db.WithContext(ctx).Model(&model.Proxy{}).Where("status != ?", model.ProxyStatusDead).Find(&list).Error
	return list, err
}

func (r *proxyRepo) UpdateStatusAndCount(ctx context.Context, proxy *model.Proxy) error {
	return r.db.WithContext(ctx).
		Model(&model.Proxy{}).
		Where("id = ?", proxy.ID).
		Updates(map[string]interface{}{
			"status":          proxy.Status,
			"failure_count":   proxy.FailureCount,
			"last_check_time": time.Now(),
		}).Error
}

// UpdateLastCheckTime 更新 monitor 最后检测时间
func (r *proxyRepo) UpdateLastCheckTime(ctx context.Context, proxyID int64) error {
	return r.db.WithContext(ctx).Model(&model.Proxy{}).Where("id = ?", proxyID).Update("last_check_time", time.Now()).Error
}
