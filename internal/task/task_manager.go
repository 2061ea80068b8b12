package task

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"kaspi_dumping_v1/config"
	"kaspi_dumping_v1/internal/repository"
	"kaspi_dumping_v1/internal/service"
	"kaspi_dumping_v1/pkg/cache"
)

// ==================== TaskManager 定时任务管理器 ====================

// TaskManager 统一管理对账、目录同步、订阅检查和代理巡检
type TaskManager struct {
	reconcileTask    *ReconcileTask
	catalogTask      *CatalogSyncTask
	subscriptionTask *SubscriptionTask
	proxyMonitor     *ProxyMonitor

	triggerTimeout time.Duration
	log            *zap.Logger
}

// TaskManagerDeps 任务管理器依赖
type TaskManagerDeps struct {
	// Repositories
	MerchantRepo repository.MerchantRepository
	ProductRepo  repository.ProductRepository

	// Services
	Pools         service.PoolSource
	Reconciler    Reconciler
	Catalog       CatalogSyncer
	Subscriptions SubscriptionChecker
	Proxies       ProxyChecker

	Locker cache.Locker
	Logger *zap.Logger
}

// TaskManagerConfig 任务管理器配置
type TaskManagerConfig struct {
	// 对账改价
	ReconcileEnabled     bool
	ReconcileSpec        string
	ReconcileChunkSize   int
	ReconcileConcurrency int

	// 目录同步
	CatalogEnabled     bool
	CatalogSpec        string
	CatalogConcurrency int
	ThrottleEvery      int
	ThrottlePause      time.Duration

	// 订阅检查
	SubscriptionEnabled bool
	SubscriptionSpec    string

	// 代理巡检
	ProxyMonitorEnabled bool
	ProxyMonitorSpec    string

	// 互斥锁
	LockTTL     time.Duration
	LockHoldOff time.Duration

	// TriggerTimeout 手动触发的全量任务超时
	TriggerTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *TaskManagerConfig {
	return &TaskManagerConfig{
		ReconcileEnabled:     true,
		ReconcileSpec:        "0 */10 * * * *",
		ReconcileChunkSize:   50,
		ReconcileConcurrency: 4,

		CatalogEnabled:     true,
		CatalogSpec:        "0 0 */2 * * *",
		CatalogConcurrency: 2,
		ThrottleEvery:      1000,
		ThrottlePause:      10 * time.Second,

		SubscriptionEnabled: true,
		SubscriptionSpec:    "0 0 1 * * *",

		ProxyMonitorEnabled: true,
		ProxyMonitorSpec:    "0 0/15 * * * *",

		LockTTL:        2 * time.Hour,
		LockHoldOff:    5 * time.Second,
		TriggerTimeout: 30 * time.Minute,
	}
}

// ConfigFrom 从全局配置构建
func ConfigFrom(cfg *config.Config) *TaskManagerConfig {
	c := DefaultConfig()
	c.ReconcileEnabled = cfg.Tasks.ReconcileEnabled
	c.ReconcileSpec = cfg.Tasks.ReconcileSpec
	c.ReconcileChunkSize = cfg.Tasks.ReconcileChunkSize
	c.ReconcileConcurrency = cfg.Tasks.ReconcileConcurrency
	c.CatalogEnabled = cfg.Tasks.CatalogEnabled
	c.CatalogSpec = cfg.Tasks.CatalogSpec
	c.ThrottleEvery = cfg.Scanner.ThrottleEvery
	c.ThrottlePause = cfg.Scanner.ThrottlePause
	c.SubscriptionEnabled = cfg.Tasks.SubscriptionEnabled
	c.SubscriptionSpec = cfg.Tasks.SubscriptionSpec
	c.ProxyMonitorEnabled = cfg.Tasks.ProxyMonitorEnabled
	c.ProxyMonitorSpec = cfg.Tasks.ProxyMonitorSpec
	c.LockTTL = cfg.Tasks.LockTTL
	c.LockHoldOff = cfg.Tasks.LockHoldOff
	if cfg.Tasks.TriggerTimeout > 0 {
		c.TriggerTimeout = cfg.Tasks.TriggerTimeout
	}
	return c
}

// NewTaskManager 创建任务管理器
func NewTaskManager(deps *TaskManagerDeps, cfg *TaskManagerConfig) *TaskManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	runner := NewJobRunner(deps.Locker, cfg.LockTTL, cfg.LockHoldOff, log)
	tm := &TaskManager{triggerTimeout: cfg.TriggerTimeout, log: log.With(zap.String("component", "task_manager"))}

	// 对账改价
	if cfg.ReconcileEnabled && deps.Reconciler != nil {
		tm.reconcileTask = NewReconcileTask(deps.MerchantRepo, deps.ProductRepo, deps.Reconciler, runner, cfg.ReconcileSpec, log)
		tm.reconcileTask.SetConcurrency(cfg.ReconcileConcurrency, cfg.ReconcileChunkSize, 200*time.Millisecond)
	}

	// 目录同步
	if cfg.CatalogEnabled && deps.Catalog != nil {
		tm.catalogTask = NewCatalogSyncTask(deps.MerchantRepo, deps.Catalog, deps.Pools, runner, cfg.CatalogSpec, log)
		tm.catalogTask.SetThrottle(cfg.CatalogConcurrency, cfg.ThrottleEvery, cfg.ThrottlePause)
	}

	// 订阅检查
	if cfg.SubscriptionEnabled && deps.Subscriptions != nil {
		tm.subscriptionTask = NewSubscriptionTask(deps.Subscriptions, runner, cfg.SubscriptionSpec, log)
	}

	// 代理巡检
	if cfg.ProxyMonitorEnabled && deps.Proxies != nil {
		tm.proxyMonitor = NewProxyMonitor(deps.Proxies, runner, cfg.ProxyMonitorSpec, log)
	}

	return tm
}

// ==================== 生命周期管理 ====================

type starter interface {
	Start() error
}

// Start 启动所有任务；任一 cron 表达式非法时返回错误
func (tm *TaskManager) Start() error {
	tm.log.Info("[TaskManager] 正在启动定时任务...")

	var errs []error
	for _, t := range tm.tasks() {
		if err := t.Start(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	tm.log.Info("[TaskManager] 定时任务已全部启动")
	return nil
}

func (tm *TaskManager) tasks() []starter {
	var list []starter
	if tm.reconcileTask != nil {
		list = append(list, tm.reconcileTask)
	}
	if tm.catalogTask != nil {
		list = append(list, tm.catalogTask)
	}
	if tm.subscriptionTask != nil {
		list = append(list, tm.subscriptionTask)
	}
	if tm.proxyMonitor != nil {
		list = append(list, tm.proxyMonitor)
	}
	return list
}

// Stop 停止所有任务
func (tm *TaskManager) Stop() {
	tm.log.Info("[TaskManager] 正在停止定时任务...")

	if tm.reconcileTask != nil {
		tm.reconcileTask.Stop()
	}
	if tm.catalogTask != nil {
		tm.catalogTask.Stop()
	}
	if tm.subscriptionTask != nil {
		tm.subscriptionTask.Stop()
	}
	if tm.proxyMonitor != nil {
		tm.proxyMonitor.Stop()
	}

	tm.log.Info("[TaskManager] 定时任务已全部停止")
}

// ==================== 手动触发接口 ====================

// TriggerReconcile 后台触发一次全量对账
func (tm *TaskManager) TriggerReconcile() error {
	if tm.reconcileTask == nil {
		return ErrTaskDisabled
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), tm.triggerTimeout)
		defer cancel()
		if err := tm.reconcileTask.Execute(ctx); err != nil && !errors.Is(err, ErrJobLocked) {
			tm.log.Error("[TaskManager] 手动对账失败", zap.Error(err))
		}
	}()
	return nil
}

// TriggerMerchantReconcile 立即对账一个商户
func (tm *TaskManager) TriggerMerchantReconcile(ctx context.Context, merchantID int64) (*service.ReconcileReport, error) {
	if tm.reconcileTask == nil {
		return nil, ErrTaskDisabled
	}
	return tm.reconcileTask.ReconcileMerchantNow(ctx, merchantID)
}

// TriggerMerchantSync 立即同步一个商户的目录
func (tm *TaskManager) TriggerMerchantSync(ctx context.Context, merchantID int64) (*service.SyncReport, error) {
	if tm.catalogTask == nil {
		return nil, ErrTaskDisabled
	}
	return tm.catalogTask.SyncMerchantNow(ctx, merchantID)
}

// ==================== 状态查询 ====================

// Status 获取任务状态
func (tm *TaskManager) Status() map[string]bool {
	return map[string]bool{
		"reconcile":     tm.reconcileTask != nil,
		"catalog_sync":  tm.catalogTask != nil,
		"subscription":  tm.subscriptionTask != nil,
		"proxy_monitor": tm.proxyMonitor != nil,
	}
}

// ==================== 错误定义 ====================

type TaskError string

func (e TaskError) Error() string { return string(e) }

const (
	ErrTaskDisabled TaskError = "task is disabled"
	ErrJobLocked    TaskError = "job is already running"
)
