package task

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"kaspi_dumping_v1/internal/model"
	"kaspi_dumping_v1/internal/repository"
	"kaspi_dumping_v1/internal/service"
	"kaspi_dumping_v1/pkg/net"
	"kaspi_dumping_v1/pkg/utils"
)

// CatalogSyncer 商户目录同步
type CatalogSyncer interface {
	SyncMerchant(ctx context.Context, merchant *model.Merchant, proxies net.ProxyProvider, throttle *utils.BatchThrottle) (*service.SyncReport, error)
}

// ==================== CatalogSyncTask 商品目录同步 ====================

// CatalogSyncTask 定时拉取所有活跃商户的后台目录
// 同一次执行共用一个代理池和一个批量节流器
type CatalogSyncTask struct {
	schedule

	merchantRepo repository.MerchantRepository
	catalog      CatalogSyncer
	pools        service.PoolSource
	runner       *JobRunner

	concurrencyLimit int
	throttleEvery    int
	throttlePause    time.Duration
}

// NewCatalogSyncTask 创建目录同步任务
func NewCatalogSyncTask(
	merchantRepo repository.MerchantRepository,
	catalog CatalogSyncer,
	pools service.PoolSource,
	runner *JobRunner,
	spec string,
	log *zap.Logger,
) *CatalogSyncTask {
	return &CatalogSyncTask{
		schedule:         newSchedule("catalog_sync", spec, 2*time.Hour, true, log),
		merchantRepo:     merchantRepo,
		catalog:          catalog,
		pools:            pools,
		runner:           runner,
		concurrencyLimit: 2,
		throttleEvery:    1000,
		throttlePause:    10 * time.Second,
	}
}

// SetThrottle 设置并发和节流参数
func (t *CatalogSyncTask) SetThrottle(concurrency, every int, pause time.Duration) {
	if concurrency > 0 {
		t.concurrencyLimit = concurrency
	}
	t.throttleEvery = every
	t.throttlePause = pause
}

// Start 启动定时任务
func (t *CatalogSyncTask) Start() error {
	return t.start(func(ctx context.Context) { _ = t.Execute(ctx) })
}

// Stop 停止任务
func (t *CatalogSyncTask) Stop() { t.stop() }

// Execute 执行一次全量目录同步
func (t *CatalogSyncTask) Execute(ctx context.Context) error {
	return t.runner.Run(ctx, "catalog_sync", t.syncAll)
}

// SyncMerchantNow 立即同步一个商户
func (t *CatalogSyncTask) SyncMerchantNow(ctx context.Context, merchantID int64) (*service.SyncReport, error) {
	var report *service.SyncReport
	err := t.runner.RunScoped(ctx, "catalog_sync_merchant", strconv.FormatInt(merchantID, 10), func(ctx context.Context, _ string) error {
		merchant, err := t.merchantRepo.GetByID(ctx, merchantID)
		if err != nil {
			return err
		}
		proxies, err := t.pools.AcquirePool(ctx)
		if err != nil {
			return err
		}
		report, err = t.catalog.SyncMerchant(ctx, merchant, proxies, nil)
		return err
	})
	return report, err
}

func (t *CatalogSyncTask) syncAll(ctx context.Context, runID string) error {
	log := t.log.With(zap.String("run_id", runID))

	merchants, err := t.merchantRepo.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(merchants) == 0 {
		log.Info("[CatalogSyncTask] 无活跃商户需要同步")
		return nil
	}

	proxies, err := t.pools.AcquirePool(ctx)
	if err != nil {
		return err
	}
	throttle := utils.NewBatchThrottle(t.throttleEvery, t.throttlePause)

	var (
		mu           sync.Mutex
		successCount int
		failCount    int
		saved        int
	)
	workers := pool.New().WithMaxGoroutines(t.concurrencyLimit)

	log.Info("[CatalogSyncTask] 开始同步", zap.Int("merchants", len(merchants)), zap.Int("proxies", proxies.Len()))
	for i := range merchants {
		merchant := &merchants[i]
		if ctx.Err() != nil {
			log.Warn("[CatalogSyncTask] 任务超时停止")
			break
		}

		workers.Go(func() {
			report, err := t.catalog.SyncMerchant(ctx, merchant, proxies, throttle)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failCount++
				log.Error("[CatalogSyncTask] 商户同步失败",
					zap.Int64("merchant_id", merchant.ID), zap.String("name", merchant.Name), zap.Error(err))
				return
			}
			successCount++
			saved += report.Saved
		})
	}
	workers.Wait()

	log.Info("[CatalogSyncTask] 同步完成",
		zap.Int("success", successCount),
		zap.Int("failed", failCount),
		zap.Int("saved", saved))
	return ctx.Err()
}
