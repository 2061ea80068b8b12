package task

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"kaspi_dumping_v1/internal/repository"
	"kaspi_dumping_v1/internal/service"
	"kaspi_dumping_v1/pkg/utils"
)

// Reconciler 对账改价
type Reconciler interface {
	ProcessProducts(ctx context.Context, productIDs []int64) (*service.ReconcileReport, error)
	ProcessMerchant(ctx context.Context, merchantID int64) (*service.ReconcileReport, error)
}

// ==================== ReconcileTask 定时对账改价 ====================

// ReconcileTask 对所有启用商户的自动改价商品执行对账
type ReconcileTask struct {
	schedule

	merchantRepo repository.MerchantRepository
	productRepo  repository.ProductRepository
	reconciler   Reconciler
	runner       *JobRunner

	// 并发控制
	concurrencyLimit int
	chunkSize        int
	sleepTime        time.Duration
}

// NewReconcileTask 创建对账任务
func NewReconcileTask(
	merchantRepo repository.MerchantRepository,
	productRepo repository.ProductRepository,
	reconciler Reconciler,
	runner *JobRunner,
	spec string,
	log *zap.Logger,
) *ReconcileTask {
	return &ReconcileTask{
		schedule:         newSchedule("reconcile", spec, 30*time.Minute, true, log),
		merchantRepo:     merchantRepo,
		productRepo:      productRepo,
		reconciler:       reconciler,
		runner:           runner,
		concurrencyLimit: 4,
		chunkSize:        50,
		sleepTime:        200 * time.Millisecond,
	}
}

// SetConcurrency 设置并发参数
func (t *ReconcileTask) SetConcurrency(limit, chunkSize int, sleep time.Duration) {
	if limit > 0 {
		t.concurrencyLimit = limit
	}
	if chunkSize > 0 {
		t.chunkSize = chunkSize
	}
	t.sleepTime = sleep
}

// Start 启动定时任务
func (t *ReconcileTask) Start() error {
	return t.start(func(ctx context.Context) { _ = t.Execute(ctx) })
}

// Stop 停止任务
func (t *ReconcileTask) Stop() { t.stop() }

// Execute 执行一次全量对账
func (t *ReconcileTask) Execute(ctx context.Context) error {
	return t.runner.Run(ctx, "reconcile", t.reconcileAll)
}

// ReconcileMerchantNow 立即对账一个商户
func (t *ReconcileTask) ReconcileMerchantNow(ctx context.Context, merchantID int64) (*service.ReconcileReport, error) {
	var report *service.ReconcileReport
	err := t.runner.RunScoped(ctx, "reconcile_merchant", strconv.FormatInt(merchantID, 10), func(ctx context.Context, _ string) error {
		r, err := t.reconciler.ProcessMerchant(ctx, merchantID)
		report = r
		return err
	})
	return report, err
}

// reconcileAll 商户 -> 商品 ID -> 分块并发处理
func (t *ReconcileTask) reconcileAll(ctx context.Context, runID string) error {
	log := t.log.With(zap.String("run_id", runID))

	// 1. 启用且开启解析的商户
	merchants, err := t.merchantRepo.ListActive(ctx)
	if err != nil {
		return err
	}
	merchantIDs := make([]int64, 0, len(merchants))
	for _, m := range merchants {
		merchantIDs = append(merchantIDs, m.ID)
	}

	// 2. 需要自动改价的商品
	productIDs, err := t.productRepo.ListIDsForReconcile(ctx, merchantIDs)
	if err != nil {
		return err
	}
	if len(productIDs) == 0 {
		log.Info("[ReconcileTask] 无需要对账的商品")
		return nil
	}

	// 3. 分块并发
	chunks := utils.Chunk(productIDs, t.chunkSize)
	log.Info("[ReconcileTask] 开始对账",
		zap.Int("merchants", len(merchants)),
		zap.Int("products", len(productIDs)),
		zap.Int("chunks", len(chunks)))

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		total       service.ReconcileReport
		failedChunk int
		lastErr     error
	)
	sem := make(chan struct{}, t.concurrencyLimit)

	for _, chunk := range chunks {
		select {
		case <-ctx.Done():
			log.Warn("[ReconcileTask] 任务超时停止")
			wg.Wait()
			return ctx.Err()
		default:
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(ids []int64) {
			defer wg.Done()
			defer func() { <-sem }()

			report, err := t.reconciler.ProcessProducts(ctx, ids)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failedChunk++
				lastErr = err
				log.Error("[ReconcileTask] 批次失败", zap.Int("size", len(ids)), zap.Error(err))
				return
			}
			total.Merge(*report)
		}(chunk)

		if err := utils.Sleep(ctx, t.sleepTime); err != nil {
			break
		}
	}
	wg.Wait()

	log.Info("[ReconcileTask] 对账完成",
		zap.Int("checked", total.Checked),
		zap.Int("changed", total.Changed),
		zap.Int("unchanged", total.Unchanged),
		zap.Int("skipped", total.Skipped),
		zap.Int("failed", total.Failed),
		zap.Int("no_data", total.NoData),
		zap.Int("failed_chunks", failedChunk))

	// 所有批次都失败时向上报告
	if failedChunk == len(chunks) {
		return lastErr
	}
	return nil
}
