package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kaspi_dumping_v1/internal/metrics"
	"kaspi_dumping_v1/pkg/cache"
	"kaspi_dumping_v1/pkg/utils"
)

// JobFunc 任务主体；runID 用于串联同一次执行的日志
type JobFunc func(ctx context.Context, runID string) error

// JobRunner 为任务加互斥锁并记录耗时
// 同名任务在所有节点上同一时刻只执行一个
type JobRunner struct {
	locker  cache.Locker
	lockTTL time.Duration
	// holdOff 执行结束后延迟释放锁，避免多节点的 cron 在同一秒重复触发
	holdOff time.Duration
	log     *zap.Logger
}

// NewJobRunner 创建任务执行器
func NewJobRunner(locker cache.Locker, lockTTL, holdOff time.Duration, log *zap.Logger) *JobRunner {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Hour
	}
	if holdOff < 0 {
		holdOff = 0
	}
	return &JobRunner{
		locker:  locker,
		lockTTL: lockTTL,
		holdOff: holdOff,
		log:     log.With(zap.String("component", "job_runner")),
	}
}

// Run 以 job:<name> 为锁执行 fn；锁被占用时返回 ErrJobLocked
func (r *JobRunner) Run(ctx context.Context, name string, fn JobFunc) error {
	return r.RunScoped(ctx, name, "", fn)
}

// RunScoped 锁粒度细化到 scope（例如单个商户）
func (r *JobRunner) RunScoped(ctx context.Context, name, scope string, fn JobFunc) error {
	key := "job:" + name
	if scope != "" {
		key += ":" + scope
	}

	lock, err := r.locker.Acquire(ctx, key, r.lockTTL)
	if errors.Is(err, cache.ErrLockNotAcquired) {
		metrics.JobRunsTotal.WithLabelValues(name, "locked").Inc()
		r.log.Info("[Job] 任务正在执行，跳过本次", zap.String("job", key))
		return ErrJobLocked
	}
	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(name, "failed").Inc()
		return err
	}

	runID := uuid.NewString()
	start := time.Now()
	log := r.log.With(zap.String("job", key), zap.String("run_id", runID))
	log.Info("[Job] 开始执行")

	defer func() {
		// 延迟释放不受调用方取消影响
		_ = utils.Sleep(context.Background(), r.holdOff)
		if err := lock.Release(context.Background()); err != nil {
			log.Warn("[Job] 释放锁失败", zap.Error(err))
		}
	}()

	if err = fn(ctx, runID); err != nil {
		metrics.JobRunsTotal.WithLabelValues(name, "failed").Inc()
		log.Error("[Job] 执行失败", zap.Duration("took", time.Since(start)), zap.Error(err))
		return err
	}

	metrics.JobRunsTotal.WithLabelValues(name, "ok").Inc()
	log.Info("[Job] 执行完成", zap.Duration("took", time.Since(start)))
	return nil
}
