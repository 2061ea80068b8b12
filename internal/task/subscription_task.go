package task

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SubscriptionChecker 订阅到期处理
type SubscriptionChecker interface {
	DisableExpired(ctx context.Context, now time.Time) (int64, error)
}

// SubscriptionTask 每天检查一次订阅，停用到期商户
type SubscriptionTask struct {
	schedule

	checker SubscriptionChecker
	runner  *JobRunner
	now     func() time.Time
}

func NewSubscriptionTask(checker SubscriptionChecker, runner *JobRunner, spec string, log *zap.Logger) *SubscriptionTask {
	return &SubscriptionTask{
		schedule: newSchedule("subscription_check", spec, 10*time.Minute, false, log),
		checker:  checker,
		runner:   runner,
		now:      time.Now,
	}
}

func (t *SubscriptionTask) Start() error {
	return t.start(func(ctx context.Context) { _ = t.Execute(ctx) })
}

func (t *SubscriptionTask) Stop() { t.stop() }

// Execute 执行一次订阅检查
func (t *SubscriptionTask) Execute(ctx context.Context) error {
	return t.runner.Run(ctx, "subscription_check", func(ctx context.Context, runID string) error {
		n, err := t.checker.DisableExpired(ctx, t.now())
		if err != nil {
			return err
		}
		t.log.Info("[SubscriptionTask] 检查完成", zap.String("run_id", runID), zap.Int64("disabled", n))
		return nil
	})
}
