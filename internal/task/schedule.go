package task

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// schedule 定时任务的公共调度部分（秒级 cron + 启动时首次执行）
type schedule struct {
	name       string
	spec       string
	timeout    time.Duration
	runOnStart bool
	cron       *cron.Cron
	log        *zap.Logger
}

func newSchedule(name, spec string, timeout time.Duration, runOnStart bool, log *zap.Logger) schedule {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return schedule{
		name:       name,
		spec:       spec,
		timeout:    timeout,
		runOnStart: runOnStart,
		cron:       cron.New(cron.WithSeconds()),
		log:        log.With(zap.String("task", name)),
	}
}

// start 注册 cron 并启动；runOnStart 时另在后台执行一次
func (s *schedule) start(run func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		run(ctx)
	})
	if err != nil {
		return err
	}

	if s.runOnStart {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			s.log.Info("[Task] 执行首次任务...")
			run(ctx)
		}()
	}

	s.cron.Start()
	s.log.Info("[Task] 已启动", zap.String("spec", s.spec))
	return nil
}

// stop 等待正在执行的任务结束
func (s *schedule) stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("[Task] 已停止")
}
