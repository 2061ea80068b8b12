package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"kaspi_dumping_v1/internal/repository"
)

// SubscriptionService 订阅到期检查
type SubscriptionService struct {
	merchantRepo repository.MerchantRepository
	log          *zap.Logger
}

func NewSubscriptionService(merchantRepo repository.MerchantRepository, log *zap.Logger) *SubscriptionService {
	return &SubscriptionService{
		merchantRepo: merchantRepo,
		log:          log.With(zap.String("component", "subscription")),
	}
}

// DisableExpired 停用订阅已到期的商户，返回停用数量
func (s *SubscriptionService) DisableExpired(ctx context.Context, now time.Time) (int64, error) {
	expired, err := s.merchantRepo.ListSubscriptionExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(expired))
	for _, m := range expired {
		ids = append(ids, m.ID)
		s.log.Info("[Subscription] 订阅到期",
			zap.Int64("merchant_id", m.ID),
			zap.String("name", m.Name),
			zap.Time("ended_at", m.SubscriptionEndsAt()))
	}

	n, err := s.merchantRepo.Disable(ctx, ids)
	if err != nil {
		return 0, err
	}
	s.log.Info("[Subscription] 已停用到期商户", zap.Int64("count", n))
	return n, nil
}
