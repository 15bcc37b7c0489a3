package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"health-coach-go/internal/repository"
)

// EntitlementService 判断用户是否有有效订阅。
type EntitlementService interface {
	Check(ctx context.Context, userID uint) error
}

type entitlementService struct {
	subscriptionRepo repository.SubscriptionRepository
	now              func() time.Time
}

// NewEntitlementService 创建一个新的 EntitlementService 实例。
func NewEntitlementService(subscriptionRepo repository.SubscriptionRepository) EntitlementService {
	return &entitlementService{subscriptionRepo: subscriptionRepo, now: time.Now}
}

// Check 无订阅或订阅失效时返回 ErrNotEntitled，查询失败返回包装后的原始错误。
func (s *entitlementService) Check(ctx context.Context, userID uint) error {
	sub, err := s.subscriptionRepo.FindLatest(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotEntitled
	}
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if !sub.Entitled(s.now()) {
		return ErrNotEntitled
	}
	return nil
}
