package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"health-coach-go/internal/model"
)

// SubscriptionRepository 读取计费服务写入的订阅记录。
type SubscriptionRepository interface {
	FindLatest(ctx context.Context, userID uint) (*model.Subscription, error)
}

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository 创建一个新的 SubscriptionRepository 实例。
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// FindLatest 返回用户最新的一条订阅，不存在时返回 ErrNotFound。
func (r *subscriptionRepository) FindLatest(ctx context.Context, userID uint) (*model.Subscription, error) {
	var s model.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
