package model

import "time"

// Subscription 由计费服务写入，本服务只用于判断是否有权使用教练对话。
type Subscription struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index"`
	Plan      string `gorm:"type:varchar(32)"`
	Status    string `gorm:"type:varchar(16)"` // active / trialing / canceled / past_due
	ExpiresAt *time.Time
}

func (Subscription) TableName() string { return "subscriptions" }

// Entitled 判断订阅在给定时间是否有效。
func (s Subscription) Entitled(now time.Time) bool {
	if s.Status != "active" && s.Status != "trialing" {
		return false
	}
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}
