// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"health-coach-go/internal/model"
)

// ChatHistoryRepository 定义了对话历史记录的操作接口。
type ChatHistoryRepository interface {
	// ExistsSince 判断 since 之后是否已存在相同 (user, thread, role, content) 的记录。
	ExistsSince(ctx context.Context, rec *model.ChatHistory, since time.Time) (bool, error)
	Create(ctx context.Context, rec *model.ChatHistory) error
	// ListThread 按时间正序返回线程内最近 limit 条记录。
	ListThread(ctx context.Context, userID uint, threadID string, limit int) ([]model.ChatHistory, error)
}

type chatHistoryRepository struct {
	db *gorm.DB
}

// NewChatHistoryRepository 创建一个新的 ChatHistoryRepository 实例。
func NewChatHistoryRepository(db *gorm.DB) ChatHistoryRepository {
	return &chatHistoryRepository{db: db}
}

func (r *chatHistoryRepository) ExistsSince(ctx context.Context, rec *model.ChatHistory, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ChatHistory{}).
		Where("user_id = ? AND thread_id = ? AND role = ? AND content_hash = ? AND created_at >= ?",
			rec.UserID, rec.ThreadID, rec.Role, rec.ContentHash, since).
		Where("content = ?", rec.Content).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

func (r *chatHistoryRepository) Create(ctx context.Context, rec *model.ChatHistory) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *chatHistoryRepository) ListThread(ctx context.Context, userID uint, threadID string, limit int) ([]model.ChatHistory, error) {
	var rows []model.ChatHistory
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND thread_id = ?", userID, threadID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}
