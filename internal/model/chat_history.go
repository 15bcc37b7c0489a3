package model

import (
	"time"

	"gorm.io/datatypes"
)

// MaxThreadIDLength 与 thread_id 列宽一致。
const MaxThreadIDLength = 64

// ChatHistory 是持久化的一条对话记录。
// (user_id, thread_id, role, content_hash) 上有普通索引，去重依赖时间窗口查询而非唯一约束。
type ChatHistory struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	UserID      uint              `gorm:"not null;index:idx_chat_dedup,priority:1" json:"userId"`
	ThreadID    string            `gorm:"type:varchar(64);not null;index:idx_chat_dedup,priority:2" json:"threadId"`
	Role        string            `gorm:"type:varchar(16);not null;index:idx_chat_dedup,priority:3" json:"role"`
	Content     string            `gorm:"type:text;not null" json:"content"`
	ContentHash string            `gorm:"type:char(64);not null;index:idx_chat_dedup,priority:4" json:"-"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	CreatedAt   time.Time         `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (ChatHistory) TableName() string {
	return "chat_history"
}

// HistoryItem 是线程历史接口返回给前端的视图。
type HistoryItem struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt LocalTime              `json:"createdAt"`
}
