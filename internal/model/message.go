// Package model 包含了应用的数据模型定义。
package model

import "encoding/json"

// Role 表示消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message 是一条经过校验的对话消息，创建后不再修改。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 是 POST /api/v1/coach/chat 与 WebSocket 文本帧共用的请求体。
// Messages 保留原始 JSON，交给校验器逐项检查。
type ChatRequest struct {
	Messages json.RawMessage `json:"messages"`
	ThreadID string          `json:"threadId"`
	Domain   string          `json:"domain"`
}
