package service

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"health-coach-go/internal/model"
)

// ValidatedMessages 是校验与规范化之后的消息列表。
type ValidatedMessages struct {
	Messages          []model.Message
	LatestUserMessage string
}

// MessageValidator 检查消息数组的数量与长度边界，纯函数，无 I/O。
type MessageValidator struct {
	maxMessages      int
	maxContentLength int
}

// NewMessageValidator 创建校验器。maxContentLength 以字符（rune）计。
func NewMessageValidator(maxMessages, maxContentLength int) *MessageValidator {
	return &MessageValidator{maxMessages: maxMessages, maxContentLength: maxContentLength}
}

type rawMessage struct {
	Role    json.RawMessage `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Validate 规范化原始 JSON 消息数组：
// 角色非 user/assistant 一律视为 user，内容去除首尾空白，空消息被丢弃，
// 并提取最后一条非空的 user 消息。
func (v *MessageValidator) Validate(raw json.RawMessage) (ValidatedMessages, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return ValidatedMessages{}, newValidationError("messages", "must be a non-empty array")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return ValidatedMessages{}, newValidationError("messages", "must be a JSON array")
	}
	if len(items) == 0 {
		return ValidatedMessages{}, newValidationError("messages", "must be a non-empty array")
	}
	if len(items) > v.maxMessages {
		return ValidatedMessages{}, newValidationError("messages", "at most %d messages are allowed", v.maxMessages)
	}

	out := ValidatedMessages{Messages: make([]model.Message, 0, len(items))}
	for i, item := range items {
		var rm rawMessage
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' || json.Unmarshal(item, &rm) != nil {
			return ValidatedMessages{}, newValidationError("messages", "element %d must be an object", i)
		}

		var content string
		rm.Content = bytes.TrimSpace(rm.Content)
		if len(rm.Content) == 0 || rm.Content[0] != '"' || json.Unmarshal(rm.Content, &content) != nil {
			return ValidatedMessages{}, newValidationError("messages", "element %d must have string content", i)
		}
		content = strings.TrimSpace(content)
		if utf8.RuneCountInString(content) > v.maxContentLength {
			return ValidatedMessages{}, newValidationError("messages", "element %d exceeds %d characters", i, v.maxContentLength)
		}
		if content == "" {
			continue
		}

		out.Messages = append(out.Messages, model.Message{Role: normalizeRole(rm.Role), Content: content})
	}

	for i := len(out.Messages) - 1; i >= 0; i-- {
		if out.Messages[i].Role == model.RoleUser {
			out.LatestUserMessage = out.Messages[i].Content
			break
		}
	}
	if out.LatestUserMessage == "" {
		return ValidatedMessages{}, newValidationError("messages", "no non-empty user message found")
	}
	return out, nil
}

func normalizeRole(raw json.RawMessage) model.Role {
	var role string
	if err := json.Unmarshal(raw, &role); err != nil {
		return model.RoleUser
	}
	if model.Role(role) == model.RoleAssistant {
		return model.RoleAssistant
	}
	return model.RoleUser
}
