package model

import "time"

// AnalyticsEvent 是每次对话结束后产生的一条埋点事件。
type AnalyticsEvent struct {
	RequestID    string    `json:"requestId"`
	UserID       uint      `json:"userId"`
	ThreadID     string    `json:"threadId"`
	Event        string    `json:"event"`
	Success      bool      `json:"success"`
	Blocked      bool      `json:"blocked"`
	Topic        string    `json:"topic"`
	Risk         string    `json:"risk"`
	Complexity   string    `json:"complexity"`
	Tier         string    `json:"tier,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	FallbackUsed bool      `json:"fallbackUsed"`
	Verification string    `json:"verification,omitempty"`
	RagSourceIDs []string  `json:"ragSourceIds,omitempty"`
	TokenCount   int       `json:"tokenCount"`
	LatencyMs    int64     `json:"latencyMs"`
	ErrorCode    string    `json:"errorCode,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

const (
	AnalyticsEventChat    = "coach_chat"
	AnalyticsEventBlocked = "coach_chat_blocked"
)
