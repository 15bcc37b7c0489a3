package model

// EventType 标识流事件的类型。
type EventType string

const (
	EventToken EventType = "token"
	EventMeta  EventType = "meta"
	EventError EventType = "error"
	EventDone  EventType = "done"
)

// StreamEvent 是一行 NDJSON 输出。一个流以且仅以一个 done 或 error 结束。
type StreamEvent struct {
	RequestID string                 `json:"requestId"`
	Type      EventType              `json:"type"`
	Value     string                 `json:"value,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// IsTerminal 判断事件是否为终止事件。
func (e StreamEvent) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func TokenEvent(requestID, value string) StreamEvent {
	return StreamEvent{RequestID: requestID, Type: EventToken, Value: value}
}

func MetaEvent(requestID string, meta map[string]interface{}) StreamEvent {
	return StreamEvent{RequestID: requestID, Type: EventMeta, Meta: meta}
}

func ErrorEvent(requestID, msg string) StreamEvent {
	return StreamEvent{RequestID: requestID, Type: EventError, Error: msg}
}

func DoneEvent(requestID string) StreamEvent {
	return StreamEvent{RequestID: requestID, Type: EventDone}
}
