package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"health-coach-go/internal/model"
	"health-coach-go/internal/observability"
	"health-coach-go/pkg/log"
)

// AnalyticsSink 是埋点事件的最终去处。
type AnalyticsSink interface {
	Send(ctx context.Context, ev model.AnalyticsEvent) error
}

// Publisher 抽象 Kafka 生产者，便于测试。
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// KafkaSink 把事件以 JSON 发布到 Kafka，按 userId 分区。
type KafkaSink struct {
	publisher Publisher
}

func NewKafkaSink(publisher Publisher) *KafkaSink {
	return &KafkaSink{publisher: publisher}
}

func (s *KafkaSink) Send(ctx context.Context, ev model.AnalyticsEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal analytics event: %w", err)
	}
	return s.publisher.Publish(ctx, []byte(strconv.FormatUint(uint64(ev.UserID), 10)), b)
}

// LogSink 只把事件写入日志。
type LogSink struct{}

func (LogSink) Send(_ context.Context, ev model.AnalyticsEvent) error {
	log.Infow("analytics",
		"event", ev.Event, "requestId", ev.RequestID, "userId", ev.UserID,
		"success", ev.Success, "blocked", ev.Blocked, "topic", ev.Topic, "risk", ev.Risk,
		"tier", ev.Tier, "provider", ev.Provider, "fallbackUsed", ev.FallbackUsed,
		"tokenCount", ev.TokenCount, "latencyMs", ev.LatencyMs, "errorCode", ev.ErrorCode)
	return nil
}

// AnalyticsLogger 接收埋点事件，Log 从不阻塞调用方。
type AnalyticsLogger interface {
	Log(ev model.AnalyticsEvent)
}

// NopAnalytics 丢弃所有事件。
type NopAnalytics struct{}

func (NopAnalytics) Log(model.AnalyticsEvent) {}

// AsyncAnalytics 用有界通道缓冲事件，由单个分发协程写入 sink。缓冲满时丢弃并告警。
type AsyncAnalytics struct {
	sink        AnalyticsSink
	events      chan model.AnalyticsEvent
	sendTimeout time.Duration
	metrics     *observability.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncAnalytics 创建并启动分发协程。
func NewAsyncAnalytics(sink AnalyticsSink, bufferSize int, metrics *observability.Metrics) *AsyncAnalytics {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	a := &AsyncAnalytics{
		sink:        sink,
		events:      make(chan model.AnalyticsEvent, bufferSize),
		sendTimeout: 5 * time.Second,
		metrics:     metrics,
		done:        make(chan struct{}),
	}
	go a.dispatch()
	return a
}

func (a *AsyncAnalytics) Log(ev model.AnalyticsEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.events <- ev:
	default:
		a.metrics.IncAnalyticsDropped()
		log.Warnw("埋点缓冲已满，丢弃事件", "event", ev.Event, "requestId", ev.RequestID)
	}
}

func (a *AsyncAnalytics) dispatch() {
	defer close(a.done)
	for ev := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), a.sendTimeout)
		if err := a.sink.Send(ctx, ev); err != nil {
			log.Warnw("埋点事件发送失败", "event", ev.Event, "requestId", ev.RequestID, "error", err)
		}
		cancel()
	}
}

// Close 停止接收事件，并等待缓冲中的事件发送完毕或 ctx 到期。
func (a *AsyncAnalytics) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
