// Package observability 定义服务的 Prometheus 指标。
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "health_coach"

// Metrics 聚合所有指标。所有方法对 nil 接收者安全，测试中可以直接传 nil。
type Metrics struct {
	requests        *prometheus.CounterVec
	blocked         *prometheus.CounterVec
	lookupFailures  *prometheus.CounterVec
	lookupDuration  *prometheus.HistogramVec
	providerAttempt *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	firstToken      *prometheus.HistogramVec
	streamDuration  *prometheus.HistogramVec
	rateLimited     prometheus.Counter
	analyticsDrops  prometheus.Counter
	historySkips    prometheus.Counter
}

// NewMetrics 在 reg 上注册全部指标。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by outcome (done, error, aborted, blocked).",
		}, []string{"outcome"}),
		blocked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_blocked_total",
			Help:      "Requests blocked by the safety classifier, by topic.",
		}, []string{"topic"}),
		lookupFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_lookup_failures_total",
			Help:      "Context lookups that fell back to their default value.",
		}, []string{"lookup"}),
		lookupDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_lookup_duration_seconds",
			Help:      "Duration of individual context lookups.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"lookup"}),
		providerAttempt: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Generation attempts per provider and result.",
		}, []string{"provider", "result"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fallbacks_total",
			Help:      "Fallbacks from the primary to the secondary provider.",
		}, []string{"from", "to"}),
		firstToken: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_token_seconds",
			Help:      "Time from request start to first streamed token.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 8),
		}, []string{"tier"}),
		streamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Total stream duration.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9),
		}, []string{"tier"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		analyticsDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_dropped_total",
			Help:      "Analytics events dropped because the buffer was full.",
		}),
		historySkips: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_duplicates_skipped_total",
			Help:      "History rows skipped because an identical row exists in the dedup window.",
		}),
	}
}

func (m *Metrics) ObserveRequest(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveBlocked(topic string) {
	if m == nil {
		return
	}
	m.blocked.WithLabelValues(topic).Inc()
	m.requests.WithLabelValues("blocked").Inc()
}

// ObserveLookup 记录一次上下文查询，failed 为 true 时同时计入失败。
func (m *Metrics) ObserveLookup(lookup string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.lookupDuration.WithLabelValues(lookup).Observe(d.Seconds())
	if failed {
		m.lookupFailures.WithLabelValues(lookup).Inc()
	}
}

func (m *Metrics) ObserveProviderAttempt(provider, result string) {
	if m == nil {
		return
	}
	m.providerAttempt.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) ObserveFallback(from, to string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(from, to).Inc()
}

// ObserveStream 记录首 token 延迟（未产出 token 时跳过）和总时长。
func (m *Metrics) ObserveStream(tier string, firstToken, total time.Duration) {
	if m == nil {
		return
	}
	if firstToken > 0 {
		m.firstToken.WithLabelValues(tier).Observe(firstToken.Seconds())
	}
	m.streamDuration.WithLabelValues(tier).Observe(total.Seconds())
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) IncAnalyticsDropped() {
	if m == nil {
		return
	}
	m.analyticsDrops.Inc()
}

func (m *Metrics) IncHistorySkipped() {
	if m == nil {
		return
	}
	m.historySkips.Inc()
}
