package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-coach-go/internal/config"
	"health-coach-go/internal/model"
	"health-coach-go/internal/stream"
	"health-coach-go/pkg/llm"
)

type countingBuilder struct {
	calls atomic.Int32
	cc    model.CoachContext
	src   []model.RagSource
}

func (b *countingBuilder) Build(context.Context, uint, string, model.Classification, string) (model.CoachContext, []model.RagSource) {
	b.calls.Add(1)
	cc := b.cc
	cc.FillDefaults()
	return cc, b.src
}

type countingRouter struct {
	*ModelRouter
	chooseCalls atomic.Int32
	streamCalls atomic.Int32
	verifyCalls atomic.Int32
}

func (r *countingRouter) Choose(cls model.Classification) (ModelChoice, error) {
	r.chooseCalls.Add(1)
	return r.ModelRouter.Choose(cls)
}

func (r *countingRouter) Stream(ctx context.Context, choice ModelChoice, msgs []llm.Message, onToken llm.TokenFunc) (StreamOutcome, error) {
	r.streamCalls.Add(1)
	return r.ModelRouter.Stream(ctx, choice, msgs, onToken)
}

func (r *countingRouter) Verify(ctx context.Context, q, a string) (string, error) {
	r.verifyCalls.Add(1)
	return r.ModelRouter.Verify(ctx, q, a)
}

type recordingHistory struct {
	mu    sync.Mutex
	saved []Exchange
}

func (h *recordingHistory) SaveExchange(context.Context, Exchange) error { return nil }

func (h *recordingHistory) SaveExchangeAsync(ex Exchange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saved = append(h.saved, ex)
}

func (h *recordingHistory) ListThread(context.Context, uint, string, int) ([]model.HistoryItem, error) {
	return nil, nil
}

type recordingAnalytics struct {
	mu     sync.Mutex
	events []model.AnalyticsEvent
}

func (a *recordingAnalytics) Log(ev model.AnalyticsEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

type chatFixture struct {
	svc       ChatService
	builder   *countingBuilder
	router    *countingRouter
	primary   *fakeProvider
	backup    *fakeProvider
	history   *recordingHistory
	analytics *recordingAnalytics
}

func newChatFixture(t *testing.T, primary, backup *fakeProvider) *chatFixture {
	t.Helper()
	reg := llm.NewRegistry()
	require.NoError(t, reg.Register(primary))
	require.NoError(t, reg.Register(backup))
	mr, err := NewModelRouter(reg, testLLMConfig(), nil)
	require.NoError(t, err)

	f := &chatFixture{
		builder:   &countingBuilder{src: []model.RagSource{{ID: "kb-1", Title: "VO2 max basics", Similarity: 0.9}}},
		router:    &countingRouter{ModelRouter: mr},
		primary:   primary,
		backup:    backup,
		history:   &recordingHistory{},
		analytics: &recordingAnalytics{},
	}
	f.svc = NewChatService(
		NewMessageValidator(50, 8000),
		NewRuleClassifier(),
		f.builder,
		f.router,
		stream.NewEngine(4),
		f.history,
		f.analytics,
		config.LLMPromptConfig{Rules: "Be careful.", HistoryLimit: 20},
		nil,
	)
	return f
}

func userTurn(text string) ChatTurn {
	msgs, _ := json.Marshal([]map[string]string{{"role": "user", "content": text}})
	return ChatTurn{RequestID: "req-1", UserID: 9, ThreadID: "thread-1", Messages: msgs}
}

func drain(t *testing.T, s *stream.Stream) []model.StreamEvent {
	t.Helper()
	var events []model.StreamEvent
	for ev := range s.Events() {
		events = append(events, ev)
	}
	s.Result()
	return events
}

func tokensOf(events []model.StreamEvent) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == model.EventToken {
			sb.WriteString(ev.Value)
		}
	}
	return sb.String()
}

func TestChatService_MelatoninDoseIsBlocked(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{name: "primary", tokens: []string{"never"}}, &fakeProvider{name: "backup"})

	s, err := f.svc.Start(context.Background(), userTurn("How many mg of melatonin should I take?"))
	require.NoError(t, err)
	events := drain(t, s)

	require.Len(t, events, 3)
	assert.Equal(t, model.EventMeta, events[0].Type)
	assert.Equal(t, true, events[0].Meta["blocked"])
	assert.Equal(t, model.TopicSupplements, events[0].Meta["topic"])
	assert.Equal(t, "high", events[0].Meta["risk"])
	assert.Equal(t, TriageMessage(model.TopicSupplements, model.RiskHigh), events[1].Value)
	assert.Equal(t, model.EventDone, events[2].Type)
	for _, ev := range events {
		assert.Equal(t, "req-1", ev.RequestID)
	}

	assert.Equal(t, int32(0), f.builder.calls.Load())
	assert.Equal(t, int32(0), f.router.chooseCalls.Load())
	assert.Equal(t, int32(0), f.router.streamCalls.Load())
	assert.Equal(t, 0, f.primary.callCount())

	require.Len(t, f.analytics.events, 1)
	ev := f.analytics.events[0]
	assert.Equal(t, model.AnalyticsEventBlocked, ev.Event)
	assert.True(t, ev.Blocked)
	assert.False(t, ev.Success)

	require.Len(t, f.history.saved, 1)
	assert.Equal(t, true, f.history.saved[0].Metadata["blocked"])
}

func TestChatService_VO2MaxUsesFastTier(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{name: "primary", tokens: []string{"VO2 max ", "is your ", "aerobic ceiling."}}, &fakeProvider{name: "backup"})

	s, err := f.svc.Start(context.Background(), userTurn("What is VO2 max?"))
	require.NoError(t, err)
	events := drain(t, s)

	require.NotEmpty(t, events)
	assert.Equal(t, model.EventMeta, events[0].Type)
	assert.Equal(t, TierFast, events[0].Meta["tier"])
	assert.Equal(t, "VO2 max is your aerobic ceiling.", tokensOf(events))
	assert.Equal(t, model.EventDone, events[len(events)-1].Type)

	assert.Equal(t, int32(1), f.builder.calls.Load())
	assert.Equal(t, int32(1), f.router.streamCalls.Load())
	assert.Equal(t, int32(0), f.router.verifyCalls.Load())
	assert.Equal(t, []string{"small"}, f.primary.models)

	msgs := f.primary.lastMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Be careful.")
	assert.Contains(t, msgs[0].Content, "<<REF>>")
	assert.Equal(t, "What is VO2 max?", msgs[1].Content)

	require.Len(t, f.analytics.events, 1)
	ev := f.analytics.events[0]
	assert.True(t, ev.Success)
	assert.Equal(t, "exercise", ev.Topic)
	assert.Equal(t, "primary", ev.Provider)
	assert.Equal(t, []string{"kb-1"}, ev.RagSourceIDs)
	assert.Equal(t, 3, ev.TokenCount)

	require.Len(t, f.history.saved, 1)
	assert.Equal(t, "VO2 max is your aerobic ceiling.", f.history.saved[0].Reply)
	assert.Equal(t, "thread-1", f.history.saved[0].ThreadID)
}

func TestChatService_AdvancedTierEmitsVerification(t *testing.T) {
	primary := &fakeProvider{name: "primary", tokens: []string{"PASS"}}
	f := newChatFixture(t, primary, &fakeProvider{name: "backup"})

	s, err := f.svc.Start(context.Background(), userTurn("Compare zone 2 and HIIT training for endurance"))
	require.NoError(t, err)
	events := drain(t, s)

	assert.Equal(t, int32(1), f.router.verifyCalls.Load())
	var verdict interface{}
	for _, ev := range events {
		if ev.Type == model.EventMeta && ev.Meta["verification"] != nil {
			verdict = ev.Meta["verification"]
		}
	}
	assert.Equal(t, VerificationPass, verdict)
	assert.Equal(t, []string{"large", "small"}, primary.models)
	assert.Equal(t, VerificationPass, f.analytics.events[0].Verification)
}

func TestChatService_ProviderFailureEndsWithSafeError(t *testing.T) {
	down := &llm.ProviderError{Provider: "x", StatusCode: 500, Err: errors.New("secret upstream detail")}
	f := newChatFixture(t, &fakeProvider{name: "primary", err: down}, &fakeProvider{name: "backup", err: down})

	s, err := f.svc.Start(context.Background(), userTurn("What is VO2 max?"))
	require.NoError(t, err)
	events := drain(t, s)

	last := events[len(events)-1]
	assert.Equal(t, model.EventError, last.Type)
	assert.Equal(t, ProvidersUnavailableMessage, last.Error)
	assert.NotContains(t, last.Error, "secret")
	assert.Empty(t, f.history.saved)
	assert.Equal(t, "provider_unavailable", f.analytics.events[0].ErrorCode)
	assert.Equal(t, 1, f.backup.callCount())
}

func TestChatService_InvalidMessagesReturnValidationError(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{name: "primary"}, &fakeProvider{name: "backup"})

	_, err := f.svc.Start(context.Background(), ChatTurn{RequestID: "r", UserID: 1, Messages: json.RawMessage(`[]`)})
	assert.True(t, IsValidationError(err))
	assert.Equal(t, int32(0), f.builder.calls.Load())
}

func TestChatService_RejectsOverlongThreadID(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{name: "primary", tokens: []string{"hi"}}, &fakeProvider{name: "backup"})
	turn := userTurn("What is VO2 max?")
	turn.ThreadID = strings.Repeat("t", model.MaxThreadIDLength+1)

	_, err := f.svc.Start(context.Background(), turn)
	assert.True(t, IsValidationError(err))
	assert.ErrorContains(t, err, "threadId")
	assert.Equal(t, int32(0), f.builder.calls.Load())

	turn.ThreadID = strings.Repeat("t", model.MaxThreadIDLength)
	s, err := f.svc.Start(context.Background(), turn)
	require.NoError(t, err)
	drain(t, s)
}

func TestChatService_GeneratesThreadID(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{name: "primary", tokens: []string{"hi"}}, &fakeProvider{name: "backup"})
	turn := userTurn("hello there")
	turn.ThreadID = ""

	s, err := f.svc.Start(context.Background(), turn)
	require.NoError(t, err)
	events := drain(t, s)

	threadID, _ := events[0].Meta["threadId"].(string)
	assert.NotEmpty(t, threadID)
	require.Len(t, f.history.saved, 1)
	assert.Equal(t, threadID, f.history.saved[0].ThreadID)
}
