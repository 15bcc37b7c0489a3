package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"health-coach-go/internal/config"
	"health-coach-go/internal/model"
	"health-coach-go/internal/observability"
	"health-coach-go/internal/stream"
	"health-coach-go/pkg/llm"
	"health-coach-go/pkg/log"
)

// ProvidersUnavailableMessage 是主备供应商都失败时给客户端的提示。
const ProvidersUnavailableMessage = "The coach is temporarily unavailable. Please try again in a moment."

// ChatTurn 是一次对话请求，已通过鉴权。
type ChatTurn struct {
	RequestID string
	UserID    uint
	ThreadID  string
	Domain    string
	Messages  json.RawMessage
}

// CoachContextBuilder 组装请求上下文。
type CoachContextBuilder interface {
	Build(ctx context.Context, userID uint, latestUserMessage string, cls model.Classification, domain string) (model.CoachContext, []model.RagSource)
}

// Router 选择模型并执行带回退的生成。
type Router interface {
	Choose(cls model.Classification) (ModelChoice, error)
	Stream(ctx context.Context, choice ModelChoice, messages []llm.Message, onToken llm.TokenFunc) (StreamOutcome, error)
	Verify(ctx context.Context, question, answer string) (string, error)
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// Start 校验并分类请求，返回事件流。只有校验失败等同步错误会作为 error 返回，
	// 其余失败都以流内的 error 事件结束。
	Start(ctx context.Context, turn ChatTurn) (*stream.Stream, error)
}

type chatService struct {
	validator  *MessageValidator
	classifier Classifier
	builder    CoachContextBuilder
	router     Router
	engine     *stream.Engine
	history    HistoryService
	analytics  AnalyticsLogger
	prompt     config.LLMPromptConfig
	metrics    *observability.Metrics
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	validator *MessageValidator,
	classifier Classifier,
	builder CoachContextBuilder,
	router Router,
	engine *stream.Engine,
	history HistoryService,
	analytics AnalyticsLogger,
	prompt config.LLMPromptConfig,
	metrics *observability.Metrics,
) ChatService {
	if analytics == nil {
		analytics = NopAnalytics{}
	}
	return &chatService{
		validator:  validator,
		classifier: classifier,
		builder:    builder,
		router:     router,
		engine:     engine,
		history:    history,
		analytics:  analytics,
		prompt:     prompt,
		metrics:    metrics,
	}
}

func (s *chatService) Start(ctx context.Context, turn ChatTurn) (*stream.Stream, error) {
	validated, err := s.validator.Validate(turn.Messages)
	if err != nil {
		return nil, err
	}
	if len(turn.ThreadID) > model.MaxThreadIDLength {
		return nil, newValidationError("threadId", "must be at most %d characters", model.MaxThreadIDLength)
	}
	if turn.ThreadID == "" {
		turn.ThreadID = uuid.NewString()
	}
	latest := validated.LatestUserMessage

	cls := s.classifier.Classify(ctx, latest)
	if !cls.AllowAnswer {
		return s.startBlocked(ctx, turn, latest, cls), nil
	}

	choice, err := s.router.Choose(cls)
	if err != nil {
		return nil, fmt.Errorf("choose model: %w", err)
	}

	coachCtx, sources := s.builder.Build(ctx, turn.UserID, latest, cls, turn.Domain)
	messages := s.composeMessages(s.buildSystemMessage(coachCtx), validated.Messages)

	prelude := []model.StreamEvent{model.MetaEvent(turn.RequestID, map[string]interface{}{
		"threadId":   turn.ThreadID,
		"topic":      cls.Topic,
		"risk":       cls.Risk.String(),
		"complexity": cls.Complexity.String(),
		"tier":       choice.Tier,
		"todayMode":  coachCtx.TodayMode,
		"sleepMode":  coachCtx.SleepMode,
		"sources":    sources,
	})}

	var (
		outcome      StreamOutcome
		verification string
	)
	gen := func(ctx context.Context, emit stream.EmitFunc) (string, error) {
		var answer strings.Builder
		out, err := s.router.Stream(ctx, choice, messages, func(tok string) error {
			answer.WriteString(tok)
			return emit(model.TokenEvent(turn.RequestID, tok))
		})
		outcome = out
		if err != nil {
			if llm.IsProviderError(err) {
				return out.Provider, &stream.PublicError{Message: ProvidersUnavailableMessage, Err: err}
			}
			return out.Provider, err
		}
		if choice.Verify {
			verdict, verr := s.router.Verify(ctx, latest, answer.String())
			if verr != nil {
				log.Warnw("回答评审失败，忽略", "requestId", turn.RequestID, "error", verr)
			} else {
				verification = verdict
				if err := emit(model.MetaEvent(turn.RequestID, map[string]interface{}{"verification": verdict})); err != nil {
					return out.Provider, err
				}
			}
		}
		return out.Provider, nil
	}

	onComplete := func(res stream.Result) {
		s.metrics.ObserveStream(string(choice.Tier), firstTokenLatency(res), res.FinishedAt.Sub(res.StartedAt))
		s.metrics.ObserveRequest(outcomeLabel(res))

		ev := s.baseEvent(turn, cls, res)
		ev.Event = model.AnalyticsEventChat
		ev.Tier = string(choice.Tier)
		ev.Provider = outcome.Provider
		ev.Model = outcome.Model
		ev.FallbackUsed = outcome.FallbackUsed
		ev.Verification = verification
		for _, src := range sources {
			ev.RagSourceIDs = append(ev.RagSourceIDs, src.ID)
		}
		s.analytics.Log(ev)

		if !res.Success() || res.Text == "" {
			return
		}
		meta := map[string]interface{}{
			"requestId":  turn.RequestID,
			"topic":      string(cls.Topic),
			"risk":       cls.Risk.String(),
			"tier":       string(choice.Tier),
			"provider":   outcome.Provider,
			"model":      outcome.Model,
			"fallback":   outcome.FallbackUsed,
			"ragSources": ev.RagSourceIDs,
		}
		if verification != "" {
			meta["verification"] = verification
		}
		s.save(turn, latest, res.Text, meta)
	}

	return s.engine.Start(ctx, turn.RequestID, prelude, gen, onComplete), nil
}

// startBlocked 直接流式返回分诊提示，不查询上下文、不调用模型。
func (s *chatService) startBlocked(ctx context.Context, turn ChatTurn, latest string, cls model.Classification) *stream.Stream {
	triage := TriageMessage(cls.Topic, cls.Risk)
	prelude := []model.StreamEvent{
		model.MetaEvent(turn.RequestID, map[string]interface{}{
			"blocked":  true,
			"threadId": turn.ThreadID,
			"topic":    cls.Topic,
			"risk":     cls.Risk.String(),
		}),
		model.TokenEvent(turn.RequestID, triage),
	}
	gen := func(context.Context, stream.EmitFunc) (string, error) { return "", nil }

	onComplete := func(res stream.Result) {
		s.metrics.ObserveBlocked(string(cls.Topic))
		ev := s.baseEvent(turn, cls, res)
		ev.Event = model.AnalyticsEventBlocked
		ev.Success = false
		ev.Blocked = true
		s.analytics.Log(ev)

		if res.Aborted {
			return
		}
		s.save(turn, latest, triage, map[string]interface{}{
			"requestId": turn.RequestID,
			"blocked":   true,
			"topic":     string(cls.Topic),
			"risk":      cls.Risk.String(),
		})
	}
	return s.engine.Start(ctx, turn.RequestID, prelude, gen, onComplete)
}

func (s *chatService) baseEvent(turn ChatTurn, cls model.Classification, res stream.Result) model.AnalyticsEvent {
	ev := model.AnalyticsEvent{
		RequestID:  turn.RequestID,
		UserID:     turn.UserID,
		ThreadID:   turn.ThreadID,
		Success:    res.Success(),
		Topic:      string(cls.Topic),
		Risk:       cls.Risk.String(),
		Complexity: cls.Complexity.String(),
		TokenCount: res.TokenCount,
		LatencyMs:  res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
		OccurredAt: res.FinishedAt,
	}
	switch {
	case res.Aborted:
		ev.ErrorCode = "aborted"
	case llm.IsProviderError(res.Err):
		ev.ErrorCode = "provider_unavailable"
	case res.Err != nil:
		ev.ErrorCode = "internal"
	}
	return ev
}

func (s *chatService) save(turn ChatTurn, userMessage, reply string, meta map[string]interface{}) {
	if s.history == nil {
		return
	}
	s.history.SaveExchangeAsync(Exchange{
		UserID:      turn.UserID,
		ThreadID:    turn.ThreadID,
		UserMessage: userMessage,
		Reply:       reply,
		Metadata:    meta,
	})
}

// buildSystemMessage 拼接规则与参考资料，参考资料包裹在 refStart/refEnd 之间。
func (s *chatService) buildSystemMessage(cc model.CoachContext) string {
	refStart := s.prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := s.prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}
	var sys strings.Builder
	if s.prompt.Rules != "" {
		sys.WriteString(strings.TrimSpace(s.prompt.Rules))
		sys.WriteString("\n\n")
	}
	fmt.Fprintf(&sys, "Today's mode: %s.", cc.TodayMode)
	if cc.SleepMode {
		sys.WriteString(" The user is asking about sleep; favour sleep hygiene and wind-down guidance.")
	}
	sys.WriteString("\n\n")

	sections := []struct{ title, body string }{
		{"User profile", cc.UserProfile},
		{"Recent check-ins", cc.RecentCheckIns},
		{"Wearables", cc.WearableSummary},
		{"Protocols", cc.ProtocolStatus},
		{"Experiments", cc.ExperimentsSummary},
		{"Care", cc.CareStatus},
		{"Women's health", cc.WomensHealthSummary},
		{"Habits", cc.HabitsSummary},
		{"Supplements", cc.SupplementsSummary},
	}
	for _, sec := range sections {
		fmt.Fprintf(&sys, "%s: %s\n", sec.title, sec.body)
	}

	sys.WriteString("\n")
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if cc.KnowledgeSnippets != "" && cc.KnowledgeSnippets != model.DefaultKnowledgeSnippets {
		sys.WriteString(cc.KnowledgeSnippets)
		sys.WriteString("\n")
	} else {
		noRes := s.prompt.NoResultText
		if noRes == "" {
			noRes = "(no reference material for this question)"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

// composeMessages 保留最近 HistoryLimit 条消息，并在最前面加上 system 消息。
func (s *chatService) composeMessages(systemMsg string, history []model.Message) []llm.Message {
	if limit := s.prompt.HistoryLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: string(model.RoleSystem), Content: systemMsg})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return msgs
}

func firstTokenLatency(res stream.Result) time.Duration {
	if res.FirstTokenAt.IsZero() {
		return 0
	}
	return res.FirstTokenAt.Sub(res.StartedAt)
}

func outcomeLabel(res stream.Result) string {
	switch {
	case res.Aborted:
		return "aborted"
	case res.Err != nil:
		return "error"
	default:
		return "done"
	}
}
