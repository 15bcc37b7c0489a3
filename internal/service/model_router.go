package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"health-coach-go/internal/config"
	"health-coach-go/internal/model"
	"health-coach-go/internal/observability"
	"health-coach-go/pkg/llm"
	"health-coach-go/pkg/log"
)

// Tier 是模型档位。
type Tier string

const (
	TierFast     Tier = "fast"
	TierAdvanced Tier = "advanced"
)

// 验证结果，作为 meta 事件下发并写入埋点。
const (
	VerificationPass    = "pass"
	VerificationFlagged = "flagged"
)

// ModelChoice 是 Classification 的纯函数输出，只在请求内使用。
type ModelChoice struct {
	Tier           Tier
	Provider       string
	Secondary      string
	Model          string
	SecondaryModel string
	MaxTokens      int
	TimeoutMs      int
	Temperature    float64
	Verify         bool
}

// Timeout 返回单次尝试的超时。
func (c ModelChoice) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// StreamOutcome 描述最终产出回答的那次尝试。
type StreamOutcome struct {
	Provider     string
	Model        string
	FallbackUsed bool
}

// ModelRouter 选择模型档位，并在主供应商失败时回退一次到备用供应商。
type ModelRouter struct {
	registry *llm.Registry
	cfg      config.LLMConfig
	metrics  *observability.Metrics
}

// NewModelRouter 创建路由器，启动时即校验主备供应商已注册。
func NewModelRouter(registry *llm.Registry, cfg config.LLMConfig, metrics *observability.Metrics) (*ModelRouter, error) {
	if _, err := registry.Get(cfg.Primary); err != nil {
		return nil, fmt.Errorf("primary provider: %w", err)
	}
	if cfg.Secondary != "" {
		if _, err := registry.Get(cfg.Secondary); err != nil {
			return nil, fmt.Errorf("secondary provider: %w", err)
		}
	}
	return &ModelRouter{registry: registry, cfg: cfg, metrics: metrics}, nil
}

// Choose 把分类结果映射到模型档位。high 风险（被拦截）的分类不会被路由。
func (r *ModelRouter) Choose(cls model.Classification) (ModelChoice, error) {
	if !cls.AllowAnswer {
		return ModelChoice{}, ErrBlockedRoute
	}
	switch cls.Risk {
	case model.RiskHigh:
		return ModelChoice{}, ErrBlockedRoute
	case model.RiskModerate:
		return r.choice(TierAdvanced), nil
	case model.RiskNone, model.RiskLow:
		switch cls.Complexity {
		case model.ComplexityComplex:
			return r.choice(TierAdvanced), nil
		case model.ComplexitySimple:
			return r.choice(TierFast), nil
		default:
			return ModelChoice{}, fmt.Errorf("unknown complexity %d", cls.Complexity)
		}
	default:
		return ModelChoice{}, fmt.Errorf("unknown risk %d", cls.Risk)
	}
}

func (r *ModelRouter) choice(tier Tier) ModelChoice {
	tc := r.cfg.Fast
	if tier == TierAdvanced {
		tc = r.cfg.Advanced
	}
	secondaryModel := tc.SecondaryModel
	if secondaryModel == "" {
		secondaryModel = tc.Model
	}
	return ModelChoice{
		Tier:           tier,
		Provider:       r.cfg.Primary,
		Secondary:      r.cfg.Secondary,
		Model:          tc.Model,
		SecondaryModel: secondaryModel,
		MaxTokens:      tc.MaxTokens,
		TimeoutMs:      tc.TimeoutMs,
		Temperature:    tc.Temperature,
		Verify:         tier == TierAdvanced,
	}
}

// Stream 先在 choice.TimeoutMs 内调用主供应商。只有在出现供应商错误（或本次尝试自身超时）、
// 尚未输出任何 token、且配置了备用供应商时，才对备用供应商完整重试一次。调用方取消从不触发回退。
func (r *ModelRouter) Stream(ctx context.Context, choice ModelChoice, messages []llm.Message, onToken llm.TokenFunc) (StreamOutcome, error) {
	primary, err := r.registry.Get(choice.Provider)
	if err != nil {
		return StreamOutcome{}, err
	}
	gen := generationParams(choice)

	var emitted atomic.Int64
	counting := func(tok string) error {
		if err := onToken(tok); err != nil {
			return err
		}
		emitted.Add(1)
		return nil
	}

	out := StreamOutcome{Provider: primary.Name(), Model: choice.Model}
	err = r.attempt(ctx, primary, choice.Model, choice.Timeout(), messages, gen, counting)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if !llm.IsProviderError(err) || choice.Secondary == "" || emitted.Load() > 0 {
		return out, err
	}

	secondary, gerr := r.registry.Get(choice.Secondary)
	if gerr != nil {
		return out, err
	}
	log.Warnw("主供应商失败，回退到备用供应商", "from", primary.Name(), "to", secondary.Name(), "error", err)
	r.metrics.ObserveFallback(primary.Name(), secondary.Name())

	out = StreamOutcome{Provider: secondary.Name(), Model: choice.SecondaryModel, FallbackUsed: true}
	err = r.attempt(ctx, secondary, choice.SecondaryModel, choice.Timeout(), messages, gen, counting)
	if err != nil && ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, err
}

// attempt 运行一次生成。本次尝试自身的超时被转换为 ProviderError，便于上层统一判断。
func (r *ModelRouter) attempt(ctx context.Context, p llm.Provider, modelName string, timeout time.Duration, messages []llm.Message, gen *llm.GenerationParams, onToken llm.TokenFunc) error {
	actx := ctx
	cancel := func() {}
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	err := p.StreamChat(actx, modelName, messages, gen, onToken)
	switch {
	case err == nil:
		r.metrics.ObserveProviderAttempt(p.Name(), "ok")
		return nil
	case ctx.Err() != nil:
		r.metrics.ObserveProviderAttempt(p.Name(), "canceled")
		return err
	case errors.Is(actx.Err(), context.DeadlineExceeded) && !llm.IsProviderError(err):
		r.metrics.ObserveProviderAttempt(p.Name(), "timeout")
		return &llm.ProviderError{Provider: p.Name(), Err: fmt.Errorf("attempt deadline exceeded: %w", err)}
	default:
		r.metrics.ObserveProviderAttempt(p.Name(), "error")
		return err
	}
}

const verifyPrompt = `You review answers written by a health-coaching assistant.
Reply with exactly one word: PASS if the answer is safe, stays within general wellness guidance and does not
give doses, diagnoses or medication changes; FLAGGED otherwise.`

// Verify 用快速档模型对高级档回答做一次评审，返回 pass 或 flagged。
func (r *ModelRouter) Verify(ctx context.Context, question, answer string) (string, error) {
	p, err := r.registry.Get(r.cfg.Primary)
	if err != nil {
		return "", err
	}
	fast := r.choice(TierFast)
	vctx, cancel := context.WithTimeout(ctx, fast.Timeout())
	defer cancel()

	maxTokens := 5
	temp := 0.0
	out, err := llm.Complete(vctx, p, fast.Model, []llm.Message{
		{Role: string(model.RoleSystem), Content: verifyPrompt},
		{Role: string(model.RoleUser), Content: "Question:\n" + question + "\n\nAnswer:\n" + answer},
	}, &llm.GenerationParams{MaxTokens: &maxTokens, Temperature: &temp})
	if err != nil {
		return "", err
	}
	return parseVerification(out)
}

func parseVerification(out string) (string, error) {
	v := strings.ToUpper(strings.TrimSpace(out))
	switch {
	case strings.Contains(v, "FLAG"):
		return VerificationFlagged, nil
	case strings.Contains(v, "PASS"):
		return VerificationPass, nil
	default:
		return "", fmt.Errorf("unrecognised verification %q", truncateRunes(out, 40))
	}
}

func generationParams(choice ModelChoice) *llm.GenerationParams {
	var gp llm.GenerationParams
	if choice.MaxTokens > 0 {
		m := choice.MaxTokens
		gp.MaxTokens = &m
	}
	if choice.Temperature != 0 {
		t := choice.Temperature
		gp.Temperature = &t
	}
	if gp.MaxTokens == nil && gp.Temperature == nil {
		return nil
	}
	return &gp
}
