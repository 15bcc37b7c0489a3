package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"health-coach-go/internal/model"
	"health-coach-go/pkg/llm"
	"health-coach-go/pkg/log"
)

const classifierPrompt = `You are a safety classifier for a health-coaching assistant.
Classify the user's message and answer with a single JSON object and nothing else:
{"topic": one of ["general","sleep","nutrition","exercise","supplements","medication","mental_health","womens_health","symptoms","emergency"],
 "risk": one of ["none","low","moderate","high"],
 "complexity": one of ["simple","complex"]}
Risk is "high" for emergencies, requests for specific doses, and requests for a diagnosis.
Risk is "moderate" for medication changes and symptom reports. Health topics without those are "low".`

// ModelClassifier 用一个便宜的小模型分类，任何失败都回退到规则集。
// 结果的风险等级不会低于规则集的判断。
type ModelClassifier struct {
	provider llm.Provider
	model    string
	timeout  time.Duration
	rules    *RuleClassifier
}

// NewModelClassifier 创建模型分类器。
func NewModelClassifier(provider llm.Provider, modelName string, timeout time.Duration) *ModelClassifier {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ModelClassifier{provider: provider, model: modelName, timeout: timeout, rules: NewRuleClassifier()}
}

type modelVerdict struct {
	Topic      string `json:"topic"`
	Risk       string `json:"risk"`
	Complexity string `json:"complexity"`
}

// Classify implements Classifier.
func (c *ModelClassifier) Classify(ctx context.Context, text string) model.Classification {
	ruled := c.rules.Classify(ctx, text)

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	maxTokens := 60
	temp := 0.0
	out, err := llm.Complete(cctx, c.provider, c.model, []llm.Message{
		{Role: string(model.RoleSystem), Content: classifierPrompt},
		{Role: string(model.RoleUser), Content: text},
	}, &llm.GenerationParams{MaxTokens: &maxTokens, Temperature: &temp})
	if err != nil {
		log.Warnw("模型分类失败，回退到规则集", "provider", c.provider.Name(), "error", err)
		return ruled
	}

	parsed, err := parseVerdict(out)
	if err != nil {
		log.Warnw("模型分类结果无法解析，回退到规则集", "error", err)
		return ruled
	}
	return mergeClassifications(parsed, ruled)
}

func parseVerdict(out string) (model.Classification, error) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return model.Classification{}, fmt.Errorf("no JSON object in %q", out)
	}
	var v modelVerdict
	if err := json.Unmarshal([]byte(out[start:end+1]), &v); err != nil {
		return model.Classification{}, err
	}
	topic, err := model.ParseTopic(v.Topic)
	if err != nil {
		return model.Classification{}, err
	}
	risk, err := model.ParseRisk(v.Risk)
	if err != nil {
		return model.Classification{}, err
	}
	complexity, err := model.ParseComplexity(v.Complexity)
	if err != nil {
		return model.Classification{}, err
	}
	return model.NewClassification(topic, risk, complexity), nil
}

// mergeClassifications 取两者中更高的风险和复杂度；规则集风险更高时沿用其话题。
func mergeClassifications(fromModel, fromRules model.Classification) model.Classification {
	topic := fromModel.Topic
	risk := fromModel.Risk
	if fromRules.Risk > risk {
		risk = fromRules.Risk
		topic = fromRules.Topic
	}
	complexity := fromModel.Complexity
	if fromRules.Complexity > complexity {
		complexity = fromRules.Complexity
	}
	return model.NewClassification(topic, risk, complexity)
}
