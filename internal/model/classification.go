package model

import (
	"fmt"
	"strings"
)

// Topic 是分类器输出的话题，取值为封闭集合。
type Topic string

const (
	TopicGeneral      Topic = "general"
	TopicSleep        Topic = "sleep"
	TopicNutrition    Topic = "nutrition"
	TopicExercise     Topic = "exercise"
	TopicSupplements  Topic = "supplements"
	TopicMedication   Topic = "medication"
	TopicMentalHealth Topic = "mental_health"
	TopicWomensHealth Topic = "womens_health"
	TopicSymptoms     Topic = "symptoms"
	TopicEmergency    Topic = "emergency"
)

var topics = map[Topic]struct{}{
	TopicGeneral: {}, TopicSleep: {}, TopicNutrition: {}, TopicExercise: {}, TopicSupplements: {},
	TopicMedication: {}, TopicMentalHealth: {}, TopicWomensHealth: {}, TopicSymptoms: {}, TopicEmergency: {},
}

// ParseTopic 解析话题字符串，未知值返回错误。
func ParseTopic(s string) (Topic, error) {
	t := Topic(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := topics[t]; !ok {
		return "", fmt.Errorf("unknown topic %q", s)
	}
	return t, nil
}

func (t Topic) String() string { return string(t) }

// IsHealth 判断话题是否属于健康领域（general 以外的全部话题）。
func (t Topic) IsHealth() bool {
	return t != TopicGeneral && t != ""
}

// Risk 是风险等级，数值越大越危险，可直接比较。
type Risk int

const (
	RiskNone Risk = iota
	RiskLow
	RiskModerate
	RiskHigh
)

func (r Risk) String() string {
	switch r {
	case RiskNone:
		return "none"
	case RiskLow:
		return "low"
	case RiskModerate:
		return "moderate"
	case RiskHigh:
		return "high"
	default:
		return fmt.Sprintf("Risk(%d)", int(r))
	}
}

// ParseRisk 解析风险等级字符串。
func ParseRisk(s string) (Risk, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return RiskNone, nil
	case "low":
		return RiskLow, nil
	case "moderate":
		return RiskModerate, nil
	case "high":
		return RiskHigh, nil
	}
	return RiskNone, fmt.Errorf("unknown risk %q", s)
}

func (r Risk) MarshalText() ([]byte, error) {
	if r < RiskNone || r > RiskHigh {
		return nil, fmt.Errorf("invalid risk %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Risk) UnmarshalText(b []byte) error {
	v, err := ParseRisk(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Complexity 表示问题复杂度，决定模型档位。
type Complexity int

const (
	ComplexitySimple Complexity = iota
	ComplexityComplex
)

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityComplex:
		return "complex"
	default:
		return fmt.Sprintf("Complexity(%d)", int(c))
	}
}

// ParseComplexity 解析复杂度字符串。
func ParseComplexity(s string) (Complexity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simple":
		return ComplexitySimple, nil
	case "complex":
		return ComplexityComplex, nil
	}
	return ComplexitySimple, fmt.Errorf("unknown complexity %q", s)
}

func (c Complexity) MarshalText() ([]byte, error) {
	if c != ComplexitySimple && c != ComplexityComplex {
		return nil, fmt.Errorf("invalid complexity %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Complexity) UnmarshalText(b []byte) error {
	v, err := ParseComplexity(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Classification 对最新一条用户消息的安全分类结果，每个请求只生成一次。
type Classification struct {
	Topic       Topic      `json:"topic"`
	Risk        Risk       `json:"risk"`
	Complexity  Complexity `json:"complexity"`
	AllowAnswer bool       `json:"allowAnswer"`
}

// NewClassification 根据风险等级推导 AllowAnswer。
func NewClassification(topic Topic, risk Risk, complexity Complexity) Classification {
	return Classification{
		Topic:       topic,
		Risk:        risk,
		Complexity:  complexity,
		AllowAnswer: risk != RiskHigh,
	}
}
