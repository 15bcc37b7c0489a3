package service

import (
	"context"
	"regexp"
	"strings"

	"health-coach-go/internal/model"
)

// Classifier 为最新一条用户消息产出安全分类，它是整条流水线的安全闸门。
type Classifier interface {
	Classify(ctx context.Context, text string) model.Classification
}

type topicRule struct {
	topic model.Topic
	re    *regexp.Regexp
}

var (
	emergencyRe = regexp.MustCompile(`(?i)\b(chest pain|can'?t breathe|cannot breathe|trouble breathing|suicid\w*|kill myself|end my life|self[- ]harm|overdos\w*|stroke|seizure|unconscious|passed out|anaphyla\w*|severe bleeding|heart attack|call 911)\b`)

	// 剂量单位本身就说明在问用药剂量
	unitDoseRe = regexp.MustCompile(`(?i)(\b\d+(\.\d+)?\s?(mg|mcg|iu)\b|\bhow (much|many)\b.{0,40}\b(mg|mcg|milligrams?|micrograms?|iu)\b)`)

	// 只有与药物或补剂同时出现时才算剂量问题
	doseAskRe = regexp.MustCompile(`(?i)(\b(dose|doses|dosage|dosing)\b|\b(should|can|could|do|may) i (take|use)\b|\bhow (much|many)\b.{0,60}\b(take|taking|use|safe)\b)`)

	medicationTermsRe = regexp.MustCompile(`(?i)\b(medication|meds|medicine|prescription|insulin|statins?|antidepressants?|ssris?|metformin|levothyroxine|ibuprofen|acetaminophen|paracetamol|blood thinners?|drug)\b`)

	supplementTermsRe = regexp.MustCompile(`(?i)\b(supplements?|melatonin|magnesium|creatine|vitamin \w+|vitamins?|omega-?3|fish oil|zinc|ashwagandha|probiotics?|protein powder|caffeine pills?|iron)\b`)

	dosageFormRe = regexp.MustCompile(`(?i)\b(pills?|tablets?|capsules?|gumm(y|ies))\b`)

	diagnosisRe = regexp.MustCompile(`(?i)(\bdo i have\b|\bdiagnos\w*|\bwhat'?s wrong with me\b|\bwhat is wrong with me\b|\bis (it|this) (cancer|diabetes|a tumou?r|an infection|serious)\b)`)

	medicationChangeRe = regexp.MustCompile(`(?i)\b(stop|stopping|quit|start|starting|switch|change|increase|decrease|reduce|double|skip|come off|taper)\b.{0,40}\b(medication|meds|medicine|prescription|insulin|statins?|antidepressants?|ssris?|metformin|levothyroxine|blood thinners?|birth control|pills?)\b`)

	symptomRe = regexp.MustCompile(`(?i)\b(pain|ache|aching|dizz\w*|nause\w*|fever|rash|swelling|swollen|numb\w*|palpitations?|shortness of breath|headaches?|migraines?|bleeding|lump|vomit\w*|faint\w*|tingling)\b`)

	complexRe = regexp.MustCompile(`(?i)\b(compare|comparison|versus|vs\.?|plan|program|programme|protocol|why|step by step|analy[sz]e|trend|trends|interpret|periodi[sz]ation|in detail|pros and cons|trade-?offs?)\b`)

	// 按优先级排列，命中多个时取第一个
	topicRules = []topicRule{
		{model.TopicMedication, medicationTermsRe},
		{model.TopicSupplements, supplementTermsRe},
		{model.TopicWomensHealth, regexp.MustCompile(`(?i)\b(period|menstrua\w*|cycle|ovulat\w*|pregnan\w*|menopaus\w*|perimenopaus\w*|pcos|luteal|follicular|fertility)\b`)},
		{model.TopicMentalHealth, regexp.MustCompile(`(?i)\b(anxiety|anxious|depress\w*|stress\w*|mood|burn ?out|panic|lonely|therapy|mental health|overwhelmed)\b`)},
		{model.TopicSleep, regexp.MustCompile(`(?i)\b(sleep\w*|insomnia|nap\w*|bedtime|circadian|jet ?lag|waking up|wake up|rem|deep sleep|tired)\b`)},
		{model.TopicNutrition, regexp.MustCompile(`(?i)\b(diet|nutrition|protein|carbs?|carbohydrates?|fat|fasting|calories?|meal|eat\w*|food|macros?|fiber|sugar|hydration|water intake)\b`)},
		{model.TopicExercise, regexp.MustCompile(`(?i)\b(vo2 ?max|exercise|workout|training|run\w*|cardio|zone ?2|strength|lift\w*|hiit|steps|recovery|hrv|heart rate|endurance|mobility|stretch\w*)\b`)},
	}
)

// RuleClassifier 使用正则规则集分类，无 I/O，延迟可忽略。
type RuleClassifier struct{}

// NewRuleClassifier 创建规则分类器。
func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

// Classify implements Classifier.
func (RuleClassifier) Classify(_ context.Context, text string) model.Classification {
	return classifyByRules(text)
}

func classifyByRules(text string) model.Classification {
	t := strings.TrimSpace(text)

	topic := detectTopic(t)
	risk := model.RiskNone
	switch {
	case emergencyRe.MatchString(t):
		topic = model.TopicEmergency
		risk = model.RiskHigh
	case isDosageRequest(t):
		if topic == model.TopicGeneral {
			topic = model.TopicMedication
		}
		risk = model.RiskHigh
	case diagnosisRe.MatchString(t):
		topic = model.TopicSymptoms
		risk = model.RiskHigh
	case medicationChangeRe.MatchString(t):
		topic = model.TopicMedication
		risk = model.RiskModerate
	case symptomRe.MatchString(t):
		if topic == model.TopicGeneral {
			topic = model.TopicSymptoms
		}
		risk = model.RiskModerate
	case topic.IsHealth():
		risk = model.RiskLow
	}

	complexity := model.ComplexitySimple
	if risk == model.RiskModerate || len([]rune(t)) > 280 || strings.Count(t, "?") > 1 || complexRe.MatchString(t) {
		complexity = model.ComplexityComplex
	}
	return model.NewClassification(topic, risk, complexity)
}

// isDosageRequest 判断是否在索要具体剂量：带剂量单位，或剂量措辞与药物/补剂同时出现。
func isDosageRequest(text string) bool {
	if unitDoseRe.MatchString(text) {
		return true
	}
	if !doseAskRe.MatchString(text) {
		return false
	}
	return medicationTermsRe.MatchString(text) || supplementTermsRe.MatchString(text) || dosageFormRe.MatchString(text)
}

func detectTopic(text string) model.Topic {
	for _, r := range topicRules {
		if r.re.MatchString(text) {
			return r.topic
		}
	}
	return model.TopicGeneral
}

// TriageMessage 返回被拦截时展示给用户的安全提示，始终非空。
func TriageMessage(topic model.Topic, risk model.Risk) string {
	if topic == model.TopicEmergency {
		return "This sounds like it could be an emergency. Please call your local emergency number (such as 911) or go to the nearest emergency department now. If you are thinking about harming yourself, contact a crisis line such as 988 in the US."
	}
	if risk < model.RiskHigh {
		return "I can't help with this request. Please reach out to a qualified healthcare professional."
	}
	switch topic {
	case model.TopicMedication, model.TopicSupplements:
		return "I can't recommend specific doses or changes to medications or supplements. Your doctor or pharmacist can advise on what is safe for you, taking your health history and other medications into account."
	case model.TopicSymptoms:
		return "I can't diagnose conditions. Please describe these symptoms to a doctor or another licensed clinician who can examine you. If they are severe or getting worse, seek urgent care."
	case model.TopicWomensHealth:
		return "This question needs individual medical advice. Please talk to your gynecologist or primary care provider."
	case model.TopicMentalHealth:
		return "I'm not able to help with this safely. Please reach out to a mental health professional, or a crisis line such as 988 in the US if you need to talk to someone now."
	default:
		return "This question needs a qualified healthcare professional. Please consult your doctor before acting on it."
	}
}
