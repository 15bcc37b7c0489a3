package model

// TodayMode 由最新的可穿戴设备恢复分数推导出的当日训练建议。
type TodayMode string

const (
	TodayModeRecovery TodayMode = "recovery"
	TodayModeStandard TodayMode = "standard"
	TodayModePush     TodayMode = "push"
)

// 每个字段在数据源不可用时的兜底文案。
const (
	DefaultUserProfile         = "No profile information available"
	DefaultRecentCheckIns      = "No recent check-ins"
	DefaultWearableSummary     = "No wearable data available"
	DefaultProtocolStatus      = "No active protocols"
	DefaultKnowledgeSnippets   = "No relevant knowledge base entries"
	DefaultExperimentsSummary  = "No active experiments"
	DefaultCareStatus          = "No care events on record"
	DefaultWomensHealthSummary = "No cycle data available"
	DefaultHabitsSummary       = "No habits tracked"
	DefaultSupplementsSummary  = "No supplements recorded"
)

// CoachContext 是一次请求内组装的完整上下文，任何字段都不会为空。
type CoachContext struct {
	UserProfile         string    `json:"userProfile"`
	RecentCheckIns      string    `json:"recentCheckIns"`
	WearableSummary     string    `json:"wearableSummary"`
	ProtocolStatus      string    `json:"protocolStatus"`
	KnowledgeSnippets   string    `json:"knowledgeSnippets"`
	TodayMode           TodayMode `json:"todayMode"`
	SleepMode           bool      `json:"sleepMode"`
	ExperimentsSummary  string    `json:"experimentsSummary"`
	CareStatus          string    `json:"careStatus"`
	WomensHealthSummary string    `json:"womensHealthSummary"`
	HabitsSummary       string    `json:"habitsSummary"`
	SupplementsSummary  string    `json:"supplementsSummary"`
}

// NewDefaultCoachContext 返回所有字段均为兜底值的上下文。
func NewDefaultCoachContext() CoachContext {
	return CoachContext{
		UserProfile:         DefaultUserProfile,
		RecentCheckIns:      DefaultRecentCheckIns,
		WearableSummary:     DefaultWearableSummary,
		ProtocolStatus:      DefaultProtocolStatus,
		KnowledgeSnippets:   DefaultKnowledgeSnippets,
		TodayMode:           TodayModeStandard,
		ExperimentsSummary:  DefaultExperimentsSummary,
		CareStatus:          DefaultCareStatus,
		WomensHealthSummary: DefaultWomensHealthSummary,
		HabitsSummary:       DefaultHabitsSummary,
		SupplementsSummary:  DefaultSupplementsSummary,
	}
}

// FillDefaults 将空字段替换为兜底值。
func (c *CoachContext) FillDefaults() {
	d := NewDefaultCoachContext()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&c.UserProfile, d.UserProfile)
	fill(&c.RecentCheckIns, d.RecentCheckIns)
	fill(&c.WearableSummary, d.WearableSummary)
	fill(&c.ProtocolStatus, d.ProtocolStatus)
	fill(&c.KnowledgeSnippets, d.KnowledgeSnippets)
	fill(&c.ExperimentsSummary, d.ExperimentsSummary)
	fill(&c.CareStatus, d.CareStatus)
	fill(&c.WomensHealthSummary, d.WomensHealthSummary)
	fill(&c.HabitsSummary, d.HabitsSummary)
	fill(&c.SupplementsSummary, d.SupplementsSummary)
	if c.TodayMode == "" {
		c.TodayMode = d.TodayMode
	}
}
