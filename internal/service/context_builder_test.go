package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-coach-go/internal/config"
	"health-coach-go/internal/model"
)

func intPtr(v int) *int { return &v }

func TestContextBuilder_AllLookupsFailUsesDefaults(t *testing.T) {
	repo := &fakeHealthRepo{err: errors.New("db down")}
	rag := &fakeRag{err: errors.New("es down")}
	b := NewContextBuilder(repo, rag, config.ContextConfig{LookupTimeoutMs: 200}, nil)

	cc, sources := b.Build(context.Background(), 7, "how do I sleep better", model.NewClassification(model.TopicSleep, model.RiskLow, model.ComplexitySimple), "")

	want := model.NewDefaultCoachContext()
	want.SleepMode = true
	assert.Equal(t, want, cc)
	assert.Empty(t, sources)
	assert.NotNil(t, sources)
	assert.Equal(t, int32(1), rag.calls.Load())
}

func TestContextBuilder_FillsDigests(t *testing.T) {
	now := time.Now()
	repo := &fakeHealthRepo{
		profile: &model.UserProfile{UserID: 7, DisplayName: "Sam", Goals: "run a marathon"},
		wearable: []model.WearableDaily{
			{Day: now.AddDate(0, 0, -1), SleepMinutes: 420, Steps: 8000, ReadinessScore: intPtr(40)},
			{Day: now, SleepMinutes: 480, Steps: 10000, ReadinessScore: intPtr(82)},
		},
		supps: []model.Supplement{{Name: "Magnesium", Dose: "200 mg", Active: true}},
	}
	rag := &fakeRag{bundle: RagBundle{
		Snippets: "[1] (Zone 2) easy aerobic work",
		Sources:  []model.RagSource{{ID: "c1", Title: "Zone 2", Similarity: 0.8}},
	}}
	b := NewContextBuilder(repo, rag, config.ContextConfig{LookupTimeoutMs: 500}, nil)

	cc, sources := b.Build(context.Background(), 7, "what is vo2 max", model.NewClassification(model.TopicExercise, model.RiskLow, model.ComplexitySimple), "")

	assert.Contains(t, cc.UserProfile, "Sam")
	assert.Contains(t, cc.WearableSummary, "2-day averages")
	assert.Equal(t, model.TodayModePush, cc.TodayMode)
	assert.Contains(t, cc.SupplementsSummary, "Magnesium")
	assert.Equal(t, "[1] (Zone 2) easy aerobic work", cc.KnowledgeSnippets)
	assert.Equal(t, model.DefaultProtocolStatus, cc.ProtocolStatus)
	assert.False(t, cc.SleepMode)
	assert.False(t, rag.sleepMode.Load())
	require.Len(t, sources, 1)
	assert.Equal(t, "c1", sources[0].ID)
}

func TestContextBuilder_SlowLookupTimesOut(t *testing.T) {
	repo := &fakeHealthRepo{delay: time.Second}
	b := NewContextBuilder(repo, nil, config.ContextConfig{LookupTimeoutMs: 50}, nil)

	start := time.Now()
	cc, _ := b.Build(context.Background(), 1, "hi", model.NewClassification(model.TopicGeneral, model.RiskNone, model.ComplexitySimple), "")

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, model.DefaultWearableSummary, cc.WearableSummary)
	assert.Equal(t, model.TodayModeStandard, cc.TodayMode)
}

func TestContextBuilder_SleepDomainHint(t *testing.T) {
	rag := &fakeRag{}
	b := NewContextBuilder(&fakeHealthRepo{}, rag, config.ContextConfig{}, nil)

	cc, _ := b.Build(context.Background(), 1, "any tips?", model.NewClassification(model.TopicGeneral, model.RiskNone, model.ComplexitySimple), "sleep")

	assert.True(t, cc.SleepMode)
	assert.True(t, rag.sleepMode.Load())
}

func TestIsSleepMode(t *testing.T) {
	assert.True(t, IsSleepMode("", "I have insomnia lately"))
	assert.True(t, IsSleepMode("Sleep", "hello"))
	assert.False(t, IsSleepMode("nutrition", "how much protein"))
}
