package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"health-coach-go/internal/model"
	"health-coach-go/pkg/llm"
)

// fakeHealthRepo 返回预置数据；err 非空时所有方法都失败。
type fakeHealthRepo struct {
	err      error
	delay    time.Duration
	calls    atomic.Int32
	profile  *model.UserProfile
	wearable []model.WearableDaily
	checkIns []model.CheckIn
	supps    []model.Supplement
}

func (f *fakeHealthRepo) wait(ctx context.Context) error {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func (f *fakeHealthRepo) GetProfile(ctx context.Context, _ uint) (*model.UserProfile, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.profile, nil
}

func (f *fakeHealthRepo) ListActiveProtocols(ctx context.Context, _ uint) ([]model.Protocol, error) {
	return nil, f.wait(ctx)
}

func (f *fakeHealthRepo) ListActiveExperiments(ctx context.Context, _ uint) ([]model.Experiment, error) {
	return nil, f.wait(ctx)
}

func (f *fakeHealthRepo) ListCareEvents(ctx context.Context, _ uint, _ time.Time) ([]model.CareEvent, error) {
	return nil, f.wait(ctx)
}

func (f *fakeHealthRepo) ListCycleLogs(ctx context.Context, _ uint, _ int) ([]model.CycleLog, error) {
	return nil, f.wait(ctx)
}

func (f *fakeHealthRepo) ListHabits(ctx context.Context, _ uint) ([]model.Habit, error) {
	return nil, f.wait(ctx)
}

func (f *fakeHealthRepo) ListHabitLogs(ctx context.Context, _ uint, _ time.Time) ([]model.HabitLog, error) {
	return nil, f.wait(ctx)
}

func (f *fakeHealthRepo) ListActiveSupplements(ctx context.Context, _ uint) ([]model.Supplement, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.supps, nil
}

func (f *fakeHealthRepo) ListRecentCheckIns(ctx context.Context, _ uint, _ int) ([]model.CheckIn, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.checkIns, nil
}

func (f *fakeHealthRepo) ListWearableDays(ctx context.Context, _ uint, _ time.Time) ([]model.WearableDaily, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.wearable, nil
}

type fakeRag struct {
	bundle    RagBundle
	err       error
	calls     atomic.Int32
	sleepMode atomic.Bool
}

func (f *fakeRag) Retrieve(_ context.Context, _ uint, _ string, sleepMode bool) (RagBundle, error) {
	f.calls.Add(1)
	f.sleepMode.Store(sleepMode)
	return f.bundle, f.err
}

// fakeProvider 按 tokens 逐个回调；err 在输出 failAfter 个 token 后返回。
type fakeProvider struct {
	name      string
	tokens    []string
	err       error
	failAfter int
	block     bool

	mu     sync.Mutex
	calls  int
	models []string
	last   []llm.Message
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) StreamChat(ctx context.Context, modelName string, messages []llm.Message, _ *llm.GenerationParams, onToken llm.TokenFunc) error {
	p.mu.Lock()
	p.calls++
	p.models = append(p.models, modelName)
	p.last = messages
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	for i, tok := range p.tokens {
		if p.err != nil && i == p.failAfter {
			return p.err
		}
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return p.err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) lastMessages() []llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
