package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"health-coach-go/internal/config"
	"health-coach-go/internal/model"
	"health-coach-go/internal/observability"
	"health-coach-go/internal/repository"
	"health-coach-go/pkg/log"
)

const (
	careLookbackDays = 90
	cycleLogLimit    = 3
)

var sleepModeRe = regexp.MustCompile(`(?i)\b(sleep\w*|insomnia|bedtime|can'?t fall asleep|wake up at night|night waking|circadian|jet ?lag)\b`)

// ContextBuilder 并发查询用户数据与知识库，组装 CoachContext。
type ContextBuilder struct {
	healthRepo repository.HealthRepository
	ragService RagService
	cfg        config.ContextConfig
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewContextBuilder 创建一个新的 ContextBuilder。ragService 为 nil 时跳过知识库检索。
func NewContextBuilder(healthRepo repository.HealthRepository, ragService RagService, cfg config.ContextConfig, metrics *observability.Metrics) *ContextBuilder {
	if cfg.CheckInLimit <= 0 {
		cfg.CheckInLimit = 3
	}
	if cfg.DigestDays <= 0 {
		cfg.DigestDays = 7
	}
	if cfg.LookupTimeoutMs <= 0 {
		cfg.LookupTimeoutMs = 1500
	}
	return &ContextBuilder{
		healthRepo: healthRepo,
		ragService: ragService,
		cfg:        cfg,
		metrics:    metrics,
		now:        time.Now,
	}
}

// IsSleepMode 判断本轮是否按睡眠模式检索。
func IsSleepMode(domain, text string) bool {
	if strings.EqualFold(strings.TrimSpace(domain), string(model.TopicSleep)) {
		return true
	}
	return sleepModeRe.MatchString(text)
}

// Build 组装上下文，从不返回错误：任一查询失败或超时都使用兜底文案。
func (b *ContextBuilder) Build(ctx context.Context, userID uint, latestUserMessage string, cls model.Classification, domain string) (model.CoachContext, []model.RagSource) {
	now := b.now()
	days := b.cfg.DigestDays
	sleepMode := IsSleepMode(domain, latestUserMessage) || cls.Topic == model.TopicSleep

	var (
		out     model.CoachContext
		sources []model.RagSource
		g       errgroup.Group
	)

	b.lookup(ctx, &g, userID, "profile", func(ctx context.Context) error {
		p, err := b.healthRepo.GetProfile(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out.UserProfile = ProfileDigest(p, now)
		return nil
	})
	b.lookup(ctx, &g, userID, "protocols", func(ctx context.Context) error {
		rows, err := b.healthRepo.ListActiveProtocols(ctx, userID)
		if err != nil {
			return err
		}
		out.ProtocolStatus = ProtocolDigest(rows, now)
		return nil
	})
	b.lookup(ctx, &g, userID, "experiments", func(ctx context.Context) error {
		rows, err := b.healthRepo.ListActiveExperiments(ctx, userID)
		if err != nil {
			return err
		}
		out.ExperimentsSummary = ExperimentsDigest(rows, now)
		return nil
	})
	b.lookup(ctx, &g, userID, "care", func(ctx context.Context) error {
		rows, err := b.healthRepo.ListCareEvents(ctx, userID, now.AddDate(0, 0, -careLookbackDays))
		if err != nil {
			return err
		}
		out.CareStatus = CareDigest(rows, now)
		return nil
	})
	b.lookup(ctx, &g, userID, "womens_health", func(ctx context.Context) error {
		rows, err := b.healthRepo.ListCycleLogs(ctx, userID, cycleLogLimit)
		if err != nil {
			return err
		}
		out.WomensHealthSummary = WomensHealthDigest(rows, now)
		return nil
	})
	b.lookup(ctx, &g, userID, "habits", func(ctx context.Context) error {
		habits, err := b.healthRepo.ListHabits(ctx, userID)
		if err != nil {
			return err
		}
		if len(habits) == 0 {
			return nil
		}
		logs, err := b.healthRepo.ListHabitLogs(ctx, userID, now.AddDate(0, 0, -days))
		if err != nil {
			return err
		}
		out.HabitsSummary = HabitsDigest(habits, logs, days)
		return nil
	})
	b.lookup(ctx, &g, userID, "supplements", func(ctx context.Context) error {
		rows, err := b.healthRepo.ListActiveSupplements(ctx, userID)
		if err != nil {
			return err
		}
		out.SupplementsSummary = SupplementsDigest(rows)
		return nil
	})
	b.lookup(ctx, &g, userID, "check_ins", func(ctx context.Context) error {
		rows, err := b.healthRepo.ListRecentCheckIns(ctx, userID, b.cfg.CheckInLimit)
		if err != nil {
			return err
		}
		out.RecentCheckIns = CheckInsDigest(rows)
		return nil
	})
	b.lookup(ctx, &g, userID, "wearables", func(ctx context.Context) error {
		rows, err := b.healthRepo.ListWearableDays(ctx, userID, now.AddDate(0, 0, -days))
		if err != nil {
			return err
		}
		out.WearableSummary = WearableDigest(rows)
		out.TodayMode = TodayModeFrom(rows)
		return nil
	})
	if b.ragService != nil && strings.TrimSpace(latestUserMessage) != "" {
		b.lookup(ctx, &g, userID, "rag", func(ctx context.Context) error {
			bundle, err := b.ragService.Retrieve(ctx, userID, latestUserMessage, sleepMode)
			if err != nil {
				return err
			}
			out.KnowledgeSnippets = bundle.Snippets
			sources = bundle.Sources
			return nil
		})
	}

	// 每个 goroutine 都返回 nil，Wait 只用于等待全部结束。
	_ = g.Wait()

	out.SleepMode = sleepMode
	out.FillDefaults()
	if sources == nil {
		sources = []model.RagSource{}
	}
	return out, sources
}

// lookup 在独立超时下运行一个查询；失败只记录告警与指标，不会中断其他查询。
func (b *ContextBuilder) lookup(ctx context.Context, g *errgroup.Group, userID uint, name string, fn func(ctx context.Context) error) {
	g.Go(func() (err error) {
		lctx, cancel := context.WithTimeout(ctx, b.cfg.LookupTimeout())
		defer cancel()
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
			failed := err != nil
			if failed {
				log.Warnw("上下文查询失败，使用默认值", "lookup", name, "userId", userID, "error", err)
			}
			b.metrics.ObserveLookup(name, time.Since(start), failed)
			err = nil
		}()
		return fn(lctx)
	})
}
