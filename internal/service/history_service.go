package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
	"gorm.io/datatypes"

	"health-coach-go/internal/model"
	"health-coach-go/internal/observability"
	"health-coach-go/internal/repository"
	"health-coach-go/pkg/log"
	"health-coach-go/pkg/tasks"
)

// Exchange 是一轮问答，落库为两行。
type Exchange struct {
	UserID      uint
	ThreadID    string
	UserMessage string
	Reply       string
	Metadata    map[string]interface{}
}

// HistoryService 负责对话历史的写回与读取。
type HistoryService interface {
	// SaveExchange 同步写入两行；窗口内已存在相同记录的行会被跳过。
	SaveExchange(ctx context.Context, ex Exchange) error
	// SaveExchangeAsync 把写入投递到后台队列，与请求生命周期解耦。
	SaveExchangeAsync(ex Exchange)
	ListThread(ctx context.Context, userID uint, threadID string, limit int) ([]model.HistoryItem, error)
}

type historyService struct {
	repo        repository.ChatHistoryRepository
	queue       *tasks.Queue
	dedupWindow time.Duration
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewHistoryService 创建一个新的 HistoryService 实例。
func NewHistoryService(repo repository.ChatHistoryRepository, queue *tasks.Queue, dedupWindow time.Duration, metrics *observability.Metrics) HistoryService {
	if dedupWindow <= 0 {
		dedupWindow = 5 * time.Minute
	}
	return &historyService{repo: repo, queue: queue, dedupWindow: dedupWindow, metrics: metrics, now: time.Now}
}

// ContentHash 返回内容的 BLAKE2b-256 十六进制摘要。
func ContentHash(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// SaveExchange 先检查后写入。两个并发的相同请求可能都通过检查，此时会写入重复行；
// 这里接受该竞态，不引入唯一约束。
func (s *historyService) SaveExchange(ctx context.Context, ex Exchange) error {
	rows := []*model.ChatHistory{
		{UserID: ex.UserID, ThreadID: ex.ThreadID, Role: string(model.RoleUser), Content: ex.UserMessage},
		{UserID: ex.UserID, ThreadID: ex.ThreadID, Role: string(model.RoleAssistant), Content: ex.Reply},
	}
	since := s.now().Add(-s.dedupWindow)
	for _, rec := range rows {
		if rec.Content == "" {
			continue
		}
		rec.ContentHash = ContentHash(rec.Content)
		if len(ex.Metadata) > 0 {
			rec.Metadata = datatypes.JSONMap(ex.Metadata)
		}
		exists, err := s.repo.ExistsSince(ctx, rec, since)
		if err != nil {
			return fmt.Errorf("check duplicate %s row: %w", rec.Role, err)
		}
		if exists {
			s.metrics.IncHistorySkipped()
			continue
		}
		if err := s.repo.Create(ctx, rec); err != nil {
			return fmt.Errorf("insert %s row: %w", rec.Role, err)
		}
	}
	return nil
}

func (s *historyService) SaveExchangeAsync(ex Exchange) {
	err := s.queue.Submit(tasks.Task{
		Name: "save_exchange",
		Run: func(ctx context.Context) error {
			return s.SaveExchange(ctx, ex)
		},
	})
	if err != nil {
		log.Warnw("对话历史未能入队", "userId", ex.UserID, "threadId", ex.ThreadID, "error", err)
	}
}

func (s *historyService) ListThread(ctx context.Context, userID uint, threadID string, limit int) ([]model.HistoryItem, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := s.repo.ListThread(ctx, userID, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list thread: %w", err)
	}
	items := make([]model.HistoryItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, model.HistoryItem{
			Role:      r.Role,
			Content:   r.Content,
			Metadata:  r.Metadata,
			CreatedAt: model.LocalTime(r.CreatedAt),
		})
	}
	return items, nil
}
