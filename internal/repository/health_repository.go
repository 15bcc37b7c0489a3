package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"health-coach-go/internal/model"
)

// ErrNotFound 表示记录不存在。
var ErrNotFound = errors.New("record not found")

// HealthRepository 只读访问外部服务维护的健康数据。
type HealthRepository interface {
	GetProfile(ctx context.Context, userID uint) (*model.UserProfile, error)
	ListActiveProtocols(ctx context.Context, userID uint) ([]model.Protocol, error)
	ListActiveExperiments(ctx context.Context, userID uint) ([]model.Experiment, error)
	ListCareEvents(ctx context.Context, userID uint, since time.Time) ([]model.CareEvent, error)
	ListCycleLogs(ctx context.Context, userID uint, limit int) ([]model.CycleLog, error)
	ListHabits(ctx context.Context, userID uint) ([]model.Habit, error)
	ListHabitLogs(ctx context.Context, userID uint, since time.Time) ([]model.HabitLog, error)
	ListActiveSupplements(ctx context.Context, userID uint) ([]model.Supplement, error)
	ListRecentCheckIns(ctx context.Context, userID uint, limit int) ([]model.CheckIn, error)
	ListWearableDays(ctx context.Context, userID uint, since time.Time) ([]model.WearableDaily, error)
}

type healthRepository struct {
	db *gorm.DB
}

// NewHealthRepository 创建一个新的 HealthRepository 实例。
func NewHealthRepository(db *gorm.DB) HealthRepository {
	return &healthRepository{db: db}
}

func (r *healthRepository) GetProfile(ctx context.Context, userID uint) (*model.UserProfile, error) {
	var p model.UserProfile
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *healthRepository) ListActiveProtocols(ctx context.Context, userID uint) ([]model.Protocol, error) {
	var rows []model.Protocol
	err := r.db.WithContext(ctx).Where("user_id = ? AND status = ?", userID, "active").
		Order("started_at DESC").Find(&rows).Error
	return rows, err
}

func (r *healthRepository) ListActiveExperiments(ctx context.Context, userID uint) ([]model.Experiment, error) {
	var rows []model.Experiment
	err := r.db.WithContext(ctx).Where("user_id = ? AND status = ?", userID, "active").
		Order("started_at DESC").Find(&rows).Error
	return rows, err
}

func (r *healthRepository) ListCareEvents(ctx context.Context, userID uint, since time.Time) ([]model.CareEvent, error) {
	var rows []model.CareEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND (occurred_at >= ? OR follow_up_at >= ?)", userID, since, since).
		Order("occurred_at DESC").Find(&rows).Error
	return rows, err
}

func (r *healthRepository) ListCycleLogs(ctx context.Context, userID uint, limit int) ([]model.CycleLog, error) {
	var rows []model.CycleLog
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("period_start DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *healthRepository) ListHabits(ctx context.Context, userID uint) ([]model.Habit, error) {
	var rows []model.Habit
	err := r.db.WithContext(ctx).Where("user_id = ? AND archived = ?", userID, false).
		Order("id").Find(&rows).Error
	return rows, err
}

func (r *healthRepository) ListHabitLogs(ctx context.Context, userID uint, since time.Time) ([]model.HabitLog, error) {
	var rows []model.HabitLog
	err := r.db.WithContext(ctx).Where("user_id = ? AND day >= ?", userID, since).Find(&rows).Error
	return rows, err
}

func (r *healthRepository) ListActiveSupplements(ctx context.Context, userID uint) ([]model.Supplement, error) {
	var rows []model.Supplement
	err := r.db.WithContext(ctx).Where("user_id = ? AND active = ?", userID, true).
		Order("name").Find(&rows).Error
	return rows, err
}

func (r *healthRepository) ListRecentCheckIns(ctx context.Context, userID uint, limit int) ([]model.CheckIn, error) {
	var rows []model.CheckIn
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *healthRepository) ListWearableDays(ctx context.Context, userID uint, since time.Time) ([]model.WearableDaily, error) {
	var rows []model.WearableDaily
	err := r.db.WithContext(ctx).Where("user_id = ? AND day >= ?", userID, since).
		Order("day DESC").Find(&rows).Error
	return rows, err
}
