package model

import "time"

// 以下模型由外部服务维护，本服务只读。

// UserProfile 用户基础档案。
type UserProfile struct {
	UserID        uint   `gorm:"primaryKey;column:user_id"`
	DisplayName   string `gorm:"type:varchar(100)"`
	Sex           string `gorm:"type:varchar(16)"`
	BirthYear     int
	HeightCm      float64
	WeightKg      float64
	Goals         string `gorm:"type:text"`
	Conditions    string `gorm:"type:text"`
	ActivityLevel string `gorm:"type:varchar(32)"`
}

func (UserProfile) TableName() string { return "user_profiles" }

// Protocol 用户正在执行的健康方案。
type Protocol struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index"`
	Name      string `gorm:"type:varchar(128)"`
	Status    string `gorm:"type:varchar(16)"` // active / paused / completed
	StartedAt time.Time
	EndsAt    *time.Time
}

func (Protocol) TableName() string { return "protocols" }

// Experiment 用户自定义的 N-of-1 实验。
type Experiment struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     uint   `gorm:"index"`
	Hypothesis string `gorm:"type:text"`
	Metric     string `gorm:"type:varchar(64)"`
	Status     string `gorm:"type:varchar(16)"`
	StartedAt  time.Time
	EndsAt     *time.Time
}

func (Experiment) TableName() string { return "experiments" }

// Habit 用户跟踪的习惯。
type Habit struct {
	ID       uint   `gorm:"primaryKey"`
	UserID   uint   `gorm:"index"`
	Name     string `gorm:"type:varchar(128)"`
	Archived bool
}

func (Habit) TableName() string { return "habits" }

// HabitLog 习惯完成记录，每天最多一条。
type HabitLog struct {
	ID        uint `gorm:"primaryKey"`
	HabitID   uint `gorm:"index"`
	UserID    uint `gorm:"index"`
	Day       time.Time
	Completed bool
}

func (HabitLog) TableName() string { return "habit_logs" }

// Supplement 用户记录的补剂。
type Supplement struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index"`
	Name      string `gorm:"type:varchar(128)"`
	Dose      string `gorm:"type:varchar(64)"`
	Timing    string `gorm:"type:varchar(64)"`
	Active    bool
	StartedAt time.Time
}

func (Supplement) TableName() string { return "supplements" }

// CheckIn 用户每日主观打卡。
type CheckIn struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"index"`
	Mood      int
	Energy    int
	Stress    int
	Notes     string `gorm:"type:text"`
	CreatedAt time.Time
}

func (CheckIn) TableName() string { return "check_ins" }

// WearableDaily 可穿戴设备的每日汇总。
type WearableDaily struct {
	ID             uint `gorm:"primaryKey"`
	UserID         uint `gorm:"index"`
	Day            time.Time
	SleepMinutes   int
	RestingHR      float64
	HRV            float64
	Steps          int
	ReadinessScore *int
}

func (WearableDaily) TableName() string { return "wearable_daily" }

// CareEvent 就医、化验等医疗事件。
type CareEvent struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     uint   `gorm:"index"`
	Kind       string `gorm:"type:varchar(32)"`
	Summary    string `gorm:"type:text"`
	OccurredAt time.Time
	FollowUpAt *time.Time
}

func (CareEvent) TableName() string { return "care_events" }

// CycleLog 月经周期记录。
type CycleLog struct {
	ID          uint `gorm:"primaryKey"`
	UserID      uint `gorm:"index"`
	PeriodStart time.Time
	CycleLength int
	Symptoms    string `gorm:"type:text"`
}

func (CycleLog) TableName() string { return "cycle_logs" }
