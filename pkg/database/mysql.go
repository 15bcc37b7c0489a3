// Package database 管理 MySQL 与 Redis 连接。
package database

import (
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"health-coach-go/internal/config"
	"health-coach-go/internal/model"
	"health-coach-go/pkg/log"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接，并迁移本服务自有的 chat_history 表。
// 健康数据表由外部服务维护，这里不做迁移。
func InitMySQL(cfg config.MySQLConfig) {
	var err error
	DB, err = gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(DB); err != nil {
		log.Fatal("failed to migrate chat_history", err)
	}
	log.Info("MySQL database connected successfully")
}

// Migrate 创建或更新本服务拥有的表。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.ChatHistory{})
}
