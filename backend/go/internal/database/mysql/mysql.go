package mysql

import (
	"BizAdvisor/backend/go/internal/config"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	dbInstance *gorm.DB
	once       sync.Once
	initErr    error
)

// DSN 根据配置构建 MySQL 连接串。
func DSN(cfg *config.MySQLConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Username,
		cfg.Password,
		cfg.Address,
		cfg.Database,
	)
}

// GetDB 使用单例模式初始化并返回一个 GORM 数据库实例，并迁移顾问子系统的表结构。
// 后续的调用将直接返回已存在的实例。
func GetDB(cfg *config.MySQLConfig, log *logger.Logger) (*gorm.DB, error) {
	once.Do(func() {
		db, err := gorm.Open(mysql.Open(DSN(cfg)), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			initErr = fmt.Errorf("无法连接到 MySQL: %w", err)
			return
		}

		sqlDB, err := db.DB()
		if err != nil {
			initErr = fmt.Errorf("无法获取底层 SQL DB 实例: %w", err)
			return
		}
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
		}

		if err := Migrate(db); err != nil {
			initErr = err
			return
		}

		log.WithField("address", cfg.Address).Info("connected to MySQL")
		dbInstance = db
	})

	return dbInstance, initErr
}

// Migrate 创建或更新所有表。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	return nil
}

// Close 安全地关闭单例的数据库连接。
func Close() error {
	if dbInstance != nil {
		sqlDB, err := dbInstance.DB()
		if err != nil {
			return fmt.Errorf("获取底层 SQL DB 实例失败: %w", err)
		}
		return sqlDB.Close()
	}
	return nil
}

// HealthCheck 检查数据库连接的健康状况。
func HealthCheck(ctx context.Context) error {
	if dbInstance == nil {
		return fmt.Errorf("数据库连接未初始化")
	}
	sqlDB, err := dbInstance.DB()
	if err != nil {
		return fmt.Errorf("无法获取底层 SQL DB 实例进行健康检查: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
