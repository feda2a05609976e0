/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、迁移、全局服务装配以及处理器和调度器的启动
 * @architecture 分层架构 - 服务层
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 应用启动时执行初始化流程
 * @rules 确保所有依赖服务正常启动后才提供API服务
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres
 * @refs main.go, api/routes.go
 */

package service

import (
	"context"
	"crmsync-service/service/audit"
	"crmsync-service/service/conflict"
	"crmsync-service/service/database"
	"crmsync-service/service/distributed_lock"
	"crmsync-service/service/record"
	"crmsync-service/service/rules"
	"crmsync-service/service/scheduler"
	"crmsync-service/service/sync_queue"
	"errors"
	"fmt"
	"log"
	"os"

	"crmsync-service/service/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB                      *gorm.DB
	GlobalAuditService      *audit.Service
	GlobalRecordService     *record.Service
	GlobalQueueService      *sync_queue.QueueService
	GlobalRuleService       *rules.RuleService
	GlobalDetector          *conflict.Detector
	GlobalResolutionService *conflict.ResolutionService
	GlobalQueueProcessor    *sync_queue.QueueProcessor
	GlobalPollScheduler     *scheduler.PollScheduler
)

func init() {
	initDatabase()
	runMigrations()
	initServices()
}

// initDatabase 初始化数据库连接
func initDatabase() {
	var dsn string

	// 优先使用DATABASE_URL环境变量
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		dsn = databaseURL
	} else {
		// 使用分离的环境变量构建连接字符串
		host := getEnvWithDefault("DB_HOST", "localhost")
		port := getEnvWithDefault("DB_PORT", "5432")
		user := getEnvWithDefault("DB_USER", "postgres")
		password := getEnvWithDefault("DB_PASSWORD", "postgres")
		dbname := getEnvWithDefault("DB_NAME", "postgres")
		sslmode := getEnvWithDefault("DB_SSLMODE", "disable")
		schema := getEnvWithDefault("DB_SCHEMA", "public")

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s",
			host, port, user, password, dbname, sslmode, schema)
	}

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	log.Println("数据库连接成功")
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// runMigrations 运行数据库迁移
func runMigrations() {
	log.Println("开始运行数据库迁移...")

	if err := database.AutoMigrate(DB); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	log.Println("数据库表结构迁移完成")
}

// initServices 初始化服务
func initServices() {
	GlobalAuditService = audit.NewService(DB)
	GlobalRecordService = record.NewService(DB)
	GlobalQueueService = sync_queue.NewQueueService(DB, GlobalAuditService)
	GlobalRuleService = rules.NewRuleService(DB)
	GlobalDetector = conflict.NewDetector(DB)
	GlobalResolutionService = conflict.NewResolutionService(DB, GlobalRuleService, GlobalRecordService,
		GlobalAuditService, &correctiveEnqueuer{queue: GlobalQueueService})

	adapter := sync_queue.NewHTTPRemoteAdapter()
	GlobalQueueProcessor = sync_queue.NewQueueProcessor(GlobalQueueService, adapter,
		GlobalDetector, GlobalResolutionService, GlobalRecordService)
	GlobalQueueProcessor.Start()

	// 分布式锁不可用时退化为单实例调度
	var lock distributed_lock.DistributedLock
	if redisLock, err := distributed_lock.NewRedisLock(); err != nil {
		log.Printf("Redis分布式锁初始化失败，轮询调度退化为无锁模式: %v", err)
	} else {
		lock = redisLock
	}

	GlobalPollScheduler = scheduler.NewPollScheduler(DB, GlobalQueueService, lock)
	if err := GlobalPollScheduler.Start(); err != nil {
		log.Printf("启动入站轮询调度器失败: %v", err)
	}

	log.Println("服务初始化完成")
}

// correctiveEnqueuer 冲突解决后的纠正推送入队适配
// 同键已有在途推送时视为成功，该推送完成后自然会带上胜出值
type correctiveEnqueuer struct {
	queue *sync_queue.QueueService
}

func (e *correctiveEnqueuer) Enqueue(ctx context.Context, entityType, entityID, direction string) (*models.SyncQueueItem, error) {
	item, err := e.queue.Enqueue(ctx, entityType, entityID, direction)
	if errors.Is(err, sync_queue.ErrDuplicateInFlight) {
		return nil, nil
	}
	return item, err
}
