/*
 * @module service/database/migrate
 * @description 数据库迁移模块，负责创建和更新同步引擎相关表结构
 * @architecture 数据访问层 - 迁移管理
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 应用启动时执行数据库迁移
 * @rules 确保数据库结构与模型定义保持一致
 * @dependencies crmsync-service/service/models, gorm.io/gorm
 * @refs service/init.go
 */

package database

import (
	"crmsync-service/service/models"
	"log"

	"gorm.io/gorm"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	log.Println("开始数据库迁移...")

	// 同步引擎相关表
	err := db.AutoMigrate(
		&models.EntityRecord{},
		&models.SyncQueueItem{},
		&models.SyncConflict{},
		&models.AutoResolutionRule{},
		&models.SyncAuditLog{},
	)
	if err != nil {
		return err
	}

	// PostgreSQL 下用部分唯一索引兜底"每实体至多一个 open 冲突"
	if db.Dialector.Name() == "postgres" {
		err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_conflicts_open
			ON sync_conflicts (entity_type, entity_id) WHERE status = 'open'`).Error
		if err != nil {
			return err
		}
	}

	log.Println("数据库迁移完成")
	return nil
}
