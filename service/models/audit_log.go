/*
 * @module service/models/audit_log
 * @description 同步审计日志模型，记录每次冲突解决与队列重试的前后字段值和操作者
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 只追加，不更新不删除
 * @rules 每个冲突的每次解决恰好产生一条审计记录
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/audit
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncAuditLog 同步审计日志模型
type SyncAuditLog struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)" example:"550e8400-e29b-41d4-a716-446655440000"`
	Action     string    `json:"action" gorm:"not null;size:30;index" example:"auto_resolve"` // auto_resolve, manual_resolve, bulk_resolve, queue_retry
	EntityType string    `json:"entity_type" gorm:"not null;size:20;index" example:"contact"`
	EntityID   string    `json:"entity_id" gorm:"not null;type:varchar(36);index" example:"550e8400-e29b-41d4-a716-446655440000"`
	ConflictID string    `json:"conflict_id,omitempty" gorm:"type:varchar(36);index"`
	QueueID    string    `json:"queue_id,omitempty" gorm:"type:varchar(36)"`
	Source     string    `json:"source,omitempty" gorm:"size:10"` // local, remote, mixed
	Actor      string    `json:"actor" gorm:"not null;size:100;default:'system'" example:"admin"`
	Before     JSONB     `json:"before,omitempty" gorm:"type:jsonb"` // 解决前的字段值
	After      JSONB     `json:"after,omitempty" gorm:"type:jsonb"`  // 解决后写入的字段值
	Detail     string    `json:"detail,omitempty" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (a *SyncAuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Actor == "" {
		a.Actor = "system"
	}
	return nil
}
