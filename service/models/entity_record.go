/*
 * @module service/models/entity_record
 * @description 实体记录模型，保存本地当前快照与最近一次成功同步的基线快照
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 本地编辑更新 Fields，同步成功推进 LastSynced 基线
 * @rules 基线是三路比对的参照，只有同步成功时才允许推进
 * @dependencies gorm.io/gorm, github.com/google/uuid, service/meta
 * @refs service/record, service/conflict
 */

package models

import (
	"crmsync-service/service/meta"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EntityRecord 实体记录模型，每个被跟踪实体一行
type EntityRecord struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)" example:"550e8400-e29b-41d4-a716-446655440000"`
	EntityType string    `json:"entity_type" gorm:"not null;size:20;uniqueIndex:idx_record_entity" example:"contact"`
	EntityID   string    `json:"entity_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_record_entity" example:"550e8400-e29b-41d4-a716-446655440000"`
	Fields     JSONB     `json:"fields" gorm:"type:jsonb"`      // 本地当前快照
	LastSynced JSONB     `json:"last_synced" gorm:"type:jsonb"` // 最近一次成功同步的基线快照
	CreatedAt  time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID并验证
func (e *EntityRecord) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if !meta.IsValidEntityType(e.EntityType) {
		return errors.New("无效的实体类型: " + e.EntityType)
	}
	return nil
}
