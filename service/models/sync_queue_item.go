/*
 * @module service/models/sync_queue_item
 * @description 同步队列项模型，承载单个实体单方向的待同步工作
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow pending -> processing -> completed/failed，failed 在退避到期后可回到 pending
 * @rules 同一 (entity_type, entity_id, direction) 同时最多只有一个 processing 项
 * @dependencies gorm.io/gorm, github.com/google/uuid, service/meta
 * @refs service/sync_queue
 */

package models

import (
	"crmsync-service/service/meta"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncQueueItem 同步队列项模型
type SyncQueueItem struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)" example:"550e8400-e29b-41d4-a716-446655440000"`
	EntityType  string     `json:"entity_type" gorm:"not null;size:20;index:idx_queue_entity" example:"contact"`
	EntityID    string     `json:"entity_id" gorm:"not null;type:varchar(36);index:idx_queue_entity" example:"550e8400-e29b-41d4-a716-446655440000"`
	Direction   string     `json:"direction" gorm:"not null;size:10;index:idx_queue_entity" example:"inbound"` // inbound, outbound
	Status      string     `json:"status" gorm:"not null;size:20;default:'pending';index" example:"pending"`   // pending, processing, completed, failed
	Attempts    int        `json:"attempts" gorm:"default:0" example:"0"`
	LastError   string     `json:"last_error,omitempty" gorm:"type:text"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"` // 退避到期时间，claim 只取已到期的项
	CreatedAt   time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID并验证
func (q *SyncQueueItem) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if !meta.IsValidEntityType(q.EntityType) {
		return errors.New("无效的实体类型: " + q.EntityType)
	}
	if !meta.IsValidSyncDirection(q.Direction) {
		return errors.New("无效的同步方向: " + q.Direction)
	}
	return nil
}

// IsInbound 判断是否为拉取方向
func (q *SyncQueueItem) IsInbound() bool {
	return q.Direction == meta.SyncDirectionInbound
}

// IsTerminal 判断是否处于终态
func (q *SyncQueueItem) IsTerminal() bool {
	return q.Status == meta.QueueStatusCompleted || q.Status == meta.QueueStatusFailed
}

// CanRetry 判断是否允许操作员重试
func (q *SyncQueueItem) CanRetry() bool {
	return q.Status == meta.QueueStatusFailed
}

// RetryDue 判断退避是否已到期
func (q *SyncQueueItem) RetryDue(now time.Time) bool {
	return q.NextRetryAt == nil || !q.NextRetryAt.After(now)
}
