/*
 * @module service/models/sync_conflict
 * @description 同步冲突模型，记录本地与远端双向修改后分歧的字段集合
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow open -> resolved，resolved 为终态，再次分歧产生新冲突
 * @rules 同一 (entity_type, entity_id) 同时最多只有一个 open 冲突，新分歧合并进字段集合
 * @dependencies gorm.io/gorm, github.com/google/uuid, service/meta
 * @refs service/conflict
 */

package models

import (
	"crmsync-service/service/meta"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FieldConflict 单个字段的两侧取值
type FieldConflict struct {
	LocalValue  interface{} `json:"local_value"`
	RemoteValue interface{} `json:"remote_value"`
}

// ConflictFields 字段名到两侧取值的映射，按 JSONB 存储
type ConflictFields map[string]FieldConflict

func (c *ConflictFields) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("类型断言失败: 不是 []byte 或 string")
	}
	return json.Unmarshal(bytes, c)
}

func (c ConflictFields) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// SyncConflict 同步冲突模型
type SyncConflict struct {
	ID         string         `json:"id" gorm:"primaryKey;type:varchar(36)" example:"550e8400-e29b-41d4-a716-446655440000"`
	EntityType string         `json:"entity_type" gorm:"not null;size:20;index:idx_conflict_entity" example:"contact"`
	EntityID   string         `json:"entity_id" gorm:"not null;type:varchar(36);index:idx_conflict_entity" example:"550e8400-e29b-41d4-a716-446655440000"`
	Fields     ConflictFields `json:"fields" gorm:"type:jsonb"`
	Status     string         `json:"status" gorm:"not null;size:20;default:'open';index" example:"open"` // open, resolved

	// 解决信息，仅 resolved 后填充
	ResolutionSource string     `json:"resolution_source,omitempty" gorm:"size:10"` // local, remote, mixed
	ResolvedBy       string     `json:"resolved_by,omitempty" gorm:"size:100"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	AutoResolved     bool       `json:"auto_resolved" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID并验证
func (c *SyncConflict) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if !meta.IsValidEntityType(c.EntityType) {
		return errors.New("无效的实体类型: " + c.EntityType)
	}
	return nil
}

// IsOpen 判断冲突是否待解决
func (c *SyncConflict) IsOpen() bool {
	return c.Status == meta.ConflictStatusOpen
}

// OpenFieldNames 返回待解决字段名列表
func (c *SyncConflict) OpenFieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	return names
}
