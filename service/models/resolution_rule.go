/*
 * @module service/models/resolution_rule
 * @description 自动解决规则模型，按优先级顺序决定冲突字段的胜出方
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 规则创建/编辑/删除/整体重排，评估时按持久化顺序重新计算
 * @rules order 在全部规则（含停用）上构成无空洞的稠密序列，重排为整体事务
 * @dependencies gorm.io/gorm, github.com/google/uuid, service/meta
 * @refs service/rules
 */

package models

import (
	"crmsync-service/service/meta"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AutoResolutionRule 自动解决规则模型
type AutoResolutionRule struct {
	ID              string    `json:"id" gorm:"primaryKey;type:varchar(36)" example:"550e8400-e29b-41d4-a716-446655440000"`
	Name            string    `json:"name" gorm:"not null;size:100" example:"邮箱以远端为准"`
	EntityType      string    `json:"entity_type" gorm:"not null;size:20;index" example:"contact"`     // contact, organization, *
	FieldName       *string   `json:"field_name,omitempty" gorm:"size:100" example:"email"`            // null 表示实体级规则
	PreferredSource string    `json:"preferred_source" gorm:"not null;size:10" example:"remote"`       // local, remote
	IsEnabled       bool      `json:"is_enabled" gorm:"not null"`                                      // 列不设默认值，插入时必须显式写入启用状态
	Order           int       `json:"order" gorm:"column:rule_order;not null;uniqueIndex" example:"0"` // 越小优先级越高
	CreatedAt       time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate GORM钩子，创建前生成UUID并验证
func (r *AutoResolutionRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return r.Validate()
}

// BeforeUpdate GORM钩子，更新前验证
func (r *AutoResolutionRule) BeforeUpdate(tx *gorm.DB) error {
	return r.Validate()
}

// Validate 验证规则字段取值
func (r *AutoResolutionRule) Validate() error {
	if !meta.IsValidRuleEntityType(r.EntityType) {
		return errors.New("无效的规则实体类型: " + r.EntityType)
	}
	if !meta.IsValidResolutionSource(r.PreferredSource) {
		return errors.New("无效的解决来源: " + r.PreferredSource)
	}
	return nil
}

// MatchesEntity 判断规则是否覆盖给定实体类型
func (r *AutoResolutionRule) MatchesEntity(entityType string) bool {
	return r.EntityType == meta.EntityTypeAny || r.EntityType == entityType
}

// MatchesField 判断规则是否覆盖给定字段
func (r *AutoResolutionRule) MatchesField(fieldName string) bool {
	return r.FieldName == nil || *r.FieldName == fieldName
}
