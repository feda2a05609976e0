/*
 * @module service/rules/rule_service
 * @description 自动解决规则服务，提供规则增删改查、整体原子重排与按特异性分层的规则评估
 * @architecture 分层架构 - 业务逻辑层
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 规则维护 -> 持久化顺序 -> 评估时按最新已提交顺序重新计算
 * @rules 特异性优先于顺序：精确字段规则永远压过实体级/全局规则；重排要么整体提交要么不动
 * @dependencies crmsync-service/service/models, crmsync-service/service/meta, gorm.io/gorm
 * @refs service/conflict/resolution_service.go, api/controllers/rule_controller.go
 */

package rules

import (
	"context"
	"crmsync-service/service/meta"
	"crmsync-service/service/models"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// 规则服务相关错误
var (
	ErrRuleNotFound   = errors.New("规则不存在")
	ErrInvalidReorder = errors.New("重排ID列表与现有规则集合不一致")
)

// RuleService 自动解决规则服务
type RuleService struct {
	db *gorm.DB
}

// NewRuleService 创建规则服务
func NewRuleService(db *gorm.DB) *RuleService {
	return &RuleService{db: db}
}

// CreateRuleRequest 创建规则请求
type CreateRuleRequest struct {
	Name            string  `json:"name"`
	EntityType      string  `json:"entity_type"`
	FieldName       *string `json:"field_name,omitempty"`
	PreferredSource string  `json:"preferred_source"`
	IsEnabled       *bool   `json:"is_enabled,omitempty"`
}

// UpdateRuleRequest 更新规则请求
type UpdateRuleRequest struct {
	Name            *string `json:"name,omitempty"`
	EntityType      *string `json:"entity_type,omitempty"`
	FieldName       *string `json:"field_name,omitempty"`
	ClearFieldName  bool    `json:"clear_field_name,omitempty"`
	PreferredSource *string `json:"preferred_source,omitempty"`
	IsEnabled       *bool   `json:"is_enabled,omitempty"`
}

// Create 创建规则，追加到顺序末尾以保持稠密序列
func (s *RuleService) Create(ctx context.Context, req *CreateRuleRequest) (*models.AutoResolutionRule, error) {
	rule := &models.AutoResolutionRule{
		Name:            req.Name,
		EntityType:      req.EntityType,
		FieldName:       req.FieldName,
		PreferredSource: req.PreferredSource,
		IsEnabled:       true,
	}
	if req.IsEnabled != nil {
		rule.IsEnabled = *req.IsEnabled
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.AutoResolutionRule{}).Count(&count).Error; err != nil {
			return err
		}
		rule.Order = int(count)
		return tx.Create(rule).Error
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// Update 更新规则（含启用/停用），不改变顺序
func (s *RuleService) Update(ctx context.Context, ruleID string, req *UpdateRuleRequest) (*models.AutoResolutionRule, error) {
	var rule models.AutoResolutionRule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", ruleID).First(&rule).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRuleNotFound
			}
			return err
		}

		if req.Name != nil {
			rule.Name = *req.Name
		}
		if req.EntityType != nil {
			rule.EntityType = *req.EntityType
		}
		if req.ClearFieldName {
			rule.FieldName = nil
		} else if req.FieldName != nil {
			rule.FieldName = req.FieldName
		}
		if req.PreferredSource != nil {
			rule.PreferredSource = *req.PreferredSource
		}
		if req.IsEnabled != nil {
			rule.IsEnabled = *req.IsEnabled
		}
		rule.UpdatedAt = time.Now()

		// 在任何写入前验证，保持存储不变
		if err := rule.Validate(); err != nil {
			return err
		}

		return tx.Save(&rule).Error
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// Delete 删除规则并压实剩余规则的顺序
func (s *RuleService) Delete(ctx context.Context, ruleID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", ruleID).Delete(&models.AutoResolutionRule{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrRuleNotFound
		}

		// 重新压实顺序，保持无空洞
		// 顺序回写只动 rule_order 列，UpdateColumn 跳过模型钩子
		var remaining []models.AutoResolutionRule
		if err := tx.Order("rule_order ASC").Find(&remaining).Error; err != nil {
			return err
		}
		for position, rule := range remaining {
			if rule.Order == position {
				continue
			}
			err := tx.Model(&models.AutoResolutionRule{}).Where("id = ?", rule.ID).
				UpdateColumn("rule_order", position).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// List 按顺序返回全部规则
func (s *RuleService) List(ctx context.Context) ([]models.AutoResolutionRule, error) {
	var ruleList []models.AutoResolutionRule
	err := s.db.WithContext(ctx).Order("rule_order ASC").Find(&ruleList).Error
	return ruleList, err
}

// Get 按ID查询规则
func (s *RuleService) Get(ctx context.Context, ruleID string) (*models.AutoResolutionRule, error) {
	var rule models.AutoResolutionRule
	err := s.db.WithContext(ctx).Where("id = ?", ruleID).First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// Reorder 按给定的完整ID列表原子重写全部规则的顺序
// ID集合与现有规则不完全一致时返回 ErrInvalidReorder，存储保持不变
func (s *RuleService) Reorder(ctx context.Context, orderedIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []models.AutoResolutionRule
		if err := tx.Find(&existing).Error; err != nil {
			return err
		}

		if len(orderedIDs) != len(existing) {
			return ErrInvalidReorder
		}
		known := make(map[string]bool, len(existing))
		for _, rule := range existing {
			known[rule.ID] = true
		}
		seen := make(map[string]bool, len(orderedIDs))
		for _, id := range orderedIDs {
			if !known[id] || seen[id] {
				return ErrInvalidReorder
			}
			seen[id] = true
		}

		// 先整体挪出唯一索引区间，再按列表位置回写 0..n-1
		// 顺序回写只动 rule_order 列，UpdateColumn(s) 跳过模型钩子
		for position, id := range orderedIDs {
			err := tx.Model(&models.AutoResolutionRule{}).Where("id = ?", id).
				UpdateColumn("rule_order", position+len(orderedIDs)).Error
			if err != nil {
				return err
			}
		}
		for position, id := range orderedIDs {
			err := tx.Model(&models.AutoResolutionRule{}).Where("id = ?", id).
				UpdateColumns(map[string]interface{}{
					"rule_order": position,
					"updated_at": time.Now(),
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Evaluate 为单个冲突字段选择胜出方
// 特异性分层：精确(实体,字段) -> (*,字段) -> (实体,空) -> (*,空)，层内按顺序取最小
// 无任何命中时 matched 为 false，字段留待人工解决
func (s *RuleService) Evaluate(ctx context.Context, entityType, fieldName string) (string, bool, error) {
	var enabled []models.AutoResolutionRule
	err := s.db.WithContext(ctx).
		Where("is_enabled = ?", true).
		Order("rule_order ASC").
		Find(&enabled).Error
	if err != nil {
		return "", false, fmt.Errorf("加载规则失败: %w", err)
	}

	type tierCheck func(rule *models.AutoResolutionRule) bool
	tiers := []tierCheck{
		func(r *models.AutoResolutionRule) bool {
			return r.EntityType == entityType && r.FieldName != nil && *r.FieldName == fieldName
		},
		func(r *models.AutoResolutionRule) bool {
			return r.EntityType == meta.EntityTypeAny && r.FieldName != nil && *r.FieldName == fieldName
		},
		func(r *models.AutoResolutionRule) bool {
			return r.EntityType == entityType && r.FieldName == nil
		},
		func(r *models.AutoResolutionRule) bool {
			return r.EntityType == meta.EntityTypeAny && r.FieldName == nil
		},
	}

	for _, matches := range tiers {
		for i := range enabled {
			if matches(&enabled[i]) {
				return enabled[i].PreferredSource, true, nil
			}
		}
	}
	return "", false, nil
}
