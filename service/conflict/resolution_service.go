/*
 * @module service/conflict/resolution_service
 * @description 解决协调器，执行自动、人工与批量冲突解决：写回胜出值、必要时入队纠正推送并产生审计
 * @architecture 分层架构 - 领域服务层
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 规则评估/人工决策 -> 单事务内置为 resolved + 胜出值写回 + 审计 -> 提交后本地胜出时入队外推
 * @rules 自动解决按冲突整体全有或全无；resolved 为终态；批量解决逐项独立，单项失败不中断批次
 * @dependencies service/models, service/rules, service/record, service/audit, gorm.io/gorm
 * @refs service/sync_queue/queue_processor.go, api/controllers/conflict_controller.go
 */

package conflict

import (
	"context"
	"crmsync-service/service/audit"
	"crmsync-service/service/meta"
	"crmsync-service/service/models"
	"crmsync-service/service/record"
	"crmsync-service/service/rules"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// 冲突解决相关错误
var (
	ErrConflictNotFound     = errors.New("冲突不存在")
	ErrConflictResolved     = errors.New("冲突已解决")
	ErrIncompleteResolution = errors.New("缺少部分未决字段的决策")
	ErrUnknownDecisionField = errors.New("决策包含未知的冲突字段")
)

// OutboundEnqueuer 外推入队接口，避免与队列存储层的循环依赖
type OutboundEnqueuer interface {
	Enqueue(ctx context.Context, entityType, entityID, direction string) (*models.SyncQueueItem, error)
}

// ResolutionOutcome 自动解决结果
type ResolutionOutcome struct {
	Resolved        bool     `json:"resolved"`
	UndecidedFields []string `json:"undecided_fields,omitempty"`
}

// BulkItemFailure 批量解决中单项失败
type BulkItemFailure struct {
	ConflictID string `json:"conflict_id"`
	Reason     string `json:"reason"`
}

// BulkResolutionOutcome 批量解决结果，逐项汇报
type BulkResolutionOutcome struct {
	Resolved []string          `json:"resolved"`
	Failed   []BulkItemFailure `json:"failed"`
}

// ResolutionService 解决协调器
type ResolutionService struct {
	db          *gorm.DB
	ruleService *rules.RuleService
	recordStore record.Store
	auditor     audit.Recorder
	enqueuer    OutboundEnqueuer
}

// NewResolutionService 创建解决协调器
func NewResolutionService(db *gorm.DB, ruleService *rules.RuleService, recordStore record.Store,
	auditor audit.Recorder, enqueuer OutboundEnqueuer) *ResolutionService {
	return &ResolutionService{
		db:          db,
		ruleService: ruleService,
		recordStore: recordStore,
		auditor:     auditor,
		enqueuer:    enqueuer,
	}
}

// AutoResolve 按规则自动解决冲突
// 全部未决字段都有规则命中时才执行解决，任一字段无决策则冲突保持 open 不动
func (s *ResolutionService) AutoResolve(ctx context.Context, conflictID string) (*ResolutionOutcome, error) {
	conflict, err := s.Get(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if !conflict.IsOpen() {
		return nil, ErrConflictResolved
	}

	decisions := make(map[string]string, len(conflict.Fields))
	var undecided []string
	for fieldName := range conflict.Fields {
		source, matched, err := s.ruleService.Evaluate(ctx, conflict.EntityType, fieldName)
		if err != nil {
			return nil, err
		}
		if !matched {
			undecided = append(undecided, fieldName)
			continue
		}
		decisions[fieldName] = source
	}

	if len(undecided) > 0 {
		slog.Debug("自动解决跳过：存在无规则覆盖的字段",
			"conflict_id", conflict.ID, "undecided", undecided)
		return &ResolutionOutcome{Resolved: false, UndecidedFields: undecided}, nil
	}

	if err := s.apply(ctx, conflict, decisions, meta.SystemActor, true, meta.AuditActionAutoResolve); err != nil {
		return nil, err
	}
	return &ResolutionOutcome{Resolved: true}, nil
}

// ResolveManual 人工解决单个冲突，要求对每个未决字段都给出决策
func (s *ResolutionService) ResolveManual(ctx context.Context, conflictID string, decisions map[string]string, actor string) (*models.SyncConflict, error) {
	conflict, err := s.Get(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if !conflict.IsOpen() {
		return nil, ErrConflictResolved
	}

	for fieldName := range conflict.Fields {
		source, ok := decisions[fieldName]
		if !ok {
			return nil, fmt.Errorf("%w: 字段 %s", ErrIncompleteResolution, fieldName)
		}
		if !meta.IsValidResolutionSource(source) {
			return nil, fmt.Errorf("无效的解决来源: %s", source)
		}
	}
	// 决策的键必须都是冲突中实际存在的字段
	for fieldName := range decisions {
		if _, ok := conflict.Fields[fieldName]; !ok {
			return nil, fmt.Errorf("%w: 字段 %s", ErrUnknownDecisionField, fieldName)
		}
	}

	if err := s.apply(ctx, conflict, decisions, actor, false, meta.AuditActionManualResolve); err != nil {
		return nil, err
	}
	return s.Get(ctx, conflictID)
}

// BulkResolve 批量解决，对每个冲突的全部字段统一应用同一来源
// 逐项独立处理，已解决或失败的项记入 failed，不中断批次
func (s *ResolutionService) BulkResolve(ctx context.Context, conflictIDs []string, source, actor string) (*BulkResolutionOutcome, error) {
	if !meta.IsValidResolutionSource(source) {
		return nil, fmt.Errorf("无效的解决来源: %s", source)
	}

	outcome := &BulkResolutionOutcome{
		Resolved: make([]string, 0, len(conflictIDs)),
		Failed:   make([]BulkItemFailure, 0),
	}

	for _, conflictID := range conflictIDs {
		conflict, err := s.Get(ctx, conflictID)
		if err != nil {
			outcome.Failed = append(outcome.Failed, BulkItemFailure{ConflictID: conflictID, Reason: err.Error()})
			continue
		}
		if !conflict.IsOpen() {
			outcome.Failed = append(outcome.Failed, BulkItemFailure{ConflictID: conflictID, Reason: ErrConflictResolved.Error()})
			continue
		}

		decisions := make(map[string]string, len(conflict.Fields))
		for fieldName := range conflict.Fields {
			decisions[fieldName] = source
		}

		if err := s.apply(ctx, conflict, decisions, actor, false, meta.AuditActionBulkResolve); err != nil {
			outcome.Failed = append(outcome.Failed, BulkItemFailure{ConflictID: conflictID, Reason: err.Error()})
			continue
		}
		outcome.Resolved = append(outcome.Resolved, conflictID)
	}

	return outcome, nil
}

// apply 应用一组完整的字段决策：在单个事务内置为 resolved、写回胜出值、推进基线并产生审计，提交后必要时入队外推
func (s *ResolutionService) apply(ctx context.Context, conflict *models.SyncConflict,
	decisions map[string]string, actor string, auto bool, action string) error {

	winning := models.JSONB{}
	remoteWins := models.JSONB{}
	localWon := false
	remoteWon := false
	for fieldName, source := range decisions {
		pair := conflict.Fields[fieldName]
		if source == meta.ResolutionSourceLocal {
			winning[fieldName] = pair.LocalValue
			localWon = true
		} else {
			winning[fieldName] = pair.RemoteValue
			remoteWins[fieldName] = pair.RemoteValue
			remoteWon = true
		}
	}

	resolutionSource := meta.ResolutionSourceMixed
	switch {
	case localWon && !remoteWon:
		resolutionSource = meta.ResolutionSourceLocal
	case remoteWon && !localWon:
		resolutionSource = meta.ResolutionSourceRemote
	}

	before := models.JSONB{}
	for fieldName, pair := range conflict.Fields {
		before[fieldName] = map[string]interface{}{
			"local_value":  pair.LocalValue,
			"remote_value": pair.RemoteValue,
		}
	}
	entry := &models.SyncAuditLog{
		Action:     action,
		EntityType: conflict.EntityType,
		EntityID:   conflict.EntityID,
		ConflictID: conflict.ID,
		Source:     resolutionSource,
		Actor:      actor,
		Before:     before,
		After:      winning,
	}

	// 状态翻转、胜出值写回、基线推进与审计落库在同一事务内提交
	// 任一步失败整体回滚，冲突保持 open 可重新解决
	now := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 状态CAS：并发解决同一冲突时只有一方成功
		result := tx.Model(&models.SyncConflict{}).
			Where("id = ? AND status = ?", conflict.ID, meta.ConflictStatusOpen).
			Updates(map[string]interface{}{
				"status":            meta.ConflictStatusResolved,
				"resolution_source": resolutionSource,
				"resolved_by":       actor,
				"resolved_at":       now,
				"auto_resolved":     auto,
				"updated_at":        now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConflictResolved
		}

		// 远端胜出的字段写回本地并推进基线；本地胜出的字段靠外推成功后推进基线
		if len(remoteWins) > 0 {
			store := s.recordStore.WithTx(tx)
			if err := store.WriteFields(ctx, conflict.EntityType, conflict.EntityID, remoteWins); err != nil {
				return fmt.Errorf("写回胜出值失败: %w", err)
			}
			if err := store.MergeLastSynced(ctx, conflict.EntityType, conflict.EntityID, remoteWins); err != nil {
				return fmt.Errorf("推进基线失败: %w", err)
			}
		}

		return s.auditor.WithTx(tx).Record(ctx, entry)
	})
	if err != nil {
		return err
	}

	// 纠正外推在事务提交后入队
	// 接线方负责把"已有在途推送"视为成功（见 service/init.go）
	if localWon && s.enqueuer != nil {
		_, err := s.enqueuer.Enqueue(ctx, conflict.EntityType, conflict.EntityID, meta.SyncDirectionOutbound)
		if err != nil {
			return fmt.Errorf("入队纠正推送失败: %w", err)
		}
	}

	slog.Info("冲突已解决",
		"conflict_id", conflict.ID,
		"entity_type", conflict.EntityType,
		"entity_id", conflict.EntityID,
		"source", resolutionSource,
		"auto", auto,
		"actor", actor)
	return nil
}

// Get 按ID查询冲突
func (s *ResolutionService) Get(ctx context.Context, conflictID string) (*models.SyncConflict, error) {
	var conflict models.SyncConflict
	err := s.db.WithContext(ctx).Where("id = ?", conflictID).First(&conflict).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConflictNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conflict, nil
}

// ListRequest 冲突列表查询条件
type ListRequest struct {
	Page       int
	Size       int
	EntityType string
	Status     string
}

// List 分页查询冲突
func (s *ResolutionService) List(ctx context.Context, req *ListRequest) ([]models.SyncConflict, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.SyncConflict{})
	if req.EntityType != "" {
		query = query.Where("entity_type = ?", req.EntityType)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var conflicts []models.SyncConflict
	err := query.Order("created_at DESC").Offset((req.Page - 1) * req.Size).Limit(req.Size).Find(&conflicts).Error
	return conflicts, total, err
}

// ConflictStats 冲突统计信息
type ConflictStats struct {
	OpenTotal         int64 `json:"open_total"`
	OpenContacts      int64 `json:"open_contacts"`
	OpenOrganizations int64 `json:"open_organizations"`
	ResolvedTotal     int64 `json:"resolved_total"`
	AutoResolvedTotal int64 `json:"auto_resolved_total"`
}

// GetStats 统计未决与已决冲突
func (s *ResolutionService) GetStats(ctx context.Context) (*ConflictStats, error) {
	stats := &ConflictStats{}
	base := s.db.WithContext(ctx).Model(&models.SyncConflict{})

	err := base.Session(&gorm.Session{}).Where("status = ?", meta.ConflictStatusOpen).Count(&stats.OpenTotal).Error
	if err != nil {
		return nil, err
	}
	err = base.Session(&gorm.Session{}).Where("status = ? AND entity_type = ?",
		meta.ConflictStatusOpen, meta.EntityTypeContact).Count(&stats.OpenContacts).Error
	if err != nil {
		return nil, err
	}
	err = base.Session(&gorm.Session{}).Where("status = ? AND entity_type = ?",
		meta.ConflictStatusOpen, meta.EntityTypeOrganization).Count(&stats.OpenOrganizations).Error
	if err != nil {
		return nil, err
	}
	err = base.Session(&gorm.Session{}).Where("status = ?", meta.ConflictStatusResolved).Count(&stats.ResolvedTotal).Error
	if err != nil {
		return nil, err
	}
	err = base.Session(&gorm.Session{}).Where("status = ? AND auto_resolved = ?",
		meta.ConflictStatusResolved, true).Count(&stats.AutoResolvedTotal).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}
