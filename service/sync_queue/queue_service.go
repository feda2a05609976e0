/*
 * @module service/sync_queue/queue_service
 * @description 同步队列存储服务，提供入队、批量认领、完成、失败退避与操作员重试
 * @architecture 分层架构 - 队列存储层
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow pending -> processing -> completed/failed，瞬时失败退避后回到 pending
 * @rules 入队幂等；同键同向同时至多一个 processing 项；认领通过状态CAS保证互斥
 * @dependencies crmsync-service/service/models, crmsync-service/service/meta, gorm.io/gorm
 * @refs service/sync_queue/queue_processor.go, api/controllers/sync_queue_controller.go
 */

package sync_queue

import (
	"context"
	"crmsync-service/service/audit"
	"crmsync-service/service/meta"
	"crmsync-service/service/models"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gorm.io/gorm"
)

// 队列存储相关错误
var (
	ErrDuplicateInFlight = errors.New("同一实体同方向已有处理中的队列项")
	ErrItemNotFound      = errors.New("队列项不存在")
	ErrNotRetryable      = errors.New("队列项不处于失败状态，无法重试")
)

// 退避参数，失败后按 min(base*2^attempts, cap) 推迟下次认领
const (
	backoffBase = 30 * time.Second
	backoffCap  = time.Hour
)

// QueueService 同步队列存储服务
type QueueService struct {
	db          *gorm.DB
	auditor     audit.Recorder
	maxAttempts int
}

// NewQueueService 创建队列存储服务，最大尝试次数取自 SYNC_MAX_ATTEMPTS
func NewQueueService(db *gorm.DB, auditor audit.Recorder) *QueueService {
	maxAttempts := 5
	if val := os.Getenv("SYNC_MAX_ATTEMPTS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			maxAttempts = parsed
		}
	}

	return &QueueService{
		db:          db,
		auditor:     auditor,
		maxAttempts: maxAttempts,
	}
}

// MaxAttempts 返回最大尝试次数
func (s *QueueService) MaxAttempts() int {
	return s.maxAttempts
}

// Enqueue 追加一个同步队列项
// 同键同向已有 pending 项时幂等返回该项，已有 processing 项时返回 ErrDuplicateInFlight
func (s *QueueService) Enqueue(ctx context.Context, entityType, entityID, direction string) (*models.SyncQueueItem, error) {
	if !meta.IsValidEntityType(entityType) {
		return nil, fmt.Errorf("无效的实体类型: %s", entityType)
	}
	if !meta.IsValidSyncDirection(direction) {
		return nil, fmt.Errorf("无效的同步方向: %s", direction)
	}

	var item *models.SyncQueueItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.SyncQueueItem
		err := tx.Where("entity_type = ? AND entity_id = ? AND direction = ? AND status IN ?",
			entityType, entityID, direction,
			[]string{meta.QueueStatusPending, meta.QueueStatusProcessing}).
			First(&existing).Error
		if err == nil {
			if existing.Status == meta.QueueStatusProcessing {
				return ErrDuplicateInFlight
			}
			item = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		created := models.SyncQueueItem{
			EntityType: entityType,
			EntityID:   entityID,
			Direction:  direction,
			Status:     meta.QueueStatusPending,
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}
		item = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ClaimNext 原子认领至多 limit 个待处理项（最旧优先）并置为 processing
// 对每个候选项做状态CAS，并发认领者不会拿到同一项
func (s *QueueService) ClaimNext(ctx context.Context, limit int) ([]models.SyncQueueItem, error) {
	now := time.Now()

	var candidates []models.SyncQueueItem
	err := s.db.WithContext(ctx).
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", meta.QueueStatusPending, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]models.SyncQueueItem, 0, len(candidates))
	for _, candidate := range candidates {
		result := s.db.WithContext(ctx).Model(&models.SyncQueueItem{}).
			Where("id = ? AND status = ?", candidate.ID, meta.QueueStatusPending).
			Updates(map[string]interface{}{
				"status":     meta.QueueStatusProcessing,
				"updated_at": now,
			})
		if result.Error != nil {
			return nil, result.Error
		}
		// RowsAffected 为 0 说明被其他认领者抢先
		if result.RowsAffected == 0 {
			continue
		}
		candidate.Status = meta.QueueStatusProcessing
		candidate.UpdatedAt = now
		claimed = append(claimed, candidate)
	}

	return claimed, nil
}

// Complete 将处理中的队列项置为完成
func (s *QueueService) Complete(ctx context.Context, itemID string) error {
	result := s.db.WithContext(ctx).Model(&models.SyncQueueItem{}).
		Where("id = ? AND status = ?", itemID, meta.QueueStatusProcessing).
		Updates(map[string]interface{}{
			"status":     meta.QueueStatusCompleted,
			"last_error": "",
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Fail 记录一次处理失败
// 瞬时错误且未达最大尝试次数时退避后回到 pending，否则停在 failed 等待操作员重试
func (s *QueueService) Fail(ctx context.Context, itemID string, cause error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.SyncQueueItem
		err := tx.Where("id = ? AND status = ?", itemID, meta.QueueStatusProcessing).First(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		if err != nil {
			return err
		}

		attempts := item.Attempts + 1
		updates := map[string]interface{}{
			"attempts":   attempts,
			"last_error": cause.Error(),
			"updated_at": time.Now(),
		}

		if IsTransientError(cause) && attempts < s.maxAttempts {
			nextRetry := time.Now().Add(backoffDelay(attempts))
			updates["status"] = meta.QueueStatusPending
			updates["next_retry_at"] = &nextRetry
		} else {
			updates["status"] = meta.QueueStatusFailed
		}

		return tx.Model(&item).Updates(updates).Error
	})
}

// Retry 操作员强制重试失败项，resetAttempts 为 true 时清零计数绕过上限
func (s *QueueService) Retry(ctx context.Context, itemID string, resetAttempts bool, actor string) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", itemID).First(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrItemNotFound
			}
			return err
		}
		if !item.CanRetry() {
			return ErrNotRetryable
		}

		updates := map[string]interface{}{
			"status":        meta.QueueStatusPending,
			"next_retry_at": nil,
			"updated_at":    time.Now(),
		}
		if resetAttempts {
			updates["attempts"] = 0
			item.Attempts = 0
		}
		if err := tx.Model(&item).Updates(updates).Error; err != nil {
			return err
		}
		item.Status = meta.QueueStatusPending
		item.NextRetryAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.auditor != nil {
		entry := &models.SyncAuditLog{
			Action:     meta.AuditActionQueueRetry,
			EntityType: item.EntityType,
			EntityID:   item.EntityID,
			QueueID:    item.ID,
			Actor:      actor,
			Detail:     fmt.Sprintf("操作员重试队列项, reset_attempts=%t", resetAttempts),
		}
		if err := s.auditor.Record(ctx, entry); err != nil {
			return nil, err
		}
	}

	return &item, nil
}

// ListRequest 队列项列表查询条件
type ListRequest struct {
	Page       int
	Size       int
	EntityType string
	Direction  string
	Status     string
}

// List 分页查询队列项
func (s *QueueService) List(ctx context.Context, req *ListRequest) ([]models.SyncQueueItem, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.SyncQueueItem{})
	if req.EntityType != "" {
		query = query.Where("entity_type = ?", req.EntityType)
	}
	if req.Direction != "" {
		query = query.Where("direction = ?", req.Direction)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []models.SyncQueueItem
	err := query.Order("created_at DESC").Offset((req.Page - 1) * req.Size).Limit(req.Size).Find(&items).Error
	return items, total, err
}

// Get 按ID查询队列项
func (s *QueueService) Get(ctx context.Context, itemID string) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	err := s.db.WithContext(ctx).Where("id = ?", itemID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// QueueStats 队列统计信息
type QueueStats struct {
	PendingItems    int64 `json:"pending_items"`
	ProcessingItems int64 `json:"processing_items"`
	CompletedItems  int64 `json:"completed_items"`
	FailedItems     int64 `json:"failed_items"`
	InboundItems    int64 `json:"inbound_items"`
	OutboundItems   int64 `json:"outbound_items"`
}

// GetStats 按状态和方向统计队列项
func (s *QueueService) GetStats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{}
	counts := []struct {
		target *int64
		column string
		value  string
	}{
		{&stats.PendingItems, "status", meta.QueueStatusPending},
		{&stats.ProcessingItems, "status", meta.QueueStatusProcessing},
		{&stats.CompletedItems, "status", meta.QueueStatusCompleted},
		{&stats.FailedItems, "status", meta.QueueStatusFailed},
		{&stats.InboundItems, "direction", meta.SyncDirectionInbound},
		{&stats.OutboundItems, "direction", meta.SyncDirectionOutbound},
	}

	for _, count := range counts {
		err := s.db.WithContext(ctx).Model(&models.SyncQueueItem{}).
			Where(count.column+" = ?", count.value).Count(count.target).Error
		if err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// backoffDelay 计算第 attempts 次失败后的退避时长
func backoffDelay(attempts int) time.Duration {
	delay := time.Duration(float64(backoffBase) * math.Pow(2, float64(attempts-1)))
	if delay > backoffCap || delay <= 0 {
		return backoffCap
	}
	return delay
}
