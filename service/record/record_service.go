/*
 * @module service/record/record_service
 * @description 记录存储服务，维护本地实体快照与最近同步基线，供检测器与解决协调器读写
 * @architecture 分层架构 - 数据访问层
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 读取快照 -> 字段写回 -> 基线推进
 * @rules 字段写回只更新给定字段，基线推进只在同步成功路径调用
 * @dependencies crmsync-service/service/models, gorm.io/gorm
 * @refs service/conflict, service/sync_queue
 */

package record

import (
	"context"
	"crmsync-service/service/models"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrRecordNotFound 实体记录不存在
var ErrRecordNotFound = errors.New("实体记录不存在")

// Store 记录存储接口，冲突检测与解决只依赖此窄接口
type Store interface {
	ReadSnapshot(ctx context.Context, entityType, entityID string) (models.JSONB, error)
	ReadLastSynced(ctx context.Context, entityType, entityID string) (models.JSONB, error)
	WriteFields(ctx context.Context, entityType, entityID string, fieldValues models.JSONB) error
	SetLastSynced(ctx context.Context, entityType, entityID string, snapshot models.JSONB) error
	MergeLastSynced(ctx context.Context, entityType, entityID string, fieldValues models.JSONB) error
	WithTx(tx *gorm.DB) Store
}

// Service 基于 gorm 的记录存储实现
type Service struct {
	db *gorm.DB
}

// NewService 创建记录存储服务
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// WithTx 返回绑定到给定事务的存储视图，供调用方把记录写入并入自己的事务
func (s *Service) WithTx(tx *gorm.DB) Store {
	return &Service{db: tx}
}

// ReadSnapshot 读取本地当前快照
func (s *Service) ReadSnapshot(ctx context.Context, entityType, entityID string) (models.JSONB, error) {
	record, err := s.get(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	return cloneFields(record.Fields), nil
}

// ReadLastSynced 读取最近一次成功同步的基线快照
func (s *Service) ReadLastSynced(ctx context.Context, entityType, entityID string) (models.JSONB, error) {
	record, err := s.get(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	return cloneFields(record.LastSynced), nil
}

// WriteFields 将给定字段写入本地快照，未给出的字段保持不变
func (s *Service) WriteFields(ctx context.Context, entityType, entityID string, fieldValues models.JSONB) error {
	if len(fieldValues) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.EntityRecord
		err := tx.Where("entity_type = ? AND entity_id = ?", entityType, entityID).First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record = models.EntityRecord{
				EntityType: entityType,
				EntityID:   entityID,
				Fields:     cloneFields(fieldValues),
			}
			return tx.Create(&record).Error
		}
		if err != nil {
			return err
		}

		merged := cloneFields(record.Fields)
		if merged == nil {
			merged = models.JSONB{}
		}
		for name, value := range fieldValues {
			merged[name] = value
		}

		return tx.Model(&record).Updates(map[string]interface{}{
			"fields":     merged,
			"updated_at": time.Now(),
		}).Error
	})
}

// SetLastSynced 整体替换基线快照
func (s *Service) SetLastSynced(ctx context.Context, entityType, entityID string, snapshot models.JSONB) error {
	result := s.db.WithContext(ctx).Model(&models.EntityRecord{}).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Updates(map[string]interface{}{
			"last_synced": cloneFields(snapshot),
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("推进基线失败: %w", ErrRecordNotFound)
	}
	return nil
}

// MergeLastSynced 将给定字段合并进基线快照，用于单字段的基线推进
func (s *Service) MergeLastSynced(ctx context.Context, entityType, entityID string, fieldValues models.JSONB) error {
	if len(fieldValues) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.EntityRecord
		if err := tx.Where("entity_type = ? AND entity_id = ?", entityType, entityID).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("推进基线失败: %w", ErrRecordNotFound)
			}
			return err
		}

		merged := cloneFields(record.LastSynced)
		if merged == nil {
			merged = models.JSONB{}
		}
		for name, value := range fieldValues {
			merged[name] = value
		}

		return tx.Model(&record).Updates(map[string]interface{}{
			"last_synced": merged,
			"updated_at":  time.Now(),
		}).Error
	})
}

// get 按实体键读取记录
func (s *Service) get(ctx context.Context, entityType, entityID string) (*models.EntityRecord, error) {
	var record models.EntityRecord
	err := s.db.WithContext(ctx).Where("entity_type = ? AND entity_id = ?", entityType, entityID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// cloneFields 复制字段映射，避免调用方共享底层 map
func cloneFields(fields models.JSONB) models.JSONB {
	if fields == nil {
		return nil
	}
	cloned := make(models.JSONB, len(fields))
	for name, value := range fields {
		cloned[name] = value
	}
	return cloned
}
