/*
 * @module service/conflict/detector
 * @description 冲突检测器，对本地、远端与最近同步基线做三路字段比对，并维护每实体唯一的未决冲突
 * @architecture 分层架构 - 领域服务层
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 拉取快照 -> 三路比对 -> 单侧变更分流 -> 双侧分歧入冲突 -> 合并进未决冲突
 * @rules 仅两侧都偏离基线且彼此不等的字段才构成冲突；同一实体的未决冲突合并而不是新建
 * @dependencies crmsync-service/service/models, github.com/spf13/cast, gorm.io/gorm
 * @refs service/sync_queue/queue_processor.go, service/conflict/resolution_service.go
 */

package conflict

import (
	"context"
	"crmsync-service/service/meta"
	"crmsync-service/service/models"
	"errors"
	"time"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// DetectResult 三路比对结果，字段按变更归属分流
type DetectResult struct {
	// ConflictFields 两侧都偏离基线且彼此不等的字段
	ConflictFields models.ConflictFields
	// RemoteChanges 仅远端变更的字段，应写回本地并推进基线
	RemoteChanges models.JSONB
	// LocalChanges 仅本地变更的字段，应向外推送
	LocalChanges models.JSONB
	// ConvergedChanges 两侧独立改成相同值的字段，只需推进基线
	ConvergedChanges models.JSONB
}

// HasConflict 判断比对结果中是否存在真实冲突
func (r *DetectResult) HasConflict() bool {
	return len(r.ConflictFields) > 0
}

// Detector 冲突检测器
type Detector struct {
	db *gorm.DB
}

// NewDetector 创建冲突检测器
func NewDetector(db *gorm.DB) *Detector {
	return &Detector{db: db}
}

// Detect 对本地、远端与基线快照做三路字段比对
// 字段全集取三个快照键的并集，缺失键按 nil 参与比较
func (d *Detector) Detect(local, remote, baseline models.JSONB) *DetectResult {
	result := &DetectResult{
		ConflictFields:   models.ConflictFields{},
		RemoteChanges:    models.JSONB{},
		LocalChanges:     models.JSONB{},
		ConvergedChanges: models.JSONB{},
	}

	for fieldName := range fieldUnion(local, remote, baseline) {
		localValue := local[fieldName]
		remoteValue := remote[fieldName]
		baseValue := baseline[fieldName]

		localChanged := !valuesEqual(localValue, baseValue)
		remoteChanged := !valuesEqual(remoteValue, baseValue)

		switch {
		case !localChanged && !remoteChanged:
			// 两侧都未偏离基线
		case localChanged && !remoteChanged:
			result.LocalChanges[fieldName] = localValue
		case !localChanged && remoteChanged:
			result.RemoteChanges[fieldName] = remoteValue
		case valuesEqual(localValue, remoteValue):
			// 两侧独立收敛到同一值，不算冲突
			result.ConvergedChanges[fieldName] = remoteValue
		default:
			result.ConflictFields[fieldName] = models.FieldConflict{
				LocalValue:  localValue,
				RemoteValue: remoteValue,
			}
		}
	}

	return result
}

// UpsertConflict 将分歧字段并入该实体的未决冲突，不存在时新建
// 事务内按 (entity_type, entity_id, status=open) 串行化，保证未决冲突唯一
func (d *Detector) UpsertConflict(ctx context.Context, entityType, entityID string, fields models.ConflictFields) (*models.SyncConflict, error) {
	var conflict models.SyncConflict
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("entity_type = ? AND entity_id = ? AND status = ?",
			entityType, entityID, meta.ConflictStatusOpen).
			First(&conflict).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			conflict = models.SyncConflict{
				EntityType: entityType,
				EntityID:   entityID,
				Fields:     fields,
				Status:     meta.ConflictStatusOpen,
			}
			return tx.Create(&conflict).Error
		}
		if err != nil {
			return err
		}

		merged := models.ConflictFields{}
		for name, pair := range conflict.Fields {
			merged[name] = pair
		}
		for name, pair := range fields {
			merged[name] = pair
		}
		conflict.Fields = merged

		return tx.Model(&conflict).Updates(map[string]interface{}{
			"fields":     merged,
			"updated_at": time.Now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &conflict, nil
}

// fieldUnion 取多个快照字段名的并集
func fieldUnion(snapshots ...models.JSONB) map[string]bool {
	union := make(map[string]bool)
	for _, snapshot := range snapshots {
		for fieldName := range snapshot {
			union[fieldName] = true
		}
	}
	return union
}

// valuesEqual 类型宽容的字段值比较
// JSONB 往返会把整数变成 float64，数值先按浮点比较，其余退回字符串表示
func valuesEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	if aNum, errA := cast.ToFloat64E(a); errA == nil {
		if bNum, errB := cast.ToFloat64E(b); errB == nil {
			return aNum == bNum
		}
		return false
	}

	if aTime, errA := toTime(a); errA == nil {
		if bTime, errB := toTime(b); errB == nil {
			return aTime.Equal(bTime)
		}
	}

	aStr, errA := cast.ToStringE(a)
	bStr, errB := cast.ToStringE(b)
	if errA != nil || errB != nil {
		return false
	}
	return aStr == bStr
}

// toTime 解析时间类型的字段值
func toTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		return time.Parse(time.RFC3339, v)
	}
	return time.Time{}, errors.New("不是时间值")
}
