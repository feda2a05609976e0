/*
 * @module service/meta/sync_meta
 * @description 同步引擎元数据定义，包括实体类型、同步方向、队列状态、冲突状态和解决来源
 * @architecture 分层架构 - 元数据层
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 无状态常量定义
 * @rules 所有枚举值在入库前必须通过本模块的校验函数
 * @dependencies 无
 * @refs service/models, service/sync_queue, service/conflict
 */

package meta

// 实体类型常量
const (
	EntityTypeContact      = "contact"
	EntityTypeOrganization = "organization"
	EntityTypeAny          = "*" // 仅用于自动解决规则的通配
)

// 同步方向常量
const (
	SyncDirectionInbound  = "inbound"  // 远端 -> 本地
	SyncDirectionOutbound = "outbound" // 本地 -> 远端
)

// 队列项状态常量
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusCompleted  = "completed"
	QueueStatusFailed     = "failed"
)

// 冲突状态常量
const (
	ConflictStatusOpen     = "open"
	ConflictStatusResolved = "resolved"
)

// 解决来源常量
const (
	ResolutionSourceLocal  = "local"
	ResolutionSourceRemote = "remote"
	// ResolutionSourceMixed 只作为已解决冲突的落库结果，不是合法的决策输入
	ResolutionSourceMixed = "mixed"
)

// 审计动作常量
const (
	AuditActionAutoResolve   = "auto_resolve"
	AuditActionManualResolve = "manual_resolve"
	AuditActionBulkResolve   = "bulk_resolve"
	AuditActionQueueRetry    = "queue_retry"
)

// SystemActor 自动解决时记录的操作者标识
const SystemActor = "system"

// IsValidEntityType 验证实体类型（不含通配符）
func IsValidEntityType(entityType string) bool {
	switch entityType {
	case EntityTypeContact, EntityTypeOrganization:
		return true
	}
	return false
}

// IsValidRuleEntityType 验证规则实体类型（允许通配符）
func IsValidRuleEntityType(entityType string) bool {
	return entityType == EntityTypeAny || IsValidEntityType(entityType)
}

// IsValidSyncDirection 验证同步方向
func IsValidSyncDirection(direction string) bool {
	switch direction {
	case SyncDirectionInbound, SyncDirectionOutbound:
		return true
	}
	return false
}

// IsValidQueueStatus 验证队列项状态
func IsValidQueueStatus(status string) bool {
	switch status {
	case QueueStatusPending, QueueStatusProcessing, QueueStatusCompleted, QueueStatusFailed:
		return true
	}
	return false
}

// IsValidResolutionSource 验证解决来源（决策输入只允许 local/remote）
func IsValidResolutionSource(source string) bool {
	switch source {
	case ResolutionSourceLocal, ResolutionSourceRemote:
		return true
	}
	return false
}
