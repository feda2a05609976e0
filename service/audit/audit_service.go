/*
 * @module service/audit/audit_service
 * @description 审计服务，落库记录每次冲突解决与队列重试，并可选地向Kafka主题广播审计事件
 * @architecture 分层架构 - 审计落库 + 适配器模式的消息广播
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 审计条目构造 -> 数据库写入 -> Kafka广播(尽力而为)
 * @rules 审计落库失败向调用方返回错误，Kafka广播失败只记日志不阻断解决流程
 * @dependencies gorm.io/gorm, github.com/segmentio/kafka-go, service/models
 * @refs service/conflict/resolution_service.go, service/sync_queue/queue_service.go
 */

package audit

import (
	"context"
	"crmsync-service/service/models"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// Recorder 审计记录接口
type Recorder interface {
	Record(ctx context.Context, entry *models.SyncAuditLog) error
	WithTx(tx *gorm.DB) Recorder
}

// Service 审计服务
type Service struct {
	db     *gorm.DB
	writer *kafka.Writer
}

// NewService 创建审计服务，KAFKA_BROKERS 为空时不启用广播
func NewService(db *gorm.DB) *Service {
	service := &Service{db: db}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		topic := os.Getenv("KAFKA_AUDIT_TOPIC")
		if topic == "" {
			topic = "crmsync.audit"
		}
		service.writer = &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		}
		slog.Info("审计Kafka广播已启用", "brokers", brokers, "topic", topic)
	}

	return service
}

// WithTx 返回绑定到给定事务的审计视图，落库随调用方事务提交，广播仍走共享写入器
func (s *Service) WithTx(tx *gorm.DB) Recorder {
	return &Service{db: tx, writer: s.writer}
}

// Record 写入一条审计记录并广播
func (s *Service) Record(ctx context.Context, entry *models.SyncAuditLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("审计落库失败: %w", err)
	}

	s.publish(ctx, entry)
	return nil
}

// List 分页查询审计记录
func (s *Service) List(ctx context.Context, entityType string, page, size int) ([]models.SyncAuditLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.SyncAuditLog{})
	if entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.SyncAuditLog
	err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&entries).Error
	return entries, total, err
}

// Close 关闭Kafka写入器
func (s *Service) Close() error {
	if s.writer != nil {
		return s.writer.Close()
	}
	return nil
}

// publish 向Kafka广播审计事件，失败只记日志
func (s *Service) publish(ctx context.Context, entry *models.SyncAuditLog) {
	if s.writer == nil {
		return
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		slog.Error("审计事件序列化失败", "audit_id", entry.ID, "error", err)
		return
	}

	message := kafka.Message{
		Key:   []byte(entry.EntityType + ":" + entry.EntityID),
		Value: payload,
		Time:  time.Now(),
	}
	if err := s.writer.WriteMessages(ctx, message); err != nil {
		slog.Error("审计事件广播失败", "audit_id", entry.ID, "error", err)
	}
}
