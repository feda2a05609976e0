/*
 * @module service/scheduler/poll_scheduler
 * @description 轮询调度器，按Cron周期为所有被跟踪实体入队入站拉取，多实例下以分布式锁防重
 * @architecture 基于robfig/cron的调度器模式
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 调度启动 -> Cron触发 -> 获取分布式锁 -> 逐实体入队入站拉取
 * @rules 入队逐实体幂等，已在处理中的实体直接跳过；锁被其他实例持有时本轮跳过
 * @dependencies github.com/robfig/cron/v3, service/sync_queue, service/distributed_lock
 * @refs service/init.go
 */

package scheduler

import (
	"context"
	"crmsync-service/service/distributed_lock"
	"crmsync-service/service/meta"
	"crmsync-service/service/models"
	"crmsync-service/service/sync_queue"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// pollLockKey 入站轮询的分布式锁键
const pollLockKey = "inbound_poll"

// PollScheduler 入站轮询调度器
type PollScheduler struct {
	db           *gorm.DB
	queueService *sync_queue.QueueService
	lockExecutor *distributed_lock.LockExecutor
	cron         *cron.Cron
	cronSpec     string
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewPollScheduler 创建轮询调度器，Cron表达式取自 SYNC_POLL_CRON（带秒字段）
func NewPollScheduler(db *gorm.DB, queueService *sync_queue.QueueService,
	lock distributed_lock.DistributedLock) *PollScheduler {

	cronSpec := os.Getenv("SYNC_POLL_CRON")
	if cronSpec == "" {
		cronSpec = "0 */5 * * * *" // 每5分钟
	}

	ctx, cancel := context.WithCancel(context.Background())
	scheduler := &PollScheduler{
		db:           db,
		queueService: queueService,
		cron:         cron.New(cron.WithSeconds()),
		cronSpec:     cronSpec,
		ctx:          ctx,
		cancel:       cancel,
	}
	if lock != nil {
		scheduler.lockExecutor = distributed_lock.NewLockExecutor(lock)
	}
	return scheduler
}

// Start 启动调度器
func (s *PollScheduler) Start() error {
	log.Println("启动入站轮询调度器")

	_, err := s.cron.AddFunc(s.cronSpec, s.runPoll)
	if err != nil {
		return fmt.Errorf("注册轮询任务失败: %w", err)
	}

	s.cron.Start()
	log.Printf("入站轮询调度器启动完成, cron=%s", s.cronSpec)
	return nil
}

// Stop 停止调度器
func (s *PollScheduler) Stop() {
	log.Println("停止入站轮询调度器")
	s.cancel()
	if s.cron != nil {
		s.cron.Stop()
	}
	log.Println("入站轮询调度器已停止")
}

// runPoll 执行一轮入站轮询，多实例下只有拿到锁的实例执行
func (s *PollScheduler) runPoll() {
	if s.lockExecutor == nil {
		s.enqueuePolls()
		return
	}

	err := s.lockExecutor.ExecuteWithLock(s.ctx, pollLockKey, 2*time.Minute, func() error {
		s.enqueuePolls()
		return nil
	})
	if err != nil {
		slog.Error("入站轮询获取锁失败", "error", err)
	}
}

// enqueuePolls 为每个被跟踪实体入队一个入站拉取
func (s *PollScheduler) enqueuePolls() {
	var records []models.EntityRecord
	if err := s.db.WithContext(s.ctx).Select("entity_type", "entity_id").Find(&records).Error; err != nil {
		slog.Error("加载被跟踪实体失败", "error", err)
		return
	}

	enqueued := 0
	for _, entityRecord := range records {
		_, err := s.queueService.Enqueue(s.ctx, entityRecord.EntityType, entityRecord.EntityID, meta.SyncDirectionInbound)
		if errors.Is(err, sync_queue.ErrDuplicateInFlight) {
			continue
		}
		if err != nil {
			slog.Error("入队入站拉取失败",
				"entity_type", entityRecord.EntityType,
				"entity_id", entityRecord.EntityID,
				"error", err)
			continue
		}
		enqueued++
	}

	slog.Info("入站轮询完成", "tracked", len(records), "enqueued", enqueued)
}
