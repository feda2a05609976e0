/*
 * @module service/sync_queue/queue_processor
 * @description 队列处理器，批量认领待处理项，经远端适配器推拉数据，拉取成功后交给冲突检测器
 * @architecture 基于Go协程和工作池的处理器模式
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 批量认领 -> 工作协程逐项处理 -> 完成/失败退避 -> 拉取路径触发冲突检测与自动解决
 * @rules 单项处理相互独立，单项超时按瞬时失败处理，不影响批次内其他项
 * @dependencies service/conflict, service/record, github.com/prometheus/client_golang
 * @refs service/init.go, service/scheduler/poll_scheduler.go
 */

package sync_queue

import (
	"context"
	"crmsync-service/service/conflict"
	"crmsync-service/service/meta"
	"crmsync-service/service/models"
	"crmsync-service/service/record"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_queue_items_processed_total",
		Help: "按方向与结果统计的队列项处理次数",
	}, []string{"direction", "result"})

	conflictsDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crmsync_conflicts_detected_total",
		Help: "检测到的冲突字段批次数",
	})

	conflictsAutoResolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crmsync_conflicts_auto_resolved_total",
		Help: "规则自动解决的冲突数",
	})
)

// QueueProcessor 队列处理器
type QueueProcessor struct {
	queueService *QueueService
	adapter      RemoteAdapter
	detector     *conflict.Detector
	resolution   *conflict.ResolutionService
	recordStore  record.Store

	workers     int
	batchSize   int
	interval    time.Duration
	itemTimeout time.Duration

	itemQueue chan models.SyncQueueItem
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewQueueProcessor 创建队列处理器，工作协程数取自 SYNC_WORKERS
func NewQueueProcessor(queueService *QueueService, adapter RemoteAdapter, detector *conflict.Detector,
	resolution *conflict.ResolutionService, recordStore record.Store) *QueueProcessor {

	workers := 4
	if val := os.Getenv("SYNC_WORKERS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			workers = parsed
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &QueueProcessor{
		queueService: queueService,
		adapter:      adapter,
		detector:     detector,
		resolution:   resolution,
		recordStore:  recordStore,
		workers:      workers,
		batchSize:    workers * 4,
		interval:     5 * time.Second,
		itemTimeout:  time.Minute,
		itemQueue:    make(chan models.SyncQueueItem, workers*4),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start 启动认领循环与工作池
func (p *QueueProcessor) Start() {
	slog.Info("队列处理器启动", "workers", p.workers, "batch_size", p.batchSize)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	p.wg.Add(1)
	go p.claimLoop()
}

// Stop 停止处理器并等待在途项处理完毕
func (p *QueueProcessor) Stop() {
	p.cancel()
	p.wg.Wait()
	slog.Info("队列处理器已停止")
}

// claimLoop 周期性认领待处理项并分发给工作池
func (p *QueueProcessor) claimLoop() {
	defer p.wg.Done()
	defer close(p.itemQueue)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			claimed, err := p.queueService.ClaimNext(p.ctx, p.batchSize)
			if err != nil {
				slog.Error("认领队列项失败", "error", err)
				continue
			}
			for _, item := range claimed {
				select {
				case <-p.ctx.Done():
					return
				case p.itemQueue <- item:
				}
			}
		}
	}
}

// worker 工作协程，逐项独立处理
func (p *QueueProcessor) worker() {
	defer p.wg.Done()

	for item := range p.itemQueue {
		p.ProcessItem(&item)
	}
}

// ProcessItem 处理单个队列项，超时与失败都只影响该项自身
func (p *QueueProcessor) ProcessItem(item *models.SyncQueueItem) {
	ctx, cancel := context.WithTimeout(context.Background(), p.itemTimeout)
	defer cancel()

	var err error
	if item.IsInbound() {
		err = p.processInbound(ctx, item)
	} else {
		err = p.processOutbound(ctx, item)
	}

	if err != nil {
		slog.Warn("队列项处理失败",
			"item_id", item.ID,
			"entity_type", item.EntityType,
			"entity_id", item.EntityID,
			"direction", item.Direction,
			"attempts", item.Attempts+1,
			"error", err)
		itemsProcessedTotal.WithLabelValues(item.Direction, "failed").Inc()

		if failErr := p.queueService.Fail(context.Background(), item.ID, err); failErr != nil {
			slog.Error("记录队列项失败状态出错", "item_id", item.ID, "error", failErr)
		}
		return
	}

	itemsProcessedTotal.WithLabelValues(item.Direction, "completed").Inc()
	if completeErr := p.queueService.Complete(context.Background(), item.ID); completeErr != nil {
		slog.Error("记录队列项完成状态出错", "item_id", item.ID, "error", completeErr)
	}
}

// processInbound 拉取远端快照并做三路冲突检测
func (p *QueueProcessor) processInbound(ctx context.Context, item *models.SyncQueueItem) error {
	remote, err := p.adapter.Pull(ctx, item.EntityType, item.EntityID)
	if err != nil {
		return err
	}

	local, err := p.recordStore.ReadSnapshot(ctx, item.EntityType, item.EntityID)
	if err != nil && !errors.Is(err, record.ErrRecordNotFound) {
		return fmt.Errorf("读取本地快照失败: %w", err)
	}
	baseline, err := p.recordStore.ReadLastSynced(ctx, item.EntityType, item.EntityID)
	if err != nil && !errors.Is(err, record.ErrRecordNotFound) {
		return fmt.Errorf("读取基线快照失败: %w", err)
	}

	result := p.detector.Detect(local, remote, baseline)

	// 仅远端变更：写回本地并推进基线
	if len(result.RemoteChanges) > 0 {
		if err := p.recordStore.WriteFields(ctx, item.EntityType, item.EntityID, result.RemoteChanges); err != nil {
			return fmt.Errorf("写回远端变更失败: %w", err)
		}
		if err := p.recordStore.MergeLastSynced(ctx, item.EntityType, item.EntityID, result.RemoteChanges); err != nil {
			return fmt.Errorf("推进基线失败: %w", err)
		}
	}

	// 两侧独立收敛到同值：只推进基线
	if len(result.ConvergedChanges) > 0 {
		if err := p.recordStore.MergeLastSynced(ctx, item.EntityType, item.EntityID, result.ConvergedChanges); err != nil {
			return fmt.Errorf("推进基线失败: %w", err)
		}
	}

	// 仅本地变更：幂等补一个外推项，本地编辑路径通常已入队
	if len(result.LocalChanges) > 0 {
		_, err := p.queueService.Enqueue(ctx, item.EntityType, item.EntityID, meta.SyncDirectionOutbound)
		if err != nil && !errors.Is(err, ErrDuplicateInFlight) {
			return fmt.Errorf("入队外推失败: %w", err)
		}
	}

	if result.HasConflict() {
		conflictsDetectedTotal.Inc()
		openConflict, err := p.detector.UpsertConflict(ctx, item.EntityType, item.EntityID, result.ConflictFields)
		if err != nil {
			return fmt.Errorf("记录冲突失败: %w", err)
		}

		outcome, err := p.resolution.AutoResolve(ctx, openConflict.ID)
		if err != nil && !errors.Is(err, conflict.ErrConflictResolved) {
			return fmt.Errorf("自动解决冲突失败: %w", err)
		}
		if outcome != nil && outcome.Resolved {
			conflictsAutoResolvedTotal.Inc()
		}
	}

	return nil
}

// processOutbound 将本地快照推送到远端，成功后整体推进基线
func (p *QueueProcessor) processOutbound(ctx context.Context, item *models.SyncQueueItem) error {
	local, err := p.recordStore.ReadSnapshot(ctx, item.EntityType, item.EntityID)
	if err != nil {
		return fmt.Errorf("读取本地快照失败: %w", err)
	}

	if err := p.adapter.Push(ctx, item.EntityType, item.EntityID, local); err != nil {
		return err
	}

	if err := p.recordStore.SetLastSynced(ctx, item.EntityType, item.EntityID, local); err != nil {
		return fmt.Errorf("推进基线失败: %w", err)
	}
	return nil
}
