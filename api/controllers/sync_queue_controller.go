/*
 * @module api/controllers/sync_queue_controller
 * @description 同步队列控制器，提供队列项查询、统计、手工入队与操作员重试接口
 * @architecture 分层架构 - 控制器层
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow HTTP请求 -> 参数验证 -> 服务调用 -> 响应返回
 * @rules 重试属于操作员动作，必须携带操作者标识并产生审计
 * @dependencies service/sync_queue, service/meta
 * @refs api/routes.go
 */

package controllers

import (
	"crmsync-service/service"
	"crmsync-service/service/meta"
	"crmsync-service/service/sync_queue"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// SyncQueueController 同步队列控制器
type SyncQueueController struct {
	queueService *sync_queue.QueueService
}

// NewSyncQueueController 创建同步队列控制器
func NewSyncQueueController() *SyncQueueController {
	return &SyncQueueController{
		queueService: service.GlobalQueueService,
	}
}

// EnqueueRequest 手工入队请求
type EnqueueRequest struct {
	EntityType string `json:"entity_type" binding:"required" example:"contact"`
	EntityID   string `json:"entity_id" binding:"required" example:"550e8400-e29b-41d4-a716-446655440000"`
	Direction  string `json:"direction" binding:"required" example:"inbound"`
}

// RetryRequest 操作员重试请求
type RetryRequest struct {
	ResetAttempts bool   `json:"reset_attempts" example:"true"`
	Actor         string `json:"actor" example:"admin"`
}

// ListQueueItems 获取队列项列表
// @Summary 获取队列项列表
// @Description 分页获取同步队列项，支持按实体类型、方向和状态过滤
// @Tags 同步队列管理
// @Accept json
// @Produce json
// @Param page query int false "页码" default(1)
// @Param size query int false "每页大小" default(10)
// @Param entity_type query string false "实体类型"
// @Param direction query string false "同步方向"
// @Param status query string false "队列项状态"
// @Success 200 {object} PaginatedResponse{data=[]models.SyncQueueItem} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /queue/items [get]
func (c *SyncQueueController) ListQueueItems(w http.ResponseWriter, r *http.Request) {
	req := &sync_queue.ListRequest{
		Page:       1,
		Size:       10,
		EntityType: r.URL.Query().Get("entity_type"),
		Direction:  r.URL.Query().Get("direction"),
		Status:     r.URL.Query().Get("status"),
	}
	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && page > 0 {
		req.Page = page
	}
	if size, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && size > 0 && size <= 100 {
		req.Size = size
	}

	items, total, err := c.queueService.List(r.Context(), req)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("获取队列项列表失败", err))
		return
	}

	render.JSON(w, r, PaginatedSuccessResponse("获取队列项列表成功", items, total, req.Page, req.Size))
}

// GetQueueStats 获取队列统计
// @Summary 获取队列统计
// @Description 按状态和方向统计队列项数量
// @Tags 同步队列管理
// @Produce json
// @Success 200 {object} APIResponse{data=sync_queue.QueueStats} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /queue/stats [get]
func (c *SyncQueueController) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := c.queueService.GetStats(r.Context())
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("获取队列统计失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("获取队列统计成功", stats))
}

// EnqueueItem 手工入队
// @Summary 手工入队
// @Description 为指定实体手工追加一个同步队列项，入队幂等
// @Tags 同步队列管理
// @Accept json
// @Produce json
// @Param item body EnqueueRequest true "入队信息"
// @Success 200 {object} APIResponse{data=models.SyncQueueItem} "入队成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 409 {object} APIResponse "同键已有处理中的队列项"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /queue/items [post]
func (c *SyncQueueController) EnqueueItem(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}

	if !meta.IsValidEntityType(req.EntityType) {
		render.JSON(w, r, BadRequestResponse("无效的实体类型", nil))
		return
	}
	if !meta.IsValidSyncDirection(req.Direction) {
		render.JSON(w, r, BadRequestResponse("无效的同步方向", nil))
		return
	}

	item, err := c.queueService.Enqueue(r.Context(), req.EntityType, req.EntityID, req.Direction)
	if err != nil {
		if errors.Is(err, sync_queue.ErrDuplicateInFlight) {
			render.JSON(w, r, ConflictResponse("同键已有处理中的队列项", err))
			return
		}
		render.JSON(w, r, InternalErrorResponse("入队失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("入队成功", item))
}

// RetryQueueItem 操作员重试失败项
// @Summary 重试失败的队列项
// @Description 将失败的队列项强制置回待处理，可选清零尝试计数以绕过最大尝试上限
// @Tags 同步队列管理
// @Accept json
// @Produce json
// @Param id path string true "队列项ID"
// @Param retry body RetryRequest true "重试信息"
// @Success 200 {object} APIResponse{data=models.SyncQueueItem} "重试成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 404 {object} APIResponse "队列项不存在"
// @Failure 409 {object} APIResponse "队列项状态不允许重试"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /queue/items/{id}/retry [post]
func (c *SyncQueueController) RetryQueueItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	if itemID == "" {
		render.JSON(w, r, BadRequestResponse("队列项ID不能为空", nil))
		return
	}

	var req RetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}
	if req.Actor == "" {
		render.JSON(w, r, BadRequestResponse("操作者标识不能为空", nil))
		return
	}

	item, err := c.queueService.Retry(r.Context(), itemID, req.ResetAttempts, req.Actor)
	if err != nil {
		switch {
		case errors.Is(err, sync_queue.ErrItemNotFound):
			render.JSON(w, r, NotFoundResponse("队列项不存在", err))
		case errors.Is(err, sync_queue.ErrNotRetryable):
			render.JSON(w, r, ConflictResponse("队列项状态不允许重试", err))
		default:
			render.JSON(w, r, InternalErrorResponse("重试队列项失败", err))
		}
		return
	}

	render.JSON(w, r, SuccessResponse("重试队列项成功", item))
}

// GetQueueItem 获取队列项详情
// @Summary 获取队列项详情
// @Description 根据队列项ID获取详细信息，包括尝试次数与最近错误
// @Tags 同步队列管理
// @Produce json
// @Param id path string true "队列项ID"
// @Success 200 {object} APIResponse{data=models.SyncQueueItem} "获取成功"
// @Failure 404 {object} APIResponse "队列项不存在"
// @Router /queue/items/{id} [get]
func (c *SyncQueueController) GetQueueItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	if itemID == "" {
		render.JSON(w, r, BadRequestResponse("队列项ID不能为空", nil))
		return
	}

	item, err := c.queueService.Get(r.Context(), itemID)
	if err != nil {
		render.JSON(w, r, NotFoundResponse("获取队列项失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("获取队列项成功", item))
}
