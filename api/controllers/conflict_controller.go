/*
 * @module api/controllers/conflict_controller
 * @description 冲突控制器，提供冲突查询、统计、单个人工解决与批量解决接口
 * @architecture 分层架构 - 控制器层
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow HTTP请求 -> 参数验证 -> 服务调用 -> 响应返回
 * @rules 人工解决必须覆盖全部未决字段；批量解决逐项独立汇报结果
 * @dependencies service/conflict
 * @refs api/routes.go
 */

package controllers

import (
	"crmsync-service/service"
	"crmsync-service/service/conflict"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// ConflictController 冲突控制器
type ConflictController struct {
	resolutionService *conflict.ResolutionService
}

// NewConflictController 创建冲突控制器
func NewConflictController() *ConflictController {
	return &ConflictController{
		resolutionService: service.GlobalResolutionService,
	}
}

// ResolveConflictRequest 人工解决请求，decisions 为字段名到来源(local/remote)的映射
type ResolveConflictRequest struct {
	Decisions map[string]string `json:"decisions" binding:"required"`
	Actor     string            `json:"actor" binding:"required" example:"admin"`
}

// BulkResolveRequest 批量解决请求
type BulkResolveRequest struct {
	ConflictIDs []string `json:"conflict_ids" binding:"required"`
	Source      string   `json:"source" binding:"required" example:"remote"`
	Actor       string   `json:"actor" binding:"required" example:"admin"`
}

// ListConflicts 获取冲突列表
// @Summary 获取冲突列表
// @Description 分页获取同步冲突，支持按实体类型和状态过滤
// @Tags 冲突管理
// @Produce json
// @Param page query int false "页码" default(1)
// @Param size query int false "每页大小" default(10)
// @Param entity_type query string false "实体类型"
// @Param status query string false "冲突状态"
// @Success 200 {object} PaginatedResponse{data=[]models.SyncConflict} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /conflicts [get]
func (c *ConflictController) ListConflicts(w http.ResponseWriter, r *http.Request) {
	req := &conflict.ListRequest{
		Page:       1,
		Size:       10,
		EntityType: r.URL.Query().Get("entity_type"),
		Status:     r.URL.Query().Get("status"),
	}
	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && page > 0 {
		req.Page = page
	}
	if size, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && size > 0 && size <= 100 {
		req.Size = size
	}

	conflicts, total, err := c.resolutionService.List(r.Context(), req)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("获取冲突列表失败", err))
		return
	}

	render.JSON(w, r, PaginatedSuccessResponse("获取冲突列表成功", conflicts, total, req.Page, req.Size))
}

// GetConflictStats 获取冲突统计
// @Summary 获取冲突统计
// @Description 统计未决与已决冲突数量
// @Tags 冲突管理
// @Produce json
// @Success 200 {object} APIResponse{data=conflict.ConflictStats} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /conflicts/stats [get]
func (c *ConflictController) GetConflictStats(w http.ResponseWriter, r *http.Request) {
	stats, err := c.resolutionService.GetStats(r.Context())
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("获取冲突统计失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("获取冲突统计成功", stats))
}

// GetConflict 获取冲突详情
// @Summary 获取冲突详情
// @Description 根据冲突ID获取详细信息，包括逐字段的本地值和远端值
// @Tags 冲突管理
// @Produce json
// @Param id path string true "冲突ID"
// @Success 200 {object} APIResponse{data=models.SyncConflict} "获取成功"
// @Failure 404 {object} APIResponse "冲突不存在"
// @Router /conflicts/{id} [get]
func (c *ConflictController) GetConflict(w http.ResponseWriter, r *http.Request) {
	conflictID := chi.URLParam(r, "id")
	if conflictID == "" {
		render.JSON(w, r, BadRequestResponse("冲突ID不能为空", nil))
		return
	}

	found, err := c.resolutionService.Get(r.Context(), conflictID)
	if err != nil {
		if errors.Is(err, conflict.ErrConflictNotFound) {
			render.JSON(w, r, NotFoundResponse("冲突不存在", err))
			return
		}
		render.JSON(w, r, InternalErrorResponse("获取冲突失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("获取冲突成功", found))
}

// ResolveConflict 人工解决冲突
// @Summary 人工解决冲突
// @Description 对冲突的每个未决字段给出胜出来源，缺少任一字段的决策则整体拒绝
// @Tags 冲突管理
// @Accept json
// @Produce json
// @Param id path string true "冲突ID"
// @Param resolution body ResolveConflictRequest true "解决决策"
// @Success 200 {object} APIResponse{data=models.SyncConflict} "解决成功"
// @Failure 400 {object} APIResponse "请求参数错误或决策不完整"
// @Failure 404 {object} APIResponse "冲突不存在"
// @Failure 409 {object} APIResponse "冲突已解决"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /conflicts/{id}/resolve [post]
func (c *ConflictController) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID := chi.URLParam(r, "id")
	if conflictID == "" {
		render.JSON(w, r, BadRequestResponse("冲突ID不能为空", nil))
		return
	}

	var req ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}
	if req.Actor == "" {
		render.JSON(w, r, BadRequestResponse("操作者标识不能为空", nil))
		return
	}
	if len(req.Decisions) == 0 {
		render.JSON(w, r, BadRequestResponse("解决决策不能为空", nil))
		return
	}

	resolved, err := c.resolutionService.ResolveManual(r.Context(), conflictID, req.Decisions, req.Actor)
	if err != nil {
		switch {
		case errors.Is(err, conflict.ErrConflictNotFound):
			render.JSON(w, r, NotFoundResponse("冲突不存在", err))
		case errors.Is(err, conflict.ErrConflictResolved):
			render.JSON(w, r, ConflictResponse("冲突已解决", err))
		case errors.Is(err, conflict.ErrIncompleteResolution):
			render.JSON(w, r, BadRequestResponse("决策不完整", err))
		case errors.Is(err, conflict.ErrUnknownDecisionField):
			render.JSON(w, r, BadRequestResponse("决策包含未知字段", err))
		default:
			render.JSON(w, r, InternalErrorResponse("解决冲突失败", err))
		}
		return
	}

	render.JSON(w, r, SuccessResponse("解决冲突成功", resolved))
}

// BulkResolveConflicts 批量解决冲突
// @Summary 批量解决冲突
// @Description 对一批冲突统一应用同一胜出来源，逐项独立处理并汇报每项结果
// @Tags 冲突管理
// @Accept json
// @Produce json
// @Param resolution body BulkResolveRequest true "批量解决信息"
// @Success 200 {object} APIResponse{data=conflict.BulkResolutionOutcome} "批量解决完成"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /conflicts/bulk-resolve [post]
func (c *ConflictController) BulkResolveConflicts(w http.ResponseWriter, r *http.Request) {
	var req BulkResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}
	if req.Actor == "" {
		render.JSON(w, r, BadRequestResponse("操作者标识不能为空", nil))
		return
	}
	if len(req.ConflictIDs) == 0 {
		render.JSON(w, r, BadRequestResponse("冲突ID列表不能为空", nil))
		return
	}

	outcome, err := c.resolutionService.BulkResolve(r.Context(), req.ConflictIDs, req.Source, req.Actor)
	if err != nil {
		render.JSON(w, r, BadRequestResponse("批量解决冲突失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("批量解决冲突完成", outcome))
}
