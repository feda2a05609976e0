/*
 * @module api/controllers/rule_controller
 * @description 自动解决规则控制器，提供规则增删改查与整体重排接口
 * @architecture 分层架构 - 控制器层
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow HTTP请求 -> 参数验证 -> 服务调用 -> 响应返回
 * @rules 重排必须提交完整的规则ID列表，集合不一致时整体拒绝
 * @dependencies service/rules
 * @refs api/routes.go
 */

package controllers

import (
	"crmsync-service/service"
	"crmsync-service/service/rules"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// RuleController 自动解决规则控制器
type RuleController struct {
	ruleService *rules.RuleService
}

// NewRuleController 创建规则控制器
func NewRuleController() *RuleController {
	return &RuleController{
		ruleService: service.GlobalRuleService,
	}
}

// ReorderRulesRequest 规则重排请求，必须包含全部现有规则ID
type ReorderRulesRequest struct {
	OrderedIDs []string `json:"ordered_ids" binding:"required"`
}

// ListRules 获取规则列表
// @Summary 获取规则列表
// @Description 按评估顺序返回全部自动解决规则
// @Tags 自动解决规则管理
// @Produce json
// @Success 200 {object} APIResponse{data=[]models.AutoResolutionRule} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /rules [get]
func (c *RuleController) ListRules(w http.ResponseWriter, r *http.Request) {
	ruleList, err := c.ruleService.List(r.Context())
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("获取规则列表失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("获取规则列表成功", ruleList))
}

// GetRule 获取规则详情
// @Summary 获取规则详情
// @Description 根据规则ID获取详细信息
// @Tags 自动解决规则管理
// @Produce json
// @Param id path string true "规则ID"
// @Success 200 {object} APIResponse{data=models.AutoResolutionRule} "获取成功"
// @Failure 404 {object} APIResponse "规则不存在"
// @Router /rules/{id} [get]
func (c *RuleController) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	if ruleID == "" {
		render.JSON(w, r, BadRequestResponse("规则ID不能为空", nil))
		return
	}

	rule, err := c.ruleService.Get(r.Context(), ruleID)
	if err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			render.JSON(w, r, NotFoundResponse("规则不存在", err))
			return
		}
		render.JSON(w, r, InternalErrorResponse("获取规则失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("获取规则成功", rule))
}

// CreateRule 创建规则
// @Summary 创建规则
// @Description 创建自动解决规则，新规则追加到评估顺序末尾
// @Tags 自动解决规则管理
// @Accept json
// @Produce json
// @Param rule body rules.CreateRuleRequest true "规则信息"
// @Success 200 {object} APIResponse{data=models.AutoResolutionRule} "创建成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /rules [post]
func (c *RuleController) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req rules.CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}

	rule, err := c.ruleService.Create(r.Context(), &req)
	if err != nil {
		render.JSON(w, r, BadRequestResponse("创建规则失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("创建规则成功", rule))
}

// UpdateRule 更新规则
// @Summary 更新规则
// @Description 更新规则的匹配条件、胜出来源或启用状态，不改变评估顺序
// @Tags 自动解决规则管理
// @Accept json
// @Produce json
// @Param id path string true "规则ID"
// @Param rule body rules.UpdateRuleRequest true "更新信息"
// @Success 200 {object} APIResponse{data=models.AutoResolutionRule} "更新成功"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 404 {object} APIResponse "规则不存在"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /rules/{id} [put]
func (c *RuleController) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	if ruleID == "" {
		render.JSON(w, r, BadRequestResponse("规则ID不能为空", nil))
		return
	}

	var req rules.UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}

	rule, err := c.ruleService.Update(r.Context(), ruleID, &req)
	if err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			render.JSON(w, r, NotFoundResponse("规则不存在", err))
			return
		}
		render.JSON(w, r, BadRequestResponse("更新规则失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("更新规则成功", rule))
}

// DeleteRule 删除规则
// @Summary 删除规则
// @Description 删除规则并压实剩余规则的评估顺序
// @Tags 自动解决规则管理
// @Produce json
// @Param id path string true "规则ID"
// @Success 200 {object} APIResponse "删除成功"
// @Failure 404 {object} APIResponse "规则不存在"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /rules/{id} [delete]
func (c *RuleController) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	if ruleID == "" {
		render.JSON(w, r, BadRequestResponse("规则ID不能为空", nil))
		return
	}

	if err := c.ruleService.Delete(r.Context(), ruleID); err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			render.JSON(w, r, NotFoundResponse("规则不存在", err))
			return
		}
		render.JSON(w, r, InternalErrorResponse("删除规则失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("删除规则成功", nil))
}

// ReorderRules 整体重排规则
// @Summary 重排规则
// @Description 按给定的完整ID列表原子重写全部规则的评估顺序
// @Tags 自动解决规则管理
// @Accept json
// @Produce json
// @Param reorder body ReorderRulesRequest true "重排后的完整规则ID列表"
// @Success 200 {object} APIResponse{data=[]models.AutoResolutionRule} "重排成功"
// @Failure 400 {object} APIResponse "ID列表与现有规则集合不一致"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /rules/reorder [post]
func (c *RuleController) ReorderRules(w http.ResponseWriter, r *http.Request) {
	var req ReorderRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}

	if err := c.ruleService.Reorder(r.Context(), req.OrderedIDs); err != nil {
		if errors.Is(err, rules.ErrInvalidReorder) {
			render.JSON(w, r, BadRequestResponse("重排ID列表与现有规则集合不一致", err))
			return
		}
		render.JSON(w, r, InternalErrorResponse("重排规则失败", err))
		return
	}

	ruleList, err := c.ruleService.List(r.Context())
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("获取规则列表失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("重排规则成功", ruleList))
}
