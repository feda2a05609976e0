/*
 * @module api/controllers/audit_controller
 * @description 审计控制器，提供审计记录的分页查询接口
 * @architecture 分层架构 - 控制器层
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow HTTP请求 -> 参数验证 -> 服务调用 -> 响应返回
 * @dependencies service/audit
 * @refs api/routes.go
 */

package controllers

import (
	"crmsync-service/service"
	"crmsync-service/service/audit"
	"net/http"
	"strconv"

	"github.com/go-chi/render"
)

// AuditController 审计控制器
type AuditController struct {
	auditService *audit.Service
}

// NewAuditController 创建审计控制器
func NewAuditController() *AuditController {
	return &AuditController{
		auditService: service.GlobalAuditService,
	}
}

// ListAuditLogs 获取审计记录列表
// @Summary 获取审计记录列表
// @Description 分页获取冲突解决与队列重试的审计记录，支持按实体类型过滤
// @Tags 审计管理
// @Produce json
// @Param page query int false "页码" default(1)
// @Param size query int false "每页大小" default(10)
// @Param entity_type query string false "实体类型"
// @Success 200 {object} PaginatedResponse{data=[]models.SyncAuditLog} "获取成功"
// @Failure 500 {object} APIResponse "服务器内部错误"
// @Router /audit/logs [get]
func (c *AuditController) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	page := 1
	size := 10
	if parsed, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && parsed > 0 {
		page = parsed
	}
	if parsed, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && parsed > 0 && parsed <= 100 {
		size = parsed
	}

	entries, total, err := c.auditService.List(r.Context(), r.URL.Query().Get("entity_type"), page, size)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("获取审计记录失败", err))
		return
	}

	render.JSON(w, r, PaginatedSuccessResponse("获取审计记录成功", entries, total, page, size))
}
