/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs main.go
 */

package api

import (
	"crmsync-service/api/controllers"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// InitRoute 初始化所有API路由
func InitRoute(r *chi.Mux) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 健康检查
	healthController := controllers.NewHealthController()
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	// 同步队列管理
	r.Route("/queue", func(r chi.Router) {
		queueController := controllers.NewSyncQueueController()
		r.Get("/items", queueController.ListQueueItems)
		r.Post("/items", queueController.EnqueueItem)
		r.Get("/items/{id}", queueController.GetQueueItem)
		r.Post("/items/{id}/retry", queueController.RetryQueueItem)
		r.Get("/stats", queueController.GetQueueStats)
	})

	// 冲突管理
	r.Route("/conflicts", func(r chi.Router) {
		conflictController := controllers.NewConflictController()
		r.Get("/", conflictController.ListConflicts)
		r.Get("/stats", conflictController.GetConflictStats)
		r.Post("/bulk-resolve", conflictController.BulkResolveConflicts)
		r.Get("/{id}", conflictController.GetConflict)
		r.Post("/{id}/resolve", conflictController.ResolveConflict)
	})

	// 自动解决规则管理
	r.Route("/rules", func(r chi.Router) {
		ruleController := controllers.NewRuleController()
		r.Get("/", ruleController.ListRules)
		r.Post("/", ruleController.CreateRule)
		r.Post("/reorder", ruleController.ReorderRules)
		r.Get("/{id}", ruleController.GetRule)
		r.Put("/{id}", ruleController.UpdateRule)
		r.Delete("/{id}", ruleController.DeleteRule)
	})

	// 审计记录查询
	r.Route("/audit", func(r chi.Router) {
		auditController := controllers.NewAuditController()
		r.Get("/logs", auditController.ListAuditLogs)
	})
}
