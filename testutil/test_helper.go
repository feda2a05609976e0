/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, testify, time
 * @refs service/models
 */

package testutil

import (
	"bytes"
	"crmsync-service/service/models"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建测试数据库
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.EntityRecord{},
		&models.SyncQueueItem{},
		&models.SyncConflict{},
		&models.AutoResolutionRule{},
		&models.SyncAuditLog{},
	)
	if err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB 清理数据库
func (tdb *TestDB) CleanDB() {
	// 清空所有表的数据
	tables := []string{
		"entity_records",
		"sync_queue_items",
		"sync_conflicts",
		"auto_resolution_rules",
		"sync_audit_logs",
	}

	for _, table := range tables {
		tdb.DB.Exec(fmt.Sprintf("DELETE FROM %s", table))
	}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestDataFactory 测试数据工厂
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// EntityRecordOption 实体记录选项函数类型
type EntityRecordOption func(*models.EntityRecord)

// CreateEntityRecord 创建测试实体记录
func (f *TestDataFactory) CreateEntityRecord(entityType, entityID string, opts ...EntityRecordOption) *models.EntityRecord {
	entityRecord := &models.EntityRecord{
		EntityType: entityType,
		EntityID:   entityID,
		Fields: models.JSONB{
			"name":  "测试记录",
			"email": "test@example.com",
		},
		LastSynced: models.JSONB{
			"name":  "测试记录",
			"email": "test@example.com",
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	// 应用选项
	for _, opt := range opts {
		opt(entityRecord)
	}

	err := f.DB.Create(entityRecord).Error
	if err != nil {
		panic(fmt.Sprintf("failed to create test entity record: %v", err))
	}

	return entityRecord
}

// QueueItemOption 队列项选项函数类型
type QueueItemOption func(*models.SyncQueueItem)

// CreateQueueItem 创建测试队列项
func (f *TestDataFactory) CreateQueueItem(entityType, entityID, direction string, opts ...QueueItemOption) *models.SyncQueueItem {
	item := &models.SyncQueueItem{
		EntityType: entityType,
		EntityID:   entityID,
		Direction:  direction,
		Status:     "pending",
		Attempts:   0,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	// 应用选项
	for _, opt := range opts {
		opt(item)
	}

	err := f.DB.Create(item).Error
	if err != nil {
		panic(fmt.Sprintf("failed to create test queue item: %v", err))
	}

	return item
}

// ConflictOption 冲突选项函数类型
type ConflictOption func(*models.SyncConflict)

// CreateConflict 创建测试冲突
func (f *TestDataFactory) CreateConflict(entityType, entityID string, opts ...ConflictOption) *models.SyncConflict {
	conflict := &models.SyncConflict{
		EntityType: entityType,
		EntityID:   entityID,
		Status:     "open",
		Fields: models.ConflictFields{
			"name": {
				LocalValue:  "本地值",
				RemoteValue: "远端值",
			},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	// 应用选项
	for _, opt := range opts {
		opt(conflict)
	}

	err := f.DB.Create(conflict).Error
	if err != nil {
		panic(fmt.Sprintf("failed to create test conflict: %v", err))
	}

	return conflict
}

// RuleOption 规则选项函数类型
type RuleOption func(*models.AutoResolutionRule)

// CreateRule 创建测试规则
func (f *TestDataFactory) CreateRule(entityType string, fieldName *string, preferredSource string, order int, opts ...RuleOption) *models.AutoResolutionRule {
	rule := &models.AutoResolutionRule{
		Name:            fmt.Sprintf("测试规则_%d", order),
		EntityType:      entityType,
		FieldName:       fieldName,
		PreferredSource: preferredSource,
		IsEnabled:       true,
		Order:           order,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	// 应用选项
	for _, opt := range opts {
		opt(rule)
	}

	err := f.DB.Create(rule).Error
	if err != nil {
		panic(fmt.Sprintf("failed to create test rule: %v", err))
	}

	return rule
}

// StringPtr 返回字符串指针，便于构造可空字段
func StringPtr(value string) *string {
	return &value
}

// HTTPTestHelper HTTP测试辅助工具
type HTTPTestHelper struct{}

// NewHTTPTestHelper 创建HTTP测试辅助工具
func NewHTTPTestHelper() *HTTPTestHelper {
	return &HTTPTestHelper{}
}

// CreateJSONRequest 创建JSON请求
func (h *HTTPTestHelper) CreateJSONRequest(method, url string, body interface{}) (*http.Request, error) {
	var reqBody io.Reader

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// AssertJSONResponse 断言JSON响应
func (h *HTTPTestHelper) AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedBody interface{}) {
	assert.Equal(t, expectedStatus, w.Code)

	if expectedBody != nil {
		var actualBody interface{}
		err := json.Unmarshal(w.Body.Bytes(), &actualBody)
		assert.NoError(t, err)

		expectedJSON, _ := json.Marshal(expectedBody)
		actualJSON, _ := json.Marshal(actualBody)

		assert.JSONEq(t, string(expectedJSON), string(actualJSON))
	}
}
