/*
 * @module service/sync_queue/remote_adapter
 * @description 远端平台适配器，封装对外部协作平台的推送与拉取，并对失败做瞬时/永久分类
 * @architecture 适配器模式 - 封装外部平台HTTP接口
 * @documentReference dev_docs/sync_engine_design.md
 * @stateFlow 请求构造 -> HTTP调用 -> 错误分类 -> 快照/错误返回
 * @rules 超时、网络错误、5xx、429 视为瞬时错误可重试，其余 4xx 视为永久错误
 * @dependencies net/http, encoding/json, service/models
 * @refs service/sync_queue/queue_processor.go
 */

package sync_queue

import (
	"bytes"
	"context"
	"crmsync-service/service/models"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// RemoteAdapter 远端平台适配器接口
type RemoteAdapter interface {
	// Push 将字段值推送到远端平台
	Push(ctx context.Context, entityType, entityID string, fields models.JSONB) error
	// Pull 拉取远端平台上实体的最新快照
	Pull(ctx context.Context, entityType, entityID string) (models.JSONB, error)
}

// AdapterError 适配器错误，携带瞬时/永久分类
type AdapterError struct {
	Op         string // push, pull
	StatusCode int
	Message    string
	Transient  bool
	Err        error
}

func (e *AdapterError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("远端平台%s失败 (HTTP %d): %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("远端平台%s失败: %s", e.Op, e.Message)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// IsTransientError 判断错误是否为可重试的瞬时错误
// 无法分类的错误按瞬时处理，交给退避与最大尝试次数兜底
func IsTransientError(err error) bool {
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		return adapterErr.Transient
	}
	return true
}

// HTTPRemoteAdapter 基于HTTP的远端平台适配器实现
type HTTPRemoteAdapter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRemoteAdapter 创建HTTP适配器，地址取自 REMOTE_PLATFORM_URL
func NewHTTPRemoteAdapter() *HTTPRemoteAdapter {
	baseURL := os.Getenv("REMOTE_PLATFORM_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8800"
	}

	return &HTTPRemoteAdapter{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Push 将字段值推送到远端平台
func (a *HTTPRemoteAdapter) Push(ctx context.Context, entityType, entityID string, fields models.JSONB) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return &AdapterError{Op: "push", Message: err.Error(), Transient: false, Err: err}
	}

	url := fmt.Sprintf("%s/api/%ss/%s", a.baseURL, entityType, entityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return &AdapterError{Op: "push", Message: err.Error(), Transient: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return a.classifyTransportError("push", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return a.classifyStatusError("push", resp.StatusCode)
}

// Pull 拉取远端平台上实体的最新快照
func (a *HTTPRemoteAdapter) Pull(ctx context.Context, entityType, entityID string) (models.JSONB, error) {
	url := fmt.Sprintf("%s/api/%ss/%s", a.baseURL, entityType, entityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &AdapterError{Op: "pull", Message: err.Error(), Transient: false, Err: err}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, a.classifyTransportError("pull", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, a.classifyStatusError("pull", resp.StatusCode)
	}

	var snapshot models.JSONB
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, &AdapterError{Op: "pull", Message: "响应解析失败: " + err.Error(), Transient: false, Err: err}
	}
	return snapshot, nil
}

// classifyTransportError 对传输层错误分类，网络与超时错误均为瞬时
func (a *HTTPRemoteAdapter) classifyTransportError(op string, err error) *AdapterError {
	transient := true
	var netErr net.Error
	if errors.As(err, &netErr) {
		transient = true
	}
	return &AdapterError{Op: op, Message: err.Error(), Transient: transient, Err: err}
}

// classifyStatusError 对HTTP状态码分类
func (a *HTTPRemoteAdapter) classifyStatusError(op string, statusCode int) *AdapterError {
	transient := statusCode >= 500 || statusCode == http.StatusTooManyRequests
	message := "远端拒绝请求"
	if transient {
		message = "远端暂时不可用"
	}
	return &AdapterError{Op: op, StatusCode: statusCode, Message: message, Transient: transient}
}
