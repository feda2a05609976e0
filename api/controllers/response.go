package controllers

import "net/http"

// APIResponse 统一API响应结构
type APIResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data,omitempty"`
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data"`
	Total  int64       `json:"total" example:"100"`
	Page   int         `json:"page" example:"1"`
	Size   int         `json:"size" example:"10"`
}

// SuccessResponse 成功响应
func SuccessResponse(msg string, data interface{}) APIResponse {
	return APIResponse{Status: 0, Msg: msg, Data: data}
}

// PaginatedSuccessResponse 分页成功响应
func PaginatedSuccessResponse(msg string, data interface{}, total int64, page, size int) PaginatedResponse {
	return PaginatedResponse{Status: 0, Msg: msg, Data: data, Total: total, Page: page, Size: size}
}

// ErrorResponse 指定状态码的错误响应
func ErrorResponse(status int, msg string, err error) APIResponse {
	response := APIResponse{Status: status, Msg: msg}
	if err != nil {
		response.Data = err.Error()
	}
	return response
}

// BadRequestResponse 请求参数错误响应
func BadRequestResponse(msg string, err error) APIResponse {
	return ErrorResponse(http.StatusBadRequest, msg, err)
}

// NotFoundResponse 资源不存在响应
func NotFoundResponse(msg string, err error) APIResponse {
	return ErrorResponse(http.StatusNotFound, msg, err)
}

// ConflictResponse 状态冲突响应
func ConflictResponse(msg string, err error) APIResponse {
	return ErrorResponse(http.StatusConflict, msg, err)
}

// InternalErrorResponse 服务器内部错误响应
func InternalErrorResponse(msg string, err error) APIResponse {
	return ErrorResponse(http.StatusInternalServerError, msg, err)
}
