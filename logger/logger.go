package logger

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger 初始化全局日志记录器
// 创建 JSON 格式的日志处理器,输出到 stdout,级别取自 LOG_LEVEL
func InitLogger() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
}

// parseLevel 解析日志级别,无法识别时默认 info
func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
