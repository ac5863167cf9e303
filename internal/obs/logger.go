// Package obs 提供最小的可观测能力：结构化日志与必要字段，默认不记录敏感信息。
package obs

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

func NewLogger(env string) *slog.Logger {
	return NewLoggerWithFile(env, "")
}

// NewLoggerWithFile 在 stdout 之外同时写入日志文件（logPath 为空则只写 stdout）。
// PHI 永远不进日志：调用方只记录哈希后的标识或计数。
func NewLoggerWithFile(env string, logPath string) *slog.Logger {
	level := slog.LevelInfo
	if env == "development" {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stdout
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err == nil {
			if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				w = io.MultiWriter(os.Stdout, f)
			}
		}
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
