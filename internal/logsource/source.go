// Package logsource 获取交易机器人的运行日志文本。
// 支持本地文件与部署平台的 WebSocket 日志流两种来源。
package logsource

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"intent-ledger-reconciler/internal/config"
	"intent-ledger-reconciler/internal/util/timeutil"
)

// Source 日志来源
type Source interface {
	// Fetch 获取窗口内的日志文本，行以 '\n' 分隔
	Fetch(ctx context.Context, w timeutil.Window) (string, error)
}

// New 按配置创建日志来源
func New(cfg *config.LogsConfig, logger *zap.Logger) (Source, error) {
	switch cfg.Source {
	case config.LogSourceFile:
		return NewFileSource(cfg.Path), nil
	case config.LogSourceStream:
		return NewStreamSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("未知的日志来源: %s", cfg.Source)
	}
}

// FileSource 本地日志文件
// 文件内容原样返回，不按窗口过滤
type FileSource struct {
	path string
}

// NewFileSource 创建文件来源；path 为 "-" 时读取标准输入
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Fetch 实现 Source
func (s *FileSource) Fetch(ctx context.Context, _ timeutil.Window) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.path == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("读取标准输入失败: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("读取日志文件失败: %w", err)
	}
	return string(b), nil
}
