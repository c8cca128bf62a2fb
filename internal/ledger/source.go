package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"intent-ledger-reconciler/internal/config"
	"intent-ledger-reconciler/internal/util/timeutil"
)

// Window 查询时间窗口
type Window = timeutil.Window

// WindowBack 以 now 为终点、向前 d 的时间窗口
func WindowBack(now time.Time, d time.Duration) Window {
	return timeutil.WindowBack(now, d)
}

// Source 账本数据源
// 实现方负责 I/O、超时与重试；归一化与对账不做任何 I/O
type Source interface {
	// Transactions 获取窗口内的账本条目（按账本顺序）
	Transactions(ctx context.Context, w Window) ([]Entry, error)
	// OpenTrades 获取当前持仓；不支持时返回空
	OpenTrades(ctx context.Context) ([]OpenTrade, error)
}

// New 按配置创建账本数据源
func New(cfg *config.LedgerConfig, logger *zap.Logger) (Source, error) {
	switch cfg.Source {
	case config.LedgerSourceOANDA:
		return NewOANDAClient(cfg, logger), nil
	case config.LedgerSourceCSV:
		return NewCSVSource(cfg.CSVPath), nil
	default:
		return nil, fmt.Errorf("未知的账本来源: %s", cfg.Source)
	}
}
