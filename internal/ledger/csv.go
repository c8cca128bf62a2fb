package ledger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"intent-ledger-reconciler/internal/util/timeutil"
)

// csvRow 账本导出 CSV 的一行
// 缺失的列保持空值
type csvRow struct {
	ID           string `csv:"TRANSACTION ID"`
	Date         string `csv:"TRANSACTION DATE"`
	Type         string `csv:"TRANSACTION TYPE"`
	Instrument   string `csv:"INSTRUMENT"`
	Units        string `csv:"UNITS"`
	Price        string `csv:"PRICE"`
	PL           string `csv:"PL"`
	Financing    string `csv:"FINANCING"`
	OrderID      string `csv:"ORDER ID"`
	TradeOpened  string `csv:"TRADE OPENED"`
	TradesClosed string `csv:"TRADES CLOSED"`
}

// CSVSource 从账本导出 CSV 读取条目
type CSVSource struct {
	path string
}

// NewCSVSource 创建 CSV 账本来源
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Transactions 读取 CSV 并返回窗口内的条目
// 时间无法解析的条目保留，由归一化阶段处理
func (s *CSVSource) Transactions(ctx context.Context, w Window) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("打开账本 CSV 失败: %w", err)
	}
	defer f.Close()

	entries, err := ReadCSV(f)
	if err != nil {
		return nil, err
	}

	out := entries[:0]
	for _, e := range entries {
		if t, ok := timeutil.ParseTimestamp(e.Time, time.UTC); ok && !w.Contains(t) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// OpenTrades CSV 导出不包含当前持仓
func (s *CSVSource) OpenTrades(ctx context.Context) ([]OpenTrade, error) {
	return nil, nil
}

// ReadCSV 解析账本导出 CSV
// 参数 r: CSV 内容，首行为表头
// 返回: 账本条目
func ReadCSV(r io.Reader) ([]Entry, error) {
	var rows []*csvRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("解析账本 CSV 失败: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e := Entry{
			ID:         strings.TrimSpace(row.ID),
			Type:       normalizeType(row.Type),
			Time:       strings.TrimSpace(row.Date),
			Instrument: strings.TrimSpace(row.Instrument),
			Units:      strings.TrimSpace(row.Units),
			Price:      strings.TrimSpace(row.Price),
			PL:         strings.TrimSpace(row.PL),
			Financing:  strings.TrimSpace(row.Financing),
			OrderID:    strings.TrimSpace(row.OrderID),
		}
		if id := strings.TrimSpace(row.TradeOpened); id != "" {
			e.TradeOpened = &TradeRef{TradeID: id, Units: e.Units}
		}
		for _, id := range strings.Split(row.TradesClosed, ";") {
			if id = strings.TrimSpace(id); id != "" {
				e.TradesClosed = append(e.TradesClosed, TradeRef{TradeID: id})
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// normalizeType 将 "Order Fill" 之类的展示名转换为 ORDER_FILL
func normalizeType(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "_")
}
