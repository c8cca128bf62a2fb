package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"intent-ledger-reconciler/internal/core/model"
)

var testNow = time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(func() time.Time { return testNow })
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// TestNormalize_OpenThenClose 测试开仓后平仓转为 CLOSE 并计算时长
func TestNormalize_OpenThenClose(t *testing.T) {
	entries := []Entry{
		{ID: "100", Type: TypeMarketOrder, Time: "2024-06-01T08:15:29Z", Instrument: "EUR_USD", Units: "5000", Price: "1.15210"},
		{ID: "101", Type: TypeOrderFill, Time: "2024-06-01T10:15:29Z", Instrument: "EUR_USD", Units: "-5000", Price: "1.15560", PL: "17.50",
			TradesClosed: []TradeRef{{TradeID: "100"}}},
	}
	txs, stats := newTestNormalizer().Normalize(entries, nil)
	if len(txs) != 1 {
		t.Fatalf("len=%d, want 1", len(txs))
	}
	tx := txs[0]
	if tx.Kind != model.TxClose || tx.ID != "100" || !tx.RealizedPL.Equal(dec("17.5")) {
		t.Fatalf("tx=%+v", tx)
	}
	if !tx.ClosePrice.Equal(dec("1.1556")) || !tx.CloseTime.Equal(time.Date(2024, 6, 1, 10, 15, 29, 0, time.UTC)) {
		t.Fatalf("close=%v @ %s", tx.CloseTime, tx.ClosePrice)
	}
	if h, ok := tx.DurationHours(); !ok || h != 2 {
		t.Fatalf("duration=%v,%v, want 2,true", h, ok)
	}
	if !tx.Units.Equal(dec("5000")) || !tx.Price.Equal(dec("1.1521")) {
		t.Fatalf("开仓字段应保留: %+v", tx)
	}
	if stats.Dropped != 0 || stats.OrphanCloses != 0 {
		t.Fatalf("stats=%+v", stats)
	}
}

// TestNormalize_MarketOrderFilled 测试市价单成交后通过仓位编号关联
func TestNormalize_MarketOrderFilled(t *testing.T) {
	entries := []Entry{
		{ID: "200", Type: TypeMarketOrder, Time: "2024-06-01T08:00:00Z", Instrument: "GBP_USD", Units: "-10000"},
		{ID: "201", Type: TypeOrderFill, OrderID: "200", Time: "2024-06-01T08:00:01Z", Instrument: "GBP_USD", Units: "-10000", Price: "1.35810",
			TradeOpened: &TradeRef{TradeID: "201", Units: "-10000"}},
		{ID: "250", Type: TypeOrderFill, Time: "2024-06-01T09:00:01Z", Instrument: "GBP_USD", Units: "10000", Price: "1.35900", PL: "-9.00",
			TradesClosed: []TradeRef{{TradeID: "201", RealizedPL: "-9.00"}}},
	}
	txs, _ := newTestNormalizer().Normalize(entries, nil)
	if len(txs) != 1 {
		t.Fatalf("len=%d, want 1: %+v", len(txs), txs)
	}
	tx := txs[0]
	if tx.ID != "200" || tx.LinkedTradeID != "201" || tx.Kind != model.TxClose {
		t.Fatalf("tx=%+v", tx)
	}
	if !tx.Price.Equal(dec("1.3581")) || !tx.RealizedPL.Equal(dec("-9")) || !tx.IsShort() {
		t.Fatalf("tx=%+v", tx)
	}
	if !tx.Time.Equal(time.Date(2024, 6, 1, 8, 0, 1, 0, time.UTC)) {
		t.Fatalf("time=%v, want fill time 08:00:01", tx.Time)
	}
	if h, ok := tx.DurationHours(); !ok || h != 1 {
		t.Fatalf("duration=%v,%v", h, ok)
	}
}

// TestNormalize_CloseOrderSkipped 测试平仓类市价单不产生 OPEN 记录
func TestNormalize_CloseOrderSkipped(t *testing.T) {
	tests := []struct {
		name  string
		order Entry
	}{
		{"reason", Entry{ID: "210", Type: TypeMarketOrder, Time: "2024-06-01T09:00:00Z", Instrument: "GBP_USD", Units: "10000", Reason: "TRADE_CLOSE"}},
		{"tradeClose", Entry{ID: "210", Type: TypeMarketOrder, Time: "2024-06-01T09:00:00Z", Instrument: "GBP_USD", Reason: "CLIENT_ORDER",
			TradeClose: &TradeRef{TradeID: "201", Units: "ALL"}}},
	}
	for _, tt := range tests {
		entries := []Entry{
			{ID: "200", Type: TypeMarketOrder, Time: "2024-06-01T08:00:00Z", Instrument: "GBP_USD", Units: "-10000", Reason: "CLIENT_ORDER"},
			{ID: "201", Type: TypeOrderFill, OrderID: "200", Time: "2024-06-01T08:00:01Z", Instrument: "GBP_USD", Units: "-10000", Price: "1.35810",
				TradeOpened: &TradeRef{TradeID: "201", Units: "-10000"}},
			tt.order,
			{ID: "211", Type: TypeOrderFill, OrderID: "210", Time: "2024-06-01T09:00:01Z", Instrument: "GBP_USD", Units: "10000", Price: "1.35900", PL: "-9.00",
				TradesClosed: []TradeRef{{TradeID: "201", RealizedPL: "-9.00"}}},
		}
		txs, stats := newTestNormalizer().Normalize(entries, nil)
		if len(txs) != 1 || txs[0].Kind != model.TxClose || txs[0].ID != "200" {
			t.Fatalf("%s: txs=%+v", tt.name, txs)
		}
		if stats.CloseOrders != 1 || stats.Dropped != 0 {
			t.Fatalf("%s: stats=%+v", tt.name, stats)
		}
	}
}

// TestNormalize_FillOpensNewTrade 测试成交回报开出未知仓位产生 FILL
func TestNormalize_FillOpensNewTrade(t *testing.T) {
	entries := []Entry{
		{ID: "301", Type: TypeOrderFill, Time: "2024-06-01T08:00:01Z", Instrument: "AUD_USD", Units: "-5000", Price: "0.64955",
			TradeOpened: &TradeRef{TradeID: "301"}},
	}
	txs, _ := newTestNormalizer().Normalize(entries, nil)
	if len(txs) != 1 || txs[0].Kind != model.TxFill || !txs[0].Units.Equal(dec("-5000")) {
		t.Fatalf("txs=%+v", txs)
	}
	if _, ok := txs[0].DurationHours(); ok {
		t.Fatalf("未平仓记录不应有时长")
	}
}

// TestNormalize_OrphanClose 测试平仓找不到开仓记录
func TestNormalize_OrphanClose(t *testing.T) {
	entries := []Entry{
		{ID: "401", Type: TypeOrderFill, Time: "2024-06-01T08:00:01Z", Instrument: "USD_JPY", Units: "3000", Price: "151.20", PL: "-4.10",
			TradesClosed: []TradeRef{{TradeID: "399"}}},
	}
	txs, stats := newTestNormalizer().Normalize(entries, nil)
	if len(txs) != 1 {
		t.Fatalf("len=%d", len(txs))
	}
	tx := txs[0]
	if tx.Kind != model.TxClose || tx.LinkedTradeID != "399" || !tx.Units.Equal(dec("-3000")) || !tx.RealizedPL.Equal(dec("-4.1")) {
		t.Fatalf("tx=%+v", tx)
	}
	if _, ok := tx.DurationHours(); ok {
		t.Fatalf("开仓时间未知时不应有时长")
	}
	if stats.OrphanCloses != 1 {
		t.Fatalf("orphan=%d, want 1", stats.OrphanCloses)
	}
}

// TestNormalize_OrphanCloseMany 测试一条成交平掉多个未知仓位时编号唯一
func TestNormalize_OrphanCloseMany(t *testing.T) {
	entries := []Entry{
		{ID: "500", Type: TypeOrderFill, Time: "2024-06-01T08:00:01Z", Instrument: "EUR_USD", Units: "-3000", Price: "1.15000",
			TradesClosed: []TradeRef{{TradeID: "480", Units: "-1000", RealizedPL: "1.00"}, {TradeID: "490", Units: "-2000", RealizedPL: "2.00"}}},
	}
	txs, stats := newTestNormalizer().Normalize(entries, nil)
	if len(txs) != 2 || stats.OrphanCloses != 2 {
		t.Fatalf("txs=%+v stats=%+v", txs, stats)
	}
	if txs[0].ID == txs[1].ID {
		t.Fatalf("编号重复: %s", txs[0].ID)
	}
	if txs[0].ID != "500-480" || txs[1].ID != "500-490" || !txs[1].RealizedPL.Equal(dec("2")) {
		t.Fatalf("txs=%+v", txs)
	}
}

// TestNormalize_DropAndFinancing 测试未知类型丢弃、利息转为 OTHER
func TestNormalize_DropAndFinancing(t *testing.T) {
	entries := []Entry{
		{ID: "1", Type: "TRANSFER_FUNDS", Time: "2024-06-01T00:00:00Z"},
		{ID: "2", Type: TypeDailyFinancing, Time: "2024-06-01T21:00:00Z", Financing: "-0.35"},
		{ID: "3", Type: TypeOrderFill, Time: "2024-06-01T21:00:00Z"},
	}
	txs, stats := newTestNormalizer().Normalize(entries, nil)
	if len(txs) != 1 || txs[0].Kind != model.TxOther || !txs[0].RealizedPL.Equal(dec("-0.35")) {
		t.Fatalf("txs=%+v", txs)
	}
	if stats.Dropped != 2 || stats.Financing != 1 {
		t.Fatalf("stats=%+v", stats)
	}
}

// TestNormalize_BadTime 测试时间无法解析时不计算时长
func TestNormalize_BadTime(t *testing.T) {
	entries := []Entry{
		{ID: "1", Type: TypeMarketOrder, Time: "yesterday", Instrument: "EUR_USD", Units: "1000", Price: "1.1"},
		{ID: "2", Type: TypeOrderFill, Time: "2024-06-01T21:00:00Z", Units: "-1000", Price: "1.2", PL: "10", TradesClosed: []TradeRef{{TradeID: "1"}}},
	}
	txs, stats := newTestNormalizer().Normalize(entries, nil)
	if len(txs) != 1 || txs[0].Kind != model.TxClose {
		t.Fatalf("txs=%+v", txs)
	}
	if _, ok := txs[0].DurationHours(); ok {
		t.Fatalf("开仓时间无法解析时不应有时长")
	}
	if stats.BadTimes != 1 {
		t.Fatalf("bad_times=%d, want 1", stats.BadTimes)
	}
}

// TestNormalize_OpenTrades 测试当前持仓补充记录
func TestNormalize_OpenTrades(t *testing.T) {
	entries := []Entry{
		{ID: "501", Type: TypeOrderFill, Time: "2024-06-02T08:00:00Z", Instrument: "USD_CAD", Units: "2000", Price: "1.37",
			TradeOpened: &TradeRef{TradeID: "501"}},
		{ID: "502", Type: TypeOrderFill, Time: "2024-06-02T09:00:00Z", Instrument: "USD_CHF", Units: "2000", Price: "0.9",
			TradeOpened: &TradeRef{TradeID: "502"}},
		{ID: "503", Type: TypeOrderFill, Time: "2024-06-02T10:00:00Z", Instrument: "USD_CHF", Units: "-2000", Price: "0.91", PL: "2",
			TradesClosed: []TradeRef{{TradeID: "502"}}},
	}
	open := []OpenTrade{
		{ID: "501", Instrument: "USD_CAD", CurrentUnits: "2000", Price: "1.37", UnrealizedPL: "3.25", OpenTime: "2024-06-02T08:00:00Z"},
		{ID: "502", Instrument: "USD_CHF", CurrentUnits: "2000", Price: "0.9", UnrealizedPL: "9", OpenTime: "2024-06-02T09:00:00Z"},
		{ID: "490", Instrument: "NZD_USD", CurrentUnits: "-1000", Price: "0.61", UnrealizedPL: "-1.5", OpenTime: "2024-06-01T12:00:00Z"},
	}
	txs, stats := newTestNormalizer().Normalize(entries, open)
	if len(txs) != 3 {
		t.Fatalf("len=%d, want 3: %+v", len(txs), txs)
	}
	if txs[0].Kind != model.TxOpen || !txs[0].Unrealized || !txs[0].RealizedPL.Equal(dec("3.25")) {
		t.Fatalf("持仓快照应覆盖未平仓记录: %+v", txs[0])
	}
	if h, ok := txs[0].DurationHours(); !ok || h != 4 {
		t.Fatalf("duration=%v,%v, want 4,true", h, ok)
	}
	if txs[1].Kind != model.TxClose || !txs[1].RealizedPL.Equal(dec("2")) {
		t.Fatalf("已平仓记录不应被快照覆盖: %+v", txs[1])
	}
	if txs[2].ID != "490" || txs[2].Kind != model.TxOpen || !txs[2].IsShort() {
		t.Fatalf("新持仓应追加在最后: %+v", txs[2])
	}
	if h, ok := txs[2].DurationHours(); !ok || h != 24 {
		t.Fatalf("duration=%v,%v, want 24,true", h, ok)
	}
	if stats.OpenPositions != 2 {
		t.Fatalf("open_positions=%d, want 2", stats.OpenPositions)
	}
}

// TestNormalize_Empty 测试空输入
func TestNormalize_Empty(t *testing.T) {
	txs, stats := newTestNormalizer().Normalize(nil, nil)
	if len(txs) != 0 || stats.Entries != 0 {
		t.Fatalf("txs=%v stats=%+v", txs, stats)
	}
}
