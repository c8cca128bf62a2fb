package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"intent-ledger-reconciler/internal/core/model"
	"intent-ledger-reconciler/internal/stats/perf"
)

var t0 = time.Date(2024, 6, 1, 8, 15, 0, 0, time.UTC)

func executed(pair string, dir model.Direction, entry string, at time.Time) model.Intention {
	return model.Intention{
		Timestamp:  at,
		TimeSource: model.TimeLogged,
		Pair:       pair,
		Direction:  dir,
		EntryPrice: decimal.RequireFromString(entry),
		Outcome:    model.OutcomeExecuted,
	}
}

func trade(id, inst, units, price string, at time.Time) model.Transaction {
	return model.Transaction{
		ID:         id,
		Time:       at,
		Instrument: inst,
		Units:      decimal.RequireFromString(units),
		Price:      decimal.RequireFromString(price),
		Kind:       model.TxOpen,
	}
}

func mustNew(t *testing.T) *Reconciler {
	t.Helper()
	r, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("New err=%v", err)
	}
	return r
}

// TestMatches 测试单条配对条件
func TestMatches(t *testing.T) {
	base := trade("1", "EUR_USD", "5000", "1.15210", t0.Add(29*time.Second))
	tests := []struct {
		name string
		it   model.Intention
		tx   model.Transaction
		want bool
	}{
		{"完全匹配", executed("EUR/USD", model.DirectionBuy, "1.15200", t0), base, true},
		{"分隔符不同", executed("eur-usd", model.DirectionBuy, "1.15210", t0), base, true},
		{"交易对不同", executed("GBP/USD", model.DirectionBuy, "1.15210", t0), base, false},
		{"方向相反", executed("EUR/USD", model.DirectionSell, "1.15210", t0), base, false},
		{"方向未知", executed("EUR/USD", model.DirectionUnknown, "1.15210", t0), base, false},
		{"时间差恰为窗口", executed("EUR/USD", model.DirectionBuy, "1.15210", t0.Add(29*time.Second-300*time.Second)), base, true},
		{"时间差超出窗口", executed("EUR/USD", model.DirectionBuy, "1.15210", t0.Add(28*time.Second-300*time.Second)), base, false},
		{"意图晚于成交", executed("EUR/USD", model.DirectionBuy, "1.15210", t0.Add(2*time.Minute)), base, true},
		{"价差超出容差", executed("EUR/USD", model.DirectionBuy, "1.15400", t0), base, false},
		{"账本价格为零", executed("EUR/USD", model.DirectionBuy, "1.15210", t0), trade("1", "EUR_USD", "5000", "0", t0), false},
		{"利息记录", executed("EUR/USD", model.DirectionBuy, "1.15210", t0), func() model.Transaction {
			tx := base
			tx.Kind = model.TxOther
			return tx
		}(), false},
		{"价差约 0.004% 且相隔 10 秒", executed("EUR/USD", model.DirectionBuy, "1.15200", t0), trade("3", "EUR_USD", "5000", "1.15205", t0.Add(10*time.Second)), true},
		{"价差约 0.13%", executed("EUR/USD", model.DirectionBuy, "1.15200", t0), trade("4", "EUR_USD", "5000", "1.15350", t0.Add(10*time.Second)), false},
		{"未设置时间来源", func() model.Intention {
			it := executed("EUR/USD", model.DirectionBuy, "1.15210", t0)
			it.TimeSource = ""
			return it
		}(), base, true},
		{"空头匹配", executed("USD/JPY", model.DirectionSell, "151.20", t0), trade("2", "USD_JPY", "-3000", "151.25", t0), true},
	}
	r := mustNew(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Matches(&tt.it, &tt.tx); got != tt.want {
				t.Fatalf("Matches=%v, want %v", got, tt.want)
			}
		})
	}
}

// TestReconcile_Partitions 测试各分区归属
func TestReconcile_Partitions(t *testing.T) {
	intentions := []model.Intention{
		executed("GBP/USD", model.DirectionSell, "1.35810", t0.Add(time.Hour)),
		executed("EUR/USD", model.DirectionBuy, "1.15210", t0),
		{Timestamp: t0.Add(time.Minute), TimeSource: model.TimeLogged, Pair: "AUD/USD", Outcome: model.OutcomeRejected, RejectionReason: "spread"},
		{Timestamp: t0.Add(2 * time.Minute), TimeSource: model.TimeLogged, Pair: "USD/CAD", Outcome: model.OutcomeHeld},
		executed("NZD/USD", model.DirectionBuy, "0.61", t0.Add(3*time.Minute)),
	}
	txs := []model.Transaction{
		trade("10", "EUR_USD", "5000", "1.15215", t0.Add(10*time.Second)),
		trade("11", "USD_CHF", "1000", "0.9", t0.Add(20*time.Second)),
		trade("12", "GBP_USD", "-10000", "1.35800", t0.Add(time.Hour+5*time.Second)),
		{ID: "13", Kind: model.TxOther, RealizedPL: decimal.RequireFromString("-0.1")},
	}

	res := mustNew(t).Reconcile(intentions, txs)
	if len(res.Matched) != 2 {
		t.Fatalf("matched=%d, want 2", len(res.Matched))
	}
	// 按意图时间排序
	if res.Matched[0].Transaction.ID != "10" || res.Matched[1].Transaction.ID != "12" {
		t.Fatalf("matched=%+v", res.Matched)
	}
	if res.Matched[0].Delay != 10*time.Second {
		t.Fatalf("delay=%v, want 10s", res.Matched[0].Delay)
	}
	if len(res.UnmatchedRejected) != 1 || len(res.UnmatchedHeld) != 1 || len(res.UnmatchedExecuted) != 1 {
		t.Fatalf("res=%+v", res)
	}
	if len(res.Unexplained) != 2 || res.Unexplained[0].ID != "11" || res.Unexplained[1].ID != "13" {
		t.Fatalf("unexplained=%+v", res.Unexplained)
	}
	if got := res.UnexplainedTrades(); len(got) != 1 || got[0].ID != "11" {
		t.Fatalf("unexplained trades=%+v", got)
	}
	if res.IntentionCount() != len(intentions) || res.TransactionCount() != len(txs) {
		t.Fatalf("counts=%d/%d", res.IntentionCount(), res.TransactionCount())
	}
}

// TestReconcile_ClaimOnce 两条意图竞争同一条记录时先到先得
func TestReconcile_ClaimOnce(t *testing.T) {
	intentions := []model.Intention{
		executed("EUR/USD", model.DirectionBuy, "1.1521", t0.Add(time.Minute)),
		executed("EUR/USD", model.DirectionBuy, "1.1521", t0),
	}
	txs := []model.Transaction{trade("10", "EUR_USD", "5000", "1.1521", t0.Add(30*time.Second))}

	res := mustNew(t).Reconcile(intentions, txs)
	if len(res.Matched) != 1 || !res.Matched[0].Intention.Timestamp.Equal(t0) {
		t.Fatalf("matched=%+v", res.Matched)
	}
	if len(res.UnmatchedExecuted) != 1 || !res.UnmatchedExecuted[0].Timestamp.Equal(t0.Add(time.Minute)) {
		t.Fatalf("unmatched=%+v", res.UnmatchedExecuted)
	}
}

// TestReconcile_FirstFitInLedgerOrder 多条候选时按账本顺序认领
func TestReconcile_FirstFitInLedgerOrder(t *testing.T) {
	intentions := []model.Intention{executed("EUR/USD", model.DirectionBuy, "1.1521", t0)}
	txs := []model.Transaction{
		trade("20", "EUR_USD", "1000", "1.1525", t0.Add(4*time.Minute)),
		trade("21", "EUR_USD", "1000", "1.1521", t0),
	}
	res := mustNew(t).Reconcile(intentions, txs)
	if len(res.Matched) != 1 || res.Matched[0].Transaction.ID != "20" {
		t.Fatalf("matched=%+v", res.Matched)
	}
}

// TestReconcile_DefaultedAndIncomplete 默认时间戳与缺失入场价的意图不参与匹配
func TestReconcile_DefaultedAndIncomplete(t *testing.T) {
	defaulted := executed("EUR/USD", model.DirectionBuy, "1.1521", t0)
	defaulted.TimeSource = model.TimeDefaulted
	incomplete := executed("EUR/USD", model.DirectionBuy, "0", t0)
	incomplete.Incomplete = true

	txs := []model.Transaction{trade("10", "EUR_USD", "5000", "1.1521", t0)}
	res := mustNew(t).Reconcile([]model.Intention{defaulted, incomplete}, txs)
	if len(res.Matched) != 0 || len(res.UnmatchedExecuted) != 2 || len(res.Unexplained) != 1 {
		t.Fatalf("res=%+v", res)
	}
}

// TestReconcile_Empty 测试空输入
func TestReconcile_Empty(t *testing.T) {
	res := Reconcile(nil, nil)
	if res.IntentionCount() != 0 || res.TransactionCount() != 0 {
		t.Fatalf("res=%+v", res)
	}
}

// TestNew_InvalidOptions 测试无效容差
func TestNew_InvalidOptions(t *testing.T) {
	tests := []Options{
		{TimeWindow: 0, PriceTolerance: 0.001},
		{TimeWindow: -time.Second, PriceTolerance: 0.001},
		{TimeWindow: time.Minute, PriceTolerance: 0},
		{TimeWindow: time.Minute, PriceTolerance: 1},
	}
	for _, opts := range tests {
		if _, err := New(opts); !errors.Is(err, ErrInvalidOptions) {
			t.Fatalf("New(%+v) err=%v, want ErrInvalidOptions", opts, err)
		}
	}
}

// TestCheckClosures 测试平仓声明核对
func TestCheckClosures(t *testing.T) {
	txs := []model.Transaction{
		{ID: "100", LinkedTradeID: "201", Kind: model.TxClose},
		{ID: "300", LinkedTradeID: "300", Kind: model.TxOpen},
	}
	closures := []model.Closure{
		{TradeID: "201"},
		{TradeID: "100"},
		{TradeID: "300"},
		{Pair: "EUR/USD", Result: model.ClosureWin},
	}
	got := CheckClosures(closures, txs)
	if len(got.Confirmed) != 2 || len(got.Missing) != 1 || got.Missing[0].TradeID != "300" || len(got.Unverifiable) != 1 {
		t.Fatalf("check=%+v", got)
	}
}

// TestReconcile_MatchFeedsStats 测试匹配与未匹配结果对统计的贡献
func TestReconcile_MatchFeedsStats(t *testing.T) {
	won := trade("10", "EUR_USD", "5000", "1.15205", t0.Add(10*time.Second))
	won.Kind = model.TxClose
	won.RealizedPL = decimal.RequireFromString("175")
	far := trade("11", "EUR_USD", "5000", "1.15350", t0.Add(time.Hour+10*time.Second))

	intentions := []model.Intention{
		executed("EUR/USD", model.DirectionBuy, "1.15200", t0),
		executed("EUR/USD", model.DirectionBuy, "1.15200", t0.Add(time.Hour)),
	}
	res := mustNew(t).Reconcile(intentions, []model.Transaction{won, far})
	if len(res.Matched) != 1 || res.Matched[0].Transaction.ID != "10" || res.Matched[0].Delay != 10*time.Second {
		t.Fatalf("matched=%+v", res.Matched)
	}
	if len(res.UnmatchedExecuted) != 1 || !res.UnmatchedExecuted[0].Timestamp.Equal(t0.Add(time.Hour)) {
		t.Fatalf("unmatched=%+v", res.UnmatchedExecuted)
	}
	if len(res.Unexplained) != 1 || res.Unexplained[0].ID != "11" {
		t.Fatalf("unexplained=%+v", res.Unexplained)
	}

	agg, err := perf.NewAggregator(perf.DefaultOptions())
	if err != nil {
		t.Fatalf("NewAggregator err=%v", err)
	}
	rep := agg.FromResult(&res, nil)
	if rep.Overall.Trades != 1 || rep.Overall.Wins != 1 || !rep.Overall.TotalPL.Equal(decimal.RequireFromString("175")) {
		t.Fatalf("overall=%+v", rep.Overall)
	}
}
