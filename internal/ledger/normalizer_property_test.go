package ledger

import (
	"fmt"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"intent-ledger-reconciler/internal/core/model"
)

// buildEntries 为每个盈亏值生成一笔开仓，按掩码决定是否平仓
// 参数 pls: 每笔的盈亏（以分计）
// 参数 closeMask: 第 i 位为 1 时平仓
// 返回: 账本条目与所有平仓盈亏之和
func buildEntries(pls []int64, closeMask uint64) ([]Entry, decimal.Decimal) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	var entries []Entry
	total := decimal.Zero
	for i := range pls {
		tradeID := strconv.Itoa(1000 + i)
		entries = append(entries, Entry{
			ID: tradeID, Type: TypeOrderFill,
			Time:       base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			Instrument: "EUR_USD", Units: "1000", Price: "1.1",
			TradeOpened: &TradeRef{TradeID: tradeID},
		})
	}
	for i, pl := range pls {
		if closeMask&(1<<uint(i%64)) == 0 {
			continue
		}
		v := decimal.New(pl, -2)
		total = total.Add(v)
		entries = append(entries, Entry{
			ID: strconv.Itoa(5000 + i), Type: TypeOrderFill,
			Time:       base.Add(time.Hour + time.Duration(i)*time.Minute).Format(time.RFC3339),
			Instrument: "EUR_USD", Units: "-1000", Price: "1.2",
			PL:           v.String(),
			TradesClosed: []TradeRef{{TradeID: strconv.Itoa(1000 + i)}},
		})
	}
	return entries, total
}

// TestNormalize_Property 盈亏守恒与结果确定性
func TestNormalize_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	plGen := gen.SliceOf(gen.Int64Range(-500000, 500000))

	properties.Property("已实现盈亏之和等于所有平仓盈亏之和", prop.ForAll(
		func(pls []int64, mask uint64) bool {
			entries, want := buildEntries(pls, mask)
			txs, _ := newTestNormalizer().Normalize(entries, nil)
			got := decimal.Zero
			for _, tx := range txs {
				got = got.Add(tx.RealizedPL)
			}
			return got.Equal(want)
		},
		plGen, gen.UInt64(),
	))

	properties.Property("每个仓位恰好一条记录，平仓记录都有非负时长", prop.ForAll(
		func(pls []int64, mask uint64) bool {
			entries, _ := buildEntries(pls, mask)
			txs, _ := newTestNormalizer().Normalize(entries, nil)
			if len(txs) != len(pls) {
				return false
			}
			for i, tx := range txs {
				if tx.ID != strconv.Itoa(1000+i) {
					return false
				}
				closed := mask&(1<<uint(i%64)) != 0
				if closed != (tx.Kind == model.TxClose) {
					return false
				}
				if h, ok := tx.DurationHours(); closed && (!ok || h < 0) {
					return false
				}
			}
			return true
		},
		plGen, gen.UInt64(),
	))

	properties.Property("相同输入得到相同输出", prop.ForAll(
		func(pls []int64, mask uint64) bool {
			entries, _ := buildEntries(pls, mask)
			a, sa := newTestNormalizer().Normalize(entries, nil)
			b, sb := newTestNormalizer().Normalize(entries, nil)
			return reflect.DeepEqual(a, b) && sa == sb
		},
		plGen, gen.UInt64(),
	))

	properties.TestingRun(t)
}

// TestNormalize_FinancingConserved 利息计入 OTHER 记录，不影响交易记录
func TestNormalize_FinancingConserved(t *testing.T) {
	entries, want := buildEntries([]int64{1250, -300}, 0b11)
	for i := range 3 {
		entries = append(entries, Entry{
			ID: fmt.Sprintf("f%d", i), Type: TypeDailyFinancing,
			Time: "2024-06-01T21:00:00Z", Financing: "-0.10",
		})
	}
	txs, stats := newTestNormalizer().Normalize(entries, nil)
	trades, other := decimal.Zero, decimal.Zero
	for _, tx := range txs {
		if tx.Kind == model.TxOther {
			other = other.Add(tx.RealizedPL)
			continue
		}
		trades = trades.Add(tx.RealizedPL)
	}
	if !trades.Equal(want) || !other.Equal(decimal.RequireFromString("-0.3")) {
		t.Fatalf("trades=%s other=%s, want %s -0.3", trades, other, want)
	}
	if stats.Financing != 3 {
		t.Fatalf("financing=%d, want 3", stats.Financing)
	}
}
