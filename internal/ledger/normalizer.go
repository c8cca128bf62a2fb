// Package ledger 负责获取券商账本并将其归一化为交易记录。
//
// 归一化以仓位编号为键维护一张记录表：
// 市价单插入 OPEN 记录；成交回报按引用的仓位编号累加盈亏，平仓时转为 CLOSE 并计算持仓时长；
// 不识别的条目类型直接丢弃。当前持仓作为补充记录追加在最后。
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"intent-ledger-reconciler/internal/core/model"
	"intent-ledger-reconciler/internal/core/store"
	"intent-ledger-reconciler/internal/util/fastparse"
	"intent-ledger-reconciler/internal/util/timeutil"
)

// NormalizeStats 归一化统计
type NormalizeStats struct {
	// Entries 输入条目数
	Entries int `json:"entries"`
	// Dropped 类型不识别或无法关联而丢弃的条目
	Dropped int `json:"dropped"`
	// OrphanCloses 平仓时找不到开仓记录的条目
	OrphanCloses int `json:"orphan_closes"`
	// Financing 利息条目数
	Financing int `json:"financing"`
	// BadTimes 时间无法解析的条目数
	BadTimes int `json:"bad_times"`
	// CloseOrders 平仓类市价单（由随后的成交回报体现，不单独成记录）
	CloseOrders int `json:"close_orders"`
	// OpenPositions 追加的当前持仓数
	OpenPositions int `json:"open_positions"`
}

// Normalizer 账本归一化器
// 无可变状态，可并发使用
type Normalizer struct {
	clock timeutil.Clock
}

// NewNormalizer 创建归一化器
// 参数 clock: 计算当前持仓时长使用的时间源；nil 时使用系统时钟
func NewNormalizer(clock timeutil.Clock) *Normalizer {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	return &Normalizer{clock: clock}
}

// Normalize 将账本条目与当前持仓归一化为交易记录
// 参数 entries: 账本条目（按账本顺序）
// 参数 open: 当前持仓，可为空
// 返回: 按首次出现顺序排列的交易记录与统计
func (n *Normalizer) Normalize(entries []Entry, open []OpenTrade) ([]model.Transaction, NormalizeStats) {
	book := store.New()
	stats := NormalizeStats{Entries: len(entries)}

	for i := range entries {
		e := &entries[i]
		switch e.Type {
		case TypeMarketOrder:
			n.applyMarketOrder(book, e, &stats)
		case TypeOrderFill:
			n.applyFill(book, e, &stats)
		case TypeDailyFinancing:
			t, _ := n.parseTime(e.Time, &stats)
			book.Append(model.Transaction{
				ID:         e.ID,
				Time:       t,
				Instrument: e.Instrument,
				RealizedPL: fastparse.MustDecimal(e.Financing),
				Kind:       model.TxOther,
			})
			stats.Financing++
		default:
			stats.Dropped++
		}
	}

	n.appendOpen(book, open, &stats)
	return book.Records(), stats
}

// applyMarketOrder 市价单：以条目编号为键插入或覆盖 OPEN 记录
// 平仓类市价单不开新仓，其效果完全由随后的成交回报记录
func (n *Normalizer) applyMarketOrder(book *store.TradeBook, e *Entry, stats *NormalizeStats) {
	if e.ClosesTrade() {
		stats.CloseOrders++
		return
	}
	t, _ := n.parseTime(e.Time, stats)
	book.Put(e.ID, model.Transaction{
		ID:            e.ID,
		Time:          t,
		Instrument:    e.Instrument,
		Units:         fastparse.MustDecimal(e.Units),
		Price:         fastparse.MustDecimal(e.Price),
		Kind:          model.TxOpen,
		LinkedTradeID: e.ID,
	})
}

// applyFill 成交回报：先处理平仓与减仓，再处理开仓
func (n *Normalizer) applyFill(book *store.TradeBook, e *Entry, stats *NormalizeStats) {
	t, tOK := n.parseTime(e.Time, stats)
	price := fastparse.MustDecimal(e.Price)
	handled := false

	for _, ref := range e.TradesClosed {
		if ref.TradeID == "" {
			continue
		}
		handled = true
		pl := refPL(ref, e, len(e.TradesClosed) == 1 && e.TradeOpened == nil)

		rec, ok := book.Get(ref.TradeID)
		if !ok {
			// 开仓发生在查询窗口之前，只能记录平仓本身
			stats.OrphanCloses++
			closed := fastparse.MustDecimal(ref.Units)
			if closed.IsZero() {
				closed = fastparse.MustDecimal(e.Units)
			}
			id := e.ID
			if len(e.TradesClosed) > 1 {
				// 一条成交平掉多个未知仓位时，每条记录的编号仍须唯一
				id = e.ID + "-" + ref.TradeID
			}
			book.Put(ref.TradeID, model.Transaction{
				ID:            id,
				Time:          t,
				Instrument:    e.Instrument,
				Units:         closed.Neg(),
				RealizedPL:    pl,
				Kind:          model.TxClose,
				LinkedTradeID: ref.TradeID,
				CloseTime:     t,
				ClosePrice:    price,
			})
			continue
		}

		rec.RealizedPL = rec.RealizedPL.Add(pl)
		rec.Kind = model.TxClose
		rec.CloseTime = t
		rec.ClosePrice = price
		rec.HasDuration = false
		rec.Duration = 0
		if tOK && !rec.Time.IsZero() {
			rec.Duration = t.Sub(rec.Time)
			rec.HasDuration = true
		}
		book.Put(ref.TradeID, rec)
	}

	if ref := e.TradeReduced; ref != nil && ref.TradeID != "" {
		handled = true
		if rec, ok := book.Get(ref.TradeID); ok {
			rec.RealizedPL = rec.RealizedPL.Add(refPL(*ref, e, len(e.TradesClosed) == 0 && e.TradeOpened == nil))
			book.Put(ref.TradeID, rec)
		} else {
			stats.OrphanCloses++
		}
	}

	if ref := e.TradeOpened; ref != nil && ref.TradeID != "" {
		handled = true
		units := fastparse.MustDecimal(ref.Units)
		if units.IsZero() {
			units = fastparse.MustDecimal(e.Units)
		}

		switch {
		case book.Has(ref.TradeID):
			rec, _ := book.Get(ref.TradeID)
			if len(e.TradesClosed) == 0 && e.TradeReduced == nil {
				rec.RealizedPL = rec.RealizedPL.Add(fastparse.MustDecimal(e.PL))
			}
			book.Put(ref.TradeID, rec)
		case e.OrderID != "" && book.Has(e.OrderID):
			// 市价单成交：补全成交价并以仓位编号建立别名
			rec, _ := book.Get(e.OrderID)
			if rec.Kind == model.TxOpen {
				if !price.IsZero() {
					rec.Price = price
				}
				if rec.Units.IsZero() {
					rec.Units = units
				}
				if rec.Instrument == "" {
					rec.Instrument = e.Instrument
				}
				// 仓位时间以成交为准
				if tOK {
					rec.Time = t
				}
				rec.LinkedTradeID = ref.TradeID
				book.Put(e.OrderID, rec)
				book.Link(ref.TradeID, e.OrderID)
				break
			}
			n.putFill(book, e, ref.TradeID, t, units, price)
		default:
			n.putFill(book, e, ref.TradeID, t, units, price)
		}
	}

	if !handled {
		stats.Dropped++
	}
}

func (n *Normalizer) putFill(book *store.TradeBook, e *Entry, tradeID string, t time.Time, units, price decimal.Decimal) {
	book.Put(tradeID, model.Transaction{
		ID:            e.ID,
		Time:          t,
		Instrument:    e.Instrument,
		Units:         units,
		Price:         price,
		Kind:          model.TxFill,
		LinkedTradeID: tradeID,
	})
}

// appendOpen 追加当前持仓
// 已在账本中出现且未平仓的仓位被持仓快照覆盖，避免重复计数；已平仓的仓位忽略快照
func (n *Normalizer) appendOpen(book *store.TradeBook, open []OpenTrade, stats *NormalizeStats) {
	if len(open) == 0 {
		return
	}
	now := n.clock()
	for _, ot := range open {
		if ot.ID == "" {
			continue
		}
		t, tOK := n.parseTime(ot.OpenTime, stats)
		tx := model.Transaction{
			ID:            ot.ID,
			Time:          t,
			Instrument:    ot.Instrument,
			Units:         fastparse.MustDecimal(ot.CurrentUnits),
			Price:         fastparse.MustDecimal(ot.Price),
			RealizedPL:    fastparse.MustDecimal(ot.UnrealizedPL),
			Kind:          model.TxOpen,
			LinkedTradeID: ot.ID,
			Unrealized:    true,
		}
		if tOK {
			tx.Duration = now.Sub(t)
			tx.HasDuration = true
		}

		if rec, ok := book.Get(ot.ID); ok {
			if rec.Kind == model.TxClose {
				continue
			}
			tx.ID = rec.ID
		}
		book.Put(ot.ID, tx)
		stats.OpenPositions++
	}
}

func (n *Normalizer) parseTime(s string, stats *NormalizeStats) (time.Time, bool) {
	t, ok := timeutil.ParseTimestamp(s, time.UTC)
	if !ok {
		stats.BadTimes++
	}
	return t, ok
}

// refPL 计算某个仓位引用对应的盈亏
// 引用自带 realizedPL 时优先使用；否则在条目只涉及一个仓位时使用条目的 pl
func refPL(ref TradeRef, e *Entry, sole bool) decimal.Decimal {
	if ref.RealizedPL != "" {
		if v, ok := fastparse.ParseDecimal(ref.RealizedPL); ok {
			return v
		}
	}
	if sole {
		return fastparse.MustDecimal(e.PL)
	}
	return decimal.Zero
}
