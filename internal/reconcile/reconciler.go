// Package reconcile 将日志意图与账本记录配对。
//
// 意图按时间顺序处理，每条 EXECUTED 意图认领第一条满足全部条件且尚未被认领的账本记录；
// 条件为交易对相同、方向与仓位符号一致、时间差与相对价差均在容差内。
// 对账不做任何 I/O，相同输入总是得到相同结果。
package reconcile

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"intent-ledger-reconciler/internal/core/model"
	"intent-ledger-reconciler/internal/util/timeutil"
)

// ErrInvalidOptions 容差参数无效
var ErrInvalidOptions = errors.New("对账参数无效")

// Options 匹配容差
type Options struct {
	// TimeWindow 意图与账本记录的最大时间差
	TimeWindow time.Duration
	// PriceTolerance 最大相对价差 |entry-price|/price
	PriceTolerance float64
}

// DefaultOptions 默认容差：5 分钟、0.1%
func DefaultOptions() Options {
	return Options{
		TimeWindow:     300 * time.Second,
		PriceTolerance: 0.001,
	}
}

// Validate 验证容差参数
func (o Options) Validate() error {
	if o.TimeWindow <= 0 {
		return fmt.Errorf("%w: 时间窗口必须为正数，当前 %v", ErrInvalidOptions, o.TimeWindow)
	}
	if o.PriceTolerance <= 0 || o.PriceTolerance >= 1 {
		return fmt.Errorf("%w: 价格容差必须在 (0, 1) 之间，当前 %v", ErrInvalidOptions, o.PriceTolerance)
	}
	return nil
}

// Reconciler 对账器
// 无可变状态，可并发使用
type Reconciler struct {
	window time.Duration
	tol    decimal.Decimal
}

// New 创建对账器
// 参数 opts: 匹配容差
// 返回: 参数无效时返回 ErrInvalidOptions
func New(opts Options) (*Reconciler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Reconciler{
		window: opts.TimeWindow,
		tol:    decimal.NewFromFloat(opts.PriceTolerance),
	}, nil
}

// Reconcile 使用默认容差对账
func Reconcile(intentions []model.Intention, txs []model.Transaction) model.ReconciliationResult {
	r, _ := New(DefaultOptions())
	return r.Reconcile(intentions, txs)
}

// Reconcile 对账
// 参数 intentions: 日志意图，任意顺序
// 参数 txs: 账本记录，按账本顺序
// 返回: 每条意图与每条账本记录恰好落入一个分区
func (r *Reconciler) Reconcile(intentions []model.Intention, txs []model.Transaction) model.ReconciliationResult {
	ordered := slices.Clone(intentions)
	slices.SortStableFunc(ordered, func(a, b model.Intention) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	claimed := make([]bool, len(txs))
	var res model.ReconciliationResult

	for _, it := range ordered {
		switch it.Outcome {
		case model.OutcomeRejected:
			res.UnmatchedRejected = append(res.UnmatchedRejected, it)
			continue
		case model.OutcomeHeld:
			res.UnmatchedHeld = append(res.UnmatchedHeld, it)
			continue
		case model.OutcomeExecuted:
		default:
			res.UnmatchedExecuted = append(res.UnmatchedExecuted, it)
			continue
		}

		j := r.firstFit(&it, txs, claimed)
		if j < 0 {
			res.UnmatchedExecuted = append(res.UnmatchedExecuted, it)
			continue
		}
		claimed[j] = true
		res.Matched = append(res.Matched, model.MatchedPair{
			Intention:   it,
			Transaction: txs[j],
			Delay:       txs[j].Time.Sub(it.Timestamp),
		})
	}

	for j, tx := range txs {
		if !claimed[j] {
			res.Unexplained = append(res.Unexplained, tx)
		}
	}
	return res
}

// firstFit 返回第一条满足条件的未认领记录下标，找不到返回 -1
func (r *Reconciler) firstFit(it *model.Intention, txs []model.Transaction, claimed []bool) int {
	// 时间戳为默认值的意图永远不会通过时间窗口
	if !it.TimeKnown() || it.EntryPrice.Sign() <= 0 {
		return -1
	}
	for j := range txs {
		if claimed[j] {
			continue
		}
		if r.Matches(it, &txs[j]) {
			return j
		}
	}
	return -1
}

// Matches 判断意图与账本记录是否满足配对条件
// 不检查认领状态与意图结果
func (r *Reconciler) Matches(it *model.Intention, tx *model.Transaction) bool {
	if !tx.IsTrade() || tx.Time.IsZero() {
		return false
	}
	if !model.SameInstrument(it.Pair, tx.Instrument) {
		return false
	}
	switch it.Direction {
	case model.DirectionBuy:
		if !tx.IsLong() {
			return false
		}
	case model.DirectionSell:
		if !tx.IsShort() {
			return false
		}
	default:
		return false
	}
	if timeutil.AbsDuration(tx.Time.Sub(it.Timestamp)) > r.window {
		return false
	}
	return withinPrice(it.EntryPrice, tx.Price, r.tol)
}

// withinPrice |entry-price| <= tol*price；price 不为正时不匹配
func withinPrice(entry, price, tol decimal.Decimal) bool {
	if price.Sign() <= 0 {
		return false
	}
	return entry.Sub(price).Abs().LessThanOrEqual(tol.Mul(price))
}
