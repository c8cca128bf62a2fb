package reconcile

import "intent-ledger-reconciler/internal/core/model"

// CheckClosures 用账本核对日志中声称的平仓
// 仓位编号与账本记录的 LinkedTradeID 或 ID 相同、且该记录已平仓时视为确认
// 参数 closures: 日志平仓记录
// 参数 txs: 归一化后的账本记录
func CheckClosures(closures []model.Closure, txs []model.Transaction) model.ClosureCheck {
	closed := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.Kind != model.TxClose {
			continue
		}
		closed[tx.ID] = true
		if tx.LinkedTradeID != "" {
			closed[tx.LinkedTradeID] = true
		}
	}

	var out model.ClosureCheck
	for _, c := range closures {
		switch {
		case c.TradeID == "":
			out.Unverifiable = append(out.Unverifiable, c)
		case closed[c.TradeID]:
			out.Confirmed = append(out.Confirmed, c)
		default:
			out.Missing = append(out.Missing, c)
		}
	}
	return out
}
