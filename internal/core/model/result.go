package model

import "time"

// MatchedPair 一条意图与其认领的账本记录
type MatchedPair struct {
	// Intention 意图
	Intention Intention `json:"intention"`
	// Transaction 账本记录
	Transaction Transaction `json:"transaction"`
	// Delay 执行延迟 = 账本时间 - 意图时间（可为负）
	Delay time.Duration `json:"delay_ns"`
}

// ReconciliationResult 对账结果
// 所有输入意图与账本记录恰好落入一个分区
type ReconciliationResult struct {
	// Matched 成功匹配的记录对，按意图时间排序
	Matched []MatchedPair `json:"matched"`
	// UnmatchedRejected 被拒绝的意图
	UnmatchedRejected []Intention `json:"unmatched_rejected"`
	// UnmatchedHeld 观望的意图
	UnmatchedHeld []Intention `json:"unmatched_held"`
	// UnmatchedExecuted 声称已执行但账本中找不到对应记录的意图
	UnmatchedExecuted []Intention `json:"unmatched_executed"`
	// Unexplained 没有任何意图认领的账本记录，保持输入顺序
	Unexplained []Transaction `json:"unexplained"`
}

// IntentionCount 意图总数
func (r *ReconciliationResult) IntentionCount() int {
	return len(r.Matched) + len(r.UnmatchedRejected) + len(r.UnmatchedHeld) + len(r.UnmatchedExecuted)
}

// TransactionCount 账本记录总数
func (r *ReconciliationResult) TransactionCount() int {
	return len(r.Matched) + len(r.Unexplained)
}

// ExecutedCount 声称已执行的意图数
func (r *ReconciliationResult) ExecutedCount() int {
	return len(r.Matched) + len(r.UnmatchedExecuted)
}

// UnexplainedTrades 未被认领的交易类记录（排除利息等）
func (r *ReconciliationResult) UnexplainedTrades() []Transaction {
	out := make([]Transaction, 0, len(r.Unexplained))
	for _, tx := range r.Unexplained {
		if tx.IsTrade() {
			out = append(out, tx)
		}
	}
	return out
}

// ClosureCheck 日志平仓声明与账本的核对结果
type ClosureCheck struct {
	// Confirmed 账本中存在对应仓位编号的平仓声明
	Confirmed []Closure `json:"confirmed"`
	// Missing 带仓位编号但账本中找不到的平仓声明
	Missing []Closure `json:"missing"`
	// Unverifiable 未携带仓位编号、无法核对的平仓声明
	Unverifiable []Closure `json:"unverifiable"`
}
