package jsonl

import (
	"time"

	"intent-ledger-reconciler/internal/core/model"
)

// RecordType 记录类型
type RecordType string

const (
	TypeMatched           RecordType = "matched"
	TypeRejected          RecordType = "rejected"
	TypeHeld              RecordType = "held"
	TypeUnmatchedExecuted RecordType = "unmatched_executed"
	TypeUnexplained       RecordType = "unexplained"
	TypeClosureConfirmed  RecordType = "closure_confirmed"
	TypeClosureMissing    RecordType = "closure_missing"
	TypeReport            RecordType = "report"
)

// Record 一行 JSONL 输出
type Record struct {
	// RunID 运行编号
	RunID string `json:"run_id"`
	// Type 记录类型
	Type RecordType `json:"type"`
	// At 记录时间（意图或账本时间）；报告行为生成时间
	At time.Time `json:"at,omitzero"`
	// Data 记录内容
	Data any `json:"data"`
}

// ResultRecords 将对账结果展开为记录，顺序为各分区的原有顺序
func ResultRecords(runID string, res *model.ReconciliationResult, check *model.ClosureCheck) []Record {
	n := res.IntentionCount() + len(res.Unexplained)
	if check != nil {
		n += len(check.Confirmed) + len(check.Missing)
	}
	out := make([]Record, 0, n)

	for i := range res.Matched {
		p := &res.Matched[i]
		out = append(out, Record{RunID: runID, Type: TypeMatched, At: p.Intention.Timestamp, Data: p})
	}
	add := func(typ RecordType, list []model.Intention) {
		for i := range list {
			out = append(out, Record{RunID: runID, Type: typ, At: list[i].Timestamp, Data: &list[i]})
		}
	}
	add(TypeUnmatchedExecuted, res.UnmatchedExecuted)
	add(TypeRejected, res.UnmatchedRejected)
	add(TypeHeld, res.UnmatchedHeld)
	for i := range res.Unexplained {
		tx := &res.Unexplained[i]
		out = append(out, Record{RunID: runID, Type: TypeUnexplained, At: tx.Time, Data: tx})
	}

	if check != nil {
		for i := range check.Confirmed {
			c := &check.Confirmed[i]
			out = append(out, Record{RunID: runID, Type: TypeClosureConfirmed, At: c.Timestamp, Data: c})
		}
		for i := range check.Missing {
			c := &check.Missing[i]
			out = append(out, Record{RunID: runID, Type: TypeClosureMissing, At: c.Timestamp, Data: c})
		}
	}
	return out
}

// ReportRecord 报告行
func ReportRecord(runID string, at time.Time, rep *model.MetricsReport) Record {
	return Record{RunID: runID, Type: TypeReport, At: at, Data: rep}
}
