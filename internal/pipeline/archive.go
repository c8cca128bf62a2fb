package pipeline

import (
	"context"
	"errors"
	"fmt"

	"intent-ledger-reconciler/internal/output/jsonl"
	"intent-ledger-reconciler/internal/output/sqlite"
	"intent-ledger-reconciler/internal/trace"
)

// Archive 将运行结果写入 JSONL 明细与 SQLite 归档
// 参数 w: JSONL 写入器，可为 nil
// 参数 st: SQLite 归档，可为 nil
// 返回: 两个输出的错误合并
func Archive(ctx context.Context, out *Outcome, w *jsonl.Writer, st *sqlite.Store) error {
	ctx, span := trace.StartSpan(ctx, "archive")
	defer span.End()

	var errs []error
	if w != nil {
		var recs []jsonl.Record
		if out.Result != nil {
			recs = jsonl.ResultRecords(out.RunID, out.Result, out.ClosureCheck)
		}
		recs = append(recs, jsonl.ReportRecord(out.RunID, out.FinishedAt, &out.Report))
		if err := w.WriteRecords(recs); err != nil {
			errs = append(errs, fmt.Errorf("写入 JSONL 失败: %w", err))
		} else if err := w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("刷新 JSONL 失败: %w", err))
		}
	}
	if st != nil {
		run := &sqlite.Run{
			ID:         out.RunID,
			Source:     out.Source,
			StartedAt:  out.StartedAt,
			FinishedAt: out.FinishedAt,
			Result:     out.Result,
			Report:     &out.Report,
		}
		if err := st.SaveRun(ctx, run); err != nil {
			errs = append(errs, fmt.Errorf("归档运行失败: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fail(span, err)
	}
	return nil
}
