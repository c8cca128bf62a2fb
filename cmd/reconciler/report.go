package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"intent-ledger-reconciler/internal/core/model"
	"intent-ledger-reconciler/internal/output/sqlite"
	"intent-ledger-reconciler/internal/pipeline"
)

// printOutcome 输出人类可读的运行摘要
func printOutcome(w io.Writer, out *pipeline.Outcome) {
	rep := &out.Report
	fmt.Fprintf(w, "运行 %s（%s）\n", out.RunID, out.Source)

	if s := rep.Summary; s != nil {
		fmt.Fprintf(w, "\n== 对账 ==\n")
		fmt.Fprintf(w, "意图 %d：已执行 %d，匹配 %d，未匹配 %d，拒绝 %d，观望 %d\n",
			s.Intentions, s.Executed, s.Matched, s.UnmatchedExecuted, s.Rejected, s.Held)
		fmt.Fprintf(w, "账本记录 %d：未认领 %d（其中交易 %d）\n", s.Transactions, s.Unexplained, s.UnexplainedTrades)
		fmt.Fprintf(w, "执行准确率 %s\n", percent(s.ExecutionAccuracy))
		fmt.Fprintf(w, "平仓声明：确认 %d，账本缺失 %d，无法核对 %d\n",
			s.ClosuresConfirmed, s.ClosuresMissing, s.ClosuresUnverifiable)
		if rep.Delay.Count > 0 {
			fmt.Fprintf(w, "执行延迟：P50 %.1fs，P90 %.1fs，P99 %.1fs\n", rep.Delay.P50Sec, rep.Delay.P90Sec, rep.Delay.P99Sec)
		}
		for _, rc := range s.RejectionReasons {
			fmt.Fprintf(w, "  拒绝 %-40s %d\n", rc.Reason, rc.Count)
		}
	}

	fmt.Fprintf(w, "\n== 绩效 ==\n")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "分组\t交易\t胜率\t总盈亏\t盈亏比\t期望\t平均置信度")
	writeRow(tw, rep.Overall)
	for _, key := range model.AllGroupKeys {
		rows := rep.Group(key)
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(tw, "[%s]\t\t\t\t\t\t\n", key)
		for _, r := range rows {
			writeRow(tw, r)
		}
	}
	tw.Flush()

	if rep.Correlation.Sufficient {
		fmt.Fprintf(w, "\n置信度与胜负相关系数 %.3f（%s）\n", rep.Correlation.Coefficient, rep.Correlation.Strength)
	} else {
		fmt.Fprintf(w, "\n置信度相关性：%s\n", rep.Correlation.Note)
	}
	if rep.Threshold.Found {
		fmt.Fprintf(w, "建议最低置信度 %s（启发式）\n", percent(rep.Threshold.MinConfidence))
	}
	if rep.Open.Count > 0 {
		fmt.Fprintf(w, "当前持仓 %d，未实现盈亏 %s\n", rep.Open.Count, rep.Open.UnrealizedPL.StringFixed(2))
	}
	if len(rep.Caveats) > 0 {
		fmt.Fprintf(w, "\n注意：\n  - %s\n", strings.Join(rep.Caveats, "\n  - "))
	}
}

func writeRow(w io.Writer, r model.StatsRow) {
	pf := "+Inf"
	if !r.ProfitFactor.IsInf() {
		pf = fmt.Sprintf("%.2f", float64(r.ProfitFactor))
	}
	conf := "-"
	if r.ConfidenceSamples > 0 {
		conf = percent(r.AvgConfidence)
	}
	fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%.2f\t%s\n",
		r.Key, r.Trades, percent(r.WinRate), r.TotalPL.StringFixed(2), pf, r.Expectancy, conf)
}

// printRuns 输出归档运行列表
func printRuns(w io.Writer, runs []sqlite.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "编号\t来源\t开始时间\t意图\t匹配\t交易\t总盈亏\t准确率")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Source, r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Intentions, r.Matched, r.Trades, r.TotalPL.StringFixed(2), percent(r.ExecutionAccuracy))
	}
	tw.Flush()
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
