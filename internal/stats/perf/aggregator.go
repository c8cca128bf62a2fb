package perf

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"intent-ledger-reconciler/internal/core/model"
	"intent-ledger-reconciler/internal/stats/latency"
)

// 报告来源
const (
	SourceReconciled = "reconciled"
	SourceLedger     = "ledger"
)

// Aggregator 绩效统计器
// 无可变状态，可并发使用
type Aggregator struct {
	opts Options
}

// NewAggregator 创建统计器
// 返回: 参数无效时返回 ErrUnknownGroupKey、ErrBucketsNotAscending 或 ErrInvalidFloor
func NewAggregator(opts Options) (*Aggregator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.Buckets = slices.Clone(opts.Buckets)
	opts.GroupBy = slices.Clone(opts.GroupBy)
	if opts.DelayWindow <= 0 {
		opts.DelayWindow = 10000
	}
	return &Aggregator{opts: opts}, nil
}

// FromResult 由对账结果生成报告
// 只有已平仓的匹配交易计入绩效；尚未平仓的计入当前持仓
// 参数 res: 对账结果
// 参数 check: 平仓声明核对结果，可为 nil
func (a *Aggregator) FromResult(res *model.ReconciliationResult, check *model.ClosureCheck) model.MetricsReport {
	var samples []*sample
	var estimated, openMatched int
	tracker := latency.NewTracker(a.opts.DelayWindow)

	for i := range res.Matched {
		p := &res.Matched[i]
		tracker.AddPair(p)
		if p.Transaction.Kind != model.TxClose {
			openMatched++
			continue
		}
		// 时段分组以账本成交时间为准，缺失时退回意图时间
		s := &sample{
			instrument: p.Transaction.Instrument,
			at:         p.Transaction.Time,
			timeKnown:  true,
			pl:         p.Transaction.RealizedPL,
		}
		if s.at.IsZero() {
			s.at, s.timeKnown = p.Intention.Timestamp, p.Intention.TimeKnown()
		}
		if s.instrument == "" {
			s.instrument = model.CanonicalInstrument(p.Intention.Pair)
		}
		s.durationH, s.hasDur = p.Transaction.DurationHours()

		switch {
		case p.Intention.ConfidenceSource == model.ConfidenceLogged:
			s.conf, s.hasConf = p.Intention.Confidence, true
		case p.Intention.ConfidenceSource == model.ConfidenceEstimated || a.opts.EstimateMissing:
			s.conf = p.Intention.Confidence
			if p.Intention.ConfidenceSource != model.ConfidenceEstimated {
				units := p.Intention.Units
				if units.IsZero() {
					units = p.Transaction.Units
				}
				s.conf = EstimateConfidence(s.instrument, units, p.Transaction.Time)
			}
			s.estimated = true
			s.hasConf = a.opts.IncludeEstimated
			estimated++
		}
		samples = append(samples, s)
	}

	rep := a.build(SourceReconciled, samples)
	rep.Delay = tracker.Overall()
	rep.DelayByInstrument = tracker.ByInstrument()
	rep.Open = openPositions(res.Matched, res.Unexplained)
	rep.Summary = summarize(res, check, samples)

	// 数据质量提示
	var defaulted, incomplete int
	for _, list := range [][]model.Intention{res.UnmatchedExecuted, res.UnmatchedRejected, res.UnmatchedHeld} {
		for i := range list {
			if !list[i].TimeKnown() {
				defaulted++
			}
			if list[i].Incomplete {
				incomplete++
			}
		}
	}
	if defaulted > 0 {
		rep.Caveats = append(rep.Caveats, fmt.Sprintf("%d 条意图缺少日志时间戳，使用了提取时刻，不参与匹配", defaulted))
	}
	if incomplete > 0 {
		rep.Caveats = append(rep.Caveats, fmt.Sprintf("%d 条已执行意图缺少入场价，无法匹配", incomplete))
	}
	if openMatched > 0 {
		rep.Caveats = append(rep.Caveats, fmt.Sprintf("%d 笔匹配交易尚未平仓，不计入绩效", openMatched))
	}
	a.estimateCaveat(&rep, estimated)
	return rep
}

// FromTransactions 仅由账本记录生成报告
// 已平仓记录计入绩效；当前持仓单独汇总
func (a *Aggregator) FromTransactions(txs []model.Transaction) model.MetricsReport {
	var samples []*sample
	var estimated int
	for i := range txs {
		tx := &txs[i]
		if tx.Kind != model.TxClose {
			continue
		}
		s := &sample{
			instrument: tx.Instrument,
			at:         tx.Time,
			timeKnown:  !tx.Time.IsZero(),
			pl:         tx.RealizedPL,
		}
		s.durationH, s.hasDur = tx.DurationHours()
		if a.opts.EstimateMissing {
			s.conf = EstimateConfidence(tx.Instrument, tx.Units, tx.Time)
			s.estimated = true
			s.hasConf = a.opts.IncludeEstimated
			estimated++
		}
		samples = append(samples, s)
	}

	rep := a.build(SourceLedger, samples)
	rep.Open = openPositions(nil, txs)
	if estimated == 0 {
		rep.Caveats = append(rep.Caveats, "账本不包含置信度，置信度视图为空")
	}
	a.estimateCaveat(&rep, estimated)
	return rep
}

func (a *Aggregator) estimateCaveat(rep *model.MetricsReport, n int) {
	if n == 0 {
		return
	}
	if a.opts.IncludeEstimated {
		rep.Caveats = append(rep.Caveats, fmt.Sprintf("%d 笔交易的置信度为估算值（非机器人记录），已计入置信度分组与相关性", n))
		return
	}
	rep.Caveats = append(rep.Caveats, fmt.Sprintf("%d 笔交易的置信度为估算值（非机器人记录），未计入置信度分组与相关性", n))
}

// build 计算与来源无关的部分：总体、分组、最佳/最差、相关性与阈值建议
func (a *Aggregator) build(source string, samples []*sample) model.MetricsReport {
	rep := model.MetricsReport{
		Source:  source,
		Overall: computeRow("ALL", samples),
		Groups:  make(map[model.GroupKey][]model.StatsRow, len(a.opts.GroupBy)),
		Best:    make(map[model.GroupKey][]model.StatsRow, len(a.opts.GroupBy)),
		Worst:   make(map[model.GroupKey][]model.StatsRow, len(a.opts.GroupBy)),
		Caveats: []string{},
	}

	for _, key := range a.opts.GroupBy {
		groups, unbucketed := groupSamples(key, samples, a.opts.Buckets)
		rows := make([]model.StatsRow, 0, len(groups))
		for _, g := range groups {
			rows = append(rows, computeRow(g.key, g.items))
		}
		rep.Groups[key] = rows
		rep.Best[key], rep.Worst[key] = rankRows(rows, a.opts.TopN)
		if key == model.GroupConfidence {
			rep.Unbucketed = unbucketed
			rep.Threshold = recommendThreshold(rows, a.opts.WinRateFloor)
		}
	}
	if !slices.Contains(a.opts.GroupBy, model.GroupConfidence) {
		groups, unbucketed := groupSamples(model.GroupConfidence, samples, a.opts.Buckets)
		rows := make([]model.StatsRow, 0, len(groups))
		for _, g := range groups {
			rows = append(rows, computeRow(g.key, g.items))
		}
		rep.Unbucketed = unbucketed
		rep.Threshold = recommendThreshold(rows, a.opts.WinRateFloor)
	}
	if rep.Unbucketed > 0 {
		rep.Caveats = append(rep.Caveats, fmt.Sprintf("%d 笔交易的置信度不在任何区间内", rep.Unbucketed))
	}

	rep.Correlation = correlate(samples)
	return rep
}

// summarize 对账汇总
func summarize(res *model.ReconciliationResult, check *model.ClosureCheck, samples []*sample) *model.ReconSummary {
	sum := &model.ReconSummary{
		Intentions:        res.IntentionCount(),
		Executed:          res.ExecutedCount(),
		Matched:           len(res.Matched),
		Rejected:          len(res.UnmatchedRejected),
		Held:              len(res.UnmatchedHeld),
		UnmatchedExecuted: len(res.UnmatchedExecuted),
		Transactions:      res.TransactionCount(),
		Unexplained:       len(res.Unexplained),
		UnexplainedTrades: len(res.UnexplainedTrades()),
		RejectionReasons:  rejectionReasons(res.UnmatchedRejected),
	}
	if sum.Executed > 0 {
		sum.ExecutionAccuracy = float64(sum.Matched) / float64(sum.Executed)
	}

	var winSum, lossSum float64
	var winN, lossN int
	for _, s := range samples {
		if !s.hasConf {
			continue
		}
		switch s.pl.Sign() {
		case 1:
			winSum += s.conf
			winN++
		case -1:
			lossSum += s.conf
			lossN++
		}
	}
	if winN > 0 {
		sum.AvgConfidenceWinners = winSum / float64(winN)
	}
	if lossN > 0 {
		sum.AvgConfidenceLosers = lossSum / float64(lossN)
	}

	if check != nil {
		sum.ClosuresConfirmed = len(check.Confirmed)
		sum.ClosuresMissing = len(check.Missing)
		sum.ClosuresUnverifiable = len(check.Unverifiable)
	}
	return sum
}

// rejectionReasons 拒绝原因分布，按次数降序、原因升序
func rejectionReasons(rejected []model.Intention) []model.ReasonCount {
	counts := make(map[string]int)
	for i := range rejected {
		counts[rejected[i].RejectionReason]++
	}
	out := make([]model.ReasonCount, 0, len(counts))
	for r, n := range counts {
		out = append(out, model.ReasonCount{Reason: r, Count: n})
	}
	slices.SortFunc(out, func(a, b model.ReasonCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Reason, b.Reason)
	})
	return out
}

// openPositions 汇总持仓快照记录
func openPositions(matched []model.MatchedPair, txs []model.Transaction) model.OpenPositions {
	out := model.OpenPositions{UnrealizedPL: decimal.Zero}
	add := func(tx *model.Transaction) {
		if tx.Kind == model.TxOpen && tx.Unrealized {
			out.Count++
			out.UnrealizedPL = out.UnrealizedPL.Add(tx.RealizedPL)
		}
	}
	for i := range matched {
		add(&matched[i].Transaction)
	}
	for i := range txs {
		add(&txs[i])
	}
	return out
}
