package model

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Ratio 可能为 +Inf 的比率（如无亏损时的盈亏比）
// JSON 无法表示无穷大，序列化为字符串 "+Inf"
type Ratio float64

// IsInf 是否为正无穷
func (r Ratio) IsInf() bool {
	return math.IsInf(float64(r), 1)
}

// MarshalJSON 实现 json.Marshaler
func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	case math.IsNaN(f):
		return []byte(`0`), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

// GroupKey 分组维度
type GroupKey string

const (
	// GroupInstrument 按交易对
	GroupInstrument GroupKey = "instrument"
	// GroupHour 按小时（0-23）
	GroupHour GroupKey = "hour"
	// GroupWeekday 按星期
	GroupWeekday GroupKey = "weekday"
	// GroupConfidence 按置信度区间
	GroupConfidence GroupKey = "confidence"
)

// AllGroupKeys 所有受支持的分组维度（自然顺序）
var AllGroupKeys = []GroupKey{GroupInstrument, GroupHour, GroupWeekday, GroupConfidence}

// StatsRow 一组交易的绩效统计
// 空集合时所有比率为 0，不会出现 NaN
type StatsRow struct {
	// Key 分组键；总体统计为 "ALL"
	Key string `json:"key"`
	// Trades 交易数
	Trades int `json:"trades"`
	// Wins 盈利笔数（盈亏 > 0）
	Wins int `json:"wins"`
	// Losses 亏损笔数（盈亏 < 0）
	Losses int `json:"losses"`
	// WinRate 胜率 = Wins / Trades
	WinRate float64 `json:"win_rate"`
	// TotalPL 总盈亏
	TotalPL decimal.Decimal `json:"total_pl"`
	// GrossProfit 盈利总额
	GrossProfit decimal.Decimal `json:"gross_profit"`
	// GrossLoss 亏损总额（绝对值）
	GrossLoss decimal.Decimal `json:"gross_loss"`
	// ProfitFactor 盈亏比 = GrossProfit / GrossLoss
	ProfitFactor Ratio `json:"profit_factor"`
	// AvgWinner 平均盈利
	AvgWinner decimal.Decimal `json:"avg_winner"`
	// AvgLoser 平均亏损（负数）
	AvgLoser decimal.Decimal `json:"avg_loser"`
	// Expectancy 单笔期望 = p × AvgWinner + (1-p) × AvgLoser
	Expectancy float64 `json:"expectancy"`
	// BreakevenWinRate 盈亏平衡胜率 = L / (R + L)
	BreakevenWinRate float64 `json:"breakeven_win_rate"`
	// AvgConfidence 组内带置信度记录的平均置信度
	AvgConfidence float64 `json:"avg_confidence"`
	// ConfidenceSamples 参与平均置信度的样本数
	ConfidenceSamples int `json:"confidence_samples"`
	// AvgDurationHours 平均持仓时长（小时）
	AvgDurationHours float64 `json:"avg_duration_hours"`
	// DurationSamples 参与时长平均的样本数
	DurationSamples int `json:"duration_samples"`
}

// Correlation 置信度与胜负的点二列相关系数
type Correlation struct {
	// Coefficient 相关系数；数据不足时为 0
	Coefficient float64 `json:"coefficient"`
	// Samples 样本数
	Samples int `json:"samples"`
	// Sufficient 数据是否足够（至少两个不同置信度，且胜负均出现）
	Sufficient bool `json:"sufficient"`
	// Strength 强度标签
	Strength string `json:"strength"`
	// Note 说明（数据不足时给出原因）
	Note string `json:"note,omitempty"`
}

// ThresholdRecommendation 置信度阈值建议（启发式，非统计结论）
type ThresholdRecommendation struct {
	// Found 是否找到满足条件的区间
	Found bool `json:"found"`
	// MinConfidence 建议的最低置信度
	MinConfidence float64 `json:"min_confidence"`
	// WinRateFloor 使用的胜率下限
	WinRateFloor float64 `json:"win_rate_floor"`
	// Heuristic 恒为 true，提示该值为启发式
	Heuristic bool `json:"heuristic"`
	// Note 说明
	Note string `json:"note"`
}

// DelayStats 执行延迟统计（秒）
type DelayStats struct {
	// Instrument 交易对；总体为空
	Instrument string `json:"instrument,omitempty"`
	// Count 样本数
	Count int64 `json:"count"`
	// MeanSec 平均延迟
	MeanSec float64 `json:"mean_sec"`
	// P50Sec P50 延迟
	P50Sec float64 `json:"p50_sec"`
	// P90Sec P90 延迟
	P90Sec float64 `json:"p90_sec"`
	// P99Sec P99 延迟
	P99Sec float64 `json:"p99_sec"`
	// MaxAbsSec 最大绝对延迟
	MaxAbsSec float64 `json:"max_abs_sec"`
}

// ReasonCount 拒绝原因计数
type ReasonCount struct {
	// Reason 原因文本
	Reason string `json:"reason"`
	// Count 次数
	Count int `json:"count"`
}

// ReconSummary 对账汇总指标
type ReconSummary struct {
	// Intentions 意图总数
	Intentions int `json:"intentions"`
	// Executed 声称已执行
	Executed int `json:"executed"`
	// Matched 匹配成功
	Matched int `json:"matched"`
	// Rejected 被拒绝
	Rejected int `json:"rejected"`
	// Held 观望
	Held int `json:"held"`
	// UnmatchedExecuted 声称执行但未在账本中找到
	UnmatchedExecuted int `json:"unmatched_executed"`
	// Transactions 账本记录总数
	Transactions int `json:"transactions"`
	// Unexplained 未被认领的账本记录
	Unexplained int `json:"unexplained"`
	// UnexplainedTrades 未被认领的交易类账本记录
	UnexplainedTrades int `json:"unexplained_trades"`
	// ExecutionAccuracy 执行准确率 = Matched / Executed
	ExecutionAccuracy float64 `json:"execution_accuracy"`
	// AvgConfidenceWinners 盈利匹配交易的平均置信度
	AvgConfidenceWinners float64 `json:"avg_confidence_winners"`
	// AvgConfidenceLosers 亏损匹配交易的平均置信度
	AvgConfidenceLosers float64 `json:"avg_confidence_losers"`
	// RejectionReasons 拒绝原因分布（按次数降序）
	RejectionReasons []ReasonCount `json:"rejection_reasons"`
	// ClosuresConfirmed 账本确认的平仓声明
	ClosuresConfirmed int `json:"closures_confirmed"`
	// ClosuresMissing 账本缺失的平仓声明
	ClosuresMissing int `json:"closures_missing"`
	// ClosuresUnverifiable 无法核对的平仓声明
	ClosuresUnverifiable int `json:"closures_unverifiable"`
}

// OpenPositions 当前持仓汇总
type OpenPositions struct {
	// Count 持仓数
	Count int `json:"count"`
	// UnrealizedPL 未实现盈亏合计
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
}

// MetricsReport 绩效报告（纯派生数据）
type MetricsReport struct {
	// Source 数据来源: reconciled 或 ledger
	Source string `json:"source"`
	// Overall 总体统计
	Overall StatsRow `json:"overall"`
	// Groups 各维度分组统计，每个维度内按键的自然顺序排列
	Groups map[GroupKey][]StatsRow `json:"groups"`
	// Best 各维度总盈亏最高的 N 组
	Best map[GroupKey][]StatsRow `json:"best"`
	// Worst 各维度总盈亏最低的 N 组
	Worst map[GroupKey][]StatsRow `json:"worst"`
	// Unbucketed 置信度落在所有区间之外的记录数
	Unbucketed int `json:"unbucketed"`
	// Correlation 置信度与胜负相关性
	Correlation Correlation `json:"correlation"`
	// Threshold 置信度阈值建议
	Threshold ThresholdRecommendation `json:"threshold"`
	// Delay 执行延迟统计（仅对账报告）
	Delay DelayStats `json:"delay"`
	// DelayByInstrument 按交易对的执行延迟
	DelayByInstrument []DelayStats `json:"delay_by_instrument,omitempty"`
	// Summary 对账汇总（仅对账报告）
	Summary *ReconSummary `json:"summary,omitempty"`
	// Open 当前持仓
	Open OpenPositions `json:"open"`
	// Caveats 数据质量提示
	Caveats []string `json:"caveats"`
}

// Group 获取指定维度的分组统计
func (r *MetricsReport) Group(key GroupKey) []StatsRow {
	if r.Groups == nil {
		return nil
	}
	return r.Groups[key]
}
