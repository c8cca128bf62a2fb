// Package model 定义对账引擎中使用的核心数据结构。
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnknownPair 未能从日志中识别交易对时使用的占位值
const UnknownPair = "UNKNOWN"

// Direction 交易方向
type Direction string

const (
	// DirectionBuy 做多
	DirectionBuy Direction = "BUY"
	// DirectionSell 做空
	DirectionSell Direction = "SELL"
	// DirectionUnknown 方向未知（日志未给出或无法识别）
	DirectionUnknown Direction = "UNKNOWN"
)

// ParseDirection 将日志中的方向文本转换为 Direction
// 大小写不敏感；无法识别时返回 DirectionUnknown
func ParseDirection(s string) Direction {
	switch normalizeWord(s) {
	case "BUY", "LONG":
		return DirectionBuy
	case "SELL", "SHORT":
		return DirectionSell
	default:
		return DirectionUnknown
	}
}

// Outcome 意图的处理结果
type Outcome string

const (
	// OutcomeExecuted 机器人声称已执行
	OutcomeExecuted Outcome = "EXECUTED"
	// OutcomeRejected 机器人主动拒绝了信号
	OutcomeRejected Outcome = "REJECTED"
	// OutcomeHeld 信号为观望（HOLD），未下单
	OutcomeHeld Outcome = "HELD"
)

// TimeSource 时间戳来源
type TimeSource string

const (
	// TimeLogged 时间戳取自日志行本身
	TimeLogged TimeSource = "logged"
	// TimeDefaulted 日志行无时间戳，使用了提取时刻
	TimeDefaulted TimeSource = "defaulted"
)

// ConfidenceSource 置信度来源
type ConfidenceSource string

const (
	// ConfidenceNone 无置信度
	ConfidenceNone ConfidenceSource = ""
	// ConfidenceLogged 置信度取自日志
	ConfidenceLogged ConfidenceSource = "logged"
	// ConfidenceEstimated 置信度由先验模型估算（非观测值）
	ConfidenceEstimated ConfidenceSource = "estimated"
)

// Intention 从日志中提取的一条交易意图
// 提取后不可变；价格字段为 0 表示日志中未捕获
type Intention struct {
	// Timestamp 意图发生时间
	Timestamp time.Time `json:"timestamp"`
	// TimeSource 时间戳来源；defaulted 的记录永远不会通过时间窗口匹配，零值视为 logged
	TimeSource TimeSource `json:"time_source"`
	// Pair 交易对，如 EUR/USD；未知时为 UNKNOWN
	Pair string `json:"pair"`
	// Direction 方向
	Direction Direction `json:"direction"`
	// Confidence 置信度（0-1），仅在 ConfidenceSource 非空时有效
	Confidence float64 `json:"confidence,omitempty"`
	// ConfidenceSource 置信度来源
	ConfidenceSource ConfidenceSource `json:"confidence_source,omitempty"`
	// EntryPrice 入场价
	EntryPrice decimal.Decimal `json:"entry_price"`
	// TargetPrice 止盈价
	TargetPrice decimal.Decimal `json:"target_price"`
	// StopLoss 止损价
	StopLoss decimal.Decimal `json:"stop_loss"`
	// RiskReward 风险收益比
	RiskReward decimal.Decimal `json:"risk_reward"`
	// Units 仓位大小（单位数），0 表示未捕获
	Units decimal.Decimal `json:"units"`
	// OrderID 日志中出现的订单号
	OrderID string `json:"order_id,omitempty"`
	// Outcome 处理结果
	Outcome Outcome `json:"outcome"`
	// RejectionReason 拒绝原因，仅 REJECTED 时非空
	RejectionReason string `json:"rejection_reason,omitempty"`
	// Incomplete EXECUTED 但未捕获入场价
	Incomplete bool `json:"incomplete,omitempty"`
}

// HasConfidence 是否带有置信度（记录或估算）
func (i *Intention) HasConfidence() bool {
	return i.ConfidenceSource != ConfidenceNone
}

// TimeKnown 时间戳是否可用于匹配
// 只有显式标记为 defaulted 的记录视为未知；未设置来源时按日志时间处理
func (i *Intention) TimeKnown() bool {
	return i.TimeSource != TimeDefaulted
}

// ClosureResult 日志中平仓记录的结果标签
type ClosureResult string

const (
	// ClosureWin 盈利平仓
	ClosureWin ClosureResult = "CLOSED_WIN"
	// ClosureLoss 亏损平仓
	ClosureLoss ClosureResult = "CLOSED_LOSS"
	// ClosureUnknown 结果未给出
	ClosureUnknown ClosureResult = ""
)

// Closure 机器人日志中声称的一次平仓
type Closure struct {
	// Timestamp 平仓日志时间
	Timestamp time.Time `json:"timestamp"`
	// TimeSource 时间戳来源
	TimeSource TimeSource `json:"time_source"`
	// Pair 交易对
	Pair string `json:"pair"`
	// Direction 原始方向，可能未知
	Direction Direction `json:"direction"`
	// TradeID 券商成交编号（仅 "Detected closed position" 行提供）
	TradeID string `json:"trade_id,omitempty"`
	// Result 结果标签
	Result ClosureResult `json:"result,omitempty"`
	// Pips 点数盈亏
	Pips decimal.Decimal `json:"pips"`
	// PL 账户货币盈亏
	PL decimal.Decimal `json:"pl"`
}
