package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxKind 归一化后的账本记录类型
type TxKind string

const (
	// TxOpen 开仓（市价单或当前持仓）
	TxOpen TxKind = "OPEN"
	// TxFill 成交回报开出的新仓位
	TxFill TxKind = "FILL"
	// TxClose 已平仓
	TxClose TxKind = "CLOSE"
	// TxOther 非交易类记录（如隔夜利息）
	TxOther TxKind = "OTHER"
)

// Transaction 归一化后的券商账本记录
// Price/Units/RealizedPL 使用十进制表示，避免金额累加误差
type Transaction struct {
	// ID 账本内唯一编号（产生该记录的账本条目）
	ID string `json:"id"`
	// Time 开仓或记录时间；零值表示账本时间无法解析
	Time time.Time `json:"time"`
	// Instrument 券商格式交易对，如 EUR_USD
	Instrument string `json:"instrument"`
	// Units 带符号仓位：正为多，负为空
	Units decimal.Decimal `json:"units"`
	// Price 开仓成交价
	Price decimal.Decimal `json:"price"`
	// RealizedPL 已实现盈亏；持仓快照中为未实现盈亏
	RealizedPL decimal.Decimal `json:"realized_pl"`
	// Kind 记录类型
	Kind TxKind `json:"kind"`
	// LinkedTradeID 关联的券商仓位编号
	LinkedTradeID string `json:"linked_trade_id,omitempty"`
	// CloseTime 平仓时间（仅 CLOSE）
	CloseTime time.Time `json:"close_time,omitzero"`
	// ClosePrice 平仓价（仅 CLOSE）
	ClosePrice decimal.Decimal `json:"close_price"`
	// Duration 持仓时长；HasDuration 为 false 时无意义
	Duration time.Duration `json:"duration_ns,omitempty"`
	// HasDuration 两端时间均可解析时为 true
	HasDuration bool `json:"has_duration"`
	// Unrealized RealizedPL 是否实际为未实现盈亏（当前持仓快照）
	Unrealized bool `json:"unrealized,omitempty"`
}

// DurationHours 持仓时长（小时）
// 返回: 时长与是否可用；不可用时不返回默认 0
func (t *Transaction) DurationHours() (float64, bool) {
	if !t.HasDuration {
		return 0, false
	}
	return t.Duration.Hours(), true
}

// IsTrade 是否为交易类记录（OPEN/FILL/CLOSE）
func (t *Transaction) IsTrade() bool {
	switch t.Kind {
	case TxOpen, TxFill, TxClose:
		return true
	default:
		return false
	}
}

// IsLong 多头仓位
func (t *Transaction) IsLong() bool {
	return t.Units.Sign() > 0
}

// IsShort 空头仓位
func (t *Transaction) IsShort() bool {
	return t.Units.Sign() < 0
}
