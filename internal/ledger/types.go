package ledger

// 账本条目类型
const (
	// TypeMarketOrder 市价单
	TypeMarketOrder = "MARKET_ORDER"
	// TypeOrderFill 成交回报（开仓、平仓或减仓）
	TypeOrderFill = "ORDER_FILL"
	// TypeDailyFinancing 隔夜利息
	TypeDailyFinancing = "DAILY_FINANCING"
)

// Entry 券商账本原始条目
// 数值字段均为字符串，与券商 REST v3 返回格式一致
type Entry struct {
	// ID 条目编号
	ID string `json:"id"`
	// Type 条目类型
	Type string `json:"type"`
	// Time RFC3339 时间
	Time string `json:"time"`
	// Instrument 交易对，如 EUR_USD
	Instrument string `json:"instrument"`
	// Units 带符号仓位
	Units string `json:"units"`
	// Price 成交价
	Price string `json:"price"`
	// PL 已实现盈亏
	PL string `json:"pl"`
	// Financing 利息
	Financing string `json:"financing"`
	// OrderID 成交对应的订单编号
	OrderID string `json:"orderID"`
	// Reason 触发原因
	Reason string `json:"reason"`
	// AccountBalance 条目后的账户余额
	AccountBalance string `json:"accountBalance"`
	// TradeOpened 本次成交开出的仓位
	TradeOpened *TradeRef `json:"tradeOpened,omitempty"`
	// TradesClosed 本次成交平掉的仓位
	TradesClosed []TradeRef `json:"tradesClosed,omitempty"`
	// TradeReduced 本次成交减仓的仓位
	TradeReduced *TradeRef `json:"tradeReduced,omitempty"`
	// TradeClose 平仓类市价单指向的仓位
	TradeClose *TradeRef `json:"tradeClose,omitempty"`
}

// 平仓类市价单的触发原因
var closeOrderReasons = map[string]bool{
	"TRADE_CLOSE":             true,
	"POSITION_CLOSEOUT":       true,
	"MARGIN_CLOSEOUT":         true,
	"DELAYED_TRADE_CLOSE":     true,
	"LONG_POSITION_CLOSEOUT":  true,
	"SHORT_POSITION_CLOSEOUT": true,
}

// ClosesTrade 市价单是否用于平仓而非开仓
func (e *Entry) ClosesTrade() bool {
	return e.TradeClose != nil || closeOrderReasons[e.Reason]
}

// TradeRef 条目引用的仓位
type TradeRef struct {
	// TradeID 仓位编号
	TradeID string `json:"tradeID"`
	// Units 涉及的仓位数
	Units string `json:"units"`
	// RealizedPL 该仓位本次实现的盈亏
	RealizedPL string `json:"realizedPL"`
}

// OpenTrade 当前持仓
type OpenTrade struct {
	// ID 仓位编号
	ID string `json:"id"`
	// Instrument 交易对
	Instrument string `json:"instrument"`
	// CurrentUnits 当前仓位
	CurrentUnits string `json:"currentUnits"`
	// Price 开仓价
	Price string `json:"price"`
	// UnrealizedPL 未实现盈亏
	UnrealizedPL string `json:"unrealizedPL"`
	// OpenTime 开仓时间
	OpenTime string `json:"openTime"`
}

// transactionPagesResponse 账本分页索引
type transactionPagesResponse struct {
	// Count 条目总数
	Count int `json:"count"`
	// Pages 分页地址
	Pages []string `json:"pages"`
}

// transactionPageResponse 单页账本条目
type transactionPageResponse struct {
	Transactions []Entry `json:"transactions"`
}

// openTradesResponse 当前持仓列表
type openTradesResponse struct {
	Trades []OpenTrade `json:"trades"`
}
