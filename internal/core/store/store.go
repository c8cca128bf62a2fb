// Package store 维护账本归一化过程中按仓位编号索引的交易记录。
// 单写者使用，不加锁；输出顺序为首次插入顺序，保证归一化结果确定。
package store

import "intent-ledger-reconciler/internal/core/model"

// TradeBook 按仓位编号索引的交易记录表
// 注意：本结构体只在一次归一化调用内使用，不可跨 goroutine 共享。
type TradeBook struct {
	// index 仓位编号 -> records 下标
	index map[string]int
	// records 按首次插入顺序保存的记录
	records []model.Transaction
}

// New 创建空的交易记录表
func New() *TradeBook {
	return &TradeBook{
		index: make(map[string]int),
	}
}

// Put 插入或覆盖记录
// 参数 tradeID: 仓位编号；已存在时原位覆盖，保持原有顺序
func (b *TradeBook) Put(tradeID string, tx model.Transaction) {
	if i, ok := b.index[tradeID]; ok {
		b.records[i] = tx
		return
	}
	b.index[tradeID] = len(b.records)
	b.records = append(b.records, tx)
}

// Link 为已有记录增加别名编号
// 用于市价单成交后以仓位编号引用同一条记录
// 返回: 目标编号不存在时返回 false
func (b *TradeBook) Link(alias, tradeID string) bool {
	i, ok := b.index[tradeID]
	if !ok {
		return false
	}
	b.index[alias] = i
	return true
}

// Append 追加不参与索引的记录（如利息、无编号的记录）
func (b *TradeBook) Append(tx model.Transaction) {
	b.records = append(b.records, tx)
}

// Get 获取指定仓位的记录
// 返回的是拷贝；修改后需调用 Put 写回
func (b *TradeBook) Get(tradeID string) (model.Transaction, bool) {
	i, ok := b.index[tradeID]
	if !ok {
		return model.Transaction{}, false
	}
	return b.records[i], true
}

// Has 仓位是否存在
func (b *TradeBook) Has(tradeID string) bool {
	_, ok := b.Get(tradeID)
	return ok
}

// Records 按插入顺序返回所有记录的拷贝
func (b *TradeBook) Records() []model.Transaction {
	out := make([]model.Transaction, len(b.records))
	copy(out, b.records)
	return out
}
