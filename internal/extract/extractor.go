// Package extract 从交易机器人的运行日志中提取交易意图与平仓声明。
//
// 提取过程是对日志行序列的一次左折叠，状态机只有两个状态：
// IDLE（无打开的执行块）与 BUILDING（执行块已打开，正在收集字段）。
// 每一行最多产生一个事件；格式错误的行只会让对应字段保留默认值，不会中断扫描。
package extract

import (
	"iter"
	"strings"
	"time"

	"intent-ledger-reconciler/internal/core/model"
	"intent-ledger-reconciler/internal/util/timeutil"
)

// EventKind 提取事件类型
type EventKind int

const (
	// EventIntention 交易意图
	EventIntention EventKind = iota
	// EventClosure 平仓声明
	EventClosure
)

// Event 提取事件
// Kind 决定 Intention 与 Closure 哪个字段有效
type Event struct {
	Kind      EventKind
	Intention model.Intention
	Closure   model.Closure
}

// Stats 提取统计
type Stats struct {
	// Lines 非空行数
	Lines int `json:"lines"`
	// Intentions 产生的意图数
	Intentions int `json:"intentions"`
	// Closures 产生的平仓声明数
	Closures int `json:"closures"`
	// DiscardedBlocks 未完成即被丢弃的执行块
	DiscardedBlocks int `json:"discarded_blocks"`
	// DefaultedTimestamps 使用提取时刻作为时间戳的记录数
	DefaultedTimestamps int `json:"defaulted_timestamps"`
}

// Extraction 一次完整提取的结果
type Extraction struct {
	Intentions []model.Intention
	Closures   []model.Closure
	Stats      Stats
}

// Options 提取选项
type Options struct {
	// Location 日志中无时区时间戳所在时区；nil 为 UTC
	Location *time.Location
	// Clock 时间源；nil 时使用系统时钟
	Clock timeutil.Clock
}

// Extractor 日志提取器
// 无可变状态，可被多个 goroutine 并发使用
type Extractor struct {
	loc *time.Location
	// now 提取时刻，在创建时确定，保证重复遍历结果一致
	now time.Time
}

// New 创建日志提取器
func New(opts Options) *Extractor {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.SystemClock
	}
	return &Extractor{loc: loc, now: clock().UTC()}
}

// Events 返回日志文本的事件序列
// 序列是惰性的、有限的、可重复遍历的；空文本返回空序列
func (e *Extractor) Events(text string) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		e.scan(text, nil, yield)
	}
}

// Intentions 返回日志文本中的交易意图序列（按标记出现顺序）
func (e *Extractor) Intentions(text string) iter.Seq[model.Intention] {
	return func(yield func(model.Intention) bool) {
		for ev := range e.Events(text) {
			if ev.Kind != EventIntention {
				continue
			}
			if !yield(ev.Intention) {
				return
			}
		}
	}
}

// Closures 返回日志文本中的平仓声明序列
func (e *Extractor) Closures(text string) iter.Seq[model.Closure] {
	return func(yield func(model.Closure) bool) {
		for ev := range e.Events(text) {
			if ev.Kind != EventClosure {
				continue
			}
			if !yield(ev.Closure) {
				return
			}
		}
	}
}

// Extract 一次性提取全部意图与平仓声明，并返回统计
func (e *Extractor) Extract(text string) Extraction {
	var out Extraction
	e.scan(text, &out.Stats, func(ev Event) bool {
		switch ev.Kind {
		case EventIntention:
			out.Intentions = append(out.Intentions, ev.Intention)
		case EventClosure:
			out.Closures = append(out.Closures, ev.Closure)
		}
		return true
	})
	return out
}

func (e *Extractor) scan(text string, stats *Stats, yield func(Event) bool) {
	s := &scanner{e: e}
	for line := range strings.SplitSeq(text, "\n") {
		ev, ok := s.step(line)
		if !ok {
			continue
		}
		if !yield(ev) {
			break
		}
	}
	// 文本结束时仍未封口的执行块直接丢弃
	if s.state == stateBuilding {
		s.stats.DiscardedBlocks++
	}
	if stats != nil {
		*stats = s.stats
	}
}
