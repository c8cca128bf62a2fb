// Package latency 统计意图到账本成交的执行延迟。
// 延迟 = 账本记录时间 - 意图时间，可为负（日志时间晚于成交）。
// 为总体与每个交易对维护独立的滚动窗口。
package latency

import (
	"slices"
	"sort"
	"sync"
	"time"

	"intent-ledger-reconciler/internal/core/model"
)

type rollingWindow struct {
	size  int
	buf   []int64
	pos   int
	count int64
	full  bool

	// sum/maxAbs 覆盖所有样本，不受窗口限制
	sum    float64
	maxAbs int64

	mu sync.Mutex
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]int64, 0, size)}
}

func (w *rollingWindow) add(v int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	w.sum += float64(v)
	if a := abs64(v); a > w.maxAbs {
		w.maxAbs = a
	}
	if w.size <= 0 {
		return
	}

	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}

	w.buf[w.pos] = v
	w.pos++
	if w.pos >= w.size {
		w.pos = 0
	}
}

func (w *rollingWindow) snapshotQuantiles(qs ...float64) (count int64, values []int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	count = w.count
	if len(w.buf) == 0 {
		return count, make([]int64, len(qs))
	}

	tmp := make([]int64, len(w.buf))
	copy(tmp, w.buf)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	values = make([]int64, len(qs))
	n := len(tmp)
	for i, q := range qs {
		if q <= 0 {
			values[i] = tmp[0]
			continue
		}
		if q >= 1 {
			values[i] = tmp[n-1]
			continue
		}
		idx := int(float64(n-1) * q)
		values[i] = tmp[min(max(idx, 0), n-1)]
	}
	return count, values
}

// stats 生成延迟统计快照
func (w *rollingWindow) stats(instrument string) model.DelayStats {
	count, qs := w.snapshotQuantiles(0.50, 0.90, 0.99)
	w.mu.Lock()
	sum, maxAbs := w.sum, w.maxAbs
	w.mu.Unlock()

	out := model.DelayStats{
		Instrument: instrument,
		Count:      count,
		P50Sec:     nsToSec(qs[0]),
		P90Sec:     nsToSec(qs[1]),
		P99Sec:     nsToSec(qs[2]),
		MaxAbsSec:  nsToSec(maxAbs),
	}
	if count > 0 {
		out.MeanSec = sum / float64(count) / float64(time.Second)
	}
	return out
}

// Tracker 执行延迟追踪器
// 可并发写入
type Tracker struct {
	windowSize int
	overall    *rollingWindow

	mu      sync.Mutex
	byInstr map[string]*rollingWindow
}

// NewTracker 创建执行延迟追踪器
// 参数 windowSize: 分位数使用的滚动窗口大小（建议 10000）
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = 10000
	}
	return &Tracker{
		windowSize: windowSize,
		overall:    newRollingWindow(windowSize),
		byInstr:    make(map[string]*rollingWindow),
	}
}

// Add 记录一次延迟
// 参数 instrument: 交易对，按统一格式归类
func (t *Tracker) Add(instrument string, delay time.Duration) {
	t.overall.add(int64(delay))

	key := model.CanonicalInstrument(instrument)
	t.mu.Lock()
	w, ok := t.byInstr[key]
	if !ok {
		w = newRollingWindow(t.windowSize)
		t.byInstr[key] = w
	}
	t.mu.Unlock()
	w.add(int64(delay))
}

// AddPair 记录一条匹配对的延迟
func (t *Tracker) AddPair(p *model.MatchedPair) {
	if p == nil {
		return
	}
	t.Add(p.Transaction.Instrument, p.Delay)
}

// Overall 总体延迟统计
func (t *Tracker) Overall() model.DelayStats {
	return t.overall.stats("")
}

// Stats 指定交易对的延迟统计；无样本时 Count 为 0
func (t *Tracker) Stats(instrument string) model.DelayStats {
	key := model.CanonicalInstrument(instrument)
	t.mu.Lock()
	w, ok := t.byInstr[key]
	t.mu.Unlock()
	if !ok {
		return model.DelayStats{Instrument: key}
	}
	return w.stats(key)
}

// ByInstrument 按交易对名称排序的延迟统计
func (t *Tracker) ByInstrument() []model.DelayStats {
	t.mu.Lock()
	keys := make([]string, 0, len(t.byInstr))
	for k := range t.byInstr {
		keys = append(keys, k)
	}
	t.mu.Unlock()
	slices.Sort(keys)

	out := make([]model.DelayStats, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.Stats(k))
	}
	return out
}

func nsToSec(ns int64) float64 {
	return float64(ns) / float64(time.Second)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
