package extract

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"intent-ledger-reconciler/internal/core/model"
	"intent-ledger-reconciler/internal/util/fastparse"
	"intent-ledger-reconciler/internal/util/timeutil"
)

type scanState int

const (
	stateIdle scanState = iota
	stateBuilding
)

// pendingSignal IDLE 状态下看到的 "Signal found" 行
// 用于为下一个执行块或拒绝记录提供交易对、方向和置信度，使用一次后清除
type pendingSignal struct {
	pair       string
	direction  model.Direction
	confidence float64
	hasConf    bool
}

// scanner 单次扫描的折叠状态
type scanner struct {
	e       *Extractor
	state   scanState
	cur     model.Intention
	pending *pendingSignal
	stats   Stats
}

// step 处理一行日志
// 返回: 事件与是否产生了事件
func (s *scanner) step(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return Event{}, false
	}
	s.stats.Lines++

	ts, tsOK := timeutil.FindLogTimestamp(line, s.e.loc)

	// 执行标记：打开新执行块，丢弃未完成的旧块
	if reExecuted.MatchString(line) {
		if s.state == stateBuilding {
			s.stats.DiscardedBlocks++
		}
		s.open(ts, tsOK)
		return Event{}, false
	}

	// 拒绝标记：独立事件，不影响打开的执行块
	if m := reRejected.FindStringSubmatch(line); m != nil {
		return s.emitIntention(s.rejected(ts, tsOK, m[1])), true
	}

	if m := reSignalFor.FindStringSubmatch(line); m != nil {
		return s.signal(ts, tsOK, m[1], m[2], m[3])
	}
	if m := reSignalInline.FindStringSubmatch(line); m != nil {
		return s.signal(ts, tsOK, m[1], m[2], m[3])
	}

	if m := reTradeClosed.FindStringSubmatch(line); m != nil {
		c := s.closure(ts, tsOK, m[1])
		c.Direction = model.ParseDirection(m[2])
		c.Result = model.ClosureResult(strings.ToUpper(m[3]))
		c.Pips, _ = fastparse.ParseDecimal(m[4])
		c.PL = parseSignedMoney(m[5])
		return s.emitClosure(c), true
	}
	if m := reDetectedClosed.FindStringSubmatch(line); m != nil {
		c := s.closure(ts, tsOK, m[1])
		c.TradeID = m[2]
		return s.emitClosure(c), true
	}

	if s.state != stateBuilding {
		return Event{}, false
	}
	return s.field(line)
}

// open 打开新执行块，并用待定信号填充交易对、方向与置信度
func (s *scanner) open(ts time.Time, tsOK bool) {
	s.state = stateBuilding
	s.cur = model.Intention{
		Pair:      model.UnknownPair,
		Direction: model.DirectionUnknown,
		Outcome:   model.OutcomeExecuted,
	}
	s.stamp(&s.cur.Timestamp, &s.cur.TimeSource, ts, tsOK)

	if p := s.takePending(); p != nil {
		s.cur.Pair = p.pair
		s.cur.Direction = p.direction
		if p.hasConf {
			s.cur.Confidence = p.confidence
			s.cur.ConfidenceSource = model.ConfidenceLogged
		}
	}
}

// field 在 BUILDING 状态下更新字段（后写覆盖先写）
// Risk/Reward 行封口并产生 EXECUTED 意图
func (s *scanner) field(line string) (Event, bool) {
	if m := reRiskReward.FindStringSubmatch(line); m != nil {
		if v, ok := fastparse.ParseNonNegativeDecimal(m[1]); ok {
			s.cur.RiskReward = v
		}
		it := s.cur
		it.Incomplete = it.EntryPrice.IsZero()
		s.state = stateIdle
		s.cur = model.Intention{}
		return s.emitIntention(it), true
	}

	if m := reEntry.FindStringSubmatch(line); m != nil {
		setDecimal(&s.cur.EntryPrice, m[1])
		return Event{}, false
	}
	if m := reStopLoss.FindStringSubmatch(line); m != nil {
		setDecimal(&s.cur.StopLoss, m[1])
		return Event{}, false
	}
	if m := reTakeProfit.FindStringSubmatch(line); m != nil {
		setDecimal(&s.cur.TargetPrice, m[1])
		return Event{}, false
	}
	if m := rePositionSize.FindStringSubmatch(line); m != nil {
		setDecimal(&s.cur.Units, m[1])
		return Event{}, false
	}
	if m := rePairDirection.FindStringSubmatch(line); m != nil {
		s.cur.Pair = strings.ToUpper(m[1])
		s.cur.Direction = model.ParseDirection(m[2])
		if m[3] != "" {
			s.cur.OrderID = m[3]
		}
	}
	return Event{}, false
}

// signal 处理 "Signal found" 行
// HOLD 信号直接产生 HELD 意图；BUY/SELL 信号在 IDLE 时记为待定，
// 在 BUILDING 时仅补充尚未设置的字段。
func (s *scanner) signal(ts time.Time, tsOK bool, pair, action, pct string) (Event, bool) {
	pair = strings.ToUpper(pair)
	conf, hasConf := fastparse.ParsePercent(pct)

	if strings.EqualFold(action, "HOLD") {
		it := model.Intention{
			Pair:      pair,
			Direction: model.DirectionUnknown,
			Outcome:   model.OutcomeHeld,
		}
		s.stamp(&it.Timestamp, &it.TimeSource, ts, tsOK)
		if hasConf {
			it.Confidence = conf
			it.ConfidenceSource = model.ConfidenceLogged
		}
		return s.emitIntention(it), true
	}

	dir := model.ParseDirection(action)
	if s.state == stateBuilding {
		if hasConf && !s.cur.HasConfidence() {
			s.cur.Confidence = conf
			s.cur.ConfidenceSource = model.ConfidenceLogged
		}
		if s.cur.Pair == model.UnknownPair {
			s.cur.Pair = pair
		}
		if s.cur.Direction == model.DirectionUnknown {
			s.cur.Direction = dir
		}
		return Event{}, false
	}

	s.pending = &pendingSignal{pair: pair, direction: dir, confidence: conf, hasConf: hasConf}
	return Event{}, false
}

// rejected 构建 REJECTED 意图，原因原样保留
func (s *scanner) rejected(ts time.Time, tsOK bool, reason string) model.Intention {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unspecified"
	}
	it := model.Intention{
		Pair:            model.UnknownPair,
		Direction:       model.DirectionUnknown,
		Outcome:         model.OutcomeRejected,
		RejectionReason: reason,
	}
	s.stamp(&it.Timestamp, &it.TimeSource, ts, tsOK)

	// 执行块打开期间的拒绝不消耗待定信号（待定信号只在 IDLE 时存在）
	if p := s.takePending(); p != nil {
		it.Pair = p.pair
		it.Direction = p.direction
		if p.hasConf {
			it.Confidence = p.confidence
			it.ConfidenceSource = model.ConfidenceLogged
		}
	}
	return it
}

func (s *scanner) closure(ts time.Time, tsOK bool, pair string) model.Closure {
	c := model.Closure{
		Pair:      strings.ToUpper(pair),
		Direction: model.DirectionUnknown,
	}
	s.stamp(&c.Timestamp, &c.TimeSource, ts, tsOK)
	return c
}

func (s *scanner) takePending() *pendingSignal {
	p := s.pending
	s.pending = nil
	return p
}

func (s *scanner) stamp(dst *time.Time, src *model.TimeSource, ts time.Time, ok bool) {
	if ok {
		*dst = ts
		*src = model.TimeLogged
		return
	}
	*dst = s.e.now
	*src = model.TimeDefaulted
	s.stats.DefaultedTimestamps++
}

func (s *scanner) emitIntention(it model.Intention) Event {
	s.stats.Intentions++
	return Event{Kind: EventIntention, Intention: it}
}

func (s *scanner) emitClosure(c model.Closure) Event {
	s.stats.Closures++
	return Event{Kind: EventClosure, Closure: c}
}

// setDecimal 解析成功时覆盖目标值，失败时保持原值
func setDecimal(dst *decimal.Decimal, s string) {
	if v, ok := fastparse.ParseNonNegativeDecimal(s); ok {
		*dst = v
	}
}

// parseSignedMoney 解析 "-$150.00" / "$175.00" 形式的金额
func parseSignedMoney(s string) decimal.Decimal {
	neg := strings.HasPrefix(strings.TrimSpace(s), "-")
	v, ok := fastparse.ParseDecimal(strings.ReplaceAll(s, "-", ""))
	if !ok {
		return decimal.Zero
	}
	if neg {
		return v.Neg()
	}
	return v
}
