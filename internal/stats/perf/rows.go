package perf

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"intent-ledger-reconciler/internal/core/model"
)

// sample 一笔已知结果的交易
type sample struct {
	instrument string
	// at 用于按小时/星期分组的时间；timeKnown 为 false 时不参与这两个维度
	at        time.Time
	timeKnown bool
	pl        decimal.Decimal
	conf      float64
	// hasConf 置信度可用于置信度视图（记录值，或允许时的估算值）
	hasConf   bool
	estimated bool
	durationH float64
	hasDur    bool
}

func (s *sample) win() bool { return s.pl.Sign() > 0 }

// group 一个分组：排序键与样本
type group struct {
	key   string
	order int
	items []*sample
}

// computeRow 计算一组样本的统计
func computeRow(key string, items []*sample) model.StatsRow {
	row := model.StatsRow{
		Key:         key,
		Trades:      len(items),
		TotalPL:     decimal.Zero,
		GrossProfit: decimal.Zero,
		GrossLoss:   decimal.Zero,
		AvgWinner:   decimal.Zero,
		AvgLoser:    decimal.Zero,
	}
	if len(items) == 0 {
		return row
	}

	var confSum, durSum float64
	for _, s := range items {
		row.TotalPL = row.TotalPL.Add(s.pl)
		switch s.pl.Sign() {
		case 1:
			row.Wins++
			row.GrossProfit = row.GrossProfit.Add(s.pl)
		case -1:
			row.Losses++
			row.GrossLoss = row.GrossLoss.Add(s.pl.Neg())
		}
		if s.hasConf {
			confSum += s.conf
			row.ConfidenceSamples++
		}
		if s.hasDur {
			durSum += s.durationH
			row.DurationSamples++
		}
	}

	row.WinRate = float64(row.Wins) / float64(row.Trades)
	if row.Wins > 0 {
		row.AvgWinner = row.GrossProfit.Div(decimal.NewFromInt(int64(row.Wins)))
	}
	if row.Losses > 0 {
		row.AvgLoser = row.GrossLoss.Neg().Div(decimal.NewFromInt(int64(row.Losses)))
	}

	switch {
	case row.GrossLoss.IsZero() && row.GrossProfit.IsPositive():
		row.ProfitFactor = model.Ratio(math.Inf(1))
	case row.GrossLoss.IsPositive():
		row.ProfitFactor = model.Ratio(row.GrossProfit.Div(row.GrossLoss).InexactFloat64())
	}

	// E = p × R + (1 - p) × (-L)
	p := row.WinRate
	r := row.AvgWinner.InexactFloat64()
	l := row.AvgLoser.Abs().InexactFloat64()
	row.Expectancy = p*r + (1-p)*(-l)
	if den := r + l; den > 0 {
		row.BreakevenWinRate = l / den
	}

	if row.ConfidenceSamples > 0 {
		row.AvgConfidence = confSum / float64(row.ConfidenceSamples)
	}
	if row.DurationSamples > 0 {
		row.AvgDurationHours = durSum / float64(row.DurationSamples)
	}
	return row
}

// bucketIndex 返回置信度所在区间下标；区间左闭右开，最后一个区间右闭
// 返回: 不在任何区间内时返回 -1
func bucketIndex(edges []float64, v float64) int {
	n := len(edges)
	if n < 2 || math.IsNaN(v) || v < edges[0] || v > edges[n-1] {
		return -1
	}
	for i := 0; i < n-1; i++ {
		if v < edges[i+1] {
			return i
		}
	}
	return n - 2
}

// bucketLabel 区间标签，如 "50%-60%"
func bucketLabel(edges []float64, i int) string {
	return fmt.Sprintf("%s-%s", pct(edges[i]), pct(edges[i+1]))
}

func pct(v float64) string {
	return fmt.Sprintf("%g%%", math.Round(v*10000)/100)
}

// groupSamples 按维度分组，组按自然顺序排列
// 返回: 分组与被排除在置信度区间之外的样本数
func groupSamples(key model.GroupKey, samples []*sample, edges []float64) ([]*group, int) {
	byKey := make(map[string]*group)
	unbucketed := 0
	add := func(k string, order int, s *sample) {
		g, ok := byKey[k]
		if !ok {
			g = &group{key: k, order: order}
			byKey[k] = g
		}
		g.items = append(g.items, s)
	}

	for _, s := range samples {
		switch key {
		case model.GroupInstrument:
			add(model.DisplayPair(s.instrument), 0, s)
		case model.GroupHour:
			if s.timeKnown {
				h := s.at.UTC().Hour()
				add(fmt.Sprintf("%02d:00", h), h, s)
			}
		case model.GroupWeekday:
			if s.timeKnown {
				wd := s.at.UTC().Weekday()
				// 周一为第一天
				add(wd.String(), (int(wd)+6)%7, s)
			}
		case model.GroupConfidence:
			if !s.hasConf {
				continue
			}
			i := bucketIndex(edges, s.conf)
			if i < 0 {
				unbucketed++
				continue
			}
			add(bucketLabel(edges, i), i, s)
		}
	}

	out := make([]*group, 0, len(byKey))
	for _, g := range byKey {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b *group) int {
		if c := cmp.Compare(a.order, b.order); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})
	return out, unbucketed
}

// rankRows 按总盈亏选出最佳与最差的 n 组
// rows 已按自然顺序排列；稳定排序使并列时保持自然顺序
func rankRows(rows []model.StatsRow, n int) (best, worst []model.StatsRow) {
	best = slices.Clone(rows)
	slices.SortStableFunc(best, func(a, b model.StatsRow) int {
		return b.TotalPL.Cmp(a.TotalPL)
	})
	worst = slices.Clone(rows)
	slices.SortStableFunc(worst, func(a, b model.StatsRow) int {
		return a.TotalPL.Cmp(b.TotalPL)
	})
	return best[:min(n, len(best))], worst[:min(n, len(worst))]
}
