package perf

import (
	"fmt"
	"math"

	"intent-ledger-reconciler/internal/core/model"
)

// 相关性强度标签
const (
	StrengthStrongPositive   = "STRONG POSITIVE"
	StrengthModeratePositive = "MODERATE POSITIVE"
	StrengthWeak             = "WEAK/NO"
	StrengthNegative         = "NEGATIVE"
	StrengthInsufficient     = "INSUFFICIENT DATA"
)

// correlate 置信度与胜负（盈亏 > 0）的点二列相关系数
// r = (M1 - M0) / s × sqrt(p × q)，s 为置信度的总体标准差
func correlate(samples []*sample) model.Correlation {
	var n, wins int
	var sum, sumWin float64
	distinct := make(map[float64]struct{})
	for _, s := range samples {
		if !s.hasConf {
			continue
		}
		n++
		sum += s.conf
		distinct[s.conf] = struct{}{}
		if s.win() {
			wins++
			sumWin += s.conf
		}
	}

	out := model.Correlation{Samples: n, Strength: StrengthInsufficient}
	switch {
	case len(distinct) < 2:
		out.Note = fmt.Sprintf("数据不足: 不同置信度取值少于 2 个（%d 个样本）", n)
		return out
	case wins == 0 || wins == n:
		out.Note = "数据不足: 胜负结果没有变化"
		return out
	}

	mean := sum / float64(n)
	var ss float64
	for _, s := range samples {
		if s.hasConf {
			d := s.conf - mean
			ss += d * d
		}
	}
	sd := math.Sqrt(ss / float64(n))
	if sd == 0 {
		out.Note = "数据不足: 置信度没有离散度"
		return out
	}

	losses := n - wins
	m1 := sumWin / float64(wins)
	m0 := (sum - sumWin) / float64(losses)
	p := float64(wins) / float64(n)
	r := (m1 - m0) / sd * math.Sqrt(p*(1-p))
	// 浮点误差可能使 |r| 略大于 1
	r = math.Max(-1, math.Min(1, r))

	out.Coefficient = r
	out.Sufficient = true
	out.Strength = strengthLabel(r)
	return out
}

// strengthLabel 相关系数强度分级
func strengthLabel(r float64) string {
	switch {
	case r > 0.3:
		return StrengthStrongPositive
	case r > 0.1:
		return StrengthModeratePositive
	case r > -0.1:
		return StrengthWeak
	default:
		return StrengthNegative
	}
}

// recommendThreshold 在胜率高于下限的置信度区间中，取平均置信度最小者作为建议阈值
func recommendThreshold(rows []model.StatsRow, floor float64) model.ThresholdRecommendation {
	out := model.ThresholdRecommendation{WinRateFloor: floor, Heuristic: true}
	for _, r := range rows {
		if r.Trades == 0 || r.ConfidenceSamples == 0 || r.WinRate <= floor {
			continue
		}
		if !out.Found || r.AvgConfidence < out.MinConfidence {
			out.Found = true
			out.MinConfidence = r.AvgConfidence
		}
	}
	if out.Found {
		out.Note = fmt.Sprintf("启发式: 置信度 >= %.1f%% 的区间胜率高于 %.0f%%，样本量小时不具统计意义",
			out.MinConfidence*100, floor*100)
	} else {
		out.Note = fmt.Sprintf("启发式: 没有置信度区间的胜率高于 %.0f%%", floor*100)
	}
	return out
}
