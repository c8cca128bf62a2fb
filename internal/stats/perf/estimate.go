package perf

import (
	"time"

	"github.com/shopspring/decimal"

	"intent-ledger-reconciler/internal/core/model"
)

// pairPrior 各交易对的置信度先验修正
var pairPrior = map[string]float64{
	"USD_CAD": 0.15,
	"USD_CHF": 0.12,
	"GBP_USD": 0.05,
	"EUR_USD": 0.02,
	"AUD_USD": -0.05,
	"NZD_USD": -0.08,
	"USD_JPY": 0.08,
}

// 估算范围
const (
	estimateBase = 0.6
	estimateMin  = 0.45
	estimateMax  = 0.95
)

var (
	units5k  = decimal.NewFromInt(5000)
	units10k = decimal.NewFromInt(10000)
	units15k = decimal.NewFromInt(15000)
)

// EstimateConfidence 按交易对、仓位与时段估算置信度
// 只使用下单前可知的信息，不使用交易结果，也没有随机成分
// 参数 instrument: 交易对，任意分隔符
// 参数 units: 仓位（带符号）
// 参数 at: 下单时间；零值时不做时段修正
func EstimateConfidence(instrument string, units decimal.Decimal, at time.Time) float64 {
	c := estimateBase + pairPrior[model.CanonicalInstrument(instrument)]

	switch u := units.Abs(); {
	case u.GreaterThan(units15k):
		c += 0.08
	case u.GreaterThan(units10k):
		c += 0.05
	case u.IsPositive() && u.LessThan(units5k):
		c -= 0.03
	}

	if !at.IsZero() {
		// 伦敦与纽约重叠时段加分，亚洲时段减分
		switch h := at.UTC().Hour(); {
		case h >= 13 && h <= 17:
			c += 0.06
		case h >= 22 || h <= 6:
			c -= 0.04
		}
	}
	return min(max(c, estimateMin), estimateMax)
}
