// Package fastparse 提供日志与账本字段的数值解析函数。
// 日志中的数字可能带千分位逗号或货币符号，账本中的数字均为字符串。
// 解析失败时返回零值与 false，由调用方决定是否保留默认值。
package fastparse

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// cleanNumber 去除千分位逗号、货币符号和空白
func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if !strings.ContainsAny(s, ",$ ") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ',', '$', ' ':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseDecimal 解析十进制数字符串
// 参数 s: 如 "1.15200"、"5,000"、"-$150.00"
// 返回: 解析结果与是否成功
func ParseDecimal(s string) (decimal.Decimal, bool) {
	s = cleanNumber(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// MustDecimal 解析十进制数，失败时返回 0
// 用于账本字段：缺失或格式错误均视为 0
func MustDecimal(s string) decimal.Decimal {
	d, _ := ParseDecimal(s)
	return d
}

// ParseNonNegativeDecimal 解析非负十进制数（价格、比率）
// 负数视为格式错误
func ParseNonNegativeDecimal(s string) (decimal.Decimal, bool) {
	d, ok := ParseDecimal(s)
	if !ok || d.Sign() < 0 {
		return decimal.Zero, false
	}
	return d, true
}

// ParsePercent 将百分比文本转换为 0-1 之间的小数
// 参数 s: 如 "72"、"72.5"、"72%"
// 返回: 小数值与是否成功；超出 0-100 视为失败
func ParsePercent(s string) (float64, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v / 100, true
}
