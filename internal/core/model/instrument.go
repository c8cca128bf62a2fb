package model

import "strings"

// CanonicalInstrument 将交易对统一为券商格式（如 EUR_USD）
// 日志使用 "EUR/USD"，账本使用 "EUR_USD"，两者在比较前都要经过此函数。
// 分隔符 / - 空格 统一替换为下划线，并转为大写。
func CanonicalInstrument(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '/', '-', ' ', '_':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

// SameInstrument 判断两个交易对表示是否指向同一品种
// 任意一方为空或为 UNKNOWN 时返回 false
func SameInstrument(a, b string) bool {
	ca := CanonicalInstrument(a)
	cb := CanonicalInstrument(b)
	if ca == "" || cb == "" || ca == UnknownPair || cb == UnknownPair {
		return false
	}
	return ca == cb
}

// DisplayPair 将券商格式转为日志格式（EUR_USD -> EUR/USD）
// 用于统一分组键，使两种来源的记录落入同一分组
func DisplayPair(s string) string {
	c := CanonicalInstrument(s)
	if c == "" {
		return UnknownPair
	}
	return strings.ReplaceAll(c, "_", "/")
}

func normalizeWord(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
