// Package timeutil 提供日志与账本时间戳的解析工具。
// 日志时间戳通常不带时区，按配置的时区解释；账本时间戳为 RFC3339。
package timeutil

import (
	"regexp"
	"strings"
	"time"
)

// logTimestampRe 匹配日志行中第一个时间戳
// 支持 "2024-06-01 08:15:27"、"2024-06-01T08:15:27.123Z"、"2024-06-01 08:15:27,123" 等形式
var logTimestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)

// 带时区的布局（按顺序尝试）
var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z0700",
}

// 无时区的布局（按 loc 解释）
var naiveLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// Clock 时间源，便于测试注入
type Clock func() time.Time

// SystemClock 返回当前 UTC 时间
func SystemClock() time.Time {
	return time.Now().UTC()
}

// FindLogTimestamp 从日志行中查找并解析第一个时间戳
// 参数 line: 日志行
// 参数 loc: 无时区时间戳所在时区；nil 表示 UTC
// 返回: 解析后的时间（UTC）与是否找到
func FindLogTimestamp(line string, loc *time.Location) (time.Time, bool) {
	raw := logTimestampRe.FindString(line)
	if raw == "" {
		return time.Time{}, false
	}
	return ParseTimestamp(raw, loc)
}

// ParseTimestamp 解析单个时间戳字符串
// 参数 s: 时间戳文本，可带或不带时区
// 参数 loc: 无时区时间戳所在时区；nil 表示 UTC
// 返回: 解析后的时间（UTC）与是否成功
func ParseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	// 逗号毫秒分隔符（Python logging 默认格式）
	s = strings.Replace(s, ",", ".", 1)
	if loc == nil {
		loc = time.UTC
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// AbsDuration 返回时长的绝对值
func AbsDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// LoadLocation 加载时区，空字符串返回 UTC
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// Window 查询时间窗口 [From, To]
type Window struct {
	From time.Time
	To   time.Time
}

// WindowBack 以 now 为终点、向前 d 的时间窗口
func WindowBack(now time.Time, d time.Duration) Window {
	return Window{From: now.Add(-d), To: now}
}

// Contains 时间点是否位于窗口内；零值窗口边界视为不限
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}
