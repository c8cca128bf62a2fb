// Package perf 由对账结果或账本记录计算绩效报告。
//
// 单笔期望沿用 EV 公式：E = p × R + (1 - p) × (-L)，盈亏平衡胜率 p* = L / (R + L)，
// 其中 R 为平均盈利、L 为平均亏损的绝对值。
// 所有比率在空集合上为 0，不会出现 NaN；无亏损时盈亏比为 +Inf。
package perf

import (
	"errors"
	"fmt"
	"strings"

	"intent-ledger-reconciler/internal/core/model"
)

var (
	// ErrUnknownGroupKey 分组维度不受支持
	ErrUnknownGroupKey = errors.New("未知的分组维度")
	// ErrBucketsNotAscending 置信度区间边界不是严格递增的 [0,1] 序列
	ErrBucketsNotAscending = errors.New("置信度区间边界必须严格递增且位于 [0,1]")
	// ErrInvalidFloor 胜率下限或 TopN 无效
	ErrInvalidFloor = errors.New("阈值参数无效")
)

// Options 统计参数
type Options struct {
	// GroupBy 分组维度
	GroupBy []model.GroupKey
	// Buckets 置信度区间边界；区间左闭右开，最后一个区间右闭
	Buckets []float64
	// WinRateFloor 阈值建议使用的胜率下限
	WinRateFloor float64
	// TopN 最佳/最差分组数量
	TopN int
	// EstimateMissing 为缺失置信度的记录估算置信度
	EstimateMissing bool
	// IncludeEstimated 估算值是否参与置信度分组与相关性
	IncludeEstimated bool
	// DelayWindow 延迟分位数的滚动窗口大小
	DelayWindow int
}

// DefaultOptions 默认统计参数
func DefaultOptions() Options {
	return Options{
		GroupBy:      append([]model.GroupKey(nil), model.AllGroupKeys...),
		Buckets:      []float64{0.5, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1.0},
		WinRateFloor: 0.15,
		TopN:         3,
		DelayWindow:  10000,
	}
}

// ParseGroupKeys 解析配置中的分组维度名称
// 大小写不敏感，重复项只保留第一次出现
func ParseGroupKeys(names []string) ([]model.GroupKey, error) {
	out := make([]model.GroupKey, 0, len(names))
	seen := make(map[model.GroupKey]bool, len(names))
	for _, n := range names {
		k := model.GroupKey(strings.ToLower(strings.TrimSpace(n)))
		if !isGroupKey(k) {
			return nil, fmt.Errorf("%w: '%s'", ErrUnknownGroupKey, n)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out, nil
}

func isGroupKey(k model.GroupKey) bool {
	for _, g := range model.AllGroupKeys {
		if g == k {
			return true
		}
	}
	return false
}

// Validate 验证统计参数
func (o Options) Validate() error {
	for _, k := range o.GroupBy {
		if !isGroupKey(k) {
			return fmt.Errorf("%w: '%s'", ErrUnknownGroupKey, k)
		}
	}
	if len(o.Buckets) < 2 {
		return fmt.Errorf("%w: 至少需要两个边界", ErrBucketsNotAscending)
	}
	for i, v := range o.Buckets {
		if v < 0 || v > 1 || (i > 0 && v <= o.Buckets[i-1]) {
			return fmt.Errorf("%w: %v", ErrBucketsNotAscending, o.Buckets)
		}
	}
	if o.WinRateFloor < 0 || o.WinRateFloor > 1 {
		return fmt.Errorf("%w: 胜率下限 %v 不在 [0,1]", ErrInvalidFloor, o.WinRateFloor)
	}
	if o.TopN <= 0 {
		return fmt.Errorf("%w: top_n 必须为正数", ErrInvalidFloor)
	}
	return nil
}
