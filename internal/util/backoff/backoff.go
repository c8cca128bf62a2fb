// Package backoff 实现指数退避重试机制。
// 用于日志流断线重连与账本 API 的失败重试。
// 默认基础间隔 1s，最大间隔 30s，抖动 ±20%
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Backoff 指数退避计算器
// 每次调用 Next() 返回下一次重试的等待时间
// 等待时间按指数增长，直到达到最大值
type Backoff struct {
	// base 基础等待时间
	base time.Duration
	// max 最大等待时间
	max time.Duration
	// jitter 抖动比例（0-1），例如 0.2 表示 ±20%
	jitter float64
	// attempt 当前重试次数
	attempt int
}

// New 创建新的退避计算器
// 参数 base: 基础等待时间（建议 1s）
// 参数 max: 最大等待时间（建议 30s）
// 参数 jitter: 抖动比例（建议 0.2，即 ±20%）
func New(base, max time.Duration, jitter float64) *Backoff {
	return &Backoff{base: base, max: max, jitter: jitter}
}

// NewDefault 创建默认配置的退避计算器
// 基础间隔 1s，最大间隔 30s，抖动 ±20%
func NewDefault() *Backoff {
	return New(time.Second, 30*time.Second, 0.2)
}

// Next 返回下一次等待时间并推进重试次数
// 等待时间为 min(base*2^attempt, max)，再乘以 [1-jitter, 1+jitter] 内的随机系数
func (b *Backoff) Next() time.Duration {
	delay := b.max
	// 重试 30 次以上直接取上限；位移溢出时同样取上限
	if b.attempt < 30 {
		if d := b.base << b.attempt; d > 0 && d>>b.attempt == b.base {
			delay = min(d, b.max)
		}
	}
	b.attempt++

	if b.jitter <= 0 {
		return delay
	}
	return time.Duration(float64(delay) * (1 + (rand.Float64()*2-1)*b.jitter))
}

// Reset 重置退避计算器
// 在连接成功后调用，重置重试次数
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 获取当前重试次数
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Wait 按下一次退避时间等待
// 参数 ctx: 上下文，取消时立即返回
// 返回: 上下文被取消时返回 ctx.Err()
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry 以退避间隔重复执行 fn，直到成功、不可重试或达到最大次数
// 参数 maxAttempts: 最大尝试次数（含首次），<=0 表示只执行一次
// 参数 retryable: 判断错误是否可重试；为 nil 时所有错误均重试
// 返回: 最后一次 fn 的错误，或上下文取消错误
func (b *Backoff) Retry(ctx context.Context, maxAttempts int, retryable func(error) bool, fn func(context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var err error
	for i := 0; i < maxAttempts; i++ {
		if err = fn(ctx); err == nil {
			b.Reset()
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if i == maxAttempts-1 {
			break
		}
		if werr := b.Wait(ctx); werr != nil {
			return werr
		}
	}
	return err
}
