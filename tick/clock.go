package tick

import (
	"context"
	"time"

	"arenasync/logging"
	"arenasync/world"
)

// maxCatchUp 单次唤醒最多补跑的 Tick 数，落后更多时直接跳过，避免雪崩
const maxCatchUp = 5

// Clock 服务端固定步长时钟：以固定墙钟间隔驱动 Tick
type Clock struct {
	rate     int
	interval time.Duration
	start    time.Time
	base     world.Tick
	now      func() time.Time
}

// NewClock rate 为每秒 Tick 数
func NewClock(rate int) *Clock {
	if rate <= 0 {
		rate = 60
	}
	return &Clock{
		rate:     rate,
		interval: time.Second / time.Duration(rate),
		now:      time.Now,
	}
}

// Rate 每秒 Tick 数
func (c *Clock) Rate() int { return c.rate }

// Interval 单个 Tick 的墙钟时长
func (c *Clock) Interval() time.Duration { return c.interval }

// TickAt 把墙钟时间映射为 Tick 编号（Run 开始之前返回 base）
func (c *Clock) TickAt(t time.Time) world.Tick {
	if c.start.IsZero() || t.Before(c.start) {
		return c.base
	}
	return c.base + world.Tick(t.Sub(c.start)/c.interval)
}

// Run 从 first 开始按固定间隔调用 fn，直到 ctx 取消
// 调度延迟时补跑落后的 Tick（每次唤醒最多 maxCatchUp 个），保证 Tick 与墙钟对齐
func (c *Clock) Run(ctx context.Context, first world.Tick, fn func(world.Tick)) error {
	c.base = first
	c.start = c.now()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	next := first + 1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		due := c.TickAt(c.now())
		if due < next {
			continue
		}
		if behind := due - next + 1; behind > maxCatchUp {
			skipped := behind - maxCatchUp
			logging.Log.Warnw("tick loop falling behind, skipping", "skipped", skipped, "tick", next)
			c.base += skipped
			due -= skipped
		}
		for ; next <= due; next++ {
			fn(next)
		}
	}
}
