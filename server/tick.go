package server

import (
	"context"
	"errors"
	"time"

	"arenasync/logging"
	"arenasync/tick"
	"arenasync/world"
)

// Step 推进一个权威 Tick
// 核心循环：取网络事件 → 处理输入 → 更新世界 → 广播结果
func (r *Room) Step(ctx context.Context) world.Tick {
	start := time.Now()
	r.BeginTick()
	r.UpdateWorld(r.ProcessInputs())
	r.Broadcast(ctx)
	r.metrics.AddTick(time.Since(start).Nanoseconds())
	return r.world.Tick()
}

// Run 按固定频率推进房间，直到 ctx 取消；退出前通知所有连接
func (r *Room) Run(ctx context.Context) error {
	clock := tick.NewClock(r.rules.TickRate)
	logging.Log.Infow("room running", "room", r.ID, "tick_rate", clock.Rate(), "interval", clock.Interval())
	err := clock.Run(ctx, r.world.Tick(), func(t world.Tick) {
		if got := r.Step(ctx); got != t {
			logging.Log.Warnw("room tick out of step with clock", "room", r.ID, "tick", got, "clock", t)
		}
	})
	r.Shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
