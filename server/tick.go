package server

import (
	"context"
	"time"
)

// Run 启动世界的 Tick 循环（单线程推进世界），直到 ctx 取消。
// 下一 Tick 只在上一 Tick 的广播完成后开始；间隔按 max(0, 周期 - 上次耗时) 自我校正，
// 所以 deltaTime 取实测的两次 Tick 间隔而不是常数
func (w *World) Run(ctx context.Context, tickRate int, statsEvery time.Duration) {
	defer close(w.done)

	period := time.Second / time.Duration(tickRate)
	timer := time.NewTimer(0)
	defer timer.Stop()

	prev := time.Now()
	lastStats := prev
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		dt := start.Sub(prev).Seconds()
		prev = start

		w.Tick(dt)

		elapsed := time.Since(start)
		w.metrics.AddTick(elapsed)
		if elapsed > period {
			Log.Debugw("tick overrun", "tick", w.tickSeq, "elapsed", elapsed, "period", period)
		}
		if statsEvery > 0 && start.Sub(lastStats) >= statsEvery {
			lastStats = start
			Log.Infow("stats", "tick", w.tickSeq, "metrics", w.metrics.Snapshot())
		}

		timer.Reset(max(0, period-elapsed))
	}
}
