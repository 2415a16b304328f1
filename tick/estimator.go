package tick

import (
	"time"

	"arenasync/world"
)

// Estimator 客户端对服务端当前 Tick 的估计：
// estimate = last_confirmed + round_trip_ticks，往返时间由输入确认的往返计时做指数滑动平均
type Estimator struct {
	interval time.Duration
	horizon  int

	srtt    time.Duration
	samples int
	sent    map[uint32]time.Time

	confirmed world.Tick
	lead      int
}

// NewEstimator interval 为 Tick 间隔，horizon 为最大预测跨度
func NewEstimator(interval time.Duration, horizon int) *Estimator {
	if horizon < 1 {
		horizon = 1
	}
	return &Estimator{
		interval: interval,
		horizon:  horizon,
		sent:     make(map[uint32]time.Time),
	}
}

// Sent 记录输入序列号的首次发送时间
func (e *Estimator) Sent(seq uint32, at time.Time) {
	if _, ok := e.sent[seq]; ok {
		return
	}
	e.sent[seq] = at
}

// Acked 输入被服务端确认，采样一次往返时间；seq 及更早的记录一并清除
func (e *Estimator) Acked(seq uint32, at time.Time) {
	if t0, ok := e.sent[seq]; ok {
		e.Observe(at.Sub(t0))
	}
	for s := range e.sent {
		if int32(s-seq) <= 0 {
			delete(e.sent, s)
		}
	}
}

// Observe 直接提供一个往返时间样本（alpha = 1/8）
func (e *Estimator) Observe(rtt time.Duration) {
	if rtt < 0 {
		return
	}
	e.samples++
	if e.samples == 1 {
		e.srtt = rtt
		return
	}
	e.srtt += (rtt - e.srtt) / 8
}

// RTT 平滑往返时间
func (e *Estimator) RTT() time.Duration { return e.srtt }

// RoundTripTicks 往返时间折算成 Tick（向上取整）
func (e *Estimator) RoundTripTicks() int {
	if e.interval <= 0 || e.srtt <= 0 {
		return 0
	}
	return int((e.srtt + e.interval - 1) / e.interval)
}

// Update 每收到一个快照重新估计；领先量被限制在 [0, horizon]
func (e *Estimator) Update(confirmed world.Tick) world.Tick {
	e.confirmed = confirmed
	lead := e.RoundTripTicks() + 1
	if lead > e.horizon {
		lead = e.horizon
	}
	e.lead = lead
	return e.Estimate()
}

// Estimate 当前对服务端 Tick 的估计，也是客户端预测应到达的 Tick
func (e *Estimator) Estimate() world.Tick {
	return e.confirmed + world.Tick(e.lead)
}

// Lead 估计领先 confirmed 的 Tick 数
func (e *Estimator) Lead() int { return e.lead }

// Interval 按预测 Tick 与目标的偏差微调本地 Tick 间隔：
// 超前则放慢，落后则加快，每个 Tick 偏差 2.5%，最多 ±10%
func (e *Estimator) Interval(predicted world.Tick) time.Duration {
	diff := int(int32(predicted - e.Estimate()))
	if diff > 4 {
		diff = 4
	}
	if diff < -4 {
		diff = -4
	}
	return e.interval + e.interval*time.Duration(diff)/40
}
