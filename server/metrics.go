package server

import (
	"sync/atomic"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	TickCount      int64 // 统计的 Tick 次数
	InputsAccepted int64 // 按目标 Tick 缓存的输入数
	InputsLate     int64 // 迟到、改在当前 Tick 应用的输入数
	InputsApplied  int64 // 实际应用到世界的输入数
	RateLimited    int64 // 因限流被拒绝的输入数
	OldSeqIgnored  int64 // 因旧序列被忽略的输入数
	Duplicates     int64 // 重复（重发）的输入数
	TooFarAhead    int64 // 目标 Tick 超出预测跨度的输入数
	Spoofed        int64 // PeerID 与连接不符的输入数
	ResyncRequests int64 // 客户端请求的完整快照次数
	PeersJoined    int64
	PeersLeft      int64
	TotalTickNs    int64 // Tick 累计耗时（纳秒）
}

func (m *RoomMetrics) IncAccepted()      { atomic.AddInt64(&m.InputsAccepted, 1) }
func (m *RoomMetrics) IncLate()          { atomic.AddInt64(&m.InputsLate, 1) }
func (m *RoomMetrics) IncApplied()       { atomic.AddInt64(&m.InputsApplied, 1) }
func (m *RoomMetrics) IncRateLimited()   { atomic.AddInt64(&m.RateLimited, 1) }
func (m *RoomMetrics) IncOldSeqIgnored() { atomic.AddInt64(&m.OldSeqIgnored, 1) }
func (m *RoomMetrics) IncDuplicate()     { atomic.AddInt64(&m.Duplicates, 1) }
func (m *RoomMetrics) IncTooFarAhead()   { atomic.AddInt64(&m.TooFarAhead, 1) }
func (m *RoomMetrics) IncSpoofed()       { atomic.AddInt64(&m.Spoofed, 1) }
func (m *RoomMetrics) IncResyncRequest() { atomic.AddInt64(&m.ResyncRequests, 1) }
func (m *RoomMetrics) IncJoined()        { atomic.AddInt64(&m.PeersJoined, 1) }
func (m *RoomMetrics) IncLeft()          { atomic.AddInt64(&m.PeersLeft, 1) }
func (m *RoomMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":      tick,
		"inputs_accepted": atomic.LoadInt64(&m.InputsAccepted),
		"inputs_late":     atomic.LoadInt64(&m.InputsLate),
		"inputs_applied":  atomic.LoadInt64(&m.InputsApplied),
		"rate_limited":    atomic.LoadInt64(&m.RateLimited),
		"old_seq_ignored": atomic.LoadInt64(&m.OldSeqIgnored),
		"duplicates":      atomic.LoadInt64(&m.Duplicates),
		"too_far_ahead":   atomic.LoadInt64(&m.TooFarAhead),
		"spoofed":         atomic.LoadInt64(&m.Spoofed),
		"resync_requests": atomic.LoadInt64(&m.ResyncRequests),
		"peers_joined":    atomic.LoadInt64(&m.PeersJoined),
		"peers_left":      atomic.LoadInt64(&m.PeersLeft),
		"avg_tick_ms":     avgMs,
	}
}
