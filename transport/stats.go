package transport

import "sync/atomic"

// Stats 传输层计数器（原子更新，供 /metrics 输出）
type Stats struct {
	PacketsIn     int64
	PacketsOut    int64
	BytesIn       int64
	BytesOut      int64
	Retransmits   int64
	Malformed     int64
	DecodeErrors  int64
	StaleDropped  int64
	Timeouts      int64
	Denied        int64
	ConnectsLimit int64
}

func (s *Stats) addIn(n int) {
	atomic.AddInt64(&s.PacketsIn, 1)
	atomic.AddInt64(&s.BytesIn, int64(n))
}

func (s *Stats) addOut(n int) {
	atomic.AddInt64(&s.PacketsOut, 1)
	atomic.AddInt64(&s.BytesOut, int64(n))
}

func (s *Stats) inc(field *int64) { atomic.AddInt64(field, 1) }

// Snapshot 返回只读副本，便于 HTTP 输出
func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"packets_in":       atomic.LoadInt64(&s.PacketsIn),
		"packets_out":      atomic.LoadInt64(&s.PacketsOut),
		"bytes_in":         atomic.LoadInt64(&s.BytesIn),
		"bytes_out":        atomic.LoadInt64(&s.BytesOut),
		"retransmits":      atomic.LoadInt64(&s.Retransmits),
		"malformed":        atomic.LoadInt64(&s.Malformed),
		"decode_errors":    atomic.LoadInt64(&s.DecodeErrors),
		"stale_dropped":    atomic.LoadInt64(&s.StaleDropped),
		"timeouts":         atomic.LoadInt64(&s.Timeouts),
		"denied":           atomic.LoadInt64(&s.Denied),
		"connects_limited": atomic.LoadInt64(&s.ConnectsLimit),
	}
}
