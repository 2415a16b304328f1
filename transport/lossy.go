package transport

import (
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// LossProfile 模拟网络条件：出站数据报按概率丢弃，或随机延迟后发出（延迟自然造成乱序）
type LossProfile struct {
	DropProb float64
	DelayMin time.Duration
	DelayMax time.Duration
}

// LossyConn 包装 net.PacketConn，在出站方向注入丢包与延迟；参数可在运行时修改
type LossyConn struct {
	net.PacketConn

	mu      sync.Mutex
	profile LossProfile
	rng     *rand.Rand

	dropped atomic.Int64
	delayed atomic.Int64
	closed  atomic.Bool
}

// NewLossyConn seed 固定时行为可复现
func NewLossyConn(inner net.PacketConn, p LossProfile, seed uint64) *LossyConn {
	return &LossyConn{
		PacketConn: inner,
		profile:    normalizeProfile(p),
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func normalizeProfile(p LossProfile) LossProfile {
	if p.DropProb < 0 {
		p.DropProb = 0
	}
	if p.DropProb > 1 {
		p.DropProb = 1
	}
	if p.DelayMin < 0 {
		p.DelayMin = 0
	}
	if p.DelayMax < p.DelayMin {
		p.DelayMax = p.DelayMin
	}
	return p
}

// SetProfile 运行时调整
func (l *LossyConn) SetProfile(p LossProfile) {
	l.mu.Lock()
	l.profile = normalizeProfile(p)
	l.mu.Unlock()
}

func (l *LossyConn) Profile() LossProfile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profile
}

// Dropped / Delayed 注入计数
func (l *LossyConn) Dropped() int64 { return l.dropped.Load() }
func (l *LossyConn) Delayed() int64 { return l.delayed.Load() }

func (l *LossyConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	l.mu.Lock()
	prof := l.profile
	drop := prof.DropProb > 0 && l.rng.Float64() < prof.DropProb
	var delay time.Duration
	if !drop && prof.DelayMax > 0 {
		delay = prof.DelayMin
		if span := prof.DelayMax - prof.DelayMin; span > 0 {
			delay += time.Duration(l.rng.Int64N(int64(span) + 1))
		}
	}
	l.mu.Unlock()

	if drop {
		// 对调用方表现为发送成功
		l.dropped.Add(1)
		return len(p), nil
	}
	if delay <= 0 {
		return l.PacketConn.WriteTo(p, addr)
	}
	l.delayed.Add(1)
	buf := append([]byte(nil), p...)
	time.AfterFunc(delay, func() {
		if l.closed.Load() {
			return
		}
		_, _ = l.PacketConn.WriteTo(buf, addr)
	})
	return len(p), nil
}

func (l *LossyConn) Close() error {
	l.closed.Store(true)
	return l.PacketConn.Close()
}
