package replication

import (
	"context"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"arenasync/logging"
	"arenasync/transport"
	"arenasync/wire"
	"arenasync/world"
)

// DefaultThreshold 基准快照最多落后的 Tick 数（K），超过则强制完整快照
const DefaultThreshold = 64

// Sender 复制所需的传输能力
type Sender interface {
	Send(peer world.PeerID, ch transport.Channel, m wire.Message) error
	Prune(peer world.PeerID, upTo uint32) int
}

// AckRecord 对端确认进度；只在复制管理器的 Tick 边界上修改
type AckRecord struct {
	LastAckedTick     world.Tick
	LastAckedSequence uint32
	HasTick           bool
}

// peerView 单个对端的复制视图，不与其它对端共享
type peerView struct {
	ack AckRecord
	// resync 为真时必须发送完整快照，直到对端确认了不早于 resyncTick 的快照
	resync     bool
	resyncTick world.Tick
}

// Stats 汇总计数
type Stats struct {
	FullSent   int64
	DeltaSent  int64
	AcksStale  int64
	Resyncs    int64
	SendErrors int64
}

// Manager 服务端复制管理器：维护快照历史与每个对端的确认记录，决定发送完整快照还是增量
type Manager struct {
	sender    Sender
	threshold atomic.Int64
	history   *world.History
	peers     map[world.PeerID]*peerView

	fullSent   atomic.Int64
	deltaSent  atomic.Int64
	sendErrors atomic.Int64
	acksStale  atomic.Int64
	resyncs    atomic.Int64
}

// NewManager k 为压缩阈值（基准最多落后的 Tick 数）
func NewManager(sender Sender, k int) *Manager {
	if k <= 0 {
		k = DefaultThreshold
	}
	m := &Manager{
		sender:  sender,
		history: world.NewHistory(k + 1),
		peers:   make(map[world.PeerID]*peerView),
	}
	m.threshold.Store(int64(k))
	return m
}

// Threshold 当前压缩阈值
func (m *Manager) Threshold() int { return int(m.threshold.Load()) }

// SetThreshold 运行时调整 K；不超过历史容量
func (m *Manager) SetThreshold(k int) {
	if k <= 0 {
		return
	}
	if k > m.history.Cap()-1 {
		k = m.history.Cap() - 1
	}
	m.threshold.Store(int64(k))
}

// AddPeer 新对端没有基准，第一次复制必定是完整快照
func (m *Manager) AddPeer(peer world.PeerID) {
	m.peers[peer] = &peerView{}
}

// RemovePeer 释放对端的全部复制状态
func (m *Manager) RemovePeer(peer world.PeerID) {
	delete(m.peers, peer)
}

// Peers 已登记的对端（升序）
func (m *Manager) Peers() []world.PeerID {
	out := make([]world.PeerID, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Ack 对端当前的确认记录
func (m *Manager) Ack(peer world.PeerID) (AckRecord, bool) {
	v, ok := m.peers[peer]
	if !ok {
		return AckRecord{}, false
	}
	return v.ack, true
}

// OnAck 处理客户端的确认：last_acked_tick 与 last_acked_sequence 只前进不后退
// 序列号前进时通知传输层丢弃已被取代的可靠确认
func (m *Manager) OnAck(peer world.PeerID, ack wire.AckPacket) bool {
	v, ok := m.peers[peer]
	if !ok {
		return false
	}
	advanced := false
	if latest, ok := m.history.Latest(); ok && ack.AckedTick <= latest.Tick {
		if !v.ack.HasTick || ack.AckedTick > v.ack.LastAckedTick {
			v.ack.LastAckedTick = ack.AckedTick
			v.ack.HasTick = true
			advanced = true
			if v.resync && v.resyncTick != 0 && ack.AckedTick >= v.resyncTick {
				v.resync = false
			}
		}
	}
	if !advanced {
		m.acksStale.Add(1)
	}
	if int32(ack.AckedSequence-v.ack.LastAckedSequence) > 0 {
		v.ack.LastAckedSequence = ack.AckedSequence
		m.sender.Prune(peer, ack.AckedSequence)
	}
	return advanced
}

// RequestFull 对端请求硬重同步：下一次起发送完整快照，直到对端确认
func (m *Manager) RequestFull(peer world.PeerID) {
	v, ok := m.peers[peer]
	if !ok {
		return
	}
	if !v.resync {
		m.resyncs.Add(1)
	}
	v.resync = true
	v.resyncTick = 0
}

// Record 记录当前权威快照；Replicate 会自动调用
func (m *Manager) Record(s world.WorldSnapshot) {
	m.history.Put(s)
}

// Plan 计算发给某个对端的快照（完整或增量）
func (m *Manager) Plan(peer world.PeerID, current world.WorldSnapshot) (world.Delta, bool) {
	v, ok := m.peers[peer]
	if !ok {
		return world.Delta{}, false
	}
	return m.plan(v, current), true
}

func (m *Manager) plan(v *peerView, current world.WorldSnapshot) world.Delta {
	if v.resync || !v.ack.HasTick {
		return world.Full(current)
	}
	if int64(current.Tick-v.ack.LastAckedTick) > m.threshold.Load() {
		return world.Full(current)
	}
	base, ok := m.history.Get(v.ack.LastAckedTick)
	if !ok {
		return world.Full(current)
	}
	return world.Diff(base, current)
}

// Replicate 记录快照并向每个对端发送完整快照或增量（不可靠通道）
// 各对端的视图互不共享，因此可以并行计算
func (m *Manager) Replicate(ctx context.Context, current world.WorldSnapshot) error {
	m.history.Put(current)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for peer, v := range m.peers {
		g.Go(func() error {
			d := m.plan(v, current)
			if d.Full && v.resync && v.resyncTick == 0 {
				v.resyncTick = current.Tick
			}
			if err := m.sender.Send(peer, transport.Unreliable, wire.NewSnapshotPacket(d)); err != nil {
				m.sendErrors.Add(1)
				logging.Log.Debugw("snapshot send failed", "peer", peer, "tick", current.Tick, "err", err)
				return nil
			}
			if d.Full {
				m.fullSent.Add(1)
			} else {
				m.deltaSent.Add(1)
			}
			return nil
		})
	}
	return g.Wait()
}

// Stats 汇总计数，可在其它协程读取
func (m *Manager) Stats() Stats {
	return Stats{
		FullSent:   m.fullSent.Load(),
		DeltaSent:  m.deltaSent.Load(),
		AcksStale:  m.acksStale.Load(),
		Resyncs:    m.resyncs.Load(),
		SendErrors: m.sendErrors.Load(),
	}
}
