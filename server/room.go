package server

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"arenasync/logging"
	"arenasync/replication"
	"arenasync/transport"
	"arenasync/wire"
	"arenasync/world"
)

// Transport 房间需要的传输能力，*transport.Endpoint 满足该接口
type Transport interface {
	replication.Sender
	Receive() []transport.Event
	SendStamped(peer world.PeerID, ch transport.Channel, m wire.Message, stamp uint32) error
	Disconnect(peer world.PeerID, reason wire.Reason) error
}

// Options 房间参数
type Options struct {
	TickRate int
	// Horizon 客户端最大预测跨度；目标 Tick 超前 2*Horizon 以上的输入被拒绝
	Horizon int
	// Threshold 增量压缩阈值 K
	Threshold int
	// MaxInputsPerTick 每个连接每 Tick 平均可接受的输入包数（含重发）
	MaxInputsPerTick int
	Bots             int
}

// Room 房间世界：权威状态维护在内存，单线程 Tick 推进
// 网络事件在 Tick 边界上批量取出，世界推进从不等待网络
type Room struct {
	ID string

	rules world.Rules
	world *world.World
	net   Transport
	repl  *replication.Manager

	peers    map[world.PeerID]*peerState
	maxAhead int

	// 以下字段可由管理接口在其它协程修改/读取
	maxInputsPerTick atomic.Int64
	appliedRate      int64
	tickSeq          atomic.Uint32
	peerCount        atomic.Int32

	metrics *RoomMetrics
}

// NewRoom 创建房间并生成机器人
func NewRoom(tr Transport, opts Options) *Room {
	if opts.Horizon <= 0 {
		opts.Horizon = 32
	}
	if opts.MaxInputsPerTick <= 0 {
		opts.MaxInputsPerTick = 16
	}
	r := &Room{
		ID:       uuid.NewString(),
		rules:    world.DefaultRules(opts.TickRate),
		world:    world.New(),
		net:      tr,
		repl:     replication.NewManager(tr, opts.Threshold),
		peers:    make(map[world.PeerID]*peerState),
		maxAhead: 2 * opts.Horizon,
		metrics:  &RoomMetrics{},
	}
	r.maxInputsPerTick.Store(int64(opts.MaxInputsPerTick))
	r.appliedRate = int64(opts.MaxInputsPerTick)
	r.spawnBots(opts.Bots)
	return r
}

func (r *Room) spawnBots(n int) {
	for i := 0; i < n; i++ {
		// 沿上方水平线均匀分布
		x := r.rules.Width / int32(n+1) * int32(i+1)
		r.rules.SpawnBot(r.world, world.Position{X: x, Y: r.rules.Height / 4})
	}
}

func (r *Room) Rules() world.Rules                { return r.rules }
func (r *Room) Metrics() *RoomMetrics             { return r.metrics }
func (r *Room) Replication() *replication.Manager { return r.repl }
func (r *Room) Tick() world.Tick                  { return world.Tick(r.tickSeq.Load()) }
func (r *Room) PeerCount() int                    { return int(r.peerCount.Load()) }
func (r *Room) Snapshot() world.WorldSnapshot     { return r.world.Snapshot() }
func (r *Room) MaxInputsPerTick() int             { return int(r.maxInputsPerTick.Load()) }
func (r *Room) SetMaxInputsPerTick(n int)         { r.maxInputsPerTick.Store(int64(max(n, 1))) }

// inputLimits 每秒速率与突发量；突发允许约 4 个 Tick 的积压
func (r *Room) inputLimits() (perSecond float64, burst int) {
	return float64(r.appliedRate) * float64(r.rules.TickRate), int(r.appliedRate) * 4
}

// Peers 已加入房间的连接，按 PeerID 升序
func (r *Room) Peers() []world.PeerID {
	out := make([]world.PeerID, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entity 某个连接的玩家实体
func (r *Room) Entity(peer world.PeerID) (world.EntityID, bool) {
	p, ok := r.peers[peer]
	if !ok {
		return 0, false
	}
	return p.Entity, true
}

// Join 为新连接生成玩家实体并开始复制（首个快照必为完整快照）
func (r *Room) Join(peer world.PeerID) world.EntityID {
	if p, ok := r.peers[peer]; ok {
		return p.Entity
	}
	entity := r.rules.SpawnPlayer(r.world, peer)
	perSecond, burst := r.inputLimits()
	r.peers[peer] = newPeerState(peer, entity, perSecond, burst)
	r.repl.AddPeer(peer)
	r.peerCount.Store(int32(len(r.peers)))
	r.metrics.IncJoined()
	logging.Log.Infow("peer joined", "peer", peer, "entity", entity, "tick", r.world.Tick())
	return entity
}

// Leave 移除连接及其玩家实体，释放该连接的全部状态
func (r *Room) Leave(peer world.PeerID, reason wire.Reason) {
	p, ok := r.peers[peer]
	if !ok {
		return
	}
	r.world.Despawn(p.Entity)
	delete(r.peers, peer)
	r.repl.RemovePeer(peer)
	r.peerCount.Store(int32(len(r.peers)))
	r.metrics.IncLeft()
	logging.Log.Infow("peer left", "peer", peer, "reason", reason.String(), "tick", r.world.Tick())
}

// BeginTick 取出本 Tick 之前到达的全部网络事件：连接变化、输入、确认与重同步请求
func (r *Room) BeginTick() {
	r.syncLimits()
	for _, ev := range r.net.Receive() {
		switch ev.Type {
		case transport.EventConnected:
			r.Join(ev.Peer)
		case transport.EventDisconnected:
			r.Leave(ev.Peer, ev.Reason)
		case transport.EventMessage:
			r.onMessage(ev.Peer, ev.Message)
		}
	}
}

// syncLimits 管理接口修改了输入限流后，同步到各连接的限流器
func (r *Room) syncLimits() {
	cur := r.maxInputsPerTick.Load()
	if cur == r.appliedRate {
		return
	}
	r.appliedRate = cur
	perSecond, burst := r.inputLimits()
	for _, p := range r.peers {
		p.limiter.SetLimit(rate.Limit(perSecond))
		p.limiter.SetBurst(burst)
	}
}

func (r *Room) onMessage(peer world.PeerID, m wire.Message) {
	p, ok := r.peers[peer]
	if !ok {
		return
	}
	switch msg := m.(type) {
	case wire.InputPacket:
		r.OnInput(p, msg.Command())
	case wire.AckPacket:
		r.repl.OnAck(peer, msg)
	case wire.ResyncRequest:
		r.metrics.IncResyncRequest()
		logging.Log.Infow("resync requested", "peer", peer, "reason", msg.Reason.String(), "tick", r.world.Tick())
		r.repl.RequestFull(peer)
	default:
		logging.Log.Debugw("unexpected message", "peer", peer, "tag", m.Tag().String())
	}
}

// OnInput 入站输入（不立即改变世界），按目标 Tick 缓存，等对应的 Tick 处理
func (r *Room) OnInput(p *peerState, cmd world.InputCommand) {
	if cmd.PeerID != p.ID {
		r.metrics.IncSpoofed()
		return
	}
	if !p.limiter.Allow() {
		r.metrics.IncRateLimited()
		return
	}
	switch p.inputs.offer(cmd, r.world.Tick(), r.maxAhead) {
	case offerAccepted:
		r.metrics.IncAccepted()
	case offerLate:
		r.metrics.IncLate()
	case offerDuplicate:
		r.metrics.IncDuplicate()
	case offerOldSequence:
		r.metrics.IncOldSeqIgnored()
	case offerTooFarAhead:
		r.metrics.IncTooFarAhead()
	}
}

// ProcessInputs 取出即将模拟的 Tick 的输入，每个连接最多一条
func (r *Room) ProcessInputs() map[world.PeerID]world.Input {
	next := r.world.Tick() + 1
	inputs := make(map[world.PeerID]world.Input, len(r.peers))
	for id, p := range r.peers {
		if cmd, ok := p.inputs.take(next); ok {
			inputs[id] = cmd.Payload
			r.metrics.IncApplied()
		}
	}
	return inputs
}

// UpdateWorld 用本 Tick 的输入推进世界
func (r *Room) UpdateWorld(inputs map[world.PeerID]world.Input) {
	r.rules.Step(r.world, inputs)
	r.tickSeq.Store(uint32(r.world.Tick()))
}

// Broadcast 向每个连接复制当前世界状态，并确认收到的输入序列号
func (r *Room) Broadcast(ctx context.Context) {
	snap := r.world.Snapshot()
	if err := r.repl.Replicate(ctx, snap); err != nil {
		logging.Log.Warnw("replicate failed", "tick", snap.Tick, "err", err)
	}
	for id, p := range r.peers {
		seq := p.inputs.acked
		if seq == p.ackSent {
			continue
		}
		// 输入确认走可靠无序通道；客户端回显该序列号后停止重传
		ack := wire.AckPacket{AckedTick: snap.Tick, AckedSequence: seq}
		if err := r.net.SendStamped(id, transport.ReliableUnordered, ack, seq); err != nil {
			logging.Log.Debugw("input ack send failed", "peer", id, "seq", seq, "err", err)
			continue
		}
		p.ackSent = seq
	}
}

// Shutdown 通知所有连接服务端关闭
func (r *Room) Shutdown() {
	for _, id := range r.Peers() {
		_ = r.net.Disconnect(id, wire.ReasonShutdown)
	}
}
