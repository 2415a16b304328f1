package prediction

import (
	"arenasync/logging"
	"arenasync/wire"
	"arenasync/world"
)

// State 引擎状态
type State uint8

const (
	AwaitingFirstSnapshot State = iota
	Predicting
)

func (s State) String() string {
	switch s {
	case AwaitingFirstSnapshot:
		return "awaiting_first_snapshot"
	case Predicting:
		return "predicting"
	default:
		return "unknown"
	}
}

// DefaultHorizon 默认最大预测跨度（Tick）
const DefaultHorizon = 32

// Config 引擎参数
type Config struct {
	Peer  world.PeerID
	Rules world.Rules
	// Horizon 输入缓冲上限；预测领先确认状态超过 2*Horizon 时暂停推进
	Horizon int
	// Baselines 保留的已确认快照数量，作为增量的基准；应不小于服务端的 K+1
	Baselines int
}

// Result 一次快照处理的结果
type Result struct {
	Tick     world.Tick
	Full     bool
	Stale    bool
	Replayed int
	// Corrected 权威状态与本地当时的预测不一致（正常现象，重放会修正）
	Corrected bool
}

// Stats 计数
type Stats struct {
	Snapshots   int64
	Stale       int64
	Corrections int64
	Replayed    int64
	Dropped     int64
	Held        int64
	Resyncs     int64
	Desyncs     int64
}

// Engine 客户端预测与和解：在最近确认的服务端状态之上重放本地输入
type Engine struct {
	cfg   Config
	state State

	queue     *InputQueue
	confirmed world.WorldSnapshot
	bases     *world.History
	predicted *world.World
	// hashes 本地对每个预测 Tick 的状态哈希，用于和权威状态比较
	hashes map[world.Tick]uint64

	// stalled 当前停滞期内已经请求过重同步
	stalled bool
	// resyncOutstanding 已请求完整快照、尚未收到
	resyncOutstanding bool
	resyncPending     bool
	resyncReason      wire.Reason

	stats Stats
}

// NewEngine 创建引擎，初始状态为 AwaitingFirstSnapshot
func NewEngine(cfg Config) *Engine {
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultHorizon
	}
	if cfg.Baselines <= 0 {
		cfg.Baselines = 128
	}
	return &Engine{
		cfg:    cfg,
		queue:  NewInputQueue(cfg.Peer, cfg.Horizon),
		bases:  world.NewHistory(cfg.Baselines),
		hashes: make(map[world.Tick]uint64),
	}
}

func (e *Engine) State() State { return e.state }

func (e *Engine) Queue() *InputQueue { return e.queue }

func (e *Engine) Stats() Stats { return e.stats }

// Confirmed 最近一次应用的权威快照
func (e *Engine) Confirmed() world.WorldSnapshot { return e.confirmed }

// PredictedTick 预测状态所在的 Tick
func (e *Engine) PredictedTick() world.Tick {
	if e.predicted == nil {
		return e.confirmed.Tick
	}
	return e.predicted.Tick()
}

// Predicted 预测状态的快照，交给表现层
func (e *Engine) Predicted() world.WorldSnapshot {
	if e.predicted == nil {
		return e.confirmed.Clone()
	}
	return e.predicted.Snapshot()
}

// OnSnapshot 处理一个权威快照：
// 丢弃 Tick <= T 的缓冲输入，确认状态 = 快照，再按 Tick 升序重放剩余输入得到新的预测状态
func (e *Engine) OnSnapshot(pkt wire.SnapshotPacket) (Result, error) {
	res := Result{Tick: pkt.Tick, Full: pkt.IsFull}
	if e.state == Predicting && pkt.Tick <= e.confirmed.Tick {
		// 确认状态的 Tick 不回退
		res.Stale = true
		e.stats.Stale++
		return res, nil
	}

	var base world.WorldSnapshot
	if !pkt.IsFull {
		b, ok := e.bases.Get(pkt.BaseTick)
		if !ok {
			e.stats.Desyncs++
			e.requestResync(wire.ReasonDesync)
			return res, &DesyncError{Tick: pkt.Tick, BaseTick: pkt.BaseTick}
		}
		base = b
	}
	snap, err := world.Apply(base, pkt.Delta())
	if err != nil {
		e.stats.Desyncs++
		e.requestResync(wire.ReasonDesync)
		return res, &DesyncError{Tick: pkt.Tick, BaseTick: pkt.BaseTick, Err: err}
	}
	if pkt.IsFull {
		e.resyncOutstanding = false
	}
	e.stats.Snapshots++
	e.bases.Put(snap)
	e.confirmed = snap
	e.queue.DiscardThrough(snap.Tick)

	if h, ok := e.hashes[snap.Tick]; ok && h != snap.Hash() {
		res.Corrected = true
		e.stats.Corrections++
	}
	for t := range e.hashes {
		if t <= snap.Tick {
			delete(e.hashes, t)
		}
	}

	target := snap.Tick
	if e.state == Predicting && e.predicted != nil && e.predicted.Tick() > target {
		target = e.predicted.Tick()
	}
	w := world.FromSnapshot(snap)
	res.Replayed = e.replay(w, target)
	e.stats.Replayed += int64(res.Replayed)
	e.predicted = w

	if e.state == AwaitingFirstSnapshot {
		logging.Log.Infow("first snapshot applied", "tick", snap.Tick, "entities", len(snap.Entities))
	}
	e.state = Predicting
	if e.stalled {
		// 停滞期结束；结束它的可能是请求发出前就在途的增量快照，下一次停滞需要重新请求
		e.stalled = false
		e.resyncOutstanding = false
	}
	return res, nil
}

// replay 从确认状态推进到 target；缺少输入的 Tick 按“无新输入”推进
func (e *Engine) replay(w *world.World, target world.Tick) int {
	cmds := e.queue.Since(w.Tick())
	i := 0
	n := 0
	for w.Tick() < target {
		next := w.Tick() + 1
		var inputs map[world.PeerID]world.Input
		for i < len(cmds) && cmds[i].Tick < next {
			i++
		}
		if i < len(cmds) && cmds[i].Tick == next {
			inputs = map[world.PeerID]world.Input{e.cfg.Peer: cmds[i].Payload}
			i++
		}
		e.cfg.Rules.Step(w, inputs)
		e.hashes[w.Tick()] = w.Snapshot().Hash()
		n++
	}
	return n
}

// Tick 本地推进一个预测 Tick：捕获输入、立即应用到预测状态，返回需要发送的命令
// 尚未收到首个快照，或预测领先确认状态达到 2*Horizon 时不推进，ok 为 false
func (e *Engine) Tick(in world.Input) (cmd world.InputCommand, ok bool) {
	if e.state != Predicting {
		return cmd, false
	}
	if int(e.predicted.Tick()-e.confirmed.Tick) >= 2*e.cfg.Horizon {
		e.stats.Held++
		return cmd, false
	}
	next := e.predicted.Tick() + 1
	cmd, dropped := e.queue.Capture(next, in)
	if dropped {
		// 缓冲溢出：服务端严重落后或连接停滞；每个停滞期只请求一次重同步
		e.stats.Dropped++
		if !e.stalled {
			e.stalled = true
			logging.Log.Warnw("input buffer overflow, requesting resync", "tick", next, "confirmed", e.confirmed.Tick)
			e.requestResync(wire.ReasonStalled)
		}
	}
	e.cfg.Rules.Step(e.predicted, map[world.PeerID]world.Input{e.cfg.Peer: in})
	e.hashes[next] = e.predicted.Snapshot().Hash()
	return cmd, true
}

// OnInputAck 服务端确认了输入序列号
func (e *Engine) OnInputAck(seq uint32) bool {
	return e.queue.Ack(seq)
}

// Unacked 需要（重新）发送的输入命令
func (e *Engine) Unacked(limit int) []world.InputCommand {
	return e.queue.Unacked(limit)
}

// RequestResync 外部触发硬重同步
func (e *Engine) RequestResync(reason wire.Reason) {
	e.requestResync(reason)
}

func (e *Engine) requestResync(reason wire.Reason) {
	if e.resyncOutstanding {
		return
	}
	e.resyncOutstanding = true
	e.resyncPending = true
	e.resyncReason = reason
	e.stats.Resyncs++
}

// TakeResync 取出待发送的重同步请求（每次请求只返回一次）
func (e *Engine) TakeResync() (wire.Reason, bool) {
	if !e.resyncPending {
		return wire.ReasonNone, false
	}
	e.resyncPending = false
	return e.resyncReason, true
}
