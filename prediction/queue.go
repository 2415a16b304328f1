package prediction

import "arenasync/world"

// InputQueue 本地输入命令的有界环形缓冲
// 每个预测 Tick 捕获一条命令并分配递增序列号；被服务端确认前需要重发，
// 被权威快照覆盖（Tick <= confirmed）之前保留用于重放
type InputQueue struct {
	peer  world.PeerID
	buf   []world.InputCommand
	head  int
	n     int
	seq   uint32
	acked uint32
}

// NewInputQueue capacity 即最大预测跨度
func NewInputQueue(peer world.PeerID, capacity int) *InputQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &InputQueue{peer: peer, buf: make([]world.InputCommand, capacity)}
}

func (q *InputQueue) Len() int      { return q.n }
func (q *InputQueue) Capacity() int { return len(q.buf) }

// LastSequence 最近分配的序列号
func (q *InputQueue) LastSequence() uint32 { return q.seq }

// AckedSequence 服务端确认过的最大序列号
func (q *InputQueue) AckedSequence() uint32 { return q.acked }

func (q *InputQueue) at(i int) *world.InputCommand {
	return &q.buf[(q.head+i)%len(q.buf)]
}

// Capture 为 tick 记录一条输入；缓冲已满时丢弃最旧的一条，dropped 为 true
func (q *InputQueue) Capture(tick world.Tick, in world.Input) (cmd world.InputCommand, dropped bool) {
	if q.n == len(q.buf) {
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		dropped = true
	}
	q.seq++
	cmd = world.InputCommand{PeerID: q.peer, Tick: tick, Sequence: q.seq, Payload: in}
	*q.at(q.n) = cmd
	q.n++
	return cmd, dropped
}

// DiscardThrough 丢弃 Tick <= tick 的命令（已被权威状态包含），返回丢弃数量
func (q *InputQueue) DiscardThrough(tick world.Tick) int {
	dropped := 0
	for q.n > 0 && q.at(0).Tick <= tick {
		*q.at(0) = world.InputCommand{}
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		dropped++
	}
	return dropped
}

// Ack 服务端确认了 seq 及之前的全部输入；序列号只前进
func (q *InputQueue) Ack(seq uint32) bool {
	if int32(seq-q.acked) <= 0 || int32(seq-q.seq) > 0 {
		return false
	}
	q.acked = seq
	return true
}

// Unacked 尚未确认的命令（最旧在前），最多 limit 条；limit <= 0 表示不限
func (q *InputQueue) Unacked(limit int) []world.InputCommand {
	var out []world.InputCommand
	for i := 0; i < q.n; i++ {
		c := q.at(i)
		if int32(c.Sequence-q.acked) <= 0 {
			continue
		}
		out = append(out, *c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Since Tick 大于 tick 的命令，按 Tick 升序
func (q *InputQueue) Since(tick world.Tick) []world.InputCommand {
	var out []world.InputCommand
	for i := 0; i < q.n; i++ {
		if c := q.at(i); c.Tick > tick {
			out = append(out, *c)
		}
	}
	return out
}
