package server

import "arenasync/world"

// offerResult 一条入站输入的处理结果
type offerResult uint8

const (
	offerAccepted offerResult = iota
	offerLate
	offerDuplicate
	offerOldSequence
	offerTooFarAhead
)

// inputBuffer 单个连接的输入缓冲
// 提前到达的输入按目标 Tick 存放；目标 Tick 已经模拟过的迟到输入只保留序列号最新的一条，
// 在下一个 Tick 代替缺失的输入使用。每个 Tick 最多应用一条
type inputBuffer struct {
	byTick map[world.Tick]world.InputCommand
	late   *world.InputCommand
	// applied 最近应用的序列号，不大于它的输入一律忽略
	applied uint32
	// acked 该序列号及之前的输入都已收到（或已被更新的输入取代），作为输入确认回送给客户端
	acked uint32
	// seen acked 之后已经收到的序列号
	seen map[uint32]struct{}
}

func newInputBuffer() *inputBuffer {
	return &inputBuffer{
		byTick: make(map[world.Tick]world.InputCommand),
		seen:   make(map[uint32]struct{}),
	}
}

func seqAfter(a, b uint32) bool { return int32(a-b) > 0 }

// offer 接收一条输入；current 为最近一次模拟完成的 Tick
func (b *inputBuffer) offer(cmd world.InputCommand, current world.Tick, maxAhead int) offerResult {
	if !seqAfter(cmd.Sequence, b.applied) {
		return offerOldSequence
	}
	if cmd.Tick <= current {
		if b.late != nil && !seqAfter(cmd.Sequence, b.late.Sequence) {
			// 已被更新的迟到输入取代，不再需要重发
			b.observe(cmd.Sequence)
			return offerDuplicate
		}
		late := cmd
		b.late = &late
		b.observe(cmd.Sequence)
		return offerLate
	}
	if int(cmd.Tick-current) > maxAhead {
		return offerTooFarAhead
	}
	if _, dup := b.byTick[cmd.Tick]; dup {
		return offerDuplicate
	}
	b.byTick[cmd.Tick] = cmd
	b.observe(cmd.Sequence)
	return offerAccepted
}

func (b *inputBuffer) observe(seq uint32) {
	if seqAfter(seq, b.acked) {
		b.seen[seq] = struct{}{}
	}
	b.advance()
}

// advance 推进确认下界：不大于 applied 的序列号已经没有用处，之后只沿连续收到的序列前进
func (b *inputBuffer) advance() {
	if seqAfter(b.applied, b.acked) {
		b.acked = b.applied
		for seq := range b.seen {
			if !seqAfter(seq, b.acked) {
				delete(b.seen, seq)
			}
		}
	}
	for {
		next := b.acked + 1
		if _, ok := b.seen[next]; !ok {
			return
		}
		delete(b.seen, next)
		b.acked = next
	}
}

// take 取出要在 tick 应用的输入：优先取该 Tick 的输入，否则取迟到的最新输入
func (b *inputBuffer) take(tick world.Tick) (world.InputCommand, bool) {
	cmd, ok := b.byTick[tick]
	if ok {
		delete(b.byTick, tick)
	} else if b.late != nil {
		cmd, ok = *b.late, true
	}
	b.late = nil
	if !ok || !seqAfter(cmd.Sequence, b.applied) {
		return world.InputCommand{}, false
	}
	b.applied = cmd.Sequence
	b.advance()
	return cmd, true
}

func (b *inputBuffer) pending() int { return len(b.byTick) }
