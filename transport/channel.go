package transport

// Channel 投递类别
type Channel uint8

const (
	// ReliableOrdered 保证送达且按发送顺序交付：握手与断开通知
	ReliableOrdered Channel = iota
	// ReliableUnordered 保证送达但不保证顺序：确认消息
	ReliableUnordered
	// Unreliable 尽力而为，旧于已交付序列的数据报直接丢弃：快照与输入
	Unreliable

	channelCount
)

func (c Channel) String() string {
	switch c {
	case ReliableOrdered:
		return "reliable-ordered"
	case ReliableUnordered:
		return "reliable-unordered"
	case Unreliable:
		return "unreliable"
	default:
		return "unknown"
	}
}

// Reliable 是否需要确认与重传
func (c Channel) Reliable() bool { return c == ReliableOrdered || c == ReliableUnordered }

// orderedReceiver 缓存乱序到达的数据，按序释放
type orderedReceiver struct {
	next     uint32
	buffered map[uint32][]byte
	window   uint32
}

func newOrderedReceiver(window uint32) *orderedReceiver {
	return &orderedReceiver{buffered: make(map[uint32][]byte), window: window}
}

// accept 返回可按序交付的负载；ack 为 false 表示超出窗口、不应确认（等待重传）
func (r *orderedReceiver) accept(seq uint32, payload []byte) (deliver [][]byte, ack bool) {
	if seqNewer(r.next, seq) {
		// 已交付过的重复包，仍需确认以停止对端重传
		return nil, true
	}
	if seq-r.next >= r.window {
		return nil, false
	}
	if seq != r.next {
		if _, ok := r.buffered[seq]; !ok {
			r.buffered[seq] = append([]byte(nil), payload...)
		}
		return nil, true
	}
	deliver = append(deliver, append([]byte(nil), payload...))
	r.next++
	for {
		p, ok := r.buffered[r.next]
		if !ok {
			break
		}
		delete(r.buffered, r.next)
		deliver = append(deliver, p)
		r.next++
	}
	return deliver, true
}

func (r *orderedReceiver) pending() int { return len(r.buffered) }

// unorderedReceiver 去重：floor 之前的序列全部已收到，之后的记录在集合中
type unorderedReceiver struct {
	floor    uint32
	received map[uint32]struct{}
	window   uint32
}

func newUnorderedReceiver(window uint32) *unorderedReceiver {
	return &unorderedReceiver{received: make(map[uint32]struct{}), window: window}
}

func (r *unorderedReceiver) accept(seq uint32) (deliver, ack bool) {
	if seqNewer(r.floor, seq) {
		return false, true
	}
	if seq-r.floor >= r.window {
		return false, false
	}
	if _, dup := r.received[seq]; dup {
		return false, true
	}
	r.received[seq] = struct{}{}
	for {
		if _, ok := r.received[r.floor]; !ok {
			break
		}
		delete(r.received, r.floor)
		r.floor++
	}
	return true, true
}

// unreliableReceiver 只交付比上一次更新的数据报
type unreliableReceiver struct {
	last    uint32
	started bool
}

func (r *unreliableReceiver) accept(seq uint32) bool {
	if r.started && !seqNewer(seq, r.last) {
		return false
	}
	r.last = seq
	r.started = true
	return true
}
