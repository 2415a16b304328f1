package world

// History 按 Tick 索引的快照环形缓冲；容量之外的旧快照被覆盖
type History struct {
	slots []historySlot
	last  Tick
	any   bool
}

type historySlot struct {
	valid bool
	snap  WorldSnapshot
}

// NewHistory capacity 至少为 1
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{slots: make([]historySlot, capacity)}
}

// Cap 容量
func (h *History) Cap() int { return len(h.slots) }

// Put 记录快照；Tick 必须单调递增，回退的快照被忽略
func (h *History) Put(s WorldSnapshot) bool {
	if h.any && s.Tick <= h.last {
		return false
	}
	h.slots[int(s.Tick)%len(h.slots)] = historySlot{valid: true, snap: s}
	h.last = s.Tick
	h.any = true
	return true
}

// Get 取出指定 Tick 的快照；已被覆盖或从未记录时返回 false
func (h *History) Get(t Tick) (WorldSnapshot, bool) {
	slot := h.slots[int(t)%len(h.slots)]
	if !slot.valid || slot.snap.Tick != t {
		return WorldSnapshot{}, false
	}
	return slot.snap, true
}

// Latest 最近一次记录的快照
func (h *History) Latest() (WorldSnapshot, bool) {
	if !h.any {
		return WorldSnapshot{}, false
	}
	return h.Get(h.last)
}
