package world

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrBaseMismatch 增量的基准 Tick 与本地基准快照不一致
	ErrBaseMismatch = errors.New("world: delta base tick mismatch")
	// ErrDuplicateEntity 同一实体在一个增量中出现两次
	ErrDuplicateEntity = errors.New("world: entity appears twice in delta")
	// ErrMissingEntity 增量修改了基准中不存在的实体
	ErrMissingEntity = errors.New("world: delta modifies unknown entity")
)

// WorldSnapshot 某个 Tick 的世界状态
// NextID 是下一个待分配的 EntityID，客户端预测生成实体时据此与服务端保持一致
type WorldSnapshot struct {
	Tick     Tick
	NextID   EntityID
	Entities map[EntityID]ComponentSet
}

// IDs 升序实体列表
func (s WorldSnapshot) IDs() []EntityID {
	ids := make([]EntityID, 0, len(s.Entities))
	for id := range s.Entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone 深拷贝（ComponentSet 为值类型）
func (s WorldSnapshot) Clone() WorldSnapshot {
	out := WorldSnapshot{Tick: s.Tick, NextID: s.NextID, Entities: make(map[EntityID]ComponentSet, len(s.Entities))}
	for id, c := range s.Entities {
		out.Entities[id] = c
	}
	return out
}

// Equal 结构相等：Tick 与每个实体的组件都相同
func (s WorldSnapshot) Equal(o WorldSnapshot) bool {
	return s.Tick == o.Tick && s.SameState(o)
}

// SameState 忽略 Tick，仅比较实体与组件
func (s WorldSnapshot) SameState(o WorldSnapshot) bool {
	if s.NextID != o.NextID || len(s.Entities) != len(o.Entities) {
		return false
	}
	for id, c := range s.Entities {
		oc, ok := o.Entities[id]
		if !ok || c.only(c.Mask) != oc.only(oc.Mask) {
			return false
		}
	}
	return true
}

// Hash 廉价的结构哈希（不含 Tick），用于预测偏差检测
func (s WorldSnapshot) Hash() uint64 {
	d := xxhash.New()
	buf := binary.LittleEndian.AppendUint32(make([]byte, 0, 64), uint32(s.NextID))
	_, _ = d.Write(buf)
	for _, id := range s.IDs() {
		c := s.Entities[id]
		buf = buf[:0]
		buf = binary.LittleEndian.AppendUint32(buf, uint32(id))
		buf = append(buf, byte(c.Mask))
		if c.Mask&CompPosition != 0 {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(c.Position.X))
			buf = binary.LittleEndian.AppendUint32(buf, uint32(c.Position.Y))
		}
		if c.Mask&CompVelocity != 0 {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(c.Velocity.X))
			buf = binary.LittleEndian.AppendUint32(buf, uint32(c.Velocity.Y))
		}
		if c.Mask&CompOwner != 0 {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(c.Owner))
		}
		if c.Mask&CompWeapon != 0 {
			buf = binary.LittleEndian.AppendUint16(buf, c.Weapon.Cooldown)
		}
		if c.Mask&CompProjectile != 0 {
			buf = binary.LittleEndian.AppendUint16(buf, c.Projectile.TicksLeft)
			buf = binary.LittleEndian.AppendUint32(buf, uint32(c.Projectile.Shooter))
		}
		if c.Mask&CompBot != 0 {
			buf = binary.LittleEndian.AppendUint16(buf, c.Bot.Cooldown)
		}
		_, _ = d.Write(buf)
	}
	return d.Sum64()
}

// EntityDiff 单个实体的变化
// Added 为 true 时 Set 是完整组件集；否则 Set 只含变化的组件，Cleared 为被移除的组件
type EntityDiff struct {
	ID      EntityID      `msgpack:"i"`
	Added   bool          `msgpack:"a"`
	Set     ComponentSet  `msgpack:"s"`
	Cleared ComponentMask `msgpack:"c"`
}

// Delta 相对基准 Tick 的增量；Full 为 true 时是完整快照，BaseTick 无意义
type Delta struct {
	Tick     Tick
	BaseTick Tick
	Full     bool
	NextID   EntityID
	Changed  []EntityDiff
	Removed  []EntityID
}

// Full 把快照编码为完整增量（所有实体均为 Added）
func Full(s WorldSnapshot) Delta {
	d := Delta{Tick: s.Tick, Full: true, NextID: s.NextID, Changed: make([]EntityDiff, 0, len(s.Entities))}
	for _, id := range s.IDs() {
		c := s.Entities[id]
		d.Changed = append(d.Changed, EntityDiff{ID: id, Added: true, Set: c.only(c.Mask)})
	}
	return d
}

// Diff 计算 base -> target 的增量：按实体身份做集合比较，再逐组件比较
// 输出按 EntityID 排序，同一实体只会出现一次
func Diff(base, target WorldSnapshot) Delta {
	d := Delta{Tick: target.Tick, BaseTick: base.Tick, NextID: target.NextID}
	for _, id := range target.IDs() {
		tc := target.Entities[id]
		bc, ok := base.Entities[id]
		if !ok {
			d.Changed = append(d.Changed, EntityDiff{ID: id, Added: true, Set: tc.only(tc.Mask)})
			continue
		}
		added := tc.Mask &^ bc.Mask
		cleared := bc.Mask &^ tc.Mask
		changed := tc.changed(bc) | added
		if changed == 0 && cleared == 0 {
			continue
		}
		d.Changed = append(d.Changed, EntityDiff{ID: id, Set: tc.only(changed), Cleared: cleared})
	}
	for _, id := range base.IDs() {
		if _, ok := target.Entities[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	return d
}

// Apply 把增量应用到基准快照上，返回新的快照；base 不会被修改
func Apply(base WorldSnapshot, d Delta) (WorldSnapshot, error) {
	var out WorldSnapshot
	if d.Full {
		out = WorldSnapshot{Entities: make(map[EntityID]ComponentSet, len(d.Changed))}
	} else {
		if base.Tick != d.BaseTick {
			return WorldSnapshot{}, fmt.Errorf("%w: have %d, delta wants %d", ErrBaseMismatch, base.Tick, d.BaseTick)
		}
		out = base.Clone()
	}
	out.Tick = d.Tick
	out.NextID = d.NextID

	seen := make(map[EntityID]struct{}, len(d.Changed)+len(d.Removed))
	for _, e := range d.Changed {
		if _, dup := seen[e.ID]; dup {
			return WorldSnapshot{}, fmt.Errorf("%w: %d", ErrDuplicateEntity, e.ID)
		}
		seen[e.ID] = struct{}{}
		if e.Added {
			out.Entities[e.ID] = e.Set.only(e.Set.Mask)
			continue
		}
		cur, ok := out.Entities[e.ID]
		if !ok {
			return WorldSnapshot{}, fmt.Errorf("%w: %d", ErrMissingEntity, e.ID)
		}
		out.Entities[e.ID] = cur.merge(e.Set, e.Cleared)
	}
	for _, id := range d.Removed {
		if _, dup := seen[id]; dup {
			return WorldSnapshot{}, fmt.Errorf("%w: %d", ErrDuplicateEntity, id)
		}
		seen[id] = struct{}{}
		delete(out.Entities, id)
	}
	return out, nil
}
