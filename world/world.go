package world

import "sort"

// World 显式的实体竞技场：实体按 EntityID 索引，组件数据保存在各自的类型化映射中
type World struct {
	tick   Tick
	nextID EntityID

	entities    map[EntityID]struct{}
	positions   map[EntityID]Position
	velocities  map[EntityID]Velocity
	owners      map[EntityID]PeerID
	weapons     map[EntityID]Weapon
	projectiles map[EntityID]Projectile
	bots        map[EntityID]Bot
}

// New 创建空世界，EntityID 从 1 开始分配
func New() *World {
	return &World{
		nextID:      1,
		entities:    make(map[EntityID]struct{}),
		positions:   make(map[EntityID]Position),
		velocities:  make(map[EntityID]Velocity),
		owners:      make(map[EntityID]PeerID),
		weapons:     make(map[EntityID]Weapon),
		projectiles: make(map[EntityID]Projectile),
		bots:        make(map[EntityID]Bot),
	}
}

// Tick 当前世界所处的 Tick（已应用该 Tick 的推进）
func (w *World) Tick() Tick { return w.tick }

// SetTick 仅用于从快照恢复
func (w *World) SetTick(t Tick) { w.tick = t }

// Len 存活实体数
func (w *World) Len() int { return len(w.entities) }

// Spawn 分配新实体；ID 单调递增，不复用
func (w *World) Spawn() EntityID {
	id := w.nextID
	w.nextID++
	w.entities[id] = struct{}{}
	return id
}

// Despawn 移除实体及其所有组件
func (w *World) Despawn(id EntityID) {
	delete(w.entities, id)
	delete(w.positions, id)
	delete(w.velocities, id)
	delete(w.owners, id)
	delete(w.weapons, id)
	delete(w.projectiles, id)
	delete(w.bots, id)
}

// Alive 实体是否存在
func (w *World) Alive(id EntityID) bool {
	_, ok := w.entities[id]
	return ok
}

// IDs 按升序返回所有实体，步进与编码都依赖这个确定的顺序
func (w *World) IDs() []EntityID {
	ids := make([]EntityID, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (w *World) Position(id EntityID) (Position, bool) {
	p, ok := w.positions[id]
	return p, ok
}

func (w *World) SetPosition(id EntityID, p Position) {
	if w.Alive(id) {
		w.positions[id] = p
	}
}

func (w *World) Velocity(id EntityID) (Velocity, bool) {
	v, ok := w.velocities[id]
	return v, ok
}

func (w *World) SetVelocity(id EntityID, v Velocity) {
	if w.Alive(id) {
		w.velocities[id] = v
	}
}

func (w *World) Owner(id EntityID) (PeerID, bool) {
	p, ok := w.owners[id]
	return p, ok
}

func (w *World) SetOwner(id EntityID, peer PeerID) {
	if w.Alive(id) {
		w.owners[id] = peer
	}
}

func (w *World) SetWeapon(id EntityID, wp Weapon) {
	if w.Alive(id) {
		w.weapons[id] = wp
	}
}

func (w *World) SetProjectile(id EntityID, p Projectile) {
	if w.Alive(id) {
		w.projectiles[id] = p
	}
}

func (w *World) SetBot(id EntityID, b Bot) {
	if w.Alive(id) {
		w.bots[id] = b
	}
}

// PlayerOf 查找某个 Peer 控制的玩家实体
func (w *World) PlayerOf(peer PeerID) (EntityID, bool) {
	var found EntityID
	for id, owner := range w.owners {
		if owner == peer && (found == 0 || id < found) {
			found = id
		}
	}
	return found, found != 0
}

// Components 组装实体的组件集合
func (w *World) Components(id EntityID) (ComponentSet, bool) {
	if !w.Alive(id) {
		return ComponentSet{}, false
	}
	var c ComponentSet
	if v, ok := w.positions[id]; ok {
		c.Mask |= CompPosition
		c.Position = v
	}
	if v, ok := w.velocities[id]; ok {
		c.Mask |= CompVelocity
		c.Velocity = v
	}
	if v, ok := w.owners[id]; ok {
		c.Mask |= CompOwner
		c.Owner = v
	}
	if v, ok := w.weapons[id]; ok {
		c.Mask |= CompWeapon
		c.Weapon = v
	}
	if v, ok := w.projectiles[id]; ok {
		c.Mask |= CompProjectile
		c.Projectile = v
	}
	if v, ok := w.bots[id]; ok {
		c.Mask |= CompBot
		c.Bot = v
	}
	return c, true
}

// Put 以 c 替换实体的全部组件（实体不存在时创建）
func (w *World) Put(id EntityID, c ComponentSet) {
	w.Despawn(id)
	w.entities[id] = struct{}{}
	if id >= w.nextID {
		w.nextID = id + 1
	}
	if c.Mask&CompPosition != 0 {
		w.positions[id] = c.Position
	}
	if c.Mask&CompVelocity != 0 {
		w.velocities[id] = c.Velocity
	}
	if c.Mask&CompOwner != 0 {
		w.owners[id] = c.Owner
	}
	if c.Mask&CompWeapon != 0 {
		w.weapons[id] = c.Weapon
	}
	if c.Mask&CompProjectile != 0 {
		w.projectiles[id] = c.Projectile
	}
	if c.Mask&CompBot != 0 {
		w.bots[id] = c.Bot
	}
}

// Snapshot 生成当前世界的完整快照（深拷贝）
func (w *World) Snapshot() WorldSnapshot {
	s := WorldSnapshot{Tick: w.tick, NextID: w.nextID, Entities: make(map[EntityID]ComponentSet, len(w.entities))}
	for id := range w.entities {
		c, _ := w.Components(id)
		s.Entities[id] = c
	}
	return s
}

// FromSnapshot 由快照重建世界；nextID 取快照记录值与现有最大 ID 之后两者的较大者
func FromSnapshot(s WorldSnapshot) *World {
	w := New()
	w.tick = s.Tick
	for id, c := range s.Entities {
		w.Put(id, c.only(c.Mask))
	}
	if s.NextID > w.nextID {
		w.nextID = s.NextID
	}
	return w
}

// Clone 深拷贝
func (w *World) Clone() *World {
	return FromSnapshot(w.Snapshot())
}
