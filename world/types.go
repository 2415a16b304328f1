package world

// Tick 表示一次固定步长的世界推进，服务端是唯一的权威来源
type Tick uint32

// PeerID 连接期内唯一的客户端标识，握手时分配，断开后不再复用
type PeerID uint32

// EntityID 由服务端分配，会话内不复用
type EntityID uint32

// Unit 定点数精度：1 个世界单位 = 1000 定点单位，保证步进函数在各端结果一致
const Unit = 1000

// ComponentMask 标记一个 ComponentSet 中有效的组件
type ComponentMask uint8

const (
	CompPosition ComponentMask = 1 << iota
	CompVelocity
	CompOwner
	CompWeapon
	CompProjectile
	CompBot
)

// CompAll 所有已知组件
const CompAll = CompPosition | CompVelocity | CompOwner | CompWeapon | CompProjectile | CompBot

// Position 定点坐标
type Position struct {
	X int32 `msgpack:"x"`
	Y int32 `msgpack:"y"`
}

// Velocity 每 Tick 的定点位移
type Velocity struct {
	X int32 `msgpack:"x"`
	Y int32 `msgpack:"y"`
}

// Weapon 玩家的普通攻击冷却（剩余 Tick 数）
type Weapon struct {
	Cooldown uint16 `msgpack:"c"`
}

// Projectile 飞行物，TicksLeft 归零时销毁
type Projectile struct {
	TicksLeft uint16   `msgpack:"t"`
	Shooter   EntityID `msgpack:"s"`
}

// Bot 服务端控制的实体，定期向八个方向施放飞行物
type Bot struct {
	Cooldown uint16 `msgpack:"c"`
}

// ComponentSet 某个实体的组件集合；Mask 之外的字段始终为零值
type ComponentSet struct {
	Mask       ComponentMask `msgpack:"m"`
	Position   Position      `msgpack:"p"`
	Velocity   Velocity      `msgpack:"v"`
	Owner      PeerID        `msgpack:"o"`
	Weapon     Weapon        `msgpack:"w"`
	Projectile Projectile    `msgpack:"j"`
	Bot        Bot           `msgpack:"b"`
}

// Has 是否包含 mask 中的全部组件
func (c ComponentSet) Has(mask ComponentMask) bool { return c.Mask&mask == mask }

// changed 返回与 other 相比取值不同的组件（只比较双方都有的组件）
func (c ComponentSet) changed(other ComponentSet) ComponentMask {
	var m ComponentMask
	both := c.Mask & other.Mask
	if both&CompPosition != 0 && c.Position != other.Position {
		m |= CompPosition
	}
	if both&CompVelocity != 0 && c.Velocity != other.Velocity {
		m |= CompVelocity
	}
	if both&CompOwner != 0 && c.Owner != other.Owner {
		m |= CompOwner
	}
	if both&CompWeapon != 0 && c.Weapon != other.Weapon {
		m |= CompWeapon
	}
	if both&CompProjectile != 0 && c.Projectile != other.Projectile {
		m |= CompProjectile
	}
	if both&CompBot != 0 && c.Bot != other.Bot {
		m |= CompBot
	}
	return m
}

// only 仅保留 mask 中的组件，其余清零
func (c ComponentSet) only(mask ComponentMask) ComponentSet {
	out := ComponentSet{Mask: c.Mask & mask}
	if out.Mask&CompPosition != 0 {
		out.Position = c.Position
	}
	if out.Mask&CompVelocity != 0 {
		out.Velocity = c.Velocity
	}
	if out.Mask&CompOwner != 0 {
		out.Owner = c.Owner
	}
	if out.Mask&CompWeapon != 0 {
		out.Weapon = c.Weapon
	}
	if out.Mask&CompProjectile != 0 {
		out.Projectile = c.Projectile
	}
	if out.Mask&CompBot != 0 {
		out.Bot = c.Bot
	}
	return out
}

// merge 用 patch 中带有的组件覆盖 c，并移除 cleared 中的组件
func (c ComponentSet) merge(patch ComponentSet, cleared ComponentMask) ComponentSet {
	keep := c.only(c.Mask &^ (cleared | patch.Mask))
	patch = patch.only(patch.Mask)
	keep.Mask |= patch.Mask
	if patch.Mask&CompPosition != 0 {
		keep.Position = patch.Position
	}
	if patch.Mask&CompVelocity != 0 {
		keep.Velocity = patch.Velocity
	}
	if patch.Mask&CompOwner != 0 {
		keep.Owner = patch.Owner
	}
	if patch.Mask&CompWeapon != 0 {
		keep.Weapon = patch.Weapon
	}
	if patch.Mask&CompProjectile != 0 {
		keep.Projectile = patch.Projectile
	}
	if patch.Mask&CompBot != 0 {
		keep.Bot = patch.Bot
	}
	return keep
}

// Input 玩家每 Tick 的意图（固定结构，随协议版本演进）
type Input struct {
	Up    bool  `msgpack:"u"`
	Down  bool  `msgpack:"d"`
	Left  bool  `msgpack:"l"`
	Right bool  `msgpack:"r"`
	Fire  bool  `msgpack:"f"`
	AimX  int16 `msgpack:"ax"`
	AimY  int16 `msgpack:"ay"`
}

// InputCommand 带 Tick 与序列号的输入，发送后不可变
type InputCommand struct {
	PeerID   PeerID
	Tick     Tick
	Sequence uint32
	Payload  Input
}
