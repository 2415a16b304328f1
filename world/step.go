package world

import "math"

// Rules 步进函数的参数；服务端与客户端必须使用同一份，保证确定性
type Rules struct {
	TickRate int
	// 世界边界（定点），玩家被裁剪在 [0, Width] x [0, Height]
	Width  int32
	Height int32
	// 以下速度均为每秒的定点值
	MoveSpeed       int32
	ProjectileSpeed int32
	// 以下时长均为 Tick 数
	ProjectileLifetime uint16
	FireCooldown       uint16
	BotCastInterval    uint16
}

// DefaultRules 移动 5 单位/秒，火球 10 单位/秒、存活 2 秒，机器人每 3 秒施放一圈
func DefaultRules(tickRate int) Rules {
	if tickRate <= 0 {
		tickRate = 60
	}
	return Rules{
		TickRate:           tickRate,
		Width:              100 * Unit,
		Height:             100 * Unit,
		MoveSpeed:          5 * Unit,
		ProjectileSpeed:    10 * Unit,
		ProjectileLifetime: uint16(2 * tickRate),
		FireCooldown:       uint16(tickRate / 2),
		BotCastInterval:    uint16(3 * tickRate),
	}
}

// SpawnPoint 新玩家的出生点（世界中心）
func (r Rules) SpawnPoint() Position {
	return Position{X: r.Width / 2, Y: r.Height / 2}
}

func (r Rules) perTick(speed int32) int32 {
	return speed / int32(r.TickRate)
}

// SpawnPlayer 为 peer 创建玩家实体
func (r Rules) SpawnPlayer(w *World, peer PeerID) EntityID {
	id := w.Spawn()
	w.SetPosition(id, r.SpawnPoint())
	w.SetVelocity(id, Velocity{})
	w.SetOwner(id, peer)
	w.SetWeapon(id, Weapon{})
	return id
}

// SpawnBot 在 pos 处创建机器人
func (r Rules) SpawnBot(w *World, pos Position) EntityID {
	id := w.Spawn()
	w.SetPosition(id, pos)
	w.SetBot(id, Bot{Cooldown: r.BotCastInterval})
	return id
}

// ringDirections 八方向单位向量（千分之一精度），常量表保证各端一致
var ringDirections = [8][2]int32{
	{1000, 0}, {707, 707}, {0, 1000}, {-707, 707},
	{-1000, 0}, {-707, -707}, {0, -1000}, {707, -707},
}

// Step 确定性地把世界推进一个 Tick
// inputs 中没有出现的玩家保持上一次的速度
func (r Rules) Step(w *World, inputs map[PeerID]Input) {
	w.tick++
	ids := w.IDs()

	// 1. 输入 -> 速度；记录需要开火的玩家
	type shot struct {
		shooter EntityID
		dir     [2]int32
	}
	var shots []shot
	for _, id := range ids {
		owner, ok := w.owners[id]
		if !ok {
			continue
		}
		in, ok := inputs[owner]
		if !ok {
			continue
		}
		w.velocities[id] = r.moveVelocity(in)
		if in.Fire {
			wp := w.weapons[id]
			if wp.Cooldown == 0 {
				shots = append(shots, shot{shooter: id, dir: aimDirection(in)})
				wp.Cooldown = r.FireCooldown
				w.weapons[id] = wp
			}
		}
	}

	// 2. 积分位移；玩家裁剪到边界，飞出边界的飞行物销毁
	var expired []EntityID
	for _, id := range ids {
		v, ok := w.velocities[id]
		if !ok {
			continue
		}
		p := w.positions[id]
		p.X += v.X
		p.Y += v.Y
		if _, isProjectile := w.projectiles[id]; isProjectile {
			if p.X < 0 || p.Y < 0 || p.X > r.Width || p.Y > r.Height {
				expired = append(expired, id)
				continue
			}
		} else {
			p.X = clamp(p.X, 0, r.Width)
			p.Y = clamp(p.Y, 0, r.Height)
		}
		w.positions[id] = p
	}

	// 3. 计时：飞行物寿命、武器冷却、机器人施放
	var casters []EntityID
	for _, id := range ids {
		if pr, ok := w.projectiles[id]; ok {
			if pr.TicksLeft <= 1 {
				expired = append(expired, id)
			} else {
				pr.TicksLeft--
				w.projectiles[id] = pr
			}
		}
		if wp, ok := w.weapons[id]; ok && wp.Cooldown > 0 {
			wp.Cooldown--
			w.weapons[id] = wp
		}
		if b, ok := w.bots[id]; ok {
			if b.Cooldown <= 1 {
				casters = append(casters, id)
				b.Cooldown = r.BotCastInterval
			} else {
				b.Cooldown--
			}
			w.bots[id] = b
		}
	}
	for _, id := range expired {
		w.Despawn(id)
	}

	// 4. 新生成的飞行物从下一 Tick 开始移动
	for _, s := range shots {
		r.spawnProjectile(w, s.shooter, s.dir)
	}
	for _, id := range casters {
		if !w.Alive(id) {
			continue
		}
		for _, dir := range ringDirections {
			r.spawnProjectile(w, id, dir)
		}
	}
}

func (r Rules) moveVelocity(in Input) Velocity {
	var x, y int32
	if in.Right {
		x++
	}
	if in.Left {
		x--
	}
	if in.Down {
		y++
	}
	if in.Up {
		y--
	}
	speed := r.perTick(r.MoveSpeed)
	if x != 0 && y != 0 {
		// 对角线归一化
		speed = speed * 707 / 1000
	}
	return Velocity{X: x * speed, Y: y * speed}
}

// aimDirection 把瞄准向量归一到千分之一精度；零向量默认朝 +X
func aimDirection(in Input) [2]int32 {
	ax, ay := float64(in.AimX), float64(in.AimY)
	n := math.Sqrt(ax*ax + ay*ay)
	if n == 0 {
		return [2]int32{1000, 0}
	}
	return [2]int32{int32(math.Round(ax * 1000 / n)), int32(math.Round(ay * 1000 / n))}
}

func (r Rules) spawnProjectile(w *World, shooter EntityID, dir [2]int32) {
	origin, ok := w.positions[shooter]
	if !ok {
		return
	}
	id := w.Spawn()
	// 在施放者前方 0.7 单位处生成，避免与自身重叠
	w.SetPosition(id, Position{X: origin.X + dir[0]*7/10, Y: origin.Y + dir[1]*7/10})
	speed := r.perTick(r.ProjectileSpeed)
	w.SetVelocity(id, Velocity{X: dir[0] * speed / 1000, Y: dir[1] * speed / 1000})
	w.SetProjectile(id, Projectile{TicksLeft: r.ProjectileLifetime, Shooter: shooter})
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
