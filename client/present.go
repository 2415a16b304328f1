package client

import (
	"arenasync/logging"
	"arenasync/world"
)

// Presenter 表现层边界：每个预测 Tick 收到和解后的预测状态
type Presenter interface {
	Present(peer world.PeerID, snap world.WorldSnapshot)
}

// InputSource 输入边界：为即将预测的 Tick 提供本地输入
type InputSource interface {
	Next(tick world.Tick) world.Input
}

// PresenterFunc 函数适配器
type PresenterFunc func(peer world.PeerID, snap world.WorldSnapshot)

func (f PresenterFunc) Present(peer world.PeerID, snap world.WorldSnapshot) { f(peer, snap) }

// InputFunc 函数适配器
type InputFunc func(tick world.Tick) world.Input

func (f InputFunc) Next(tick world.Tick) world.Input { return f(tick) }

// LogPresenter 定期把本地玩家的位置写入日志
type LogPresenter struct {
	Player string
	// Every 每隔多少个 Tick 输出一次
	Every world.Tick
}

func (p LogPresenter) Present(peer world.PeerID, snap world.WorldSnapshot) {
	every := p.Every
	if every == 0 {
		every = 60
	}
	if snap.Tick%every != 0 {
		return
	}
	id, c, ok := LocalPlayer(snap, peer)
	if !ok {
		return
	}
	logging.Log.Infow("predicted", "player", p.Player, "peer", peer, "tick", snap.Tick, "entity", id,
		"x", float64(c.Position.X)/world.Unit, "y", float64(c.Position.Y)/world.Unit, "entities", len(snap.Entities))
}

// LocalPlayer 找到 peer 的玩家实体
func LocalPlayer(snap world.WorldSnapshot, peer world.PeerID) (world.EntityID, world.ComponentSet, bool) {
	for _, id := range snap.IDs() {
		c := snap.Entities[id]
		if c.Has(world.CompOwner) && c.Owner == peer {
			return id, c, true
		}
	}
	return 0, world.ComponentSet{}, false
}

// Wanderer 脚本化输入：按固定节奏换方向，周期性开火
type Wanderer struct {
	// Period 每个方向保持的 Tick 数
	Period world.Tick
}

var wanderDirections = [4]world.Input{
	{Right: true, AimX: 1},
	{Down: true, AimY: 1},
	{Left: true, AimX: -1},
	{Up: true, AimY: -1},
}

func (w Wanderer) Next(tick world.Tick) world.Input {
	period := w.Period
	if period == 0 {
		period = 90
	}
	in := wanderDirections[(tick/period)%4]
	in.Fire = tick%(period/3+1) == 0
	return in
}
