package server

import (
	"golang.org/x/time/rate"

	"arenasync/world"
)

// peerState 房间内一个已连接客户端的服务端状态（只在 Tick 协程中读写）
type peerState struct {
	ID     world.PeerID
	Entity world.EntityID // 玩家实体，连接建立时生成

	limiter *rate.Limiter
	inputs  *inputBuffer
	// ackSent 最近一次回送给客户端的输入序列号
	ackSent uint32
}

func newPeerState(id world.PeerID, entity world.EntityID, perSecond float64, burst int) *peerState {
	return &peerState{
		ID:      id,
		Entity:  entity,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		inputs:  newInputBuffer(),
	}
}
