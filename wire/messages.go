package wire

import "arenasync/world"

// Version 协议版本，写入每个帧头；与本地构建不一致时解码失败
const Version uint16 = 1

// Tag 消息判别符
type Tag uint8

const (
	TagConnectRequest Tag = iota + 1
	TagConnectChallenge
	TagConnectResponse
	TagConnectAccept
	TagConnectDeny
	TagInput
	TagSnapshot
	TagAck
	TagDisconnect
	TagResyncRequest
)

func (t Tag) String() string {
	switch t {
	case TagConnectRequest:
		return "connect_request"
	case TagConnectChallenge:
		return "connect_challenge"
	case TagConnectResponse:
		return "connect_response"
	case TagConnectAccept:
		return "connect_accept"
	case TagConnectDeny:
		return "connect_deny"
	case TagInput:
		return "input"
	case TagSnapshot:
		return "snapshot"
	case TagAck:
		return "ack"
	case TagDisconnect:
		return "disconnect"
	case TagResyncRequest:
		return "resync_request"
	default:
		return "unknown"
	}
}

// Reason 拒绝/断开原因码
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonVersionMismatch
	ReasonServerFull
	ReasonBadToken
	ReasonShutdown
	ReasonTimeout
	ReasonClientQuit
	ReasonKicked
	ReasonDesync
	ReasonStalled
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonVersionMismatch:
		return "version mismatch"
	case ReasonServerFull:
		return "server full"
	case ReasonBadToken:
		return "bad token"
	case ReasonShutdown:
		return "shutdown"
	case ReasonTimeout:
		return "timeout"
	case ReasonClientQuit:
		return "client quit"
	case ReasonKicked:
		return "kicked"
	case ReasonDesync:
		return "desync"
	case ReasonStalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Message 所有可在线路上传输的消息
type Message interface {
	Tag() Tag
}

// ConnectRequest 客户端发起握手
type ConnectRequest struct {
	ProtocolVersion uint16 `msgpack:"v"`
	ClientSalt      uint64 `msgpack:"s"`
}

// ConnectChallenge 服务端回应自己的盐
type ConnectChallenge struct {
	ServerSalt uint64 `msgpack:"s"`
}

// ConnectResponse 客户端回显组合令牌
type ConnectResponse struct {
	Token [32]byte `msgpack:"t"`
}

// ConnectAccept 握手成功，分配 PeerID
type ConnectAccept struct {
	PeerID world.PeerID `msgpack:"p"`
}

// ConnectDeny 握手被拒绝
type ConnectDeny struct {
	Reason Reason `msgpack:"r"`
}

// InputPacket 一条输入命令
type InputPacket struct {
	PeerID   world.PeerID `msgpack:"p"`
	Tick     world.Tick   `msgpack:"t"`
	Sequence uint32       `msgpack:"s"`
	Payload  world.Input  `msgpack:"i"`
}

// SnapshotPacket 完整或增量快照；Entities 按 EntityID 升序
type SnapshotPacket struct {
	Tick     world.Tick         `msgpack:"t"`
	IsFull   bool               `msgpack:"f"`
	BaseTick world.Tick         `msgpack:"b"`
	NextID   world.EntityID     `msgpack:"n"`
	Entities []world.EntityDiff `msgpack:"e"`
	Removed  []world.EntityID   `msgpack:"r"`
}

// AckPacket 双向使用：客户端确认快照 Tick 并回显已被确认的输入序列；服务端确认输入
type AckPacket struct {
	AckedTick     world.Tick `msgpack:"t"`
	AckedSequence uint32     `msgpack:"s"`
}

// DisconnectPacket 主动断开通知
type DisconnectPacket struct {
	Reason Reason `msgpack:"r"`
}

// ResyncRequest 客户端请求一次完整快照
type ResyncRequest struct {
	Reason Reason `msgpack:"r"`
}

func (ConnectRequest) Tag() Tag   { return TagConnectRequest }
func (ConnectChallenge) Tag() Tag { return TagConnectChallenge }
func (ConnectResponse) Tag() Tag  { return TagConnectResponse }
func (ConnectAccept) Tag() Tag    { return TagConnectAccept }
func (ConnectDeny) Tag() Tag      { return TagConnectDeny }
func (InputPacket) Tag() Tag      { return TagInput }
func (SnapshotPacket) Tag() Tag   { return TagSnapshot }
func (AckPacket) Tag() Tag        { return TagAck }
func (DisconnectPacket) Tag() Tag { return TagDisconnect }
func (ResyncRequest) Tag() Tag    { return TagResyncRequest }

// NewInputPacket 由输入命令构造线路消息
func NewInputPacket(cmd world.InputCommand) InputPacket {
	return InputPacket{PeerID: cmd.PeerID, Tick: cmd.Tick, Sequence: cmd.Sequence, Payload: cmd.Payload}
}

// Command 还原为输入命令
func (p InputPacket) Command() world.InputCommand {
	return world.InputCommand{PeerID: p.PeerID, Tick: p.Tick, Sequence: p.Sequence, Payload: p.Payload}
}

// NewSnapshotPacket 由增量构造线路消息
func NewSnapshotPacket(d world.Delta) SnapshotPacket {
	p := SnapshotPacket{Tick: d.Tick, IsFull: d.Full, NextID: d.NextID, Entities: d.Changed, Removed: d.Removed}
	if !d.Full {
		p.BaseTick = d.BaseTick
	}
	return p
}

// Delta 还原为增量
func (p SnapshotPacket) Delta() world.Delta {
	return world.Delta{Tick: p.Tick, BaseTick: p.BaseTick, Full: p.IsFull, NextID: p.NextID, Changed: p.Entities, Removed: p.Removed}
}
