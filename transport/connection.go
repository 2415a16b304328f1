package transport

import (
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"

	"arenasync/wire"
	"arenasync/world"
)

// ConnectionState 连接生命周期；状态迁移驱动缓冲区与定时器的分配和释放
type ConnectionState uint8

const (
	Handshaking ConnectionState = iota
	Connected
	Disconnecting
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type pendingKey struct {
	ch  Channel
	seq uint32
}

// pending 等待确认的可靠消息
type pending struct {
	datagram   []byte
	firstSent  time.Time
	nextResend time.Time
	retries    int
	backoff    *backoff.ExponentialBackOff
	// stamp 非零时可被 Prune 提前丢弃（已被更新的确认信息取代）
	stamp uint32
}

// connection 单个对端的传输状态；所有字段由 Endpoint.mu 保护
type connection struct {
	peer  world.PeerID
	addr  net.Addr
	state ConnectionState

	createdAt time.Time
	lastRecv  time.Time
	lastPing  time.Time

	sendSeq    [channelCount]uint32
	pending    map[pendingKey]*pending
	ordered    *orderedReceiver
	unordered  *unorderedReceiver
	unreliable unreliableReceiver

	rtt          time.Duration
	decodeErrors int

	// 握手
	clientSalt uint64
	serverSalt uint64

	// 断开
	lingerUntil time.Time
	reason      wire.Reason
}

func newConnection(addr net.Addr, window uint32, now time.Time) *connection {
	return &connection{
		addr:      addr,
		state:     Handshaking,
		createdAt: now,
		lastRecv:  now,
		lastPing:  now,
		pending:   make(map[pendingKey]*pending),
		ordered:   newOrderedReceiver(window),
		unordered: newUnorderedReceiver(window),
	}
}

// observeRTT 指数滑动平均（alpha = 1/8）
func (c *connection) observeRTT(sample time.Duration) {
	if sample < 0 {
		return
	}
	if c.rtt == 0 {
		c.rtt = sample
		return
	}
	c.rtt += (sample - c.rtt) / 8
}

// release 释放所有缓冲；连接进入 Disconnected 后不再有任何在途操作
func (c *connection) release() {
	c.state = Disconnected
	c.pending = nil
	c.ordered = newOrderedReceiver(1)
	c.unordered = newUnorderedReceiver(1)
}

func (c *connection) newBackoff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	initial := cfg.ResendInitial
	if est := c.rtt * 5 / 4; est > initial {
		initial = est
	}
	if initial > cfg.ResendMax {
		initial = cfg.ResendMax
	}
	b.InitialInterval = initial
	b.MaxInterval = cfg.ResendMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}
