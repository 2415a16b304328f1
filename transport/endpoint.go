package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"arenasync/logging"
	"arenasync/wire"
	"arenasync/world"
)

// ServerPeer 客户端一侧用来指代服务端连接的 PeerID
const ServerPeer world.PeerID = 0

// EventType 传输事件类型
type EventType uint8

const (
	EventConnected EventType = iota + 1
	EventDisconnected
	EventMessage
)

// Event 由网络 I/O 路径产生，仿真路径在自己的 Tick 边界上批量取出
type Event struct {
	Type    EventType
	Peer    world.PeerID
	Channel Channel
	Message wire.Message
	Reason  wire.Reason
}

type role uint8

const (
	roleServer role = iota
	roleClient
)

// Endpoint 基于任意 net.PacketConn 的多连接端点
// 一个读协程持续接收数据报，一个服务协程负责重传、心跳与超时；仿真路径通过 Receive 非阻塞取事件
type Endpoint struct {
	cfg   Config
	conn  net.PacketConn
	role  role
	epoch time.Time
	now   func() time.Time

	mu       sync.Mutex
	byAddr   map[string]*connection
	byPeer   map[world.PeerID]*connection
	nextPeer world.PeerID
	limiter  *rate.Limiter
	inbox    []Event
	notify   chan struct{}
	closed   bool

	// 客户端：握手结果
	localPeer world.PeerID
	handshake chan error

	stats Stats
	done  chan struct{}
	wg    sync.WaitGroup
}

func newEndpoint(conn net.PacketConn, cfg Config, r role) *Endpoint {
	cfg = cfg.withDefaults()
	return &Endpoint{
		cfg:      cfg,
		conn:     conn,
		role:     r,
		epoch:    time.Now(),
		now:      time.Now,
		byAddr:   make(map[string]*connection),
		byPeer:   make(map[world.PeerID]*connection),
		nextPeer: 1,
		limiter:  rate.NewLimiter(rate.Limit(cfg.ConnectRate), cfg.ConnectBurst),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Listen 以服务端身份在 conn 上接受连接
func Listen(conn net.PacketConn, cfg Config) *Endpoint {
	e := newEndpoint(conn, cfg, roleServer)
	e.start()
	logging.Log.Infof("transport listening on %s", conn.LocalAddr())
	return e
}

// Dial 以客户端身份向 addr 发起握手，成功后返回分配到的 PeerID
// 握手被拒绝或超时返回 *HandshakeError，端点随之关闭
func Dial(ctx context.Context, conn net.PacketConn, addr net.Addr, cfg Config) (*Endpoint, world.PeerID, error) {
	e := newEndpoint(conn, cfg, roleClient)
	e.handshake = make(chan error, 1)

	salt, err := randomSalt()
	if err != nil {
		return nil, 0, err
	}
	e.mu.Lock()
	c := newConnection(addr, e.cfg.ReceiveWindow, e.now())
	c.peer = ServerPeer
	c.clientSalt = salt
	e.byAddr[addr.String()] = c
	e.byPeer[ServerPeer] = c
	err = e.sendLocked(c, ReliableOrdered, wire.ConnectRequest{ProtocolVersion: wire.Version, ClientSalt: salt}, 0)
	e.mu.Unlock()
	if err != nil {
		_ = conn.Close()
		return nil, 0, err
	}
	e.start()

	timeout := time.NewTimer(e.cfg.HandshakeTimeout)
	defer timeout.Stop()
	select {
	case err = <-e.handshake:
	case <-timeout.C:
		err = &HandshakeError{Reason: wire.ReasonTimeout, Err: ErrTimeout}
	case <-ctx.Done():
		err = &HandshakeError{Reason: wire.ReasonTimeout, Err: ctx.Err()}
	}
	if err != nil {
		_ = e.Close()
		return nil, 0, err
	}
	e.mu.Lock()
	peer := e.localPeer
	e.mu.Unlock()
	logging.Log.Infof("connected to %s as peer %d", addr, peer)
	return e, peer, nil
}

func (e *Endpoint) start() {
	e.wg.Add(2)
	go e.readLoop()
	go e.serviceLoop()
}

// LocalPeer 客户端握手后获得的 PeerID
func (e *Endpoint) LocalPeer() world.PeerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localPeer
}

// Stats 计数器
func (e *Endpoint) Stats() *Stats { return &e.stats }

// Ready 有新事件时可读（容量 1，可能合并多次通知）
func (e *Endpoint) Ready() <-chan struct{} { return e.notify }

// Receive 非阻塞取出所有待处理事件
func (e *Endpoint) Receive() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.inbox) == 0 {
		return nil
	}
	out := e.inbox
	e.inbox = nil
	return out
}

// Send 向已连接的对端发送消息
func (e *Endpoint) Send(peer world.PeerID, ch Channel, m wire.Message) error {
	return e.SendStamped(peer, ch, m, 0)
}

// SendStamped 与 Send 相同；可靠消息带上 stamp 后可被 Prune 提前取消重传
func (e *Endpoint) SendStamped(peer world.PeerID, ch Channel, m wire.Message, stamp uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return &Error{Kind: ErrKindClosed, Peer: peer}
	}
	c, ok := e.byPeer[peer]
	if !ok {
		return &Error{Kind: ErrKindUnknownPeer, Peer: peer}
	}
	if c.state != Connected {
		return &Error{Kind: ErrKindClosed, Peer: peer}
	}
	return e.sendLocked(c, ch, m, stamp)
}

// Prune 丢弃 stamp 在 (0, upTo] 内、尚未确认的可靠消息；返回丢弃数量
func (e *Endpoint) Prune(peer world.PeerID, upTo uint32) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.byPeer[peer]
	if !ok {
		return 0
	}
	n := 0
	for k, p := range c.pending {
		if p.stamp != 0 && !seqNewer(p.stamp, upTo) {
			delete(c.pending, k)
			n++
		}
	}
	return n
}

// Disconnect 发送断开通知并进入 Disconnecting；通知被确认或超时后释放连接
func (e *Endpoint) Disconnect(peer world.PeerID, reason wire.Reason) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.byPeer[peer]
	if !ok {
		return &Error{Kind: ErrKindUnknownPeer, Peer: peer}
	}
	if c.state != Connected {
		e.finalizeLocked(c, reason)
		return nil
	}
	err := e.sendLocked(c, ReliableOrdered, wire.DisconnectPacket{Reason: reason}, 0)
	c.state = Disconnecting
	c.reason = reason
	c.lingerUntil = e.now().Add(e.cfg.DisconnectLinger)
	return err
}

// State 对端当前的连接状态；未知对端视为 Disconnected
func (e *Endpoint) State(peer world.PeerID) ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.byPeer[peer]; ok {
		return c.state
	}
	return Disconnected
}

// RTT 平滑后的往返时延
func (e *Endpoint) RTT(peer world.PeerID) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.byPeer[peer]; ok {
		return c.rtt
	}
	return 0
}

// Peers 已连接的对端（升序）
func (e *Endpoint) Peers() []world.PeerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]world.PeerID, 0, len(e.byPeer))
	for id, c := range e.byPeer {
		if c.state == Connected {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close 尽力通知所有对端后关闭底层连接，并等待后台协程退出
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	var errs error
	for _, c := range e.byPeer {
		if c.state == Connected {
			errs = multierr.Append(errs, e.sendLocked(c, ReliableOrdered, wire.DisconnectPacket{Reason: wire.ReasonShutdown}, 0))
		}
		c.release()
	}
	e.byAddr = map[string]*connection{}
	e.byPeer = map[world.PeerID]*connection{}
	e.closed = true
	close(e.done)
	e.mu.Unlock()

	errs = multierr.Append(errs, e.conn.Close())
	e.wg.Wait()
	return errs
}

func (e *Endpoint) readLoop() {
	defer e.wg.Done()
	buf := make([]byte, MaxDatagramSize+headerSize)
	for {
		n, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-e.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Log.Debugf("read error: %v", err)
			continue
		}
		e.stats.addIn(n)
		e.handleDatagram(addr, buf[:n])
	}
}

func (e *Endpoint) serviceLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.ServiceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.service()
		}
	}
}

// service 重传到期的可靠消息、发送心跳、处理超时与断开收尾
func (e *Endpoint) service() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	now := e.now()
	for _, c := range e.byAddr {
		timeout := e.cfg.Timeout
		if c.state == Handshaking {
			timeout = e.cfg.HandshakeTimeout
		}
		if now.Sub(c.lastRecv) > timeout {
			e.stats.inc(&e.stats.Timeouts)
			logging.Log.Infow("connection timed out", "peer", c.peer, "addr", c.addr.String(), "state", c.state.String())
			e.finalizeLocked(c, wire.ReasonTimeout)
			continue
		}
		if c.state == Disconnecting && (len(c.pending) == 0 || now.After(c.lingerUntil)) {
			e.finalizeLocked(c, c.reason)
			continue
		}
		for _, p := range c.pending {
			if now.Before(p.nextResend) {
				continue
			}
			p.retries++
			p.nextResend = now.Add(p.backoff.NextBackOff())
			e.stats.inc(&e.stats.Retransmits)
			e.writeLocked(c.addr, p.datagram)
		}
		if c.state == Connected && now.Sub(c.lastPing) >= e.cfg.KeepAlive {
			c.lastPing = now
			e.writeLocked(c.addr, e.pingDatagram(kindPing, uint64(now.Sub(e.epoch))))
		}
	}
}

func (e *Endpoint) pingDatagram(k kind, stamp uint64) []byte {
	b := appendHeader(make([]byte, 0, headerSize+8), header{protocol: e.cfg.ProtocolID, kind: k, channel: Unreliable})
	return binary.BigEndian.AppendUint64(b, stamp)
}

// sendLocked 编码、分配通道序列号并写出；可靠消息记录到待确认表
func (e *Endpoint) sendLocked(c *connection, ch Channel, m wire.Message, stamp uint32) error {
	if ch >= channelCount {
		return &Error{Kind: ErrKindMalformed, Peer: c.peer, Err: errors.New("unknown channel")}
	}
	payload, err := wire.Encode(m)
	if err != nil {
		return err
	}
	if len(payload) > MaxDatagramSize {
		return &Error{Kind: ErrKindOverflow, Peer: c.peer, Err: errors.New("message exceeds datagram size")}
	}
	seq := c.sendSeq[ch]
	c.sendSeq[ch]++
	datagram := appendHeader(make([]byte, 0, headerSize+len(payload)), header{
		protocol: e.cfg.ProtocolID, kind: kindData, channel: ch, seq: seq,
	})
	datagram = append(datagram, payload...)

	if ch.Reliable() {
		if len(c.pending) >= e.cfg.MaxPending {
			// 对端长时间不确认：视为停滞，断开而不是无限增长
			logging.Log.Warnw("pending reliable buffer overflow, dropping connection", "peer", c.peer)
			e.finalizeLocked(c, wire.ReasonStalled)
			return &Error{Kind: ErrKindOverflow, Peer: c.peer}
		}
		now := e.now()
		b := c.newBackoff(e.cfg)
		c.pending[pendingKey{ch: ch, seq: seq}] = &pending{
			datagram:   datagram,
			firstSent:  now,
			nextResend: now.Add(b.NextBackOff()),
			backoff:    b,
			stamp:      stamp,
		}
	}
	e.writeLocked(c.addr, datagram)
	return nil
}

// sendRawLocked 不经过连接状态直接回应（握手拒绝）
func (e *Endpoint) sendRawLocked(addr net.Addr, m wire.Message) {
	payload, err := wire.Encode(m)
	if err != nil {
		return
	}
	datagram := appendHeader(make([]byte, 0, headerSize+len(payload)), header{
		protocol: e.cfg.ProtocolID, kind: kindData, channel: Unreliable,
	})
	e.writeLocked(addr, append(datagram, payload...))
}

func (e *Endpoint) writeLocked(addr net.Addr, datagram []byte) {
	n, err := e.conn.WriteTo(datagram, addr)
	if err != nil {
		logging.Log.Debugf("write to %s: %v", addr, err)
		return
	}
	e.stats.addOut(n)
}

func (e *Endpoint) pushLocked(ev Event) {
	e.inbox = append(e.inbox, ev)
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// finalizeLocked 连接进入 Disconnected：停止重传、释放缓冲，并向上层发出断开事件
func (e *Endpoint) finalizeLocked(c *connection, reason wire.Reason) {
	if c.state == Disconnected {
		return
	}
	wasConnected := c.state == Connected || c.state == Disconnecting
	wasHandshaking := c.state == Handshaking
	c.release()
	delete(e.byAddr, c.addr.String())
	if cur, ok := e.byPeer[c.peer]; ok && cur == c {
		delete(e.byPeer, c.peer)
	}
	if wasConnected {
		e.pushLocked(Event{Type: EventDisconnected, Peer: c.peer, Reason: reason})
	}
	if wasHandshaking && e.role == roleClient {
		e.handshakeDoneLocked(&HandshakeError{Reason: reason})
	}
}

func (e *Endpoint) handleDatagram(addr net.Addr, b []byte) {
	h, payload, err := parseHeader(b)
	if err != nil || h.protocol != e.cfg.ProtocolID {
		e.stats.inc(&e.stats.Malformed)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	c, ok := e.byAddr[addr.String()]
	if !ok {
		if e.role != roleServer || h.kind != kindData {
			e.stats.inc(&e.stats.Malformed)
			return
		}
		c = e.acceptLocked(addr, h, payload)
		if c == nil {
			return
		}
	}
	c.lastRecv = e.now()

	switch h.kind {
	case kindAck:
		key := pendingKey{ch: h.channel, seq: h.seq}
		if p, ok := c.pending[key]; ok {
			if p.retries == 0 {
				// 只用未重传过的消息采样 RTT，避免歧义
				c.observeRTT(e.now().Sub(p.firstSent))
			}
			delete(c.pending, key)
		}
	case kindPing:
		if len(payload) >= 8 {
			e.writeLocked(c.addr, e.pingDatagram(kindPong, binary.BigEndian.Uint64(payload)))
		}
	case kindPong:
		if len(payload) >= 8 {
			sent := time.Duration(binary.BigEndian.Uint64(payload))
			c.observeRTT(e.now().Sub(e.epoch) - sent)
		}
	case kindData:
		e.receiveDataLocked(c, h, payload)
	}
}

func (e *Endpoint) ackLocked(c *connection, h header) {
	e.writeLocked(c.addr, appendHeader(make([]byte, 0, headerSize), header{
		protocol: e.cfg.ProtocolID, kind: kindAck, channel: h.channel, seq: h.seq,
	}))
}

func (e *Endpoint) receiveDataLocked(c *connection, h header, payload []byte) {
	var deliver [][]byte
	switch h.channel {
	case ReliableOrdered:
		d, ack := c.ordered.accept(h.seq, payload)
		if ack {
			e.ackLocked(c, h)
		}
		deliver = d
	case ReliableUnordered:
		ok, ack := c.unordered.accept(h.seq)
		if ack {
			e.ackLocked(c, h)
		}
		if ok {
			deliver = [][]byte{payload}
		}
	case Unreliable:
		if !c.unreliable.accept(h.seq) {
			e.stats.inc(&e.stats.StaleDropped)
			return
		}
		deliver = [][]byte{payload}
	}

	for _, raw := range deliver {
		m, err := wire.Decode(raw)
		if err != nil {
			e.decodeFailedLocked(c, err)
			if c.state == Disconnected {
				return
			}
			continue
		}
		c.decodeErrors = 0
		e.dispatchLocked(c, h.channel, m)
		if c.state == Disconnected {
			return
		}
	}
}

func (e *Endpoint) decodeFailedLocked(c *connection, err error) {
	e.stats.inc(&e.stats.DecodeErrors)
	if c.state == Handshaking && e.role == roleClient && errors.Is(err, wire.ErrVersionMismatch) {
		e.finalizeLocked(c, wire.ReasonVersionMismatch)
		return
	}
	c.decodeErrors++
	logging.Log.Warnw("discarding undecodable message", "peer", c.peer, "err", err, "consecutive", c.decodeErrors)
	if c.decodeErrors >= e.cfg.MaxDecodeErrors {
		e.finalizeLocked(c, wire.ReasonKicked)
	}
}

func (e *Endpoint) dispatchLocked(c *connection, ch Channel, m wire.Message) {
	switch msg := m.(type) {
	case wire.ConnectRequest:
		// 重复的连接请求：已由通道去重，忽略
		return
	case wire.ConnectChallenge:
		e.onChallengeLocked(c, msg)
		return
	case wire.ConnectResponse:
		e.onResponseLocked(c, msg)
		return
	case wire.ConnectAccept:
		e.onAcceptLocked(c, msg)
		return
	case wire.ConnectDeny:
		if e.role == roleClient && c.state == Handshaking {
			logging.Log.Warnw("connection denied", "reason", msg.Reason.String())
			e.finalizeLocked(c, msg.Reason)
		}
		return
	case wire.DisconnectPacket:
		logging.Log.Infow("peer disconnected", "peer", c.peer, "reason", msg.Reason.String())
		e.finalizeLocked(c, msg.Reason)
		return
	}
	if c.state != Connected {
		return
	}
	e.pushLocked(Event{Type: EventMessage, Peer: c.peer, Channel: ch, Message: m})
}
