package transport

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"net"

	"lukechampine.com/blake3"

	"arenasync/logging"
	"arenasync/wire"
)

// 握手流程：
//   客户端 ConnectRequest{version, client_salt}
//   服务端 ConnectChallenge{server_salt}
//   客户端 ConnectResponse{blake3(client_salt | server_salt | protocol)}
//   服务端 ConnectAccept{peer_id} 或 ConnectDeny{reason}

func randomSalt() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Token 由双方的盐组合出握手令牌
func Token(clientSalt, serverSalt uint64, protocol uint32) [32]byte {
	var b [20]byte
	binary.LittleEndian.PutUint64(b[0:8], clientSalt)
	binary.LittleEndian.PutUint64(b[8:16], serverSalt)
	binary.LittleEndian.PutUint32(b[16:20], protocol)
	return blake3.Sum256(b[:])
}

// acceptLocked 处理来自未知地址的首个数据报：只接受 ConnectRequest
func (e *Endpoint) acceptLocked(addr net.Addr, h header, payload []byte) *connection {
	if h.channel != ReliableOrdered {
		e.stats.inc(&e.stats.Malformed)
		return nil
	}
	// 先只读帧头：陌生地址只可能发来连接请求，其它消息不解析正文
	tag, err := wire.PeekTag(payload)
	if err != nil {
		e.stats.inc(&e.stats.DecodeErrors)
		if errors.Is(err, wire.ErrVersionMismatch) {
			e.stats.inc(&e.stats.Denied)
			e.sendRawLocked(addr, wire.ConnectDeny{Reason: wire.ReasonVersionMismatch})
		}
		return nil
	}
	if tag != wire.TagConnectRequest {
		e.stats.inc(&e.stats.Malformed)
		return nil
	}
	m, err := wire.Decode(payload)
	if err != nil {
		e.stats.inc(&e.stats.DecodeErrors)
		return nil
	}
	req, ok := m.(wire.ConnectRequest)
	if !ok {
		e.stats.inc(&e.stats.Malformed)
		return nil
	}
	if !e.limiter.Allow() {
		e.stats.inc(&e.stats.ConnectsLimit)
		return nil
	}
	if req.ProtocolVersion != wire.Version {
		e.stats.inc(&e.stats.Denied)
		logging.Log.Infow("denying connect: version mismatch", "addr", addr.String(), "remote", req.ProtocolVersion)
		e.sendRawLocked(addr, wire.ConnectDeny{Reason: wire.ReasonVersionMismatch})
		return nil
	}
	if len(e.byAddr) >= e.cfg.MaxPeers {
		e.stats.inc(&e.stats.Denied)
		logging.Log.Infow("denying connect: server full", "addr", addr.String())
		e.sendRawLocked(addr, wire.ConnectDeny{Reason: wire.ReasonServerFull})
		return nil
	}
	salt, err := randomSalt()
	if err != nil {
		logging.Log.Errorf("server salt: %v", err)
		return nil
	}

	c := newConnection(addr, e.cfg.ReceiveWindow, e.now())
	c.clientSalt = req.ClientSalt
	c.serverSalt = salt
	e.byAddr[addr.String()] = c
	if err := e.sendLocked(c, ReliableOrdered, wire.ConnectChallenge{ServerSalt: salt}, 0); err != nil {
		delete(e.byAddr, addr.String())
		return nil
	}
	logging.Log.Debugw("handshake started", "addr", addr.String())
	return c
}

func (e *Endpoint) onChallengeLocked(c *connection, msg wire.ConnectChallenge) {
	if e.role != roleClient || c.state != Handshaking {
		return
	}
	c.serverSalt = msg.ServerSalt
	token := Token(c.clientSalt, c.serverSalt, e.cfg.ProtocolID)
	if err := e.sendLocked(c, ReliableOrdered, wire.ConnectResponse{Token: token}, 0); err != nil {
		e.finalizeLocked(c, wire.ReasonNone)
	}
}

func (e *Endpoint) onResponseLocked(c *connection, msg wire.ConnectResponse) {
	if e.role != roleServer || c.state != Handshaking {
		return
	}
	want := Token(c.clientSalt, c.serverSalt, e.cfg.ProtocolID)
	if subtle.ConstantTimeCompare(want[:], msg.Token[:]) != 1 {
		e.stats.inc(&e.stats.Denied)
		logging.Log.Infow("denying connect: bad token", "addr", c.addr.String())
		e.sendRawLocked(c.addr, wire.ConnectDeny{Reason: wire.ReasonBadToken})
		e.finalizeLocked(c, wire.ReasonBadToken)
		return
	}
	peer := e.nextPeer
	e.nextPeer++
	c.peer = peer
	c.state = Connected
	e.byPeer[peer] = c
	if err := e.sendLocked(c, ReliableOrdered, wire.ConnectAccept{PeerID: peer}, 0); err != nil {
		return
	}
	logging.Log.Infow("peer connected", "peer", peer, "addr", c.addr.String())
	e.pushLocked(Event{Type: EventConnected, Peer: peer})
}

func (e *Endpoint) onAcceptLocked(c *connection, msg wire.ConnectAccept) {
	if e.role != roleClient || c.state != Handshaking {
		return
	}
	c.state = Connected
	e.localPeer = msg.PeerID
	e.pushLocked(Event{Type: EventConnected, Peer: ServerPeer})
	e.handshakeDoneLocked(nil)
}

func (e *Endpoint) handshakeDoneLocked(err error) {
	if e.handshake == nil {
		return
	}
	select {
	case e.handshake <- err:
	default:
	}
}
