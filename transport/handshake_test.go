package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"arenasync/transport/transporttest"
	"arenasync/wire"
)

// rawPeer 手工组帧的对端，用来构造正常端点不会发出的数据报
type rawPeer struct {
	t     *testing.T
	conn  *transporttest.MemConn
	inbox chan datagram
}

func newRawPeer(t *testing.T, n *transporttest.MemNetwork, name string) *rawPeer {
	t.Helper()
	conn, err := n.Listen(name)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	r := &rawPeer{t: t, conn: conn, inbox: make(chan datagram, 256)}
	go func() {
		buf := make([]byte, MaxDatagramSize)
		for {
			k, from, err := conn.ReadFrom(buf)
			if err != nil {
				close(r.inbox)
				return
			}
			select {
			case r.inbox <- datagram{data: append([]byte(nil), buf[:k]...), from: from}:
			default:
			}
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return r
}

func frame(ch Channel, seq uint32, payload []byte) []byte {
	d := appendHeader(make([]byte, 0, headerSize+len(payload)), header{
		protocol: ProtocolID, kind: kindData, channel: ch, seq: seq,
	})
	return append(d, payload...)
}

func encode(t *testing.T, m wire.Message) []byte {
	t.Helper()
	b, err := wire.Encode(m)
	if err != nil {
		t.Fatalf("encode %s: %v", m.Tag(), err)
	}
	return b
}

func (r *rawPeer) sendTo(to net.Addr, ch Channel, seq uint32, payload []byte) {
	if _, err := r.conn.WriteTo(frame(ch, seq, payload), to); err != nil {
		r.t.Fatalf("write: %v", err)
	}
}

// expect 等待下一条满足条件的数据消息，跳过确认、心跳与重传
func (r *rawPeer) expect(match func(wire.Message) bool) (wire.Message, net.Addr) {
	r.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case d, ok := <-r.inbox:
			if !ok {
				r.t.Fatalf("connection closed while waiting")
			}
			h, payload, err := parseHeader(d.data)
			if err != nil || h.kind != kindData {
				continue
			}
			m, err := wire.Decode(payload)
			if err != nil {
				continue
			}
			if match(m) {
				return m, d.from
			}
		case <-timeout:
			r.t.Fatalf("timed out waiting for message")
		}
	}
}

func isDeny(m wire.Message) bool {
	_, ok := m.(wire.ConnectDeny)
	return ok
}

// withVersion 改写已编码帧里的协议版本
func withVersion(b []byte, v uint16) []byte {
	out := append([]byte(nil), b...)
	binary.BigEndian.PutUint16(out[0:2], v)
	return out
}

func TestServerDeniesVersionMismatch(t *testing.T) {
	cases := []struct {
		name    string
		payload func(t *testing.T) []byte
	}{
		{"request field", func(t *testing.T) []byte {
			return encode(t, wire.ConnectRequest{ProtocolVersion: wire.Version + 1, ClientSalt: 1})
		}},
		{"frame header", func(t *testing.T) []byte {
			return withVersion(encode(t, wire.ConnectRequest{ProtocolVersion: wire.Version, ClientSalt: 1}), wire.Version+1)
		}},
	}
	for _, tc := range cases {
		n := transporttest.NewMemNetwork()
		sc, err := n.Listen("server")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		srv := Listen(sc, testConfig())
		rogue := newRawPeer(t, n, "old-client")

		rogue.sendTo(n.Addr("server"), ReliableOrdered, 0, tc.payload(t))
		m, _ := rogue.expect(isDeny)
		if deny := m.(wire.ConnectDeny); deny.Reason != wire.ReasonVersionMismatch {
			t.Fatalf("%s: expected version mismatch deny, got %s", tc.name, deny.Reason)
		}
		if peers := srv.Peers(); len(peers) != 0 {
			t.Fatalf("%s: expected no peers, got %v", tc.name, peers)
		}
		if srv.Stats().Snapshot()["denied"].(int64) == 0 {
			t.Fatalf("%s: expected denied to be counted", tc.name)
		}
		_ = srv.Close()
	}
}

func TestClientFailsOnVersionMismatch(t *testing.T) {
	n := transporttest.NewMemNetwork()
	rogue := newRawPeer(t, n, "server")
	cc, err := n.Listen("client")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	// 服务端用另一个协议版本回应挑战
	go func() {
		for d := range rogue.inbox {
			if h, _, err := parseHeader(d.data); err == nil && h.kind == kindData {
				challenge, err := wire.Encode(wire.ConnectChallenge{ServerSalt: 9})
				if err != nil {
					return
				}
				_, _ = rogue.conn.WriteTo(frame(ReliableOrdered, 0, withVersion(challenge, wire.Version+1)), d.from)
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err = Dial(ctx, cc, n.Addr("server"), testConfig())
	var hs *HandshakeError
	if !errors.As(err, &hs) || hs.Reason != wire.ReasonVersionMismatch {
		t.Fatalf("expected version mismatch handshake error, got %v", err)
	}
}

func TestServerDeniesBadToken(t *testing.T) {
	n := transporttest.NewMemNetwork()
	sc, err := n.Listen("server")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := Listen(sc, testConfig())
	t.Cleanup(func() { _ = srv.Close() })
	rogue := newRawPeer(t, n, "forger")
	to := n.Addr("server")

	rogue.sendTo(to, ReliableOrdered, 0, encode(t, wire.ConnectRequest{ProtocolVersion: wire.Version, ClientSalt: 42}))
	rogue.expect(func(m wire.Message) bool {
		_, ok := m.(wire.ConnectChallenge)
		return ok
	})
	// 不知道服务端的盐，只能猜一个令牌
	rogue.sendTo(to, ReliableOrdered, 1, encode(t, wire.ConnectResponse{Token: Token(42, 0, ProtocolID)}))

	m, _ := rogue.expect(isDeny)
	if deny := m.(wire.ConnectDeny); deny.Reason != wire.ReasonBadToken {
		t.Fatalf("expected bad token deny, got %s", deny.Reason)
	}
	if peers := srv.Peers(); len(peers) != 0 {
		t.Fatalf("expected no peers after a bad token, got %v", peers)
	}
	for _, ev := range srv.Receive() {
		if ev.Type == EventConnected {
			t.Fatalf("expected no connected event, got %+v", ev)
		}
	}
}

func TestRepeatedDecodeErrorsKickPeer(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDecodeErrors = 3
	p := connectPair(t, cfg)

	// 从客户端地址发送无法解码的负载
	for i := 0; i < cfg.MaxDecodeErrors; i++ {
		d := frame(Unreliable, uint32(1000+i), []byte{0xff})
		if _, err := p.cliConn.WriteTo(d, p.network.Addr("server")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	ev := waitEvent(t, p.server, isType(EventDisconnected))
	if ev.Peer != p.peer || ev.Reason != wire.ReasonKicked {
		t.Fatalf("expected peer %d kicked, got %+v", p.peer, ev)
	}
	if got := p.server.Stats().Snapshot()["decode_errors"].(int64); got < int64(cfg.MaxDecodeErrors) {
		t.Fatalf("expected at least %d decode errors, got %d", cfg.MaxDecodeErrors, got)
	}
}

func TestServerIgnoresStrangerTraffic(t *testing.T) {
	n := transporttest.NewMemNetwork()
	sc, err := n.Listen("server")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := Listen(sc, testConfig())
	t.Cleanup(func() { _ = srv.Close() })
	stranger := newRawPeer(t, n, "stranger")

	// 没有握手就发来的确认：只看帧头就丢弃，不回应也不建立连接
	stranger.sendTo(n.Addr("server"), ReliableOrdered, 0, encode(t, wire.AckPacket{AckedTick: 1}))
	select {
	case d := <-stranger.inbox:
		t.Fatalf("expected no reply to a stranger, got %d bytes", len(d.data))
	case <-time.After(100 * time.Millisecond):
	}
	if got := srv.Stats().Snapshot()["malformed"].(int64); got != 1 {
		t.Fatalf("expected one malformed datagram, got %d", got)
	}
	if peers := srv.Peers(); len(peers) != 0 {
		t.Fatalf("expected no peers, got %v", peers)
	}
}
