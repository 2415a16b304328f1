package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"arenasync/transport/transporttest"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// recordConn 只记录写入的 net.PacketConn
type recordConn struct {
	mu      sync.Mutex
	written []net.Addr
	done    chan struct{}
	once    sync.Once
}

func newRecordConn() *recordConn { return &recordConn{done: make(chan struct{})} }

func (c *recordConn) ReadFrom([]byte) (int, net.Addr, error) {
	<-c.done
	return 0, nil, net.ErrClosed
}

func (c *recordConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	c.written = append(c.written, addr)
	c.mu.Unlock()
	return len(p), nil
}

func (c *recordConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *recordConn) LocalAddr() net.Addr              { return fakeAddr("local") }
func (c *recordConn) SetDeadline(time.Time) error      { return nil }
func (c *recordConn) SetReadDeadline(time.Time) error  { return nil }
func (c *recordConn) SetWriteDeadline(time.Time) error { return nil }

func TestMultiConnRoutesByNetwork(t *testing.T) {
	network := transporttest.NewMemNetwork()
	mem, err := network.Listen("server")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	peer, err := network.Listen("peer")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer peer.Close()
	fake := newRecordConn()

	m, err := NewMultiConn(mem, fake)
	if err != nil {
		t.Fatalf("multi: %v", err)
	}
	defer m.Close()

	if _, err := m.WriteTo([]byte("a"), fakeAddr("x")); err != nil {
		t.Fatalf("write fake: %v", err)
	}
	if _, err := m.WriteTo([]byte("b"), network.Addr("peer")); err != nil {
		t.Fatalf("write mem: %v", err)
	}
	if len(fake.written) != 1 {
		t.Fatalf("expected one write routed to the fake conduit, got %d", len(fake.written))
	}
	buf := make([]byte, 16)
	n, from, err := peer.ReadFrom(buf)
	if err != nil || string(buf[:n]) != "b" || from.String() != "server" {
		t.Fatalf("expected mem datagram from server, got %q from %v (%v)", buf[:n], from, err)
	}

	// 入站方向：任一载体收到的数据报都从合并后的连接读出
	if _, err := peer.WriteTo([]byte("c"), network.Addr("server")); err != nil {
		t.Fatalf("write to server: %v", err)
	}
	n, from, err = m.ReadFrom(buf)
	if err != nil || string(buf[:n]) != "c" || from.String() != "peer" {
		t.Fatalf("expected datagram from peer, got %q from %v (%v)", buf[:n], from, err)
	}
}

func TestMultiConnRejectsDuplicateNetwork(t *testing.T) {
	network := transporttest.NewMemNetwork()
	a, _ := network.Listen("a")
	b, _ := network.Listen("b")
	defer a.Close()
	defer b.Close()
	if _, err := NewMultiConn(a, b); err == nil {
		t.Fatalf("expected duplicate network rejected")
	}
	if _, err := NewMultiConn(); err == nil {
		t.Fatalf("expected empty conduit list rejected")
	}
}
