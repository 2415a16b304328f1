// Package transporttest 进程内的数据报网络，供测试替代真实 UDP
package transporttest

import (
	"net"
	"sync"
	"time"
)

// MemNetwork 进程内的数据报网络
// 每个地址有一个有界收件箱，满了就丢，和真实 UDP 一样
type MemNetwork struct {
	mu    sync.Mutex
	conns map[string]*MemConn
}

func NewMemNetwork() *MemNetwork {
	return &MemNetwork{conns: make(map[string]*MemConn)}
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type datagram struct {
	data []byte
	from net.Addr
}

// Addr 返回 name 对应的地址，可传给 Dial
func (n *MemNetwork) Addr(name string) net.Addr { return memAddr(name) }

// Listen 在 name 上创建一个端点；名字重复时返回错误
func (n *MemNetwork) Listen(name string) (*MemConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.conns[name]; ok {
		return nil, &net.OpError{Op: "listen", Net: "mem", Addr: memAddr(name), Err: net.ErrClosed}
	}
	c := &MemConn{
		network: n,
		addr:    memAddr(name),
		inbound: make(chan datagram, 4096),
		done:    make(chan struct{}),
	}
	n.conns[name] = c
	return c, nil
}

func (n *MemNetwork) lookup(name string) *MemConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conns[name]
}

func (n *MemNetwork) remove(name string) {
	n.mu.Lock()
	delete(n.conns, name)
	n.mu.Unlock()
}

// MemConn 实现 net.PacketConn
type MemConn struct {
	network *MemNetwork
	addr    memAddr
	inbound chan datagram
	done    chan struct{}
	once    sync.Once
}

func (c *MemConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case d := <-c.inbound:
		return copy(p, d.data), d.from, nil
	case <-c.done:
		return 0, nil, net.ErrClosed
	}
}

func (c *MemConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.done:
		return 0, net.ErrClosed
	default:
	}
	dst := c.network.lookup(addr.String())
	if dst == nil {
		// 对端不存在：静默丢弃
		return len(p), nil
	}
	select {
	case dst.inbound <- datagram{data: append([]byte(nil), p...), from: c.addr}:
	default:
	}
	return len(p), nil
}

func (c *MemConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.network.remove(string(c.addr))
	})
	return nil
}

func (c *MemConn) LocalAddr() net.Addr              { return c.addr }
func (c *MemConn) SetDeadline(time.Time) error      { return nil }
func (c *MemConn) SetReadDeadline(time.Time) error  { return nil }
func (c *MemConn) SetWriteDeadline(time.Time) error { return nil }
