package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// MultiConn 把多个载体（例如 UDP 与 WebSocket）合并为一个 net.PacketConn，让同一个 Endpoint 服务所有客户端
// 写入按目标地址的 Network() 选择载体
type MultiConn struct {
	conns   []net.PacketConn
	byNet   map[string]net.PacketConn
	inbound chan datagram
	done    chan struct{}
	once    sync.Once
}

// NewMultiConn 各载体的网络类型必须互不相同
func NewMultiConn(conns ...net.PacketConn) (*MultiConn, error) {
	if len(conns) == 0 {
		return nil, fmt.Errorf("transport: no conduits")
	}
	m := &MultiConn{
		conns:   conns,
		byNet:   make(map[string]net.PacketConn, len(conns)),
		inbound: make(chan datagram, 1024),
		done:    make(chan struct{}),
	}
	for _, c := range conns {
		network := c.LocalAddr().Network()
		if _, dup := m.byNet[network]; dup {
			return nil, fmt.Errorf("transport: duplicate conduit for network %q", network)
		}
		m.byNet[network] = c
	}
	for _, c := range conns {
		go m.pump(c)
	}
	return m, nil
}

func (m *MultiConn) pump(c net.PacketConn) {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, from, err := c.ReadFrom(buf)
		if err != nil {
			return
		}
		d := datagram{data: append([]byte(nil), buf[:n]...), from: from}
		select {
		case m.inbound <- d:
		case <-m.done:
			return
		}
	}
}

func (m *MultiConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case d := <-m.inbound:
		return copy(p, d.data), d.from, nil
	case <-m.done:
		return 0, nil, net.ErrClosed
	}
}

func (m *MultiConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c, ok := m.byNet[addr.Network()]
	if !ok {
		return 0, &net.OpError{Op: "write", Net: addr.Network(), Addr: addr, Err: net.UnknownNetworkError(addr.Network())}
	}
	return c.WriteTo(p, addr)
}

func (m *MultiConn) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		for _, c := range m.conns {
			err = multierr.Append(err, c.Close())
		}
	})
	return err
}

// LocalAddr 第一个载体的地址
func (m *MultiConn) LocalAddr() net.Addr { return m.conns[0].LocalAddr() }

func (m *MultiConn) SetDeadline(time.Time) error      { return nil }
func (m *MultiConn) SetReadDeadline(time.Time) error  { return nil }
func (m *MultiConn) SetWriteDeadline(time.Time) error { return nil }
