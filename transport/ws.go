package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"arenasync/logging"
)

// WebSocket 作为数据报载体：每条二进制消息就是一个数据报
// 发送队列满时直接丢弃，保持与 UDP 相同的“不可靠”语义，可靠性由 Endpoint 负责

type wsAddr string

func (a wsAddr) Network() string { return "ws" }
func (a wsAddr) String() string  { return string(a) }

type datagram struct {
	data []byte
	from net.Addr
}

// wsClient 负责读写一个 WebSocket 连接的轻量包装
type wsClient struct {
	ws   *websocket.Conn
	addr wsAddr
	send chan []byte
	once sync.Once
}

func newWSClient(ws *websocket.Conn, addr wsAddr) *wsClient {
	return &wsClient{ws: ws, addr: addr, send: make(chan []byte, 256)}
}

// Enqueue 将要发送的数据报压入队列（非阻塞，满则丢弃）
func (c *wsClient) Enqueue(b []byte) bool {
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close 关闭底层连接与发送队列
func (c *wsClient) Close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.ws.Close()
	})
}

// writePump 独立协程，负责从 send 队列写出到 WS
func (c *wsClient) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return
		}
	}
}

// readPump 读取二进制消息，投递到 inbound；inbound 满时丢弃
func (c *wsClient) readPump(inbound chan<- datagram, done <-chan struct{}, onExit func()) {
	defer onExit()
	c.ws.SetReadLimit(MaxDatagramSize + headerSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	for {
		mt, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		if mt != websocket.BinaryMessage {
			continue
		}
		select {
		case inbound <- datagram{data: payload, from: c.addr}:
		case <-done:
			return
		default:
		}
	}
}

// WSListener 服务端的 WebSocket 数据报载体，同时实现 net.PacketConn 与 http.Handler
type WSListener struct {
	upgrader websocket.Upgrader
	local    wsAddr
	inbound  chan datagram
	done     chan struct{}
	once     sync.Once

	mu      sync.Mutex
	clients map[wsAddr]*wsClient
}

// NewWSListener 创建监听器；挂到 HTTP 路由上（例如 /ws）后即可接入
func NewWSListener(local string) *WSListener {
	return &WSListener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// 演示环境：允许所有来源（生产环境需严格限制）
				return true
			},
		},
		local:   wsAddr("ws-listener-" + local),
		inbound: make(chan datagram, 1024),
		done:    make(chan struct{}),
		clients: make(map[wsAddr]*wsClient),
	}
}

// ServeHTTP WebSocket 接入，每个连接分配一个独立地址
func (l *WSListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log.Warnf("upgrade error: %v", err)
		return
	}
	c := newWSClient(ws, wsAddr("ws-"+uuid.NewString()))
	l.mu.Lock()
	select {
	case <-l.done:
		l.mu.Unlock()
		_ = ws.Close()
		return
	default:
	}
	l.clients[c.addr] = c
	l.mu.Unlock()
	logging.Log.Debugw("websocket conduit attached", "addr", c.addr.String(), "remote", r.RemoteAddr)

	go c.writePump()
	go c.readPump(l.inbound, l.done, func() {
		l.mu.Lock()
		delete(l.clients, c.addr)
		l.mu.Unlock()
		c.Close()
	})
}

func (l *WSListener) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case d := <-l.inbound:
		return copy(p, d.data), d.from, nil
	case <-l.done:
		return 0, nil, net.ErrClosed
	}
}

func (l *WSListener) WriteTo(p []byte, addr net.Addr) (int, error) {
	l.mu.Lock()
	c, ok := l.clients[wsAddr(addr.String())]
	l.mu.Unlock()
	if !ok {
		return 0, &net.OpError{Op: "write", Net: "ws", Addr: addr, Err: net.ErrClosed}
	}
	c.Enqueue(append([]byte(nil), p...))
	return len(p), nil
}

func (l *WSListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.mu.Lock()
		for addr, c := range l.clients {
			c.Close()
			delete(l.clients, addr)
		}
		l.mu.Unlock()
	})
	return nil
}

func (l *WSListener) LocalAddr() net.Addr { return l.local }

// 截止时间由 Endpoint 的服务协程统一处理，这里不支持
func (l *WSListener) SetDeadline(time.Time) error      { return nil }
func (l *WSListener) SetReadDeadline(time.Time) error  { return nil }
func (l *WSListener) SetWriteDeadline(time.Time) error { return nil }

// wsPeerConn 客户端一侧：只有一个对端的 WebSocket 数据报载体
type wsPeerConn struct {
	client  *wsClient
	inbound chan datagram
	done    chan struct{}
	once    sync.Once
}

// DialWS 连接服务端的 WebSocket 入口（例如 ws://host:8080/ws）
func DialWS(ctx context.Context, url string) (net.PacketConn, net.Addr, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, nil, err
	}
	remote := wsAddr(url)
	pc := &wsPeerConn{
		client:  newWSClient(ws, remote),
		inbound: make(chan datagram, 1024),
		done:    make(chan struct{}),
	}
	go pc.client.writePump()
	go pc.client.readPump(pc.inbound, pc.done, func() { _ = pc.Close() })
	return pc, remote, nil
}

func (c *wsPeerConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case d := <-c.inbound:
		return copy(p, d.data), d.from, nil
	case <-c.done:
		return 0, nil, net.ErrClosed
	}
}

func (c *wsPeerConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	select {
	case <-c.done:
		return 0, net.ErrClosed
	default:
	}
	c.client.Enqueue(append([]byte(nil), p...))
	return len(p), nil
}

func (c *wsPeerConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.client.Close()
	})
	return nil
}

func (c *wsPeerConn) LocalAddr() net.Addr              { return wsAddr("ws-client") }
func (c *wsPeerConn) SetDeadline(time.Time) error      { return nil }
func (c *wsPeerConn) SetReadDeadline(time.Time) error  { return nil }
func (c *wsPeerConn) SetWriteDeadline(time.Time) error { return nil }
