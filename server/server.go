package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"arenasync/config"
	"arenasync/logging"
	"arenasync/transport"
)

// Server 组装 UDP/WebSocket 载体、传输端点、房间与管理接口
type Server struct {
	cfg      config.Server
	Room     *Room
	Endpoint *transport.Endpoint
	Lossy    *transport.LossyConn

	udpAddr     net.Addr
	wsServer    *http.Server
	wsLn        net.Listener
	adminServer *http.Server
	adminLn     net.Listener
}

// New 绑定全部端口；任一端口绑定失败都返回错误（进程应以非零码退出）
func New(cfg config.Server) (s *Server, err error) {
	s = &Server{cfg: cfg}
	var closers []func() error
	defer func() {
		if err != nil {
			for _, c := range closers {
				err = multierr.Append(err, c())
			}
		}
	}()

	udp, err := transport.ListenUDP(cfg.ListenAddr, cfg.DSCP)
	if err != nil {
		return nil, err
	}
	closers = append(closers, udp.Close)
	s.udpAddr = udp.LocalAddr()
	conduits := []net.PacketConn{udp}

	if cfg.WSAddr != "" {
		ln, lerr := net.Listen("tcp", cfg.WSAddr)
		if lerr != nil {
			return nil, fmt.Errorf("bind websocket %q: %w", cfg.WSAddr, lerr)
		}
		closers = append(closers, ln.Close)
		wsl := transport.NewWSListener(cfg.WSAddr)
		closers = append(closers, wsl.Close)
		mux := http.NewServeMux()
		mux.Handle("/ws", wsl)
		s.wsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		s.wsLn = ln
		conduits = append(conduits, wsl)
	}

	var conn net.PacketConn = udp
	if len(conduits) > 1 {
		if conn, err = transport.NewMultiConn(conduits...); err != nil {
			return nil, err
		}
	}
	// 默认不注入任何丢包/延迟，通过管理接口调整
	s.Lossy = transport.NewLossyConn(conn, transport.LossProfile{}, uint64(time.Now().UnixNano()))

	if cfg.AdminAddr != "" {
		ln, lerr := net.Listen("tcp", cfg.AdminAddr)
		if lerr != nil {
			return nil, fmt.Errorf("bind admin %q: %w", cfg.AdminAddr, lerr)
		}
		s.adminLn = ln
	}

	tcfg := transport.DefaultConfig()
	tcfg.Timeout = cfg.Timeout
	tcfg.MaxPeers = cfg.MaxPeers
	s.Endpoint = transport.Listen(s.Lossy, tcfg)
	s.Room = NewRoom(s.Endpoint, Options{
		TickRate:         cfg.TickRate,
		Horizon:          cfg.Horizon,
		Threshold:        cfg.Threshold,
		MaxInputsPerTick: cfg.MaxInputsPerTick,
		Bots:             cfg.Bots,
	})

	if s.adminLn != nil {
		mux := http.NewServeMux()
		NewAdmin(s.Room, s.Endpoint.Stats(), s.Lossy).Routes(mux)
		s.adminServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return s, nil
}

// UDPAddr 实际绑定的 UDP 地址
func (s *Server) UDPAddr() net.Addr { return s.udpAddr }

// WSAddr 实际绑定的 WebSocket 地址，未开启时为 nil
func (s *Server) WSAddr() net.Addr {
	if s.wsLn == nil {
		return nil
	}
	return s.wsLn.Addr()
}

// AdminAddr 实际绑定的管理接口地址，未开启时为 nil
func (s *Server) AdminAddr() net.Addr {
	if s.adminLn == nil {
		return nil
	}
	return s.adminLn.Addr()
}

// Run 运行房间与 HTTP 服务直到 ctx 取消，随后关闭全部资源
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Room.Run(ctx) })
	serve := func(name string, srv *http.Server, ln net.Listener) {
		g.Go(func() error {
			logging.Log.Infof("%s listening on %s", name, ln.Addr())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	if s.adminServer != nil {
		serve("admin", s.adminServer, s.adminLn)
	}
	if s.wsServer != nil {
		serve("websocket", s.wsServer, s.wsLn)
	}
	logging.Log.Infow("arena server started", "room", s.Room.ID, "udp", s.cfg.ListenAddr,
		"tick_rate", s.cfg.TickRate, "horizon", s.cfg.Horizon, "k", s.cfg.Threshold)

	err := g.Wait()
	return multierr.Append(err, s.Endpoint.Close())
}
