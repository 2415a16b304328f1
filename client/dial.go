package client

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"

	"arenasync/config"
	"arenasync/logging"
	"arenasync/transport"
	"arenasync/wire"
	"arenasync/world"
)

// connectAttempts 握手超时或服务端已满时的最多尝试次数
const connectAttempts = 3

// Connect 按配置打开 UDP 或 WebSocket 载体并完成握手
// 版本不符、令牌错误等被拒绝的握手不重试；失败时返回的错误可用 errors.As 取出 *transport.HandshakeError
func Connect(ctx context.Context, cfg config.Client, opts Options) (*Session, error) {
	tcfg := transport.DefaultConfig()
	tcfg.Timeout = cfg.Timeout
	tcfg.HandshakeTimeout = cfg.HandshakeTimeout

	type dialed struct {
		ep   *transport.Endpoint
		peer world.PeerID
	}
	attempt := func() (dialed, error) {
		conn, addr, err := openConduit(ctx, cfg)
		if err != nil {
			return dialed{}, err
		}
		ep, peer, err := transport.Dial(ctx, conn, addr, tcfg)
		if err != nil {
			var he *transport.HandshakeError
			if errors.As(err, &he) && he.Reason != wire.ReasonTimeout && he.Reason != wire.ReasonServerFull {
				return dialed{}, backoff.Permanent(err)
			}
			return dialed{}, err
		}
		return dialed{ep: ep, peer: peer}, nil
	}
	d, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(connectAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logging.Log.Warnw("connect failed, retrying", "server", cfg.ServerAddr, "wait", wait, "err", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	if opts.Player == "" {
		opts.Player = cfg.Player
	}
	if opts.TickRate == 0 {
		opts.TickRate = cfg.TickRate
	}
	if opts.Horizon == 0 {
		opts.Horizon = cfg.Horizon
	}
	logging.Log.Infow("session established", "player", opts.Player, "peer", d.peer, "server", cfg.ServerAddr, "transport", cfg.Transport)
	return NewSession(d.ep, d.peer, opts), nil
}

func openConduit(ctx context.Context, cfg config.Client) (net.PacketConn, net.Addr, error) {
	if cfg.Transport == "ws" {
		// 服务端可能尚未就绪，可以重试
		return transport.DialWS(ctx, cfg.ServerAddr)
	}
	conn, addr, err := transport.DialUDP(cfg.ServerAddr, cfg.DSCP)
	if err != nil {
		return nil, nil, backoff.Permanent(err)
	}
	return conn, addr, nil
}
