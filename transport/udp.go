package transport

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"

	"arenasync/logging"
)

// DSCPExpedited EF（加急转发），实时流量常用的标记
const DSCPExpedited = 46

// ListenUDP 绑定 UDP 套接字，并尽力设置 DSCP 标记；绑定失败对进程是致命的，由调用方决定退出
func ListenUDP(addr string, dscp int) (*net.UDPConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", addr, err)
	}
	markDSCP(conn, dscp)
	return conn, nil
}

// DialUDP 为客户端绑定本地临时端口并解析服务端地址
// 套接字保持未连接状态，Endpoint 统一使用 WriteTo/ReadFrom
func DialUDP(server string, dscp int) (net.PacketConn, net.Addr, error) {
	raddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve %q: %w", server, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("bind local udp: %w", err)
	}
	markDSCP(conn, dscp)
	return conn, raddr, nil
}

func markDSCP(conn *net.UDPConn, dscp int) {
	if dscp <= 0 {
		return
	}
	// TOS 高 6 位为 DSCP；IPv6 套接字上可能失败，不影响功能
	if err := ipv4.NewConn(conn).SetTOS(dscp << 2); err != nil {
		logging.Log.Debugf("set DSCP %d on %s: %v", dscp, conn.LocalAddr(), err)
	}
}
