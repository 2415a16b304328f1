package transport

import "time"

// Config 传输层参数
type Config struct {
	ProtocolID uint32

	// Timeout 无任何入站数据报的静默超时，超时后连接转为 Disconnected
	Timeout time.Duration
	// HandshakeTimeout 握手阶段的超时
	HandshakeTimeout time.Duration
	// KeepAlive 心跳间隔，心跳同时用于采样 RTT
	KeepAlive time.Duration
	// ResendInitial / ResendMax 可靠消息重传的指数退避区间
	ResendInitial time.Duration
	ResendMax     time.Duration
	// ServiceInterval 重传与超时检查的周期
	ServiceInterval time.Duration
	// DisconnectLinger 主动断开后等待断开通知被确认的最长时间
	DisconnectLinger time.Duration

	MaxPeers int
	// MaxPending 单连接未确认可靠消息的上限，超出视为连接停滞
	MaxPending int
	// ReceiveWindow 可靠通道接收窗口
	ReceiveWindow uint32
	// MaxDecodeErrors 连续解码失败达到该值后断开
	MaxDecodeErrors int

	// ConnectRate / ConnectBurst 新连接请求的速率限制
	ConnectRate  float64
	ConnectBurst int
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		ProtocolID:       ProtocolID,
		Timeout:          5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		KeepAlive:        250 * time.Millisecond,
		ResendInitial:    100 * time.Millisecond,
		ResendMax:        time.Second,
		ServiceInterval:  10 * time.Millisecond,
		DisconnectLinger: time.Second,
		MaxPeers:         64,
		MaxPending:       1024,
		ReceiveWindow:    1024,
		MaxDecodeErrors:  8,
		ConnectRate:      20,
		ConnectBurst:     10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProtocolID == 0 {
		c.ProtocolID = d.ProtocolID
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = d.KeepAlive
	}
	if c.ResendInitial <= 0 {
		c.ResendInitial = d.ResendInitial
	}
	if c.ResendMax < c.ResendInitial {
		c.ResendMax = c.ResendInitial
	}
	if c.ServiceInterval <= 0 {
		c.ServiceInterval = d.ServiceInterval
	}
	if c.DisconnectLinger <= 0 {
		c.DisconnectLinger = d.DisconnectLinger
	}
	if c.MaxPeers <= 0 {
		c.MaxPeers = d.MaxPeers
	}
	if c.MaxPending <= 0 {
		c.MaxPending = d.MaxPending
	}
	if c.ReceiveWindow == 0 {
		c.ReceiveWindow = d.ReceiveWindow
	}
	if c.MaxDecodeErrors <= 0 {
		c.MaxDecodeErrors = d.MaxDecodeErrors
	}
	if c.ConnectRate <= 0 {
		c.ConnectRate = d.ConnectRate
	}
	if c.ConnectBurst <= 0 {
		c.ConnectBurst = d.ConnectBurst
	}
	return c
}
