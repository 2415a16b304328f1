// Package config 服务端与客户端的配置：先读环境变量（带默认值），再由命令行参数覆盖
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server 服务端配置
type Server struct {
	ListenAddr string `env:"ARENASYNC_LISTEN_ADDR" envDefault:":5000"`
	// WSAddr 为空时不开启 WebSocket 通道
	WSAddr string `env:"ARENASYNC_WS_ADDR"`
	// AdminAddr 为空时不开启管理接口
	AdminAddr string `env:"ARENASYNC_ADMIN_ADDR" envDefault:":8080"`

	TickRate int `env:"ARENASYNC_TICK_RATE" envDefault:"60"`
	Horizon  int `env:"ARENASYNC_MAX_PREDICTION_HORIZON" envDefault:"32"`
	// Threshold 增量压缩阈值 K：基准比当前 Tick 旧 K 以上时改发完整快照
	Threshold int           `env:"ARENASYNC_COMPACTION_THRESHOLD" envDefault:"64"`
	Timeout   time.Duration `env:"ARENASYNC_CONNECTION_TIMEOUT" envDefault:"5s"`
	MaxPeers  int           `env:"ARENASYNC_MAX_PEERS" envDefault:"64"`
	Bots      int           `env:"ARENASYNC_BOTS" envDefault:"0"`
	// MaxInputsPerTick 单个连接每 Tick 平均可接受的输入包数（含重发）
	MaxInputsPerTick int `env:"ARENASYNC_MAX_INPUTS_PER_TICK" envDefault:"16"`
	DSCP             int `env:"ARENASYNC_DSCP" envDefault:"46"`

	LogFile  string `env:"ARENASYNC_LOG_FILE"`
	LogLevel string `env:"ARENASYNC_LOG_LEVEL" envDefault:"info"`
}

// Client 客户端配置
type Client struct {
	ServerAddr string `env:"ARENASYNC_SERVER_ADDR" envDefault:"127.0.0.1:5000"`
	// Player 本地玩家标识，仅用于日志
	Player string `env:"ARENASYNC_PLAYER" envDefault:"player"`
	// Transport udp 或 ws；ws 时 ServerAddr 为 ws:// 地址
	Transport string `env:"ARENASYNC_TRANSPORT" envDefault:"udp"`

	TickRate         int           `env:"ARENASYNC_TICK_RATE" envDefault:"60"`
	Horizon          int           `env:"ARENASYNC_MAX_PREDICTION_HORIZON" envDefault:"32"`
	Timeout          time.Duration `env:"ARENASYNC_CONNECTION_TIMEOUT" envDefault:"5s"`
	HandshakeTimeout time.Duration `env:"ARENASYNC_HANDSHAKE_TIMEOUT" envDefault:"5s"`
	DSCP             int           `env:"ARENASYNC_DSCP" envDefault:"46"`

	LogFile  string `env:"ARENASYNC_LOG_FILE"`
	LogLevel string `env:"ARENASYNC_LOG_LEVEL" envDefault:"info"`
}

// ParseServer 解析环境变量与参数
func ParseServer(fs *flag.FlagSet, args []string) (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "UDP listen address")
	fs.StringVar(&cfg.WSAddr, "ws", cfg.WSAddr, "WebSocket listen address (empty disables)")
	fs.StringVar(&cfg.AdminAddr, "admin", cfg.AdminAddr, "admin HTTP address (empty disables)")
	fs.IntVar(&cfg.TickRate, "tick-rate", cfg.TickRate, "simulation ticks per second")
	fs.IntVar(&cfg.Horizon, "horizon", cfg.Horizon, "max prediction horizon in ticks")
	fs.IntVar(&cfg.Threshold, "k", cfg.Threshold, "delta compaction threshold in ticks")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "connection silence timeout")
	fs.IntVar(&cfg.Bots, "bots", cfg.Bots, "number of bots spawned at startup")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "rolling log file (empty logs to stderr)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	if err := fs.Parse(args); err != nil {
		return Server{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// ParseClient 解析环境变量与参数
func ParseClient(fs *flag.FlagSet, args []string) (Client, error) {
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return Client{}, fmt.Errorf("parse env: %w", err)
	}
	fs.StringVar(&cfg.ServerAddr, "server", cfg.ServerAddr, "server address (host:port, or ws:// URL)")
	fs.StringVar(&cfg.Player, "player", cfg.Player, "local player identity")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "udp or ws")
	fs.IntVar(&cfg.TickRate, "tick-rate", cfg.TickRate, "simulation ticks per second (must match the server)")
	fs.IntVar(&cfg.Horizon, "horizon", cfg.Horizon, "max prediction horizon in ticks")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "rolling log file (empty logs to stderr)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	if err := fs.Parse(args); err != nil {
		return Client{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

var errEmptyListen = errors.New("config: listen address is required")

// Validate 拒绝无意义的取值
func (c Server) Validate() error {
	if c.ListenAddr == "" {
		return errEmptyListen
	}
	if err := validateTiming(c.TickRate, c.Horizon, c.Timeout); err != nil {
		return err
	}
	if c.Threshold < 1 {
		return fmt.Errorf("config: compaction threshold must be positive, got %d", c.Threshold)
	}
	if c.MaxPeers < 1 {
		return fmt.Errorf("config: max peers must be positive, got %d", c.MaxPeers)
	}
	if c.Bots < 0 {
		return fmt.Errorf("config: bots must not be negative, got %d", c.Bots)
	}
	if c.MaxInputsPerTick < 1 {
		return fmt.Errorf("config: max inputs per tick must be positive, got %d", c.MaxInputsPerTick)
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("config: dscp out of range: %d", c.DSCP)
	}
	return nil
}

// Validate 拒绝无意义的取值
func (c Client) Validate() error {
	if c.ServerAddr == "" {
		return errors.New("config: server address is required")
	}
	if c.Transport != "udp" && c.Transport != "ws" {
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	if err := validateTiming(c.TickRate, c.Horizon, c.Timeout); err != nil {
		return err
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("config: handshake timeout must be positive, got %s", c.HandshakeTimeout)
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("config: dscp out of range: %d", c.DSCP)
	}
	return nil
}

func validateTiming(tickRate, horizon int, timeout time.Duration) error {
	if tickRate < 1 || tickRate > 1000 {
		return fmt.Errorf("config: tick rate out of range: %d", tickRate)
	}
	if horizon < 1 {
		return fmt.Errorf("config: prediction horizon must be positive, got %d", horizon)
	}
	if timeout <= 0 {
		return fmt.Errorf("config: connection timeout must be positive, got %s", timeout)
	}
	return nil
}
