package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"arenasync/config"
	"arenasync/logging"
	"arenasync/server"
)

// arena-server 入口：绑定 UDP（以及可选的 WebSocket、管理接口），按固定频率推进权威世界
func main() {
	cfg, err := config.ParseServer(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := logging.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logging.SyncLogger()

	// 绑定失败对进程是致命的
	srv, err := server.New(cfg)
	if err != nil {
		logging.Log.Errorf("startup: %v", err)
		logging.SyncLogger()
		os.Exit(1)
	}

	// 优雅退出（Ctrl+C）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		logging.Log.Errorf("server stopped: %v", err)
		logging.SyncLogger()
		os.Exit(1)
	}
	logging.Log.Info("Shutting down...")
}
