package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"arenasync/client"
	"arenasync/config"
	"arenasync/logging"
	"arenasync/wire"
)

// arena-client 入口：握手后以本地预测运行，输入来自脚本化的漫游者，表现层写日志
func main() {
	cfg, err := config.ParseClient(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := logging.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logging.SyncLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := client.Connect(ctx, cfg, client.Options{})
	if err != nil {
		logging.Log.Errorf("connect %s: %v", cfg.ServerAddr, err)
		logging.SyncLogger()
		os.Exit(1)
	}

	err = sess.Run(ctx)
	var de *client.DisconnectedError
	switch {
	case err == nil:
		logging.Log.Info("Shutting down...")
	case errors.As(err, &de) && de.Reason == wire.ReasonShutdown:
		logging.Log.Infow("server shut down", "player", cfg.Player)
	default:
		logging.Log.Errorf("session ended: %v", err)
		logging.SyncLogger()
		os.Exit(1)
	}
}
