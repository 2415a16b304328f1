package server

import (
	"context"
	"net"
	"testing"
	"time"

	"arenasync/config"
)

func testServerConfig() config.Server {
	return config.Server{
		ListenAddr:       "127.0.0.1:0",
		TickRate:         60,
		Horizon:          32,
		Threshold:        64,
		Timeout:          time.Second,
		MaxPeers:         4,
		MaxInputsPerTick: 16,
	}
}

func TestNewFailsWhenPortTaken(t *testing.T) {
	taken, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()

	cfg := testServerConfig()
	cfg.ListenAddr = taken.LocalAddr().String()
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected bind failure")
	}
}

func TestServerRunsUntilCancelled(t *testing.T) {
	cfg := testServerConfig()
	cfg.AdminAddr = "127.0.0.1:0"
	cfg.WSAddr = "127.0.0.1:0"
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	if s.Room.Tick() == 0 {
		t.Fatalf("expected the room to advance")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("server did not stop")
	}
}
