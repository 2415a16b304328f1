// Package client 客户端会话：握手、输入捕获、预测 Tick、快照确认与表现层回调
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arenasync/logging"
	"arenasync/prediction"
	"arenasync/tick"
	"arenasync/transport"
	"arenasync/wire"
	"arenasync/world"
)

// MaxResend 每个 Tick 最多重发的未确认输入条数（最旧在前）
const MaxResend = 8

// Conn 会话需要的传输能力，*transport.Endpoint 满足该接口
type Conn interface {
	Receive() []transport.Event
	Send(peer world.PeerID, ch transport.Channel, m wire.Message) error
	RTT(peer world.PeerID) time.Duration
	Disconnect(peer world.PeerID, reason wire.Reason) error
	Close() error
}

// Options 会话参数；TickRate 必须与服务端一致
type Options struct {
	Player    string
	TickRate  int
	Horizon   int
	Presenter Presenter
	Input     InputSource
}

// DisconnectedError 服务端断开或连接超时
type DisconnectedError struct {
	Reason wire.Reason
}

func (e *DisconnectedError) Error() string {
	return fmt.Sprintf("client: disconnected: %s", e.Reason)
}

// Stats 会话计数
type Stats struct {
	InputsSent   int64
	AcksSent     int64
	ResyncsSent  int64
	InputAcks    int64
	DesyncErrors int64
}

// Session 一个已握手的客户端会话；Step 只在会话协程中调用
type Session struct {
	peer   world.PeerID
	conn   Conn
	opts   Options
	engine *prediction.Engine
	est    *tick.Estimator
	stats  Stats
}

// NewSession 在已建立的连接上创建会话
func NewSession(conn Conn, peer world.PeerID, opts Options) *Session {
	if opts.TickRate <= 0 {
		opts.TickRate = 60
	}
	if opts.Horizon <= 0 {
		opts.Horizon = prediction.DefaultHorizon
	}
	if opts.Presenter == nil {
		opts.Presenter = LogPresenter{Player: opts.Player, Every: world.Tick(opts.TickRate)}
	}
	if opts.Input == nil {
		opts.Input = Wanderer{}
	}
	rules := world.DefaultRules(opts.TickRate)
	return &Session{
		peer:   peer,
		conn:   conn,
		opts:   opts,
		engine: prediction.NewEngine(prediction.Config{Peer: peer, Rules: rules, Horizon: opts.Horizon}),
		est:    tick.NewEstimator(time.Second/time.Duration(opts.TickRate), opts.Horizon),
	}
}

func (s *Session) Peer() world.PeerID         { return s.peer }
func (s *Session) Engine() *prediction.Engine { return s.engine }
func (s *Session) Estimator() *tick.Estimator { return s.est }
func (s *Session) Stats() Stats               { return s.stats }
func (s *Session) Interval() time.Duration    { return s.est.Interval(s.engine.PredictedTick()) }

func (s *Session) send(ch transport.Channel, m wire.Message) error {
	return s.conn.Send(transport.ServerPeer, ch, m)
}

// Step 执行一个客户端 Tick：
// 处理到达的快照与输入确认，预测一个 Tick，发送（重发）未确认输入，必要时请求重同步，最后交给表现层
func (s *Session) Step(now time.Time) error {
	for _, ev := range s.conn.Receive() {
		switch ev.Type {
		case transport.EventDisconnected:
			return &DisconnectedError{Reason: ev.Reason}
		case transport.EventMessage:
			s.onMessage(ev.Message, now)
		}
	}
	if s.est.RTT() == 0 {
		// 还没有输入确认时，用心跳测得的 RTT 作为初值
		if rtt := s.conn.RTT(transport.ServerPeer); rtt > 0 {
			s.est.Observe(rtt)
		}
	}

	next := s.engine.PredictedTick() + 1
	if cmd, ok := s.engine.Tick(s.opts.Input.Next(next)); ok {
		s.est.Sent(cmd.Sequence, now)
	}
	for _, cmd := range s.engine.Unacked(MaxResend) {
		if err := s.send(transport.Unreliable, wire.NewInputPacket(cmd)); err != nil {
			logging.Log.Debugw("input send failed", "peer", s.peer, "seq", cmd.Sequence, "err", err)
			break
		}
		s.stats.InputsSent++
	}
	if reason, ok := s.engine.TakeResync(); ok {
		logging.Log.Infow("requesting full snapshot", "peer", s.peer, "reason", reason.String(), "confirmed", s.engine.Confirmed().Tick)
		if err := s.send(transport.ReliableOrdered, wire.ResyncRequest{Reason: reason}); err != nil {
			logging.Log.Warnw("resync request failed", "peer", s.peer, "err", err)
		} else {
			s.stats.ResyncsSent++
		}
	}
	if s.engine.State() == prediction.Predicting {
		s.opts.Presenter.Present(s.peer, s.engine.Predicted())
	}
	return nil
}

func (s *Session) onMessage(m wire.Message, now time.Time) {
	switch msg := m.(type) {
	case wire.SnapshotPacket:
		s.onSnapshot(msg)
	case wire.AckPacket:
		if s.engine.OnInputAck(msg.AckedSequence) {
			s.stats.InputAcks++
			s.est.Acked(msg.AckedSequence, now)
		}
	default:
		logging.Log.Debugw("unexpected message", "peer", s.peer, "tag", m.Tag().String())
	}
}

func (s *Session) onSnapshot(pkt wire.SnapshotPacket) {
	res, err := s.engine.OnSnapshot(pkt)
	if err != nil {
		if errors.Is(err, prediction.ErrDesync) {
			s.stats.DesyncErrors++
			logging.Log.Warnw("snapshot desync", "peer", s.peer, "tick", pkt.Tick, "err", err)
			return
		}
		logging.Log.Errorw("snapshot rejected", "peer", s.peer, "tick", pkt.Tick, "err", err)
		return
	}
	if res.Stale {
		return
	}
	if res.Corrected {
		logging.Log.Debugw("prediction corrected", "peer", s.peer, "tick", res.Tick, "replayed", res.Replayed)
	}
	confirmed := s.engine.Confirmed().Tick
	s.est.Update(confirmed)
	// 确认快照 Tick，同时回显已被服务端确认的输入序列号，让服务端停止重传输入确认
	ack := wire.AckPacket{AckedTick: confirmed, AckedSequence: s.engine.Queue().AckedSequence()}
	if err := s.send(transport.Unreliable, ack); err != nil {
		logging.Log.Debugw("snapshot ack failed", "peer", s.peer, "tick", confirmed, "err", err)
		return
	}
	s.stats.AcksSent++
}

// Run 以 Estimator 微调后的间隔循环 Step，直到 ctx 取消或连接断开
func (s *Session) Run(ctx context.Context) error {
	timer := time.NewTimer(s.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return s.Close(wire.ReasonClientQuit)
		case now := <-timer.C:
			if err := s.Step(now); err != nil {
				_ = s.conn.Close()
				return err
			}
			timer.Reset(s.Interval())
		}
	}
}

// Close 通知服务端后关闭连接
func (s *Session) Close(reason wire.Reason) error {
	if err := s.conn.Disconnect(transport.ServerPeer, reason); err != nil {
		logging.Log.Debugw("disconnect notify failed", "peer", s.peer, "err", err)
	}
	return s.conn.Close()
}
