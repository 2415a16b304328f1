package transport

import (
	"fmt"

	"arenasync/wire"
	"arenasync/world"
)

// ErrorKind 传输错误类别
type ErrorKind uint8

const (
	ErrKindMalformed ErrorKind = iota + 1
	ErrKindUnknownPeer
	ErrKindTimeout
	ErrKindClosed
	ErrKindOverflow
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindMalformed:
		return "malformed packet"
	case ErrKindUnknownPeer:
		return "unknown peer"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindClosed:
		return "closed"
	case ErrKindOverflow:
		return "send buffer overflow"
	default:
		return "unknown"
	}
}

// Error 作用域限定在单个数据报或单个连接的传输错误
type Error struct {
	Kind ErrorKind
	Peer world.PeerID
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %s (peer %d): %v", e.Kind, e.Peer, e.Err)
	}
	return fmt.Sprintf("transport: %s (peer %d)", e.Kind, e.Peer)
}

func (e *Error) Unwrap() error { return e.Err }

// Is 按 Kind 匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrMalformed   = &Error{Kind: ErrKindMalformed}
	ErrUnknownPeer = &Error{Kind: ErrKindUnknownPeer}
	ErrTimeout     = &Error{Kind: ErrKindTimeout}
	ErrClosed      = &Error{Kind: ErrKindClosed}
	ErrOverflow    = &Error{Kind: ErrKindOverflow}
)

// HandshakeError 握手失败，只影响这一次连接尝试
type HandshakeError struct {
	Reason wire.Reason
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("handshake failed: %s", e.Reason)
}

func (e *HandshakeError) Unwrap() error { return e.Err }
