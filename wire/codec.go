package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// 帧格式：[version u16 BE][tag u8][flags u8][msgpack body]
const (
	HeaderSize = 4

	flagCompressed = 1 << 0

	// 大于该长度的快照正文尝试 lz4 压缩
	compressThreshold = 512
	// 解压后正文的上限，防止恶意数据膨胀
	maxBodySize = 1 << 20
)

// Encode 把消息编码为字节序列；同一逻辑消息总是得到相同的字节
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("wire: nil message")
	}
	var body bytes.Buffer
	enc := msgpack.NewEncoder(&body)
	enc.UseCompactInts(true)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", m.Tag(), err)
	}

	payload := body.Bytes()
	var flags byte
	if m.Tag() == TagSnapshot && len(payload) > compressThreshold {
		if packed, err := compress(payload); err == nil && len(packed) < len(payload) {
			payload = packed
			flags |= flagCompressed
		}
	}

	out := make([]byte, HeaderSize, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(out[0:2], Version)
	out[2] = byte(m.Tag())
	out[3] = flags
	return append(out, payload...), nil
}

// Decode 解析字节序列；纯函数，无副作用
func Decode(b []byte) (Message, error) {
	if len(b) < HeaderSize {
		return nil, &DecodeError{Kind: Truncated, Err: fmt.Errorf("need %d header bytes, have %d", HeaderSize, len(b))}
	}
	if v := binary.BigEndian.Uint16(b[0:2]); v != Version {
		return nil, &DecodeError{Kind: VersionMismatch, Version: v}
	}
	tag := Tag(b[2])
	m := newMessage(tag)
	if m == nil {
		return nil, &DecodeError{Kind: UnknownTag, Tag: tag}
	}

	body := b[HeaderSize:]
	if b[3]&flagCompressed != 0 {
		raw, err := decompress(body)
		if err != nil {
			return nil, classify(tag, err)
		}
		body = raw
	}

	dec := msgpack.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(m); err != nil {
		return nil, classify(tag, err)
	}
	return deref(m), nil
}

// PeekTag 只读取帧头中的消息类型，不解析正文
func PeekTag(b []byte) (Tag, error) {
	if len(b) < HeaderSize {
		return 0, &DecodeError{Kind: Truncated}
	}
	if v := binary.BigEndian.Uint16(b[0:2]); v != Version {
		return 0, &DecodeError{Kind: VersionMismatch, Version: v}
	}
	return Tag(b[2]), nil
}

func classify(tag Tag, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &DecodeError{Kind: Truncated, Tag: tag, Err: err}
	}
	return &DecodeError{Kind: Malformed, Tag: tag, Err: err}
}

// newMessage 按判别符返回可供解码的指针
func newMessage(tag Tag) any {
	switch tag {
	case TagConnectRequest:
		return &ConnectRequest{}
	case TagConnectChallenge:
		return &ConnectChallenge{}
	case TagConnectResponse:
		return &ConnectResponse{}
	case TagConnectAccept:
		return &ConnectAccept{}
	case TagConnectDeny:
		return &ConnectDeny{}
	case TagInput:
		return &InputPacket{}
	case TagSnapshot:
		return &SnapshotPacket{}
	case TagAck:
		return &AckPacket{}
	case TagDisconnect:
		return &DisconnectPacket{}
	case TagResyncRequest:
		return &ResyncRequest{}
	default:
		return nil
	}
}

// deref 解码结果统一以值类型返回，与 Encode 的入参形态一致
func deref(m any) Message {
	switch v := m.(type) {
	case *ConnectRequest:
		return *v
	case *ConnectChallenge:
		return *v
	case *ConnectResponse:
		return *v
	case *ConnectAccept:
		return *v
	case *ConnectDeny:
		return *v
	case *InputPacket:
		return *v
	case *SnapshotPacket:
		return *v
	case *AckPacket:
		return *v
	case *DisconnectPacket:
		return *v
	case *ResyncRequest:
		return *v
	default:
		return nil
	}
}

func compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(src []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(src))
	out, err := io.ReadAll(io.LimitReader(zr, maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxBodySize {
		return nil, fmt.Errorf("decompressed body exceeds %d bytes", maxBodySize)
	}
	return out, nil
}
