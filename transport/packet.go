package transport

import (
	"encoding/binary"
	"fmt"
)

// ProtocolID 每个数据报的前缀，其它程序的数据报直接丢弃
const ProtocolID uint32 = 7

// 数据报头：[protocol u32][kind u8][channel u8][seq u32]，之后是负载
const headerSize = 10

// MaxDatagramSize 单个数据报的上限（UDP 允许的最大负载以内）
const MaxDatagramSize = 65000

type kind uint8

const (
	kindData kind = iota + 1
	kindAck
	kindPing
	kindPong
)

type header struct {
	protocol uint32
	kind     kind
	channel  Channel
	seq      uint32
}

func appendHeader(dst []byte, h header) []byte {
	dst = binary.BigEndian.AppendUint32(dst, h.protocol)
	dst = append(dst, byte(h.kind), byte(h.channel))
	return binary.BigEndian.AppendUint32(dst, h.seq)
}

func parseHeader(b []byte) (header, []byte, error) {
	if len(b) < headerSize {
		return header{}, nil, fmt.Errorf("datagram too short: %d bytes", len(b))
	}
	h := header{
		protocol: binary.BigEndian.Uint32(b[0:4]),
		kind:     kind(b[4]),
		channel:  Channel(b[5]),
		seq:      binary.BigEndian.Uint32(b[6:10]),
	}
	if h.kind < kindData || h.kind > kindPong {
		return header{}, nil, fmt.Errorf("unknown datagram kind %d", h.kind)
	}
	if h.channel >= channelCount {
		return header{}, nil, fmt.Errorf("unknown channel %d", h.channel)
	}
	return h, b[headerSize:], nil
}

// seqNewer 考虑回绕的序列号比较：a 是否比 b 新
func seqNewer(a, b uint32) bool {
	return int32(a-b) > 0
}
