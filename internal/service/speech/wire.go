package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// 火山引擎语音WebSocket二进制协议：4字节头 + 可选扩展段 + payload。

const wireProtocolVersion = 0b0001

type wireMessageType uint8

const (
	fullClientRequest       wireMessageType = 0b0001
	fullServerResponse      wireMessageType = 0b1001
	audioOnlyServerResponse wireMessageType = 0b1011
	errorResponse           wireMessageType = 0b1111
)

type wireFlags uint8

const (
	noSequence       wireFlags = 0b0000
	positiveSequence wireFlags = 0b0001
	lastNoSequence   wireFlags = 0b0010
	negativeSequence wireFlags = 0b0011
	withEvent        wireFlags = 0b0100
)

type wireCompression uint8

const (
	noCompression   wireCompression = 0b0000
	gzipCompression wireCompression = 0b0001
)

const jsonSerialization uint8 = 0b0001

type wireEvent int32

const (
	eventSessionFinished wireEvent = 152
)

// connectionLevelEvent 连接级事件的元数据里不含session id
func connectionLevelEvent(e wireEvent) bool {
	switch e {
	case 1, 2, 50, 51, 52:
		return true
	default:
		return false
	}
}

// wireMessage 一条解码后的协议消息
type wireMessage struct {
	Type        wireMessageType
	Flags       wireFlags
	Compression wireCompression
	Sequence    int32
	Event       wireEvent
	SessionID   string
	ErrorCode   uint32
	Payload     []byte
}

// last 最后一包由flags低两位或负sequence标记
func (m *wireMessage) last() bool {
	switch m.Flags & 0b0011 {
	case lastNoSequence, negativeSequence:
		return true
	default:
		return false
	}
}

// decompressedPayload 按头部声明的压缩方法还原payload
func (m *wireMessage) decompressedPayload() ([]byte, error) {
	switch m.Compression {
	case noCompression:
		return m.Payload, nil
	case gzipCompression:
		r, err := gzip.NewReader(bytes.NewReader(m.Payload))
		if err != nil {
			return nil, fmt.Errorf("gzip reader failed: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("gzip read failed: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", m.Compression)
	}
}

// encodeClientRequest 编码一条不压缩的JSON完整客户端请求
func encodeClientRequest(payload []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 8+len(payload)))

	// header: version+size, type+flags, serialization+compression, reserved
	buf.WriteByte((wireProtocolVersion << 4) | 0b0001)
	buf.WriteByte((uint8(fullClientRequest) << 4) | uint8(noSequence))
	buf.WriteByte((jsonSerialization << 4) | uint8(noCompression))
	buf.WriteByte(0x00)

	size := make([]byte, 4)
	binary.BigEndian.PutUint32(size, uint32(len(payload)))
	buf.Write(size)
	buf.Write(payload)
	return buf.Bytes()
}

// decodeServerMessage 解码服务端下行消息
func decodeServerMessage(data []byte) (*wireMessage, error) {
	r := bytes.NewReader(data)

	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if version := (header[0] >> 4) & 0x0F; version != wireProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}

	msg := &wireMessage{
		Type:        wireMessageType((header[1] >> 4) & 0x0F),
		Flags:       wireFlags(header[1] & 0x0F),
		Compression: wireCompression(header[2] & 0x0F),
	}

	// header size按4字节计，跳过扩展段
	if extra := int(header[0]&0x0F)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, fmt.Errorf("failed to skip extended header: %w", err)
		}
	}

	switch msg.Flags & 0b0011 {
	case positiveSequence, negativeSequence:
		if err := binary.Read(r, binary.BigEndian, &msg.Sequence); err != nil {
			return nil, fmt.Errorf("failed to read sequence: %w", err)
		}
	}

	if msg.Flags&withEvent == withEvent {
		if err := binary.Read(r, binary.BigEndian, (*int32)(&msg.Event)); err != nil {
			return nil, fmt.Errorf("failed to read event type: %w", err)
		}
		if !connectionLevelEvent(msg.Event) {
			// session级事件后跟长度前缀的session id
			session, err := readSizedString(r)
			if err != nil {
				return nil, fmt.Errorf("failed to read session id: %w", err)
			}
			msg.SessionID = session
		}
	}

	if msg.Type == errorResponse {
		if err := binary.Read(r, binary.BigEndian, &msg.ErrorCode); err != nil {
			return nil, fmt.Errorf("failed to read error code: %w", err)
		}
	}

	var payloadSize uint32
	if err := binary.Read(r, binary.BigEndian, &payloadSize); err != nil {
		return nil, fmt.Errorf("failed to read payload size: %w", err)
	}
	if payloadSize > 0 {
		msg.Payload = make([]byte, payloadSize)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			return nil, fmt.Errorf("failed to read payload (expected %d bytes): %w", payloadSize, err)
		}
	}
	return msg, nil
}

func readSizedString(r io.Reader) (string, error) {
	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
