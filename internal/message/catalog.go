package message

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lem-onair/lemonair-streaming/internal/amf"
)

var ErrShortPayload = errors.New("message: payload too short")

// Status levels used by onStatus.
const (
	LevelStatus  = "status"
	LevelError   = "error"
	LevelWarning = "warning"
)

func control(t TypeID, body []byte) Message {
	return Message{Type: t, ChunkStreamID: ChunkStreamProtocol, Payload: body}
}

func SetWindowAcknowledgement(size uint32) Message {
	return control(TypeWindowAckSize, binary.BigEndian.AppendUint32(nil, size))
}

func SetPeerBandwidth(size uint32, limit LimitType) Message {
	body := binary.BigEndian.AppendUint32(make([]byte, 0, 5), size)
	return control(TypeSetPeerBandwidth, append(body, byte(limit)))
}

// SetChunkSize clears the most significant bit, which must be zero on the wire.
func SetChunkSize(size uint32) Message {
	return control(TypeSetChunkSize, binary.BigEndian.AppendUint32(nil, size&0x7fffffff))
}

func Acknowledgement(seq uint32) Message {
	return control(TypeAcknowledgement, binary.BigEndian.AppendUint32(nil, seq))
}

// UserControlEvent carries a 2-byte event code and a 4-byte value, usually a
// message stream id.
func UserControlEvent(event EventType, value uint32) Message {
	body := binary.BigEndian.AppendUint16(make([]byte, 0, 6), uint16(event))
	return control(TypeUserControl, binary.BigEndian.AppendUint32(body, value))
}

func CommandMessage(values ...amf.Value) (Message, error) {
	b, err := amf.EncodeSequence(values)
	if err != nil {
		return Message{}, fmt.Errorf("encode command: %w", err)
	}
	return Message{Type: TypeAMF0Command, ChunkStreamID: ChunkStreamCommand, Payload: b}, nil
}

func DataMessage(values ...amf.Value) (Message, error) {
	b, err := amf.EncodeSequence(values)
	if err != nil {
		return Message{}, fmt.Errorf("encode data: %w", err)
	}
	return Message{Type: TypeAMF0Data, ChunkStreamID: ChunkStreamData, Payload: b}, nil
}

// OnStatus builds ["onStatus", 0, null, {level, code, description}].
func OnStatus(level, code, description string) Message {
	info := amf.NewObject().
		Set("level", amf.String(level)).
		Set("code", amf.String(code)).
		Set("description", amf.String(description))
	m, err := CommandMessage(amf.String("onStatus"), amf.Number(0), amf.Null{}, info)
	if err != nil {
		// only strings, numbers and null are involved
		panic(err)
	}
	return m
}

// Forward copies m onto the given message stream, keeping type, timestamp
// and payload. The payload is shared, not copied.
func Forward(m Message, streamID uint32) Message {
	out := m
	out.StreamID = streamID
	switch m.Type {
	case TypeAudio:
		out.ChunkStreamID = ChunkStreamAudio
	case TypeVideo:
		out.ChunkStreamID = ChunkStreamVideo
	case TypeAMF0Data:
		out.ChunkStreamID = ChunkStreamData
	}
	return out
}

// ParseUint32 reads the 4-byte body of set chunk size, window ack size,
// acknowledgement and abort messages.
func ParseUint32(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}

// ParseUserControl returns the event code and the first 4 bytes of event data.
// Events without data report a zero value.
func ParseUserControl(payload []byte) (EventType, uint32, error) {
	if len(payload) < 2 {
		return 0, 0, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(payload))
	}
	ev := EventType(binary.BigEndian.Uint16(payload))
	if len(payload) < 6 {
		return ev, 0, nil
	}
	return ev, binary.BigEndian.Uint32(payload[2:]), nil
}
