// Package message describes reassembled RTMP messages and builds the ones the
// server sends.
package message

import "fmt"

// TypeID is the message type id from the chunk message header.
type TypeID uint8

const (
	TypeSetChunkSize     TypeID = 1
	TypeAbort            TypeID = 2
	TypeAcknowledgement  TypeID = 3
	TypeUserControl      TypeID = 4
	TypeWindowAckSize    TypeID = 5
	TypeSetPeerBandwidth TypeID = 6
	TypeAudio            TypeID = 8
	TypeVideo            TypeID = 9
	TypeAMF3Data         TypeID = 15
	TypeAMF3SharedObject TypeID = 16
	TypeAMF3Command      TypeID = 17
	TypeAMF0Data         TypeID = 18
	TypeAMF0SharedObject TypeID = 19
	TypeAMF0Command      TypeID = 20
	TypeAggregate        TypeID = 22
)

var typeNames = map[TypeID]string{
	TypeSetChunkSize:     "SetChunkSize",
	TypeAbort:            "Abort",
	TypeAcknowledgement:  "Acknowledgement",
	TypeUserControl:      "UserControl",
	TypeWindowAckSize:    "WindowAckSize",
	TypeSetPeerBandwidth: "SetPeerBandwidth",
	TypeAudio:            "Audio",
	TypeVideo:            "Video",
	TypeAMF3Data:         "AMF3Data",
	TypeAMF3SharedObject: "AMF3SharedObject",
	TypeAMF3Command:      "AMF3Command",
	TypeAMF0Data:         "AMF0Data",
	TypeAMF0SharedObject: "AMF0SharedObject",
	TypeAMF0Command:      "AMF0Command",
	TypeAggregate:        "Aggregate",
}

func (t TypeID) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Kind groups type ids by how the session engine handles them.
type Kind int

const (
	KindUnknown Kind = iota
	KindProtocolControl
	KindUserControl
	KindCommand
	KindData
	KindAudio
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindProtocolControl:
		return "protocol-control"
	case KindUserControl:
		return "user-control"
	case KindCommand:
		return "command"
	case KindData:
		return "data"
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Kind maps the type id once so dispatch is a single switch.
// AMF3 and shared object messages are reported as unknown.
func (t TypeID) Kind() Kind {
	switch t {
	case TypeSetChunkSize, TypeAbort, TypeAcknowledgement, TypeWindowAckSize, TypeSetPeerBandwidth:
		return KindProtocolControl
	case TypeUserControl:
		return KindUserControl
	case TypeAMF0Command:
		return KindCommand
	case TypeAMF0Data:
		return KindData
	case TypeAudio:
		return KindAudio
	case TypeVideo:
		return KindVideo
	default:
		return KindUnknown
	}
}

// Chunk stream ids used for outbound messages.
const (
	ChunkStreamProtocol uint32 = 2
	ChunkStreamCommand  uint32 = 3
	ChunkStreamAudio    uint32 = 4
	ChunkStreamVideo    uint32 = 5
	ChunkStreamData     uint32 = 6
)

// EventType is a user control event code.
type EventType uint16

const (
	EventStreamBegin      EventType = 0
	EventStreamEOF        EventType = 1
	EventStreamDry        EventType = 2
	EventSetBufferLength  EventType = 3
	EventStreamIsRecorded EventType = 4
	EventPingRequest      EventType = 6
	EventPingResponse     EventType = 7
)

func (e EventType) String() string {
	switch e {
	case EventStreamBegin:
		return "StreamBegin"
	case EventStreamEOF:
		return "StreamEOF"
	case EventStreamDry:
		return "StreamDry"
	case EventSetBufferLength:
		return "SetBufferLength"
	case EventStreamIsRecorded:
		return "StreamIsRecorded"
	case EventPingRequest:
		return "PingRequest"
	case EventPingResponse:
		return "PingResponse"
	default:
		return fmt.Sprintf("Event(%d)", uint16(e))
	}
}

// LimitType is the peer bandwidth limit type.
type LimitType uint8

const (
	LimitHard    LimitType = 0
	LimitSoft    LimitType = 1
	LimitDynamic LimitType = 2
)

// Message is one complete RTMP message.
type Message struct {
	Type          TypeID
	ChunkStreamID uint32
	// StreamID is the message stream id; 0 for connection-scope messages.
	StreamID  uint32
	Timestamp uint32
	Payload   []byte
}

func (m Message) Kind() Kind { return m.Type.Kind() }

func (m Message) String() string {
	return fmt.Sprintf("(%s csid=%d sid=%d ts=%d len=%d)", m.Type, m.ChunkStreamID, m.StreamID, m.Timestamp, len(m.Payload))
}
