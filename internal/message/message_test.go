package message

import (
	"bytes"
	"errors"
	"testing"

	"github.com/lem-onair/lemonair-streaming/internal/amf"
)

func TestControlBuilders(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		typ  TypeID
		body []byte
	}{
		{"window ack", SetWindowAcknowledgement(5000000), TypeWindowAckSize, []byte{0x00, 0x4c, 0x4b, 0x40}},
		{"peer bandwidth", SetPeerBandwidth(5000000, LimitDynamic), TypeSetPeerBandwidth, []byte{0x00, 0x4c, 0x4b, 0x40, 0x02}},
		{"chunk size", SetChunkSize(4096), TypeSetChunkSize, []byte{0x00, 0x00, 0x10, 0x00}},
		{"chunk size msb cleared", SetChunkSize(0x80000080), TypeSetChunkSize, []byte{0x00, 0x00, 0x00, 0x80}},
		{"ack", Acknowledgement(7), TypeAcknowledgement, []byte{0, 0, 0, 7}},
		{"stream begin", UserControlEvent(EventStreamBegin, 1), TypeUserControl, []byte{0, 0, 0, 0, 0, 1}},
		{"stream eof", UserControlEvent(EventStreamEOF, 1), TypeUserControl, []byte{0, 1, 0, 0, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.msg.Type != tt.typ {
				t.Errorf("Type = %v, want %v", tt.msg.Type, tt.typ)
			}
			if tt.msg.ChunkStreamID != ChunkStreamProtocol {
				t.Errorf("ChunkStreamID = %d, want %d", tt.msg.ChunkStreamID, ChunkStreamProtocol)
			}
			if !bytes.Equal(tt.msg.Payload, tt.body) {
				t.Errorf("Payload = % x, want % x", tt.msg.Payload, tt.body)
			}
		})
	}
}

func TestOnStatus(t *testing.T) {
	m := OnStatus(LevelError, "NetStream.Play.StreamNotFound", "no such stream")
	if m.Type != TypeAMF0Command || m.ChunkStreamID != ChunkStreamCommand {
		t.Fatalf("unexpected header %v", m)
	}
	vals, err := amf.DecodeAll(m.Payload)
	if err != nil {
		t.Fatalf("DecodeAll() error = %v", err)
	}
	if len(vals) != 4 {
		t.Fatalf("got %d values, want 4", len(vals))
	}
	if vals[0] != amf.String("onStatus") || vals[1] != amf.Number(0) || vals[2].Kind() != amf.KindNull {
		t.Errorf("prefix = %v", vals[:3])
	}
	info := vals[3].(*amf.Object)
	want := []string{"level", "code", "description"}
	for i, k := range info.Keys() {
		if k != want[i] {
			t.Errorf("key %d = %q, want %q", i, k, want[i])
		}
	}
	if code, _ := info.GetString("code"); code != "NetStream.Play.StreamNotFound" {
		t.Errorf("code = %q", code)
	}
}

func TestCommandAndDataMessage(t *testing.T) {
	cmd, err := CommandMessage(amf.String("_result"), amf.Number(2), amf.Null{}, amf.Number(1))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Kind() != KindCommand {
		t.Errorf("Kind() = %v", cmd.Kind())
	}
	data, err := DataMessage(amf.String("onMetaData"), amf.NewObject())
	if err != nil {
		t.Fatal(err)
	}
	if data.Kind() != KindData || data.ChunkStreamID != ChunkStreamData {
		t.Errorf("data message = %v", data)
	}
	type bad struct{ amf.Value }
	if _, err := CommandMessage(bad{}); !errors.Is(err, amf.ErrUnsupportedValue) {
		t.Errorf("error = %v, want ErrUnsupportedValue", err)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		typ  TypeID
		want Kind
	}{
		{TypeSetChunkSize, KindProtocolControl},
		{TypeAbort, KindProtocolControl},
		{TypeWindowAckSize, KindProtocolControl},
		{TypeUserControl, KindUserControl},
		{TypeAMF0Command, KindCommand},
		{TypeAMF0Data, KindData},
		{TypeAudio, KindAudio},
		{TypeVideo, KindVideo},
		{TypeAMF3Command, KindUnknown},
		{TypeAggregate, KindUnknown},
		{TypeID(99), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			if got := tt.typ.Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestForward(t *testing.T) {
	in := Message{Type: TypeVideo, ChunkStreamID: 7, StreamID: 1, Timestamp: 40, Payload: []byte{0x17, 0x01}}
	out := Forward(in, 3)
	if out.StreamID != 3 || out.ChunkStreamID != ChunkStreamVideo || out.Timestamp != 40 {
		t.Errorf("Forward() = %v", out)
	}
	if in.StreamID != 1 {
		t.Error("Forward modified its input")
	}
}

func TestParse(t *testing.T) {
	if v, err := ParseUint32([]byte{0, 0, 0x10, 0}); err != nil || v != 4096 {
		t.Errorf("ParseUint32 = %d, %v", v, err)
	}
	if _, err := ParseUint32([]byte{1}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("short ParseUint32 error = %v", err)
	}
	ev, val, err := ParseUserControl([]byte{0, 3, 0, 0, 0, 1, 0, 0, 0x0b, 0xb8})
	if err != nil || ev != EventSetBufferLength || val != 1 {
		t.Errorf("ParseUserControl = %v, %d, %v", ev, val, err)
	}
	if _, _, err := ParseUserControl([]byte{0}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("short ParseUserControl error = %v", err)
	}
}

func TestMediaHelpers(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		videoSeq bool
		aacSeq   bool
		key      bool
	}{
		{"avc sequence header", []byte{0x17, 0x00, 0, 0, 0}, true, false, true},
		{"avc key frame", []byte{0x17, 0x01, 0, 0, 0}, false, false, true},
		{"avc inter frame", []byte{0x27, 0x01, 0, 0, 0}, false, false, false},
		{"enhanced sequence start", []byte{0x90, 'h', 'v', 'c', '1', 0x01}, true, false, true},
		{"enhanced key frame", []byte{0x91, 'h', 'v', 'c', '1', 0, 0, 0}, false, false, true},
		{"enhanced key frame without composition time", []byte{0x93, 'a', 'v', '0', '1'}, false, false, true},
		{"enhanced inter frame", []byte{0xa1, 'h', 'v', 'c', '1', 0, 0, 0}, false, false, false},
		{"enhanced sequence end", []byte{0x92, 'h', 'v', 'c', '1'}, false, false, true},
		{"aac sequence header", []byte{0xaf, 0x00, 0x12, 0x10}, false, true, false},
		{"aac raw", []byte{0xaf, 0x01, 0x21}, false, false, false},
		{"empty", nil, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVideoSequenceHeader(tt.payload); got != tt.videoSeq {
				t.Errorf("IsVideoSequenceHeader = %v", got)
			}
			if got := IsAACSequenceHeader(tt.payload); got != tt.aacSeq {
				t.Errorf("IsAACSequenceHeader = %v", got)
			}
			if got := IsKeyFrame(tt.payload); got != tt.key {
				t.Errorf("IsKeyFrame = %v", got)
			}
		})
	}
}

func TestAVCSequenceHeaderIgnoresEnhancedTags(t *testing.T) {
	// Low nibble 7 with the ex-header bit set is a packet type, not AVC.
	if IsAVCSequenceHeader([]byte{0x97, 0x00, 'v', 'p', '0', '9'}) {
		t.Error("enhanced tag taken for an AVC sequence header")
	}
}
