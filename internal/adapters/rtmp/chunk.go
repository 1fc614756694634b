package rtmp

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/lem-onair/lemonair-streaming/internal/message"
)

var ErrProtocol = errors.New("rtmp: protocol error")

const (
	// DefaultChunkSize applies in both directions until a SetChunkSize message.
	DefaultChunkSize = 128
	// MaxChunkSize caps the peer's chunk size; no message can be longer.
	MaxChunkSize      = 0xFFFFFF
	maxMessageLength  = 0xFFFFFF
	extendedTimestamp = 0xFFFFFF
)

// Header sizes of chunk formats 0 to 3, without extended timestamp.
var headerSizes = [4]int{11, 7, 3, 0}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func appendUint24(b []byte, v uint32) []byte {
	return append(b, byte(v>>16), byte(v>>8), byte(v))
}

// inboundStream is the header state and partial payload of one chunk stream.
type inboundStream struct {
	timestamp uint32
	delta     uint32
	length    uint32
	typeID    message.TypeID
	streamID  uint32
	extended  bool
	payload   []byte
}

// ChunkReader reassembles messages from interleaved chunks. It follows the
// peer's SetChunkSize and Abort messages and reports acknowledgements once
// the peer has announced a window size.
type ChunkReader struct {
	r         *bufio.Reader
	chunkSize uint32
	streams   map[uint32]*inboundStream
	scratch   [16]byte

	window uint32
	// received wraps around like the sequence number it feeds.
	received uint32
	acked    uint32
	onAck    func(seq uint32)
}

// NewChunkReader reads chunks from r. onAck may be nil.
func NewChunkReader(r io.Reader, onAck func(seq uint32)) *ChunkReader {
	return &ChunkReader{
		r:         bufio.NewReader(r),
		chunkSize: DefaultChunkSize,
		streams:   make(map[uint32]*inboundStream),
		onAck:     onAck,
	}
}

func (r *ChunkReader) ChunkSize() uint32 { return r.chunkSize }

func (r *ChunkReader) readFull(b []byte) error {
	n, err := io.ReadFull(r.r, b)
	r.received += uint32(n)
	return err
}

// ReadMessage blocks until a complete message has arrived.
func (r *ChunkReader) ReadMessage() (message.Message, error) {
	for {
		m, done, err := r.readChunk()
		if err != nil {
			return message.Message{}, err
		}
		r.acknowledge()
		if !done {
			continue
		}
		if err := r.apply(m); err != nil {
			return message.Message{}, err
		}
		return m, nil
	}
}

func (r *ChunkReader) acknowledge() {
	if r.window == 0 || r.received-r.acked < r.window {
		return
	}
	r.acked = r.received
	if r.onAck != nil {
		r.onAck(r.received)
	}
}

func (r *ChunkReader) readBasicHeader() (uint8, uint32, error) {
	b := r.scratch[:3]
	if err := r.readFull(b[:1]); err != nil {
		return 0, 0, err
	}
	format := b[0] >> 6
	csid := uint32(b[0] & 0x3f)
	switch csid {
	case 0:
		if err := r.readFull(b[1:2]); err != nil {
			return 0, 0, err
		}
		csid = 64 + uint32(b[1])
	case 1:
		if err := r.readFull(b[1:3]); err != nil {
			return 0, 0, err
		}
		csid = 64 + uint32(b[1]) + uint32(b[2])<<8
	}
	return format, csid, nil
}

func (r *ChunkReader) readChunk() (message.Message, bool, error) {
	format, csid, err := r.readBasicHeader()
	if err != nil {
		return message.Message{}, false, err
	}
	st := r.streams[csid]
	if st == nil {
		if format != 0 {
			return message.Message{}, false, fmt.Errorf("%w: chunk stream %d starts with format %d", ErrProtocol, csid, format)
		}
		st = &inboundStream{}
		r.streams[csid] = st
	}

	hdr := r.scratch[:headerSizes[format]]
	if err := r.readFull(hdr); err != nil {
		return message.Message{}, false, err
	}
	var ts uint32
	if format < 3 {
		ts = uint24(hdr[0:3])
		st.extended = ts == extendedTimestamp
		// A new header abandons whatever was in flight on this chunk stream.
		st.payload = nil
	}
	if format < 2 {
		st.length = uint24(hdr[3:6])
		st.typeID = message.TypeID(hdr[6])
	}
	if format == 0 {
		st.streamID = binary.LittleEndian.Uint32(hdr[7:11])
	}
	if st.extended {
		ext := r.scratch[:4]
		if err := r.readFull(ext); err != nil {
			return message.Message{}, false, err
		}
		if format < 3 {
			ts = binary.BigEndian.Uint32(ext)
		}
	}

	starting := st.payload == nil
	switch format {
	case 0:
		st.timestamp = ts
		st.delta = 0
	case 1, 2:
		st.delta = ts
		st.timestamp += ts
	case 3:
		if starting {
			st.timestamp += st.delta
		}
	}
	if starting {
		st.payload = make([]byte, 0, st.length)
	}

	start := len(st.payload)
	n := min(st.length-uint32(start), r.chunkSize)
	st.payload = st.payload[:start+int(n)]
	if err := r.readFull(st.payload[start:]); err != nil {
		return message.Message{}, false, err
	}
	if uint32(len(st.payload)) < st.length {
		return message.Message{}, false, nil
	}

	m := message.Message{
		Type:          st.typeID,
		ChunkStreamID: csid,
		StreamID:      st.streamID,
		Timestamp:     st.timestamp,
		Payload:       st.payload,
	}
	st.payload = nil
	return m, true, nil
}

// apply updates reader state from protocol control messages.
func (r *ChunkReader) apply(m message.Message) error {
	switch m.Type {
	case message.TypeSetChunkSize:
		size, err := message.ParseUint32(m.Payload)
		if err != nil {
			return fmt.Errorf("%w: set chunk size: %w", ErrProtocol, err)
		}
		size &= 0x7fffffff
		if size == 0 {
			return fmt.Errorf("%w: chunk size 0", ErrProtocol)
		}
		r.chunkSize = min(size, MaxChunkSize)
	case message.TypeWindowAckSize:
		size, err := message.ParseUint32(m.Payload)
		if err != nil {
			return fmt.Errorf("%w: window ack size: %w", ErrProtocol, err)
		}
		r.window = size
	case message.TypeAbort:
		csid, err := message.ParseUint32(m.Payload)
		if err != nil {
			return fmt.Errorf("%w: abort: %w", ErrProtocol, err)
		}
		if st, ok := r.streams[csid]; ok {
			st.payload = nil
		}
	}
	return nil
}

// ChunkWriter splits messages into chunks. Every message starts with a
// format 0 header; continuations use format 3. Writes are buffered until Flush.
type ChunkWriter struct {
	w         *bufio.Writer
	chunkSize uint32
	hdr       []byte
}

func NewChunkWriter(w io.Writer) *ChunkWriter {
	return &ChunkWriter{
		w:         bufio.NewWriter(w),
		chunkSize: DefaultChunkSize,
		hdr:       make([]byte, 0, 18),
	}
}

func (w *ChunkWriter) ChunkSize() uint32 { return w.chunkSize }

func appendBasicHeader(b []byte, format uint8, csid uint32) []byte {
	switch {
	case csid >= 320:
		v := csid - 64
		return append(b, format<<6|1, byte(v), byte(v>>8))
	case csid >= 64:
		return append(b, format<<6, byte(csid-64))
	default:
		return append(b, format<<6|byte(csid))
	}
}

// defaultChunkStream picks a chunk stream for messages built without one.
func defaultChunkStream(t message.TypeID) uint32 {
	switch t.Kind() {
	case message.KindProtocolControl, message.KindUserControl:
		return message.ChunkStreamProtocol
	case message.KindAudio:
		return message.ChunkStreamAudio
	case message.KindVideo:
		return message.ChunkStreamVideo
	case message.KindData:
		return message.ChunkStreamData
	default:
		return message.ChunkStreamCommand
	}
}

// WriteMessage chunks m. Writing a SetChunkSize message switches the
// outbound chunk size for everything after it.
func (w *ChunkWriter) WriteMessage(m message.Message) error {
	if len(m.Payload) > maxMessageLength {
		return fmt.Errorf("%w: message of %d bytes", ErrProtocol, len(m.Payload))
	}
	csid := m.ChunkStreamID
	if csid < 2 {
		csid = defaultChunkStream(m.Type)
	}
	extended := m.Timestamp >= extendedTimestamp

	h := appendBasicHeader(w.hdr[:0], 0, csid)
	if extended {
		h = appendUint24(h, extendedTimestamp)
	} else {
		h = appendUint24(h, m.Timestamp)
	}
	h = appendUint24(h, uint32(len(m.Payload)))
	h = append(h, byte(m.Type))
	h = binary.LittleEndian.AppendUint32(h, m.StreamID)
	if extended {
		h = binary.BigEndian.AppendUint32(h, m.Timestamp)
	}

	payload := m.Payload
	for {
		if _, err := w.w.Write(h); err != nil {
			return err
		}
		n := min(len(payload), int(w.chunkSize))
		if _, err := w.w.Write(payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
		if len(payload) == 0 {
			break
		}
		h = appendBasicHeader(w.hdr[:0], 3, csid)
		if extended {
			h = binary.BigEndian.AppendUint32(h, m.Timestamp)
		}
	}

	if m.Type == message.TypeSetChunkSize {
		if size, err := message.ParseUint32(m.Payload); err == nil && size > 0 {
			w.chunkSize = min(size&0x7fffffff, MaxChunkSize)
		}
	}
	return nil
}

func (w *ChunkWriter) Flush() error { return w.w.Flush() }
