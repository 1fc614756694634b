package rtmp

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/lem-onair/lemonair-streaming/internal/amf"
	"github.com/lem-onair/lemonair-streaming/internal/app"
	"github.com/lem-onair/lemonair-streaming/internal/app/orch"
	"github.com/lem-onair/lemonair-streaming/internal/core"
	"github.com/lem-onair/lemonair-streaming/internal/domain"
	"github.com/lem-onair/lemonair-streaming/internal/message"
	"github.com/lem-onair/lemonair-streaming/internal/metrics"
	"github.com/rs/zerolog"
)

type offAirRecorder chan domain.StreamName

func (r offAirRecorder) OffAir(name domain.StreamName) { r <- name }

type testClient struct {
	t  *testing.T
	nc net.Conn
	r  *ChunkReader
	w  *ChunkWriter
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { nc.Close() })
	_ = nc.SetDeadline(time.Now().Add(5 * time.Second))

	c1 := make([]byte, handshakeSize)
	if _, err := rand.Read(c1[8:]); err != nil {
		t.Fatal(err)
	}
	clientHandshake(t, nc, c1)
	return &testClient{t: t, nc: nc, r: NewChunkReader(nc, nil), w: NewChunkWriter(nc)}
}

func (c *testClient) send(m message.Message) {
	c.t.Helper()
	if err := c.w.WriteMessage(m); err != nil {
		c.t.Fatal(err)
	}
	if err := c.w.Flush(); err != nil {
		c.t.Fatal(err)
	}
}

func (c *testClient) command(streamID uint32, values ...amf.Value) {
	c.t.Helper()
	m, err := message.CommandMessage(values...)
	if err != nil {
		c.t.Fatal(err)
	}
	m.StreamID = streamID
	c.send(m)
}

// next returns the next message that matches, skipping the others.
func (c *testClient) next(match func(message.Message, []amf.Value) bool) message.Message {
	c.t.Helper()
	for {
		m, err := c.r.ReadMessage()
		if err != nil {
			c.t.Fatalf("ReadMessage() error = %v", err)
		}
		var vals []amf.Value
		if m.Kind() == message.KindCommand || m.Kind() == message.KindData {
			vals, _ = amf.DecodeAll(m.Payload)
		}
		if match(m, vals) {
			return m
		}
	}
}

func (c *testClient) expectStatus(code string) {
	c.t.Helper()
	c.next(func(_ message.Message, vals []amf.Value) bool {
		if len(vals) < 4 || vals[0] != amf.String("onStatus") {
			return false
		}
		got, _ := vals[3].(*amf.Object).GetString("code")
		return got == code
	})
}

func (c *testClient) connect(appName string) {
	c.t.Helper()
	c.command(0, amf.String("connect"), amf.Number(1), amf.NewObject().Set("app", amf.String(appName)))
	c.next(func(_ message.Message, vals []amf.Value) bool {
		return len(vals) > 0 && vals[0] == amf.String("_result")
	})
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	for {
		if _, err := c.r.ReadMessage(); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					c.t.Fatal("connection still open")
				}
			}
			return
		}
	}
}

func startServer(t *testing.T, cfg Config) (string, *orch.Orchestrator, offAirRecorder) {
	t.Helper()
	notified := make(offAirRecorder, 4)
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Policy:   app.SimplePolicy{},
		Notifier: notified,
		Events:   app.NewEventBus(),
		Metrics:  metrics.New(),
		Settings: orch.DefaultSettings(),
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(cfg, o).Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve() did not return")
		}
	})
	return ln.Addr().String(), o, notified
}

func TestServerPublishAndPlay(t *testing.T) {
	addr, o, notified := startServer(t, Config{WriteTimeout: time.Second})

	pub := dial(t, addr)
	pub.connect("live1")
	pub.command(0, amf.String("createStream"), amf.Number(2), amf.Null{})
	pub.command(1, amf.String("publish"), amf.Number(3), amf.Null{}, amf.String("secret"), amf.String("live"))
	pub.expectStatus("NetStream.Publish.Start")

	md := amf.NewObject().Set("width", amf.Number(1920)).Set("filesize", amf.Number(0))
	setData, err := message.DataMessage(amf.String("@setDataFrame"), amf.String("onMetaData"), md)
	if err != nil {
		t.Fatal(err)
	}
	setData.StreamID = 1
	pub.send(setData)

	player := dial(t, addr)
	player.connect("live1")
	player.command(1, amf.String("play"), amf.Number(4), amf.Null{}, amf.String("live1"))
	player.expectStatus("NetStream.Play.Start")
	meta := player.next(func(m message.Message, vals []amf.Value) bool {
		return m.Type == message.TypeAMF0Data
	})
	vals, err := amf.DecodeAll(meta.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if w, _ := vals[1].(*amf.Object).GetNumber("width"); w != 1920 {
		t.Errorf("metadata width = %v", w)
	}

	seq := []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x64}
	key := append([]byte{0x17, 0x01, 0x00, 0x00, 0x00}, bytes.Repeat([]byte{0xab}, 5000)...)
	pub.send(message.Message{Type: message.TypeVideo, ChunkStreamID: 5, StreamID: 1, Timestamp: 0, Payload: seq})
	pub.send(message.Message{Type: message.TypeVideo, ChunkStreamID: 5, StreamID: 1, Timestamp: 40, Payload: key})

	for _, want := range [][]byte{seq, key} {
		got := player.next(func(m message.Message, _ []amf.Value) bool { return m.Type == message.TypeVideo })
		if !bytes.Equal(got.Payload, want) {
			t.Errorf("video payload of %d bytes, want %d", len(got.Payload), len(want))
		}
	}

	_ = pub.nc.Close()
	player.expectStatus("NetStream.Play.UnpublishNotify")
	player.expectClosed()

	select {
	case name := <-notified:
		if name != "live1" {
			t.Errorf("off-air for %q", name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no off-air notification")
	}
	if o.Registry.Count() != 0 {
		t.Error("stream still registered")
	}
}

func TestServerClosesOnMalformedCommand(t *testing.T) {
	addr, _, _ := startServer(t, Config{})
	c := dial(t, addr)
	c.send(message.Message{Type: message.TypeAMF0Command, ChunkStreamID: 3, Payload: []byte{0x42}})
	c.expectClosed()
}

func TestServerRejectsBadHandshake(t *testing.T) {
	addr, _, _ := startServer(t, Config{HandshakeTimeout: time.Second})
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	_ = nc.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := nc.Write(append([]byte{6}, make([]byte, handshakeSize)...)); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(nc, make([]byte, 1)); err == nil {
		t.Error("server answered a bad handshake")
	}
}

func TestServerConnectRateLimit(t *testing.T) {
	addr, _, _ := startServer(t, Config{ConnectLimit: 1, ConnectInterval: time.Minute})
	dial(t, addr).connect("first")

	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	_ = nc.SetDeadline(time.Now().Add(5 * time.Second))
	_, _ = nc.Write(append([]byte{rtmpVersion}, make([]byte, handshakeSize)...))
	if _, err := io.ReadFull(nc, make([]byte, 1)); err == nil {
		t.Error("second connection was served")
	}
}

func TestConnTrySend(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := newConn(server, 1, 0, zerolog.Nop())

	m := message.UserControlEvent(message.EventStreamBegin, 1)
	if err := c.TrySend(m); err != nil {
		t.Fatalf("first TrySend() error = %v", err)
	}
	if err := c.TrySend(m); !errors.Is(err, core.ErrBackpressure) {
		t.Errorf("second TrySend() error = %v, want ErrBackpressure", err)
	}
	c.Close()
	if err := c.TrySend(m); !errors.Is(err, core.ErrConnClosed) {
		t.Errorf("TrySend() after Close error = %v, want ErrConnClosed", err)
	}
	c.Disconnect()
	c.Disconnect()
}

func TestConnCloseFlushesQueue(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := newConn(server, 4, time.Second, zerolog.Nop())

	for _, ev := range []message.EventType{message.EventStreamBegin, message.EventStreamEOF} {
		if err := c.TrySend(message.UserControlEvent(ev, 1)); err != nil {
			t.Fatal(err)
		}
	}
	c.Close()
	go c.writePump(context.Background())

	r := NewChunkReader(client, nil)
	for _, want := range []message.EventType{message.EventStreamBegin, message.EventStreamEOF} {
		m, err := r.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if ev, _, _ := message.ParseUserControl(m.Payload); ev != want {
			t.Errorf("event = %v, want %v", ev, want)
		}
	}
	if _, err := r.ReadMessage(); err == nil {
		t.Error("socket still open after drain")
	}
}

func TestConnectLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewConnectLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	steps := []struct {
		host    string
		advance time.Duration
		want    bool
	}{
		{"10.0.0.1", 0, true},
		{"10.0.0.1", 100 * time.Millisecond, true},
		{"10.0.0.1", 100 * time.Millisecond, false},
		{"10.0.0.2", 0, true},
		{"10.0.0.1", time.Second, true},
	}
	for i, s := range steps {
		now = now.Add(s.advance)
		if got := rl.Allow(s.host); got != s.want {
			t.Errorf("step %d: Allow(%s) = %v, want %v", i, s.host, got, s.want)
		}
	}

	disabled := NewConnectLimiter(0, time.Second)
	if !disabled.Allow("10.0.0.1") {
		t.Error("disabled limiter refused")
	}
}
