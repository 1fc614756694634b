package orch

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lem-onair/lemonair-streaming/internal/amf"
	"github.com/lem-onair/lemonair-streaming/internal/app"
	"github.com/lem-onair/lemonair-streaming/internal/core"
	"github.com/lem-onair/lemonair-streaming/internal/domain"
	"github.com/lem-onair/lemonair-streaming/internal/message"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// objectEncodingAMF3 is the only encoding refused at connect.
const objectEncodingAMF3 = 3

// Controller runs the protocol state machine of one connection.
// Dispatch must be called from a single goroutine, in arrival order.
type Controller struct {
	o      *Orchestrator
	conn   core.Conn
	logger zerolog.Logger

	mu       sync.Mutex
	state    State
	name     domain.StreamName
	stream   core.Stream
	streamID uint32
}

func (o *Orchestrator) NewController(conn core.Conn) *Controller {
	return &Controller{
		o:    o,
		conn: conn,
		logger: log.With().
			Str("module", "orch").
			Str("conn", string(conn.ID())).
			Logger(),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) StreamName() domain.StreamName {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Dispatch handles one inbound message. A returned error means the payload
// could not be decoded and the connection should be dropped.
func (c *Controller) Dispatch(m message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}

	switch m.Kind() {
	case message.KindCommand:
		vals, err := amf.DecodeAll(m.Payload)
		if err != nil {
			return fmt.Errorf("decode command: %w", err)
		}
		name, ok := first(vals)
		if !ok {
			return fmt.Errorf("decode command: %w: no command name", amf.ErrMalformedValue)
		}
		c.handleCommand(ParseCommand(name), name, m, vals)
	case message.KindData:
		vals, err := amf.DecodeAll(m.Payload)
		if err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
		c.handleData(m, vals)
	case message.KindAudio, message.KindVideo:
		c.handleMedia(m)
	case message.KindUserControl:
		ev, val, err := message.ParseUserControl(m.Payload)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad user control message")
			return nil
		}
		c.logger.Info().Stringer("event", ev).Uint32("value", val).Msg("user control event")
	case message.KindProtocolControl:
		c.logger.Debug().Stringer("type", m.Type).Msg("protocol control message ignored")
	default:
		c.logger.Info().Stringer("type", m.Type).Msg("unsupported message type dropped")
	}
	return nil
}

func first(vals []amf.Value) (string, bool) {
	if len(vals) == 0 {
		return "", false
	}
	s, ok := vals[0].(amf.String)
	return string(s), ok
}

func arg(vals []amf.Value, i int) amf.Value {
	if i < len(vals) {
		return vals[i]
	}
	return amf.Null{}
}

func argString(vals []amf.Value, i int) string {
	s, _ := arg(vals, i).(amf.String)
	return string(s)
}

func (c *Controller) handleCommand(cmd Command, name string, m message.Message, vals []amf.Value) {
	txn, _ := arg(vals, 1).(amf.Number)

	if cmd != CommandConnect && c.state == StateUnbound {
		c.logger.Warn().Str("command", name).Msg("command before connect ignored")
		return
	}

	switch cmd {
	case CommandConnect:
		c.handleConnect(txn, vals)
	case CommandCreateStream:
		c.handleCreateStream(txn)
	case CommandPublish:
		c.handlePublish(m, vals)
	case CommandPlay:
		c.handlePlay(m)
	case CommandCloseStream, CommandDeleteStream:
		c.handleCloseStream(m, cmd)
	default:
		c.logger.Info().Str("command", name).Msg("unhandled command")
	}
}

func (c *Controller) handleConnect(txn amf.Number, vals []amf.Value) {
	if c.state != StateUnbound {
		c.logger.Warn().Stringer("state", c.state).Msg("connect on a bound connection ignored")
		return
	}
	obj, _ := arg(vals, 2).(*amf.Object)
	if obj == nil {
		obj = amf.NewObject()
	}
	if enc, ok := obj.GetNumber("objectEncoding"); ok && enc == objectEncodingAMF3 {
		c.logger.Warn().Msg("AMF3 object encoding requested, closing connection")
		c.state = StateClosed
		c.conn.Disconnect()
		return
	}

	appName, _ := obj.GetString("app")
	name := domain.StreamName(strings.Trim(appName, "/"))
	if err := domain.ValidateStreamName(name); err != nil {
		c.logger.Warn().Err(err).Str("app", appName).Msg("connect rejected")
		c.sendCommand(amf.String("_error"), txn, amf.Null{}, statusObject(message.LevelError, "NetConnection.Connect.Rejected", err.Error()))
		c.state = StateClosed
		c.conn.Close()
		return
	}

	c.name = name
	c.state = StateBound
	c.logger = c.logger.With().Str("stream", string(name)).Logger()

	s := c.o.Settings
	c.send(message.SetWindowAcknowledgement(s.WindowAckSize))
	c.send(message.SetPeerBandwidth(s.PeerBandwidth, message.LimitDynamic))
	c.send(message.SetChunkSize(s.ChunkSize))

	props := amf.NewObject().
		Set("fmsVer", amf.String("FMS/3,0,1,123")).
		Set("capabilities", amf.Number(31))
	info := statusObject(message.LevelStatus, "NetConnection.Connect.Success", "Connection succeeded.").
		Set("objectEncoding", amf.Number(0))
	c.sendCommand(amf.String("_result"), txn, props, info)
	c.logger.Info().Msg("connected")
}

func (c *Controller) handleCreateStream(txn amf.Number) {
	c.sendCommand(amf.String("_result"), txn, amf.Null{}, amf.Number(c.o.Settings.MessageStreamID))
}

func (c *Controller) handlePublish(m message.Message, vals []amf.Value) {
	if c.state != StateBound {
		c.logger.Warn().Stringer("state", c.state).Msg("publish ignored")
		return
	}
	c.streamID = c.outStreamID(m)
	key := argString(vals, 3)
	kind := argString(vals, 4)
	if kind != "live" {
		c.logger.Warn().Str("type", kind).Msg("unsupported publish type, closing connection")
		c.reject("NetStream.Publish.BadName", "Only live publishing is supported.")
		return
	}

	meta, err := domain.NewStream(c.name, key)
	if err != nil {
		c.logger.Warn().Err(err).Msg("publish rejected")
		c.reject("NetStream.Publish.BadName", err.Error())
		return
	}
	stream := core.NewStream(meta, c.conn)
	if err := c.o.Registry.AddStream(stream); err != nil {
		if errors.Is(err, app.ErrStreamExists) {
			c.logger.Warn().Msg("stream already live, closing connection")
		}
		c.reject("NetStream.Publish.BadName", string(c.name)+" is already publishing.")
		return
	}

	c.stream = stream
	c.state = StatePublisherActive
	c.sendStatus(message.LevelStatus, "NetStream.Publish.Start", string(c.name)+" is now published.")

	c.o.Metrics.StreamStarted()
	c.o.Events.Publish(app.Event{Type: app.EventStreamLive, Stream: c.name})
	c.logger.Info().Msg("publishing")
}

func (c *Controller) handlePlay(m message.Message) {
	if c.state != StateBound {
		c.logger.Warn().Stringer("state", c.state).Msg("play ignored")
		return
	}
	c.streamID = c.outStreamID(m)

	stream, ok := c.o.Registry.GetStream(c.name)
	if !ok || stream.Closed() {
		c.logger.Info().Msg("play of a stream that is not live")
		c.reject("NetStream.Play.StreamNotFound", "Stream not found.")
		return
	}

	c.send(message.UserControlEvent(message.EventStreamBegin, c.streamID))
	c.sendStatus(message.LevelStatus, "NetStream.Play.Start", "Started playing "+string(c.name)+".")
	c.sendCommand(amf.String("|RtmpSampleAccess"), amf.Boolean(true), amf.Boolean(true))
	md := stream.Metadata()
	if md == nil {
		md = amf.NewObject()
	}
	if dm, err := message.DataMessage(amf.String("onMetaData"), md); err == nil {
		c.send(c.onStream(dm))
	} else {
		c.logger.Error().Err(err).Msg("encode metadata")
	}

	if !stream.AddSubscriber(c.conn, c.streamID) {
		c.logger.Info().Msg("stream ended while joining")
		c.reject("NetStream.Play.StreamNotFound", "Stream not found.")
		return
	}
	c.stream = stream
	c.state = StateSubscriberActive
	c.o.Metrics.SubscriberAdded()
	c.o.Events.Publish(app.Event{
		Type:        app.EventSubscriberJoined,
		Stream:      c.name,
		Subscribers: stream.SubscriberCount(),
	})
	c.logger.Info().Msg("playing")
}

func (c *Controller) handleCloseStream(m message.Message, cmd Command) {
	stream, ok := c.o.Registry.GetStream(c.name)
	if !ok {
		c.streamID = c.outStreamID(m)
		c.sendStatus(message.LevelStatus, "NetStream.Unpublish.Success", string(c.name)+" is now unpublished.")
		return
	}
	if c.state != StatePublisherActive || stream != c.stream {
		c.logger.Info().Stringer("command", cmd).Msg("close of a stream this connection does not publish, ignored")
		return
	}

	c.sendStatus(message.LevelStatus, "NetStream.Unpublish.Success", string(c.name)+" is now unpublished.")
	c.o.endStream(stream)
	c.state = StateClosed
	c.conn.Close()
}

func (c *Controller) handleData(m message.Message, vals []amf.Value) {
	name, _ := first(vals)
	if name != "@setDataFrame" {
		c.logger.Debug().Str("name", name).Msg("data message ignored")
		return
	}
	md, ok := arg(vals, 2).(*amf.Object)
	if !ok {
		c.logger.Warn().Msg("@setDataFrame without metadata object")
		return
	}
	if c.state != StatePublisherActive {
		c.logger.Debug().Stringer("state", c.state).Msg("metadata without a published stream dropped")
		return
	}

	c.stream.SetMetadata(md)
	stored := c.stream.Metadata()
	if enc, ok := stored.GetString("encoder"); ok && strings.Contains(strings.ToLower(enc), "obs") {
		c.logger.Info().Str("encoder", enc).Msg("OBS encoder detected")
	}
	c.logger.Debug().Msgf("metadata %v", stored)

	dm, err := message.DataMessage(amf.String("onMetaData"), stored)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode metadata")
		return
	}
	dm.Timestamp = m.Timestamp
	c.o.forward(c.stream, dm)
}

func (c *Controller) handleMedia(m message.Message) {
	if c.state != StatePublisherActive {
		c.logger.Debug().Stringer("type", m.Type).Stringer("state", c.state).Msg("media without a published stream dropped")
		return
	}
	c.o.forward(c.stream, m)
}

// Close tears the connection state down. A publisher's stream is ended
// exactly as on closeStream, without a reply.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StatePublisherActive:
		if c.o.endStream(c.stream) {
			c.logger.Info().Msg("publisher gone, stream ended")
		}
	case StateSubscriberActive:
		c.o.removeSubscriber(c.stream, c.conn.ID())
	case StateClosed:
		return
	}
	c.state = StateClosed
	c.logger.Debug().Msg("controller closed")
}

// reject sends an error status, then closes gracefully so it gets flushed.
func (c *Controller) reject(code, description string) {
	c.sendStatus(message.LevelError, code, description)
	c.state = StateClosed
	c.conn.Close()
}

func (c *Controller) outStreamID(m message.Message) uint32 {
	if m.StreamID != 0 {
		return m.StreamID
	}
	return c.o.Settings.MessageStreamID
}

func (c *Controller) onStream(m message.Message) message.Message {
	m.StreamID = c.streamID
	return m
}

func statusObject(level, code, description string) *amf.Object {
	return amf.NewObject().
		Set("level", amf.String(level)).
		Set("code", amf.String(code)).
		Set("description", amf.String(description))
}

func (c *Controller) sendStatus(level, code, description string) {
	c.send(c.onStream(message.OnStatus(level, code, description)))
}

func (c *Controller) sendCommand(values ...amf.Value) {
	m, err := message.CommandMessage(values...)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode command")
		return
	}
	c.send(c.onStream(m))
}

func (c *Controller) send(m message.Message) {
	if err := c.conn.TrySend(m); err != nil {
		c.logger.Warn().Err(err).Stringer("type", m.Type).Msg("reply not sent")
	}
}
