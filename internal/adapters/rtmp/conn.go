package rtmp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/lem-onair/lemonair-streaming/internal/app/orch"
	"github.com/lem-onair/lemonair-streaming/internal/core"
	"github.com/lem-onair/lemonair-streaming/internal/domain"
	"github.com/lem-onair/lemonair-streaming/internal/message"
	"github.com/rs/zerolog"
)

// Conn is the core.Conn of one RTMP client. Outbound messages go through a
// bounded queue drained by writePump.
type Conn struct {
	id           domain.ConnID
	nc           net.Conn
	writeTimeout time.Duration
	logger       zerolog.Logger

	mu     sync.RWMutex
	closed bool
	send   chan message.Message

	kill     chan struct{}
	killOnce sync.Once
}

var _ core.Conn = (*Conn)(nil)

func newConn(nc net.Conn, queue int, writeTimeout time.Duration, logger zerolog.Logger) *Conn {
	id := domain.NewConnID()
	return &Conn{
		id:           id,
		nc:           nc,
		writeTimeout: writeTimeout,
		logger:       logger.With().Str("conn", string(id)).Logger(),
		send:         make(chan message.Message, queue),
		kill:         make(chan struct{}),
	}
}

func (c *Conn) ID() domain.ConnID  { return c.id }
func (c *Conn) RemoteAddr() string { return c.nc.RemoteAddr().String() }

func (c *Conn) TrySend(m message.Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- m:
		return nil
	default:
		return core.ErrBackpressure
	}
}

// Close stops accepting messages. The write pump sends what is queued and
// then closes the socket.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Disconnect drops queued messages and closes the socket now.
func (c *Conn) Disconnect() {
	c.Close()
	c.killOnce.Do(func() {
		close(c.kill)
		_ = c.nc.Close()
	})
}

func (c *Conn) writePump(ctx context.Context) {
	defer c.nc.Close()
	cw := NewChunkWriter(c.nc)
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().Msg("writePump ctx done")
			return
		case <-c.kill:
			return
		case m, ok := <-c.send:
			if !ok {
				if err := cw.Flush(); err != nil {
					c.logger.Debug().Err(err).Msg("writePump final flush")
				}
				return
			}
			if c.writeTimeout > 0 {
				if err := c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
					c.logger.Error().Err(err).Msg("writePump set deadline")
					c.Disconnect()
					return
				}
			}
			err := cw.WriteMessage(m)
			if err == nil && len(c.send) == 0 {
				err = cw.Flush()
			}
			if err != nil {
				c.logger.Warn().Err(err).Stringer("type", m.Type).Msg("writePump write error")
				c.Disconnect()
				return
			}
		}
	}
}

// readPump feeds inbound messages to ctl until the peer goes away, a
// payload is malformed or the controller closes the session.
func (c *Conn) readPump(ctl *orch.Controller, idle time.Duration) {
	defer ctl.Close()

	cr := NewChunkReader(c.nc, func(seq uint32) {
		if err := c.TrySend(message.Acknowledgement(seq)); err != nil {
			c.logger.Debug().Err(err).Msg("acknowledgement not sent")
		}
	})
	for {
		if idle > 0 {
			if err := c.nc.SetReadDeadline(time.Now().Add(idle)); err != nil {
				c.Disconnect()
				return
			}
		}
		m, err := cr.ReadMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn().Err(err).Msg("readPump read error")
			}
			c.Disconnect()
			return
		}
		if err := ctl.Dispatch(m); err != nil {
			c.logger.Warn().Err(err).Stringer("type", m.Type).Msg("malformed message, closing connection")
			c.Disconnect()
			return
		}
		if ctl.State() == orch.StateClosed {
			// Replies queued by the controller still get flushed.
			c.Close()
			return
		}
	}
}
