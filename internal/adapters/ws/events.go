// Package ws streams lifecycle events to websocket listeners.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lem-onair/lemonair-streaming/internal/app"
	"github.com/rs/zerolog/log"
)

const (
	writeWait   = 5 * time.Second
	eventBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventsController upgrades requests and forwards every bus event as JSON.
// Listeners only receive; anything they send is discarded.
type EventsController struct {
	Bus        *app.EventBus
	ReadLimit  int64
	PingPeriod time.Duration
}

func (ctl *EventsController) Handle(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
		return
	}
	remote := c.ClientIP()
	log.Info().Str("module", "ws").Str("remote", remote).Msg("event listener connected")

	events, unsubscribe := ctl.Bus.Subscribe(eventBuffer)
	ctx, cancel := context.WithCancel(ctx)

	go ctl.writePump(ctx, ws, events)
	go func() {
		defer func() {
			cancel()
			unsubscribe()
			_ = ws.Close()
			log.Info().Str("module", "ws").Str("remote", remote).Msg("event listener gone")
		}()
		ctl.readPump(ctx, ws)
	}()
}

func (ctl *EventsController) pingPeriod() time.Duration {
	if ctl.PingPeriod <= 0 {
		return 54 * time.Second
	}
	return ctl.PingPeriod
}

func (ctl *EventsController) writePump(ctx context.Context, ws *websocket.Conn, events <-chan app.Event) {
	ticker := time.NewTicker(ctl.pingPeriod())
	defer ticker.Stop()
	defer ws.Close()
	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := ws.WriteJSON(e); err != nil {
				log.Warn().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (ctl *EventsController) readPump(ctx context.Context, ws *websocket.Conn) {
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}
	pongWait := ctl.pingPeriod() * 10 / 9
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "ws").Msg("readPump read error")
			}
			return
		}
	}
}
