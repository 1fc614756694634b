// Package rtmp carries RTMP over TCP: handshake, chunk stream and the
// per-connection pumps that drive an orch.Controller.
package rtmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lem-onair/lemonair-streaming/internal/app/orch"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"golang.org/x/net/netutil"
)

type Config struct {
	Addr             string
	MaxConnections   int
	SendQueue        int
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	ConnectLimit     int
	ConnectInterval  time.Duration
}

type Server struct {
	cfg     Config
	orch    *orch.Orchestrator
	limiter *ConnectLimiter
	conns   conc.WaitGroup
}

func NewServer(cfg Config, o *orch.Orchestrator) *Server {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 256
	}
	return &Server{
		cfg:     cfg,
		orch:    o,
		limiter: NewConnectLimiter(cfg.ConnectLimit, cfg.ConnectInterval),
	}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("rtmp listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections until ctx is done, then disconnects every client
// and waits for their goroutines.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	log.Info().Str("module", "adapters.rtmp").Str("addr", ln.Addr().String()).Msg("rtmp server started")
	defer s.conns.Wait()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info().Str("module", "adapters.rtmp").Msg("rtmp server stopped")
				return nil
			}
			return fmt.Errorf("rtmp accept: %w", err)
		}
		host, _, _ := net.SplitHostPort(nc.RemoteAddr().String())
		if !s.limiter.Allow(host) {
			log.Warn().Str("module", "adapters.rtmp").Str("remote", host).Msg("connect rate exceeded")
			_ = nc.Close()
			continue
		}
		s.conns.Go(func() { s.serveConn(ctx, nc) })
	}
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	start := time.Now()
	logger := log.With().
		Str("module", "adapters.rtmp").
		Str("remote", nc.RemoteAddr().String()).
		Logger()
	m := s.orch.Metrics
	m.ConnOpened()
	defer m.ConnClosed()

	if s.cfg.HandshakeTimeout > 0 {
		_ = nc.SetDeadline(start.Add(s.cfg.HandshakeTimeout))
	}
	if err := Handshake(nc); err != nil {
		logger.Warn().Err(err).Msg("handshake failed")
		_ = nc.Close()
		return
	}
	_ = nc.SetDeadline(time.Time{})

	conn := newConn(nc, s.cfg.SendQueue, s.cfg.WriteTimeout, logger)
	conn.logger.Info().Msg("connection active")
	stop := context.AfterFunc(ctx, conn.Disconnect)
	defer stop()

	ctl := s.orch.NewController(conn)
	var pumps conc.WaitGroup
	pumps.Go(func() { conn.writePump(ctx) })
	conn.readPump(ctl, s.cfg.IdleTimeout)
	pumps.Wait()

	conn.logger.Info().
		Dur("duration", time.Since(start)).
		Str("stream", string(ctl.StreamName())).
		Msg("connection inactive")
}
