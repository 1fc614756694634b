package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/lem-onair/lemonair-streaming/internal/adapters/http"
	"github.com/lem-onair/lemonair-streaming/internal/adapters/rtmp"
	"github.com/lem-onair/lemonair-streaming/internal/app"
	"github.com/lem-onair/lemonair-streaming/internal/app/orch"
	"github.com/lem-onair/lemonair-streaming/internal/config"
	"github.com/lem-onair/lemonair-streaming/internal/metrics"
	"github.com/lem-onair/lemonair-streaming/internal/notify"
)

const notifyGrace = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if env := os.Getenv("CONFIG_ENV"); env == "" || env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	policy, err := app.PolicyByName(cfg.RTMP.SlowSubscriber)
	if err != nil {
		log.Fatal().Err(err).Msg("bad rtmp.slow_subscriber")
	}

	m := metrics.New()
	// Notifications outlive the servers by up to notifyGrace.
	notifyCtx, notifyCancel := context.WithCancel(context.Background())
	defer notifyCancel()
	notifier := notify.New(notifyCtx, notify.Config{
		ServiceHost:     cfg.External.Service.Host,
		TranscodingHost: cfg.External.Transcoding.Host,
		TranscodingPort: cfg.External.Transcoding.Port,
		Retries:         cfg.External.Retries,
		RetryDelay:      cfg.External.RetryDelay,
		Timeout:         cfg.External.Timeout,
	}, m)

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Policy:   policy,
		Notifier: notifier,
		Events:   app.NewEventBus(),
		Metrics:  m,
		Settings: orch.Settings{
			WindowAckSize:   cfg.Protocol.WindowAckSize,
			PeerBandwidth:   cfg.Protocol.PeerBandwidth,
			ChunkSize:       cfg.Protocol.ChunkSize,
			MessageStreamID: cfg.Protocol.MessageStreamID,
		},
	}

	rtmpServer := rtmp.NewServer(rtmp.Config{
		Addr:             cfg.RTMP.Addr,
		MaxConnections:   cfg.RTMP.MaxConnections,
		SendQueue:        cfg.RTMP.SendQueue,
		WriteTimeout:     cfg.RTMP.WriteTimeout,
		HandshakeTimeout: cfg.RTMP.HandshakeTimeout,
		IdleTimeout:      cfg.RTMP.IdleTimeout,
		ConnectLimit:     cfg.RTMP.ConnectLimit,
		ConnectInterval:  cfg.RTMP.ConnectInterval,
	}, o)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router.SetupRouter(ctx, cfg, o),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rtmpServer.ListenAndServe(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("admin http server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("Shutting down")
	done := make(chan struct{})
	go func() {
		notifier.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(notifyGrace):
		log.Warn().Msg("abandoning pending off-air notifications")
		notifyCancel()
		<-done
	}
	log.Info().Msg("Server exited gracefully")
}
