package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lem-onair/lemonair-streaming/internal/adapters/ws"
	"github.com/lem-onair/lemonair-streaming/internal/amf"
	"github.com/lem-onair/lemonair-streaming/internal/app/orch"
	"github.com/lem-onair/lemonair-streaming/internal/config"
	"github.com/lem-onair/lemonair-streaming/internal/core"
	"github.com/lem-onair/lemonair-streaming/internal/domain"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware keeps the caller's request id or assigns a new one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

type streamDetail struct {
	core.StreamInfo
	Metadata any `json:"metadata"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if o.Metrics != nil {
		r.GET("/metrics", gin.WrapH(o.Metrics.Handler()))
	}

	api := r.Group("/api")

	api.GET("/streams", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"streams": o.Registry.List()})
	})

	api.GET("/streams/:name", func(c *gin.Context) {
		s, ok := o.Registry.GetStream(domain.StreamName(c.Param("name")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		detail := streamDetail{StreamInfo: s.Info()}
		if md := s.Metadata(); md != nil {
			detail.Metadata = amf.Native(md)
		}
		c.JSON(http.StatusOK, detail)
	})

	// Replaces the cached onMetaData that later players receive.
	api.PUT("/streams/:name/metadata", func(c *gin.Context) {
		s, ok := o.Registry.GetStream(domain.StreamName(c.Param("name")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		v, err := amf.From(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		obj, ok := v.(*amf.Object)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "metadata must be an object"})
			return
		}
		s.SetMetadata(obj)
		log.Info().
			Str("module", "adapters.http").
			Str("stream", string(s.Info().Name)).
			Str("request_id", c.GetString("request_id")).
			Int("keys", obj.Len()).
			Msg("metadata replaced")
		c.Status(http.StatusNoContent)
	})

	api.DELETE("/streams/:name", func(c *gin.Context) {
		name := domain.StreamName(c.Param("name"))
		if !o.Evict(name) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		log.Info().
			Str("module", "adapters.http").
			Str("stream", string(name)).
			Str("request_id", c.GetString("request_id")).
			Msg("stream evicted")
		c.Status(http.StatusNoContent)
	})

	events := &ws.EventsController{
		Bus:        o.Events,
		ReadLimit:  cfg.HTTP.ReadLimit,
		PingPeriod: cfg.HTTP.PingPeriod,
	}
	api.GET("/ws/events", func(c *gin.Context) {
		events.Handle(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
