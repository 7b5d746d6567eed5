// Package http is the local REST and WebSocket bridge a UI uses to drive the session.
package http

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/dkeye/voicelink/internal/app/session"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Session is the part of the orchestrator the bridge drives.
type Session interface {
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) func()
	Connect(ctx context.Context) error
	ConnectAsync(ctx context.Context)
	Disconnect(ctx context.Context) error
	PublishLocalTracks(ctx context.Context) error
	StopLocalTracks(ctx context.Context) error
	SetMicrophoneEnabled(ctx context.Context, on bool) error
	SetCameraEnabled(ctx context.Context, on bool) error
}

type Config struct {
	Mode           string        `mapstructure:"mode"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	RateLimit      int           `mapstructure:"rate_limit"`
	RateWindow     time.Duration `mapstructure:"rate_window"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type connectRequest struct {
	Wait bool `json:"wait"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func SetupRouter(ctx context.Context, cfg Config, s Session) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 30 * time.Second
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/session")
	api.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Snapshot())
	})

	limiter := NewActionLimiter(cfg.RateLimit, cfg.RateWindow)
	actions := api.Group("", limiter.Middleware())

	// POST /api/session/connect; {"wait": true} blocks until connected or failed
	actions.POST("/connect", func(c *gin.Context) {
		var req connectRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
				return
			}
		}
		if !req.Wait {
			s.ConnectAsync(ctx)
			c.JSON(http.StatusAccepted, s.Snapshot())
			return
		}
		if err := s.Connect(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.Snapshot())
	})

	actions.POST("/disconnect", action(s.Disconnect, s))
	actions.POST("/publish", action(s.PublishLocalTracks, s))
	actions.POST("/unpublish", action(s.StopLocalTracks, s))
	actions.POST("/microphone", toggle(s.SetMicrophoneEnabled, s))
	actions.POST("/camera", toggle(s.SetCameraEnabled, s))

	upgrader := websocket.Upgrader{CheckOrigin: originChecker(cfg.AllowedOrigins)}
	api.GET("/ws", func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("websocket upgrade")
			return
		}
		stream := NewSnapshotStream(uuid.NewString(), ws, cfg.PingPeriod)
		log.Info().Str("module", "adapters.http").Str("client", stream.id).Msg("snapshot stream opened")

		push := func(snap session.Snapshot) {
			if err := stream.TrySend(snap); errors.Is(err, ErrBackpressure) {
				log.Warn().Str("module", "adapters.http").Str("client", stream.id).Msg("slow snapshot client dropped")
				stream.Close()
			}
		}
		unsubscribe := s.Subscribe(push)
		defer unsubscribe()
		push(s.Snapshot())

		stream.Run()
		log.Info().Str("module", "adapters.http").Str("client", stream.id).Msg("snapshot stream closed")
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

func action(fn func(context.Context) error, s Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.Snapshot())
	}
}

func toggle(fn func(context.Context, bool) error, s Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req toggleRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid enabled"})
			return
		}
		if err := fn(c.Request.Context(), *req.Enabled); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.Snapshot())
	}
}

func writeError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch domain.Kind(err) {
	case domain.ErrNetwork:
		if errors.Is(err, session.ErrAborted) {
			status = http.StatusConflict
		}
	case domain.ErrAuth:
		status = http.StatusUnauthorized
	case domain.ErrDevice:
		status = http.StatusConflict
	case domain.ErrProtocol:
		status = http.StatusUnprocessableEntity
	case nil:
		status = http.StatusRequestTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
