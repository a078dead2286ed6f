// Package http exposes the orchestrator to a local UI over a JSON API and a
// server-sent event stream.
package http

import (
	"context"
	"os"

	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	sessionName    = "MeetSessions"
	tokenKey       = "client_token"
	tokenMaxAge    = 3600 * 24 * 7
	staticIndexDir = "./web"
)

// ClientTokenMiddleware gives every browser a stable token kept in the cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(tokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			s.Set(tokenKey, token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client session")
			}
		}
		c.Set(tokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: tokenMaxAge, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	if _, err := os.Stat(staticIndexDir); err == nil {
		r.Static("/static", staticIndexDir)
		r.GET("/", func(c *gin.Context) {
			c.File(staticIndexDir + "/index.html")
		})
	}

	h := &handlers{
		ctx:       ctx,
		o:         o,
		stringIDs: cfg.StringRoomIDs,
		limiter:   NewRateLimiter(cfg.RateLimit, cfg.RateInterval),
	}

	api := r.Group("/api")
	api.GET("/room-id", h.roomID)
	api.GET("/state", h.state)
	api.GET("/feeds", h.feeds)
	api.GET("/rooms", h.rooms)
	api.GET("/rooms/:room/participants", h.participants)
	api.GET("/devices", h.devices)
	api.GET("/events", h.events)

	limited := api.Group("", h.limit)
	limited.POST("/join", h.join)
	limited.POST("/resume", h.resume)
	limited.POST("/reset", h.reset)
	api.POST("/leave", h.leave)
	api.POST("/mute", h.mute)
	api.POST("/screen", h.screen)
	api.POST("/devices", h.replaceDevices)

	log.Info().Str("module", "adapters.http").Bool("string_ids", cfg.StringRoomIDs).Msg("router setup")
	return r
}
