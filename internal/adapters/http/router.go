package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/peerlink/internal/adapters/signal"
	"github.com/avolkov/peerlink/internal/app"
	"github.com/avolkov/peerlink/internal/config"
	"github.com/avolkov/peerlink/internal/core"
	"github.com/avolkov/peerlink/internal/domain"
)

// SetupRouter wires the WebSocket endpoint and the read-only REST surface.
func SetupRouter(ctx context.Context, cfg *config.Config, router *app.Router, hub *core.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		rooms, conns := hub.Stats()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": rooms, "connections": conns})
	})

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": hub.Rooms()})
	})

	api.GET("/rooms/:name", func(c *gin.Context) {
		name := domain.RoomName(c.Param("name"))
		members := router.RoomSnapshot(name)
		c.JSON(http.StatusOK, gin.H{
			"name":    name,
			"members": members,
			"count":   len(members),
		})
	})

	// Clients fetch ICE servers here before negotiating; the relay never
	// touches media itself.
	api.GET("/ice", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"iceServers": []webrtc.ICEServer{
				{URLs: cfg.STUNServers},
			},
		})
	})

	ctl := signal.NewController(cfg, router)
	r.GET("/ws/signal", func(c *gin.Context) {
		ctl.Handle(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
