package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/config"
)

// SetupRouter builds the local control API of a joined room.
func SetupRouter(cfg *config.Config, ctrl Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(NewRateLimiter(cfg.ControlRateLimit, cfg.ControlRateInterval).Middleware())

	h := &handlers{ctrl: ctrl}
	r.GET("/healthz", healthz)

	api := r.Group("/room")
	api.POST("/audio/:action", toggle(h.audioActions()))
	api.POST("/video/:action", toggle(h.videoActions()))
	api.POST("/remote/audio/:action", toggle(h.remoteAudioActions()))
	api.POST("/remote/video/:action", toggle(h.remoteVideoActions()))
	api.PUT("/settings", h.settings)

	log.Info().Str("module", "http").Str("addr", cfg.ControlAddr).Msg("router setup")
	return r
}
