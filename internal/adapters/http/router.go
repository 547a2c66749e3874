package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ovident/telecall/internal/adapters/signal"
	"github.com/ovident/telecall/internal/app"
	"github.com/ovident/telecall/internal/config"
	"github.com/ovident/telecall/internal/domain"
)

func SetupRouter(ctx context.Context, cfg *config.Config, ctrl *signal.Controller, presence *app.Presence) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connected": ctrl.Registry.Connected()})
	})

	api := r.Group("/api")
	api.POST("/auth/token", TokenHandler(cfg.Secret, cfg.TokenTTL))
	api.GET("/presence/:userId", JWTAuth(cfg.Secret), func(c *gin.Context) {
		uid := domain.UserID(c.Param("userId"))
		online, err := presence.IsOnline(c.Request.Context(), uid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "presence unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": uid, "online": online})
	})

	r.GET("/ws/signal", JWTAuth(cfg.Secret), func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("uid", c.GetString("user_id")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
