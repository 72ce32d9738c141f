// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"navi/internal/http/handlers"
	"navi/internal/http/middleware"
	"navi/internal/infra"
	"navi/internal/metrics"
	"navi/internal/modules/location"
	"navi/internal/modules/navigation"
	"navi/internal/modules/quota"
)

type RouterDeps struct {
	Navigation *navigation.Service
	Location   *location.Service
	// Quota nil leaves /navigation/plan unmetered.
	Quota *quota.Service
	// Verifier nil disables auth on /api.
	Verifier infra.TokenVerifier
	Logger   *slog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Logger), metrics.Middleware(), middleware.Logging(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	nav := handlers.NewNavigationHandler(deps.Navigation, deps.Quota)
	api.POST("/navigation/sessions", nav.Create)
	api.POST("/navigation/plan", nav.Plan)
	api.GET("/navigation/sessions/:id", nav.Get)
	api.GET("/navigation/sessions/:id/events", nav.Events)
	api.PUT("/navigation/sessions/:id/route", nav.SetRoute)
	api.POST("/navigation/sessions/:id/live", nav.StartLive)
	api.POST("/navigation/sessions/:id/simulate", nav.Simulate)
	api.POST("/navigation/sessions/:id/cancel", nav.Cancel)
	api.DELETE("/navigation/sessions/:id", nav.Delete)

	if deps.Location != nil {
		loc := handlers.NewLocationHandler(deps.Location)
		api.GET("/devices/nearby", loc.Nearby)
		api.PUT("/devices/:id/location", loc.Update)
		api.GET("/devices/:id/location", loc.Get)
		api.DELETE("/devices/:id/location", loc.Forget)
	}

	return r
}
