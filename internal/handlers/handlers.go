package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sessiontrack/internal/config"
	"sessiontrack/internal/localstate"
	"sessiontrack/internal/tracker"
)

// PageHandlers exposes one tracked session to the local page over HTTP.
type PageHandlers struct {
	log     zerolog.Logger
	cfg     *config.AppConfig
	tracker *tracker.Coordinator
	local   *localstate.State
	events  *EventHub
	health  Health
}

func NewPageHandlers(
	log zerolog.Logger,
	cfg *config.AppConfig,
	tr *tracker.Coordinator,
	local *localstate.State,
	events *EventHub,
	pingers ...Pinger,
) PageHandlers {
	return PageHandlers{
		log:     log,
		cfg:     cfg,
		tracker: tr,
		local:   local,
		events:  events,
		health:  NewHealth(cfg.Environment, pingers...),
	}
}

func (h PageHandlers) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.health.Handle)

	v1 := router.Group("/v1")
	{
		session := v1.Group("/session")
		session.GET("", h.Session)
		session.PUT("/cache", h.SeedCache)
		session.POST("/init", h.Init)
		session.POST("/destroy", h.Destroy)

		auth := v1.Group("/auth")
		auth.GET("/check", h.CheckAuthenticated)
		auth.GET("/admin", h.CheckAdmin)

		v1.GET("/user", h.CurrentUser)
		v1.GET("/years", h.AccessibleYears)
		v1.GET("/years/:year", h.YearAccess)
		v1.GET("/trial", h.Trial)

		v1.POST("/logout", h.Logout)
		v1.POST("/logout/verify", h.VerifyLogout)

		presence := v1.Group("/presence")
		presence.POST("/activity", h.Activity)
		presence.POST("/resume", h.Resume)
		presence.GET("/status", h.PresenceStatus)

		v1.GET("/events", h.events.Stream)
	}
}
