package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sessiontrack/internal/config"
	"sessiontrack/internal/middleware"
	"sessiontrack/internal/models"
	"sessiontrack/internal/repository"
	"sessiontrack/internal/service"
)

const RoleAdmin = "admin"

// AdminHandlers is the operator API. Every route except the health check
// needs an admin bearer token.
type AdminHandlers struct {
	log    zerolog.Logger
	cfg    *config.AppConfig
	admin  *service.AdminService
	health Health
}

func NewAdminHandlers(log zerolog.Logger, cfg *config.AppConfig, admin *service.AdminService, pingers ...Pinger) AdminHandlers {
	return AdminHandlers{
		log:    log,
		cfg:    cfg,
		admin:  admin,
		health: NewHealth(cfg.Environment, pingers...),
	}
}

func (h AdminHandlers) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.health.Handle)

	admin := router.Group("/v1/admin")
	admin.Use(
		middleware.Auth(h.cfg.Security.JWTSecret),
		middleware.RequireRoles(RoleAdmin),
	)
	admin.POST("/broadcasts", h.PublishBroadcast)

	admin.GET("/users/online", h.OnlineUsers)
	admin.POST("/users/online/report", h.ReportOnlineUsers)
	admin.POST("/users/:id/force-logout", h.ForceLogout)
	admin.DELETE("/users/:id/force-logout", h.ClearForceLogout)
	admin.POST("/users/:id/ban", h.Ban)
	admin.DELETE("/users/:id/ban", h.Unban)
	admin.PUT("/users/:id/status", h.SetStatus)

	admin.GET("/sessions/recent", h.RecentSessions)
	admin.GET("/sessions/active", h.ActiveSessions)
	admin.POST("/sweep", h.Sweep)
}

func (h AdminHandlers) PublishBroadcast(c *gin.Context) {
	var in service.BroadcastInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	msg, err := h.admin.PublishBroadcast(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h AdminHandlers) OnlineUsers(c *gin.Context) {
	users, err := h.admin.OnlineUsers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": users})
}

func (h AdminHandlers) ReportOnlineUsers(c *gin.Context) {
	report, err := h.admin.ReportOnlineUsers(c.Request.Context())
	if err != nil && report == "" {
		h.fail(c, err)
		return
	}
	resp := gin.H{"report": report, "delivered": err == nil}
	if err != nil {
		logger(c).Warn().Err(err).Msg("online users report not delivered")
	}
	c.JSON(http.StatusOK, resp)
}

func (h AdminHandlers) ForceLogout(c *gin.Context) {
	h.userEdit(c, h.admin.ForceLogout)
}

func (h AdminHandlers) ClearForceLogout(c *gin.Context) {
	h.userEdit(c, h.admin.ClearForceLogout)
}

func (h AdminHandlers) Unban(c *gin.Context) {
	h.userEdit(c, h.admin.Unban)
}

type banRequest struct {
	Reason string `json:"reason"`
	// Duration is a Go duration string; empty bans permanently.
	Duration string `json:"duration"`
}

func (h AdminHandlers) Ban(c *gin.Context) {
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	var d time.Duration
	if req.Duration != "" {
		parsed, err := time.ParseDuration(req.Duration)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_duration"})
			return
		}
		d = parsed
	}
	h.userEdit(c, func(ctx context.Context, id string) error {
		return h.admin.Ban(ctx, id, service.BanInput{Reason: req.Reason, Duration: d})
	})
}

type statusRequest struct {
	Status models.UserStatus `json:"status" binding:"required"`
}

func (h AdminHandlers) SetStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.userEdit(c, func(ctx context.Context, id string) error {
		return h.admin.SetStatus(ctx, id, req.Status)
	})
}

func (h AdminHandlers) userEdit(c *gin.Context, edit func(ctx context.Context, id string) error) {
	id := c.Param("id")
	if err := edit(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	logger(c).Info().Str("user_id", id).Str("path", c.FullPath()).Msg("user updated")
	c.Status(http.StatusNoContent)
}

func (h AdminHandlers) RecentSessions(c *gin.Context) {
	groups, err := h.admin.RecentSessions(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if groups == nil {
		groups = []service.UserSessions{}
	}
	c.JSON(http.StatusOK, gin.H{"items": groups})
}

func (h AdminHandlers) ActiveSessions(c *gin.Context) {
	sessions, err := h.admin.ActiveSessions(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": sessions})
}

func (h AdminHandlers) Sweep(c *gin.Context) {
	result, err := h.admin.Sweep(c.Request.Context())
	if err != nil {
		logger(c).Warn().Err(err).Msg("sweep finished with errors")
	}
	c.JSON(http.StatusOK, gin.H{
		"usersOffline":     result.UsersOffline,
		"sessionsInactive": result.SessionsInactive,
		"ok":               err == nil,
	})
}

func (h AdminHandlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
	case errors.Is(err, service.ErrInvalidTarget),
		errors.Is(err, service.ErrInvalidAction),
		errors.Is(err, service.ErrMissingTarget),
		errors.Is(err, service.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger(c).Error().Err(err).Str("path", c.FullPath()).Msg("admin request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
