package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"sessiontrack/internal/models"
	"sessiontrack/internal/tracker"
)

type sessionResponse struct {
	State      tracker.GuardState `json:"state"`
	Terminated bool               `json:"terminated"`
	Failure    *failureResponse   `json:"failure,omitempty"`
	User       *models.UserRecord `json:"user,omitempty"`
	Pending    []PageEvent        `json:"pending,omitempty"`
}

type failureResponse struct {
	Kind    tracker.FailureKind `json:"kind"`
	Message string              `json:"message"`
}

func (h PageHandlers) Session(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessionView())
}

func (h PageHandlers) sessionView() sessionResponse {
	resp := sessionResponse{State: h.tracker.GuardState(), Pending: h.events.Pending()}
	if f, terminated := h.tracker.Terminated(); terminated {
		resp.Terminated = true
		if f != nil {
			resp.Failure = &failureResponse{Kind: f.Kind, Message: f.Message}
		}
	}
	if u, ok := h.tracker.CurrentUser(); ok {
		resp.User = &u
	}
	return resp
}

type seedCacheRequest struct {
	UserID string `json:"userId" binding:"required"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
}

// SeedCache stores the signed-in user the way the sign-in page does. The
// record is only trusted once Init has validated it remotely. Seeding
// after a terminated session starts a fresh page life, as a new sign-in
// would.
func (h PageHandlers) SeedCache(c *gin.Context) {
	var req seedCacheRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if _, terminated := h.tracker.Terminated(); terminated {
		h.tracker.Destroy(c.Request.Context())
		h.events.Reset()
	}
	user := models.UserRecord{
		ID:     strings.TrimSpace(req.UserID),
		Name:   req.Name,
		Phone:  req.Phone,
		Status: models.UserStatusPending,
	}
	if err := h.local.SaveUser(user); err != nil {
		h.log.Error().Err(err).Msg("seed session cache failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache_write_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h PageHandlers) Init(c *gin.Context) {
	err := h.tracker.Init(c.Request.Context())
	var transient *tracker.TransientError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, h.sessionView())
	case errors.As(err, &transient):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "remote_unavailable", "session": h.sessionView()})
	default:
		c.JSON(http.StatusUnauthorized, h.sessionView())
	}
}

func (h PageHandlers) Destroy(c *gin.Context) {
	h.tracker.Destroy(c.Request.Context())
	h.events.Reset()
	c.Status(http.StatusNoContent)
}

func (h PageHandlers) CheckAuthenticated(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"authenticated": h.tracker.CheckAuthenticated(c.Request.Context())})
}

func (h PageHandlers) CheckAdmin(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"admin": h.tracker.CheckAdmin(c.Request.Context())})
}

func (h PageHandlers) CurrentUser(c *gin.Context) {
	u, ok := h.tracker.CurrentUser()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h PageHandlers) AccessibleYears(c *gin.Context) {
	years := h.tracker.AccessibleYears()
	if years == nil {
		years = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"years": years})
}

func (h PageHandlers) YearAccess(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_year"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"year": year, "access": h.tracker.HasAccessToYear(year)})
}

func (h PageHandlers) Trial(c *gin.Context) {
	status, ok := h.tracker.TrialStatus()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h PageHandlers) Logout(c *gin.Context) {
	if err := h.tracker.Logout(c.Request.Context()); err != nil {
		h.log.Error().Err(err).Msg("logout failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout_failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "code_sent"})
}

type verifyRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h PageHandlers) VerifyLogout(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ok, err := h.tracker.VerifyLogoutCode(c.Request.Context(), strings.TrimSpace(req.Code))
	if err != nil {
		h.log.Error().Err(err).Msg("verify logout code failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verify_failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"verified": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

type activityRequest struct {
	Kind string `json:"kind"`
}

func (h PageHandlers) Activity(c *gin.Context) {
	var req activityRequest
	_ = c.ShouldBindJSON(&req)
	if req.Kind == "" {
		req.Kind = "click"
	}
	c.JSON(http.StatusOK, gin.H{"written": h.tracker.Activity(c.Request.Context(), req.Kind)})
}

func (h PageHandlers) Resume(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"written": h.tracker.Resume(c.Request.Context())})
}

func (h PageHandlers) PresenceStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.tracker.PresenceStatus())
}
