package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// logger returns the request-scoped logger set by middleware.RequestID.
func logger(c *gin.Context) *zerolog.Logger {
	return zerolog.Ctx(c.Request.Context())
}
