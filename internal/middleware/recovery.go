package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a 500 that carries the request id.
// Once a response has started, as with an event stream, the request is
// only aborted. http.ErrAbortHandler is passed through to net/http.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(r)
			}

			reqLog := zerolog.Ctx(c.Request.Context())
			if reqLog.GetLevel() == zerolog.Disabled {
				reqLog = &log
			}
			reqLog.Error().
				Interface("panic", r).
				Str("method", c.Request.Method).
				Str("route", c.FullPath()).
				Bool("response_started", c.Writer.Written()).
				Str("stack", string(debug.Stack())).
				Msg("handler panicked")

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":      "internal_server_error",
				"request_id": c.GetString(requestIDHeader),
			})
		}()
		c.Next()
	}
}
