package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is a named dependency checked by the health endpoint.
type Pinger struct {
	Name string
	Ping func(ctx context.Context) error
}

type Health struct {
	environment string
	pingers     []Pinger
}

type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	Environment  string            `json:"environment"`
}

func NewHealth(environment string, pingers ...Pinger) Health {
	return Health{environment: environment, pingers: pingers}
}

func (h Health) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:       "ok",
		Dependencies: make(map[string]string, len(h.pingers)),
		Environment:  h.environment,
	}
	status := http.StatusOK
	for _, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			resp.Dependencies[p.Name] = "error"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			logger(c).Error().Err(err).Str("dependency", p.Name).Msg("health check failed")
			continue
		}
		resp.Dependencies[p.Name] = "ok"
	}
	c.JSON(status, resp)
}
