// Package httptransport serves the local introspection endpoints:
// liveness, readiness, and the agent status snapshot.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/fleetcron/fleetcron/internal/agent"
	"github.com/fleetcron/fleetcron/internal/health"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, checker *health.Checker, ag *agent.Agent) *gin.Engine {
	r := gin.New()
	r.Use(sloggin.New(logger.With("component", "status_server")))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, checker.Liveness(c.Request.Context()))
	})

	r.GET("/readyz", func(c *gin.Context) {
		result := checker.Readiness(c.Request.Context())
		status := http.StatusOK
		if result.Status != "up" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	})

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, ag.Status())
	})

	return r
}

// NewServer wraps the router in an http.Server bound to addr.
func NewServer(addr string, logger *slog.Logger, checker *health.Checker, ag *agent.Agent) *http.Server {
	return &http.Server{Addr: addr, Handler: NewRouter(logger, checker, ag)}
}
