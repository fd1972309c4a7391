// Package v1 wires the demo HTTP API: submit and status-query endpoints
// over the Orchestrator core.
package v1

import (
	"github.com/gin-gonic/gin"

	"orchestrator/internal/core/bus"
	"orchestrator/internal/core/store"
	"orchestrator/internal/infrastructure/http/v1/middleware"
	"orchestrator/internal/orchestrator"
	"orchestrator/pkg/logger"
)

// RouterConfig supplies the dependencies the v1 API needs.
type RouterConfig struct {
	Orchestrator *orchestrator.Orchestrator
	Store        store.Store
	Bus          bus.Bus // optional; enables GET /v1/dlq if it implements bus.Inspectable
	Logger       *logger.Logger
}

// NewRouter builds the gin engine serving the demo API.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Trace())
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.ErrorHandler())

	h := &Handler{orc: cfg.Orchestrator, store: cfg.Store, bus: cfg.Bus}

	v1 := r.Group("/v1")
	{
		v1.POST("/operations", h.Submit)
		v1.GET("/operations/:opId", h.GetStatus)
		v1.GET("/dlq", h.ListDLQ)
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	return r
}
