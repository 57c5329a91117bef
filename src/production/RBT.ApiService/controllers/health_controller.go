package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
)

const readinessTimeout = 5 * time.Second

// ReadinessChecker runs the dependency probes
type ReadinessChecker interface {
	GetHealthStatus(ctx context.Context) (map[string]interface{}, bool)
}

// HealthController handles liveness, readiness and metrics requests
type HealthController struct {
	checker ReadinessChecker
	logger  *logger.Logger
}

// NewHealthController creates a new health controller
func NewHealthController(checker ReadinessChecker, logger *logger.Logger) *HealthController {
	return &HealthController{
		checker: checker,
		logger:  logger.WithComponent("health-controller"),
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	router.GET("/health/live", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func (c *HealthController) HealthReady(ctx *gin.Context) {
	probeCtx, cancel := context.WithTimeout(ctx.Request.Context(), readinessTimeout)
	defer cancel()

	status, healthy := c.checker.GetHealthStatus(probeCtx)
	if !healthy {
		c.logger.WithField("checks", status["checks"]).Warn("Readiness check failed")
		ctx.JSON(http.StatusServiceUnavailable, status)
		return
	}
	ctx.JSON(http.StatusOK, status)
}
