package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	networkserver "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.NetworkServer"
)

const defaultGatewayLimit = 20

// GatewayLister lists gateways on the network server
type GatewayLister interface {
	ListGateways(ctx context.Context, limit int) (*networkserver.GatewayList, error)
}

// GatewayController proxies the gateway listing used by the availability view
type GatewayController struct {
	gateways GatewayLister
	logger   *logger.Logger
}

func NewGatewayController(gateways GatewayLister, logger *logger.Logger) *GatewayController {
	return &GatewayController{
		gateways: gateways,
		logger:   logger.WithComponent("gateway-controller"),
	}
}

// RegisterRoutes registers the gateway routes with Gin
func (c *GatewayController) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/allGateways", c.ListGateways)
}

func (c *GatewayController) ListGateways(ctx *gin.Context) {
	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", strconv.Itoa(defaultGatewayLimit)))
	if err != nil || limit <= 0 {
		abortWithError(ctx, http.StatusBadRequest, "Invalid limit")
		return
	}
	if limit > maxGroupLimit {
		limit = maxGroupLimit
	}

	gateways, err := c.gateways.ListGateways(ctx.Request.Context(), limit)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to fetch gateways")
		abortWithError(ctx, http.StatusBadGateway, "Failed to fetch gateways")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message":     "success",
		"gatewayData": gateways,
	})
}
