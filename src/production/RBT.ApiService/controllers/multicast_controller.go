package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	dispatcher "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Dispatcher"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
)

const (
	defaultGroupLimit = 100
	maxGroupLimit     = 1000
)

// GroupLister lists multicast groups on the network server
type GroupLister interface {
	ListMulticastGroups(ctx context.Context, limit int) ([]rbtmodels.MulticastGroup, error)
}

// GroupCommander sends a command to one or more multicast groups
type GroupCommander interface {
	Dispatch(ctx context.Context, groupIDs []string, op dispatcher.Opcode) (*dispatcher.Result, error)
}

// MulticastController handles multicast group listing and immediate group commands
type MulticastController struct {
	groups    GroupLister
	commander GroupCommander
	logger    *logger.Logger
}

// NewMulticastController creates a new multicast controller
func NewMulticastController(groups GroupLister, commander GroupCommander, logger *logger.Logger) *MulticastController {
	return &MulticastController{
		groups:    groups,
		commander: commander,
		logger:    logger.WithComponent("multicast-controller"),
	}
}

// RegisterRoutes registers the multicast routes with Gin
func (c *MulticastController) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/multicast-groups", c.ListGroups)
		api.POST("/multicast-groups/:groupId/queue", c.QueueCommand)
	}
}

func (c *MulticastController) ListGroups(ctx *gin.Context) {
	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", strconv.Itoa(defaultGroupLimit)))
	if err != nil || limit <= 0 {
		abortWithError(ctx, http.StatusBadRequest, "Invalid limit")
		return
	}
	if limit > maxGroupLimit {
		limit = maxGroupLimit
	}

	groups, err := c.groups.ListMulticastGroups(ctx.Request.Context(), limit)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to fetch multicast groups")
		abortWithError(ctx, http.StatusBadGateway, "Failed to fetch multicast groups")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"result": groups})
}

func (c *MulticastController) QueueCommand(ctx *gin.Context) {
	var req commandRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abortWithError(ctx, http.StatusBadRequest, "Command is required")
		return
	}
	op, err := dispatcher.ParseCommand(req.Command)
	if err != nil {
		writeUnknownCommand(ctx, err)
		return
	}

	result, err := c.commander.Dispatch(ctx.Request.Context(), []string{ctx.Param("groupId")}, op)
	if err != nil {
		writeDispatchError(ctx, result, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": "Downlink queued successfully",
		"result":  result,
	})
}
