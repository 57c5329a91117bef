package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	cache "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Cache"
	dispatcher "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Dispatcher"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
)

// LiveStatusReader exposes the latest uplink state per device
type LiveStatusReader interface {
	Get(deviceEUI string) (rbtmodels.DeviceLiveStatus, bool)
	Faults() []cache.FaultEntry
}

// RosterReader lists devices registered on the network server
type RosterReader interface {
	ListDevices(ctx context.Context) ([]rbtmodels.RosterDevice, error)
}

// RosterCache holds the last fetched roster
type RosterCache interface {
	Get() ([]rbtmodels.RosterDevice, time.Time, bool)
	Set(devices []rbtmodels.RosterDevice, at time.Time)
}

// DeviceCommander sends a command to one device
type DeviceCommander interface {
	DispatchDevice(ctx context.Context, devEUI string, op dispatcher.Opcode) (*dispatcher.Result, error)
}

// DeviceController handles device status, roster and per-device commands
type DeviceController struct {
	live      LiveStatusReader
	roster    RosterReader
	rosterSet RosterCache
	commander DeviceCommander
	logger    *logger.Logger
}

// NewDeviceController creates a new device controller
func NewDeviceController(live LiveStatusReader, roster RosterReader, rosterSet RosterCache, commander DeviceCommander, logger *logger.Logger) *DeviceController {
	return &DeviceController{
		live:      live,
		roster:    roster,
		rosterSet: rosterSet,
		commander: commander,
		logger:    logger.WithComponent("device-controller"),
	}
}

type commandRequest struct {
	Command string `json:"command" binding:"required"`
}

// RegisterRoutes registers the device routes with Gin
func (c *DeviceController) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/get-errors", c.GetErrors)
		api.GET("/devices", c.ListDevices)
		api.GET("/devices/:deviceEUI/data", c.GetDeviceData)
		api.POST("/devices/:deviceEUI/queue", c.QueueCommand)
	}
}

func (c *DeviceController) GetErrors(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.live.Faults())
}

func (c *DeviceController) GetDeviceData(ctx *gin.Context) {
	status, ok := c.live.Get(ctx.Param("deviceEUI"))
	if !ok {
		abortWithError(ctx, http.StatusNotFound, "No data found for device")
		return
	}
	ctx.JSON(http.StatusOK, status)
}

func (c *DeviceController) ListDevices(ctx *gin.Context) {
	refresh, _ := strconv.ParseBool(ctx.DefaultQuery("refresh", "false"))

	if !refresh {
		if devices, fetchedAt, ok := c.rosterSet.Get(); ok {
			ctx.JSON(http.StatusOK, gin.H{
				"result":    devices,
				"fetchedAt": fetchedAt.UTC().Format(time.RFC3339),
			})
			return
		}
	}

	devices, err := c.roster.ListDevices(ctx.Request.Context())
	if err != nil {
		c.logger.WithError(err).Warn("Failed to fetch device roster")
		abortWithError(ctx, http.StatusBadGateway, "Failed to fetch devices")
		return
	}
	fetchedAt := time.Now()
	c.rosterSet.Set(devices, fetchedAt)

	ctx.JSON(http.StatusOK, gin.H{
		"result":    devices,
		"fetchedAt": fetchedAt.UTC().Format(time.RFC3339),
	})
}

func (c *DeviceController) QueueCommand(ctx *gin.Context) {
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

	result, err := c.commander.DispatchDevice(ctx.Request.Context(), ctx.Param("deviceEUI"), op)
	if err != nil {
		writeDispatchError(ctx, result, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": "Downlink queued successfully",
		"result":  result,
	})
}

// writeUnknownCommand rejects a command name and lists the accepted ones
func writeUnknownCommand(ctx *gin.Context, err error) {
	ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":    err.Error(),
		"commands": dispatcher.Commands(),
	})
}

// writeDispatchError maps dispatcher failures onto status codes
func writeDispatchError(ctx *gin.Context, result *dispatcher.Result, err error) {
	switch {
	case errors.Is(err, dispatcher.ErrNoTargets):
		abortWithError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatcher.ErrDispatchFailed):
		ctx.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error":  "Failed to queue downlink",
			"result": result,
		})
	default:
		abortWithError(ctx, http.StatusInternalServerError, "Failed to queue downlink")
	}
}
