package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
	interfaces "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Repository/Interfaces"
)

const (
	defaultReadingLimit = 50
	maxReadingLimit     = 1000
)

// ReadingReader reads stored counter readings
type ReadingReader interface {
	LatestReading(ctx context.Context, deviceID int64) (*rbtmodels.DeviceReading, error)
	ListReadings(ctx context.Context, deviceID int64, limit int) ([]rbtmodels.DeviceReading, error)
}

// ReadingController handles reading history requests
type ReadingController struct {
	readings ReadingReader
	logger   *logger.Logger
}

// NewReadingController creates a new reading controller
func NewReadingController(readings ReadingReader, logger *logger.Logger) *ReadingController {
	return &ReadingController{
		readings: readings,
		logger:   logger.WithComponent("reading-controller"),
	}
}

// RegisterRoutes registers the reading routes with Gin
func (c *ReadingController) RegisterRoutes(router *gin.Engine) {
	robots := router.Group("/api/robots/:deviceId")
	{
		robots.GET("/readings", c.ListReadings)
		robots.GET("/readings/latest", c.GetLatestReading)
	}
}

func (c *ReadingController) ListReadings(ctx *gin.Context) {
	deviceID, ok := parseDeviceID(ctx)
	if !ok {
		return
	}

	limit := defaultReadingLimit
	if limitStr := ctx.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			abortWithError(ctx, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}
	if limit > maxReadingLimit {
		limit = maxReadingLimit
	}

	readings, err := c.readings.ListReadings(ctx.Request.Context(), deviceID, limit)
	if err != nil {
		c.logger.WithField("device_id", deviceID).ErrorWithError(err, "Failed to list readings")
		abortWithError(ctx, http.StatusInternalServerError, "Failed to list readings")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"device_id": deviceID,
		"count":     len(readings),
		"readings":  readings,
	})
}

func (c *ReadingController) GetLatestReading(ctx *gin.Context) {
	deviceID, ok := parseDeviceID(ctx)
	if !ok {
		return
	}

	reading, err := c.readings.LatestReading(ctx.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, interfaces.ErrReadingNotFound) {
			abortWithError(ctx, http.StatusNotFound, "No readings found for device")
			return
		}
		c.logger.WithField("device_id", deviceID).ErrorWithError(err, "Failed to get latest reading")
		abortWithError(ctx, http.StatusInternalServerError, "Failed to get latest reading")
		return
	}
	ctx.JSON(http.StatusOK, reading)
}

func parseDeviceID(ctx *gin.Context) (int64, bool) {
	deviceID, err := strconv.ParseInt(ctx.Param("deviceId"), 10, 64)
	if err != nil || deviceID <= 0 {
		abortWithError(ctx, http.StatusBadRequest, "Invalid device id")
		return 0, false
	}
	return deviceID, true
}
