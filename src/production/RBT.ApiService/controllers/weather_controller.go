package controllers

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	weather "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Weather"
)

// WeatherReader fetches the current conditions at the site
type WeatherReader interface {
	FetchSnapshot(ctx context.Context) (*weather.Snapshot, error)
}

// ThresholdStore holds the live operator thresholds
type ThresholdStore interface {
	Get() weather.Thresholds
	Set(t weather.Thresholds) error
}

// WeatherController handles threshold updates and weather lookups
type WeatherController struct {
	weather    WeatherReader
	thresholds ThresholdStore
	logger     *logger.Logger
}

// NewWeatherController creates a new weather controller
func NewWeatherController(w WeatherReader, thresholds ThresholdStore, logger *logger.Logger) *WeatherController {
	return &WeatherController{
		weather:    w,
		thresholds: thresholds,
		logger:     logger.WithComponent("weather-controller"),
	}
}

// thresholdUpdate keeps the raw JSON types so a string "10" is rejected rather than coerced
type thresholdUpdate struct {
	WindSpeed   interface{} `json:"windSpeedThreshold"`
	Humidity    interface{} `json:"humidityThreshold"`
	RainEnabled interface{} `json:"rainEnabled"`
}

// RegisterRoutes registers the weather routes with Gin
func (c *WeatherController) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/update-threshold", c.UpdateThresholds)
		api.GET("/thresholds", c.GetThresholds)
		api.GET("/weather", c.GetWeather)
	}
}

func (c *WeatherController) UpdateThresholds(ctx *gin.Context) {
	var req thresholdUpdate
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abortWithError(ctx, http.StatusBadRequest, "Invalid request body")
		return
	}

	wind, ok := req.WindSpeed.(float64)
	if !ok || wind < 0 || math.IsInf(wind, 0) {
		abortWithError(ctx, http.StatusBadRequest, "Invalid wind speed threshold")
		return
	}
	humidity, ok := req.Humidity.(float64)
	if !ok || humidity < 0 || humidity > 100 {
		abortWithError(ctx, http.StatusBadRequest, "Invalid humidity threshold")
		return
	}
	rain, ok := req.RainEnabled.(bool)
	if !ok {
		abortWithError(ctx, http.StatusBadRequest, "Invalid rain enabled setting")
		return
	}

	next := weather.Thresholds{WindSpeed: wind, Humidity: humidity, RainEnabled: rain}
	if err := c.thresholds.Set(next); err != nil {
		if errors.Is(err, weather.ErrInvalidThresholds) {
			abortWithError(ctx, http.StatusBadRequest, err.Error())
			return
		}
		c.logger.ErrorWithError(err, "Failed to update thresholds")
		abortWithError(ctx, http.StatusInternalServerError, "Failed to update thresholds")
		return
	}

	c.logger.WithFields(map[string]interface{}{
		"wind_speed":   wind,
		"humidity":     humidity,
		"rain_enabled": rain,
	}).Info("Weather thresholds updated")

	ctx.JSON(http.StatusOK, gin.H{
		"message":           "Thresholds updated successfully",
		"currentThresholds": c.thresholds.Get(),
	})
}

func (c *WeatherController) GetThresholds(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.thresholds.Get())
}

func (c *WeatherController) GetWeather(ctx *gin.Context) {
	snapshot, err := c.weather.FetchSnapshot(ctx.Request.Context())
	if err != nil {
		c.logger.WithError(err).Warn("Weather lookup failed")
		abortWithError(ctx, http.StatusBadGateway, "Failed to fetch weather data")
		return
	}

	thresholds := c.thresholds.Get()
	ctx.JSON(http.StatusOK, gin.H{
		"weather":    snapshot,
		"thresholds": thresholds,
		"evaluation": weather.Evaluate(*snapshot, thresholds),
	})
}
