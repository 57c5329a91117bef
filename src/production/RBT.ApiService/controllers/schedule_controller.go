package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	scheduler "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Scheduler"
)

// TaskScheduler is the scheduler surface the controller needs
type TaskScheduler interface {
	Create(ctx context.Context, req scheduler.CreateRequest) (*scheduler.Task, error)
	List() []scheduler.Task
	Get(id string) (*scheduler.Task, error)
	Cancel(id string) (*scheduler.Task, error)
}

// ScheduleController handles deferred downlink requests
type ScheduleController struct {
	scheduler TaskScheduler
	logger    *logger.Logger
}

// NewScheduleController creates a new schedule controller
func NewScheduleController(s TaskScheduler, logger *logger.Logger) *ScheduleController {
	return &ScheduleController{
		scheduler: s,
		logger:    logger.WithComponent("schedule-controller"),
	}
}

type scheduleRequest struct {
	GroupIDs     []string `json:"groupIds"`
	ScheduleTime string   `json:"scheduleTime"`
}

type taskSummary struct {
	ID           string           `json:"id"`
	GroupIDs     []string         `json:"groupIds"`
	ScheduleTime string           `json:"scheduleTime"`
	Status       scheduler.Status `json:"status"`
	CreatedAt    string           `json:"createdAt"`
}

// RegisterRoutes registers the schedule routes with Gin
func (c *ScheduleController) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/schedule-downlink", c.ScheduleDownlink)
		api.GET("/scheduled-tasks", c.ListTasks)
		api.GET("/scheduled-tasks/:taskId", c.GetTask)
		api.DELETE("/scheduled-tasks/:taskId", c.CancelTask)
		// kept for dashboards built against the old path
		api.DELETE("/scheduled-Grouptasks/:taskId", c.CancelTask)
	}
}

func (c *ScheduleController) ScheduleDownlink(ctx *gin.Context) {
	var req scheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || len(req.GroupIDs) == 0 {
		abortWithError(ctx, http.StatusBadRequest, "Invalid groupIds provided")
		return
	}
	if strings.TrimSpace(req.ScheduleTime) == "" {
		abortWithError(ctx, http.StatusBadRequest, "Schedule time is required")
		return
	}

	task, err := c.scheduler.Create(ctx.Request.Context(), scheduler.CreateRequest{
		GroupIDs:     req.GroupIDs,
		ScheduleTime: req.ScheduleTime,
	})
	switch {
	case err == nil:
	case errors.Is(err, scheduler.ErrInvalidRequest):
		abortWithError(ctx, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, scheduler.ErrWeatherUnsafe):
		abortWithError(ctx, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, scheduler.ErrWeatherUnavailable):
		abortWithError(ctx, http.StatusBadGateway, err.Error())
		return
	default:
		c.logger.ErrorWithError(err, "Failed to schedule downlink")
		abortWithError(ctx, http.StatusInternalServerError, "Failed to schedule downlink")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message":       "Downlink scheduled successfully",
		"taskId":        task.ID,
		"scheduledTime": task.FireAt.Format(time.RFC3339),
		"groupIds":      task.GroupIDs,
	})
}

func (c *ScheduleController) ListTasks(ctx *gin.Context) {
	tasks := c.scheduler.List()
	items := make([]taskSummary, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, taskSummary{
			ID:           task.ID,
			GroupIDs:     task.GroupIDs,
			ScheduleTime: task.FireAt.Format(time.RFC3339),
			Status:       task.Status,
			CreatedAt:    task.CreatedAt.Format(time.RFC3339),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"tasks": items})
}

func (c *ScheduleController) GetTask(ctx *gin.Context) {
	task, err := c.scheduler.Get(ctx.Param("taskId"))
	if err != nil {
		abortWithError(ctx, http.StatusNotFound, "Task not found")
		return
	}

	body := gin.H{
		"id":           task.ID,
		"status":       task.Status,
		"scheduleTime": task.FireAt.Format(time.RFC3339),
		"firing":       task.Firing(),
	}
	if task.Status == scheduler.StatusSkipped || task.Status == scheduler.StatusFailed {
		body["error"] = task.Message
	}
	if task.FinishedAt != nil {
		body["finishedAt"] = task.FinishedAt.Format(time.RFC3339)
	}
	ctx.JSON(http.StatusOK, body)
}

func (c *ScheduleController) CancelTask(ctx *gin.Context) {
	taskID := ctx.Param("taskId")
	_, err := c.scheduler.Cancel(taskID)
	switch {
	case err == nil:
		ctx.JSON(http.StatusOK, gin.H{
			"message": "Scheduled task cancelled successfully",
			"taskId":  taskID,
		})
	case errors.Is(err, scheduler.ErrTaskFiring):
		abortWithError(ctx, http.StatusConflict, "Scheduled task is already running")
	default:
		abortWithError(ctx, http.StatusNotFound, "Scheduled task not found")
	}
}
