package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fuzumoe/smartspider-api/internal/scheduler"
)

// ScheduleInput is the payload for creating a scheduled job. Interval
// jobs set interval_seconds; one-time jobs set run_at.
type ScheduleInput struct {
	TaskID          string     `json:"task_id" binding:"required"`
	Kind            string     `json:"kind" binding:"required,oneof=interval once"`
	IntervalSeconds int        `json:"interval_seconds,omitempty"`
	RunAt           *time.Time `json:"run_at,omitempty"`
}

type SchedulerHandler struct {
	sched *scheduler.Scheduler
}

func NewSchedulerHandler(s *scheduler.Scheduler) *SchedulerHandler {
	return &SchedulerHandler{sched: s}
}

// @Summary Schedule a task run
// @Tags    schedule
// @Accept  json
// @Produce json
// @Param   input body ScheduleInput true "job definition"
// @Success 201 {object} map[string]string "{id}"
// @Router  /api/schedule [post]
func (h *SchedulerHandler) Create(c *gin.Context) {
	var in ScheduleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	var (
		jobID string
		err   error
	)
	switch in.Kind {
	case scheduler.TriggerInterval:
		jobID, err = h.sched.ScheduleInterval(in.TaskID, time.Duration(in.IntervalSeconds)*time.Second)
	case scheduler.TriggerOnce:
		if in.RunAt == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "run_at is required for one-time jobs"})
			return
		}
		jobID, err = h.sched.ScheduleOnce(in.TaskID, *in.RunAt)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": jobID})
}

// @Summary List scheduled jobs
// @Tags    schedule
// @Produce json
// @Success 200 {array} scheduler.Job
// @Router  /api/schedule [get]
func (h *SchedulerHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.sched.Jobs())
}

// @Summary Get one scheduled job
// @Tags    schedule
// @Produce json
// @Param   id path string true "job ID"
// @Success 200 {object} scheduler.Job
// @Router  /api/schedule/{id} [get]
func (h *SchedulerHandler) Get(c *gin.Context) {
	job, ok := h.sched.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// @Summary Remove a scheduled job
// @Tags    schedule
// @Produce json
// @Param   id path string true "job ID"
// @Success 200 {object} map[string]string "removed"
// @Router  /api/schedule/{id} [delete]
func (h *SchedulerHandler) Delete(c *gin.Context) {
	if !h.sched.Remove(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "removed"})
}

// @Summary Pause or resume a scheduled job
// @Tags    schedule
// @Accept  json
// @Produce json
// @Param   id    path string true "job ID"
// @Param   input body map[string]bool true "{enabled}"
// @Success 200 {object} map[string]string "updated"
// @Router  /api/schedule/{id} [patch]
func (h *SchedulerHandler) SetEnabled(c *gin.Context) {
	var in struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if !h.sched.SetEnabled(c.Param("id"), *in.Enabled) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

func (h *SchedulerHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/schedule", h.Create)
	rg.GET("/schedule", h.List)
	rg.GET("/schedule/:id", h.Get)
	rg.DELETE("/schedule/:id", h.Delete)
	rg.PATCH("/schedule/:id", h.SetEnabled)
}
