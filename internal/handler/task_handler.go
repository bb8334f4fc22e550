package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fuzumoe/smartspider-api/internal/errs"
	"github.com/fuzumoe/smartspider-api/internal/model"
	"github.com/fuzumoe/smartspider-api/internal/queue"
	"github.com/fuzumoe/smartspider-api/internal/repository"
	"github.com/fuzumoe/smartspider-api/internal/service"
)

type TaskHandler struct {
	taskService service.TaskService
}

func NewTaskHandler(svc service.TaskService) *TaskHandler { return &TaskHandler{taskService: svc} }

func paginationFromQuery(c *gin.Context) repository.Pagination {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	return repository.Pagination{Page: page, PageSize: size}
}

// abortWithError maps the error's kind onto an HTTP status code.
func abortWithError(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
}

// @Summary Create crawl task
// @Tags    tasks
// @Accept  json
// @Produce json
// @Param   input body model.CreateTaskInput true "task definition"
// @Success 201 {object} map[string]string "{id}"
// @Failure 400 {object} map[string]string "error"
// @Router  /api/tasks [post]
func (h *TaskHandler) Create(c *gin.Context) {
	var in model.CreateTaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	id, err := h.taskService.Create(&in)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// @Summary List tasks (paginated)
// @Tags    tasks
// @Produce json
// @Param   status    query string false "filter by status"
// @Param   page      query int    false "page"
// @Param   page_size query int    false "page_size"
// @Success 200 {object} model.PaginatedResponse[model.TaskDTO]
// @Router  /api/tasks [get]
func (h *TaskHandler) List(c *gin.Context) {
	items, err := h.taskService.List(c.Query("status"), paginationFromQuery(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// @Summary Get one task
// @Tags    tasks
// @Produce json
// @Param   id path string true "task ID"
// @Success 200 {object} model.TaskDTO
// @Router  /api/tasks/{id} [get]
func (h *TaskHandler) Get(c *gin.Context) {
	dto, err := h.taskService.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

// @Summary Delete task and its results
// @Tags    tasks
// @Produce json
// @Param   id path string true "task ID"
// @Success 200 {object} map[string]string "deleted"
// @Router  /api/tasks/{id} [delete]
func (h *TaskHandler) Delete(c *gin.Context) {
	if err := h.taskService.Delete(c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// @Summary Start crawl task
// @Tags    tasks
// @Produce json
// @Param   id path string true "task ID"
// @Success 202 {object} map[string]string "running"
// @Router  /api/tasks/{id}/start [patch]
func (h *TaskHandler) Start(c *gin.Context) {
	if err := h.taskService.Start(c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": model.StatusRunning})
}

// @Summary Live status of a task
// @Tags    tasks
// @Produce json
// @Param   id path string true "task ID"
// @Success 200 {object} map[string]string "{id, status}"
// @Router  /api/tasks/{id}/status [get]
func (h *TaskHandler) Status(c *gin.Context) {
	dto, err := h.taskService.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": dto.ID, "status": dto.Status})
}

// @Summary Stop crawl task
// @Tags    tasks
// @Produce json
// @Param   id path string true "task ID"
// @Success 202 {object} map[string]string "cancelled"
// @Router  /api/tasks/{id}/stop [patch]
func (h *TaskHandler) Stop(c *gin.Context) {
	if err := h.taskService.Stop(c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": model.StatusCancelled})
}

// @Summary Queue task for prioritized start
// @Tags    tasks
// @Produce json
// @Param   id       path  string true  "task ID"
// @Param   priority query int    false "0 (critical) to 4 (minimal)"
// @Success 202 {object} map[string]string "queued"
// @Router  /api/tasks/{id}/enqueue [patch]
func (h *TaskHandler) Enqueue(c *gin.Context) {
	prio, err := strconv.Atoi(c.DefaultQuery("priority", "2"))
	if err != nil || prio < int(queue.Critical) || prio > int(queue.Minimal) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid priority"})
		return
	}
	if err := h.taskService.Enqueue(c.Param("id"), queue.Priority(prio)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// @Summary Pending-queue statistics
// @Tags    tasks
// @Produce json
// @Success 200 {object} queue.Stats
// @Router  /api/queue/stats [get]
func (h *TaskHandler) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.taskService.QueueStats())
}

// @Summary Crawl results of a task (paginated)
// @Tags    tasks
// @Produce json
// @Param   id        path  string true  "task ID"
// @Param   page      query int    false "page"
// @Param   page_size query int    false "page_size"
// @Success 200 {object} model.PaginatedResponse[model.CrawlResultDTO]
// @Router  /api/tasks/{id}/results [get]
func (h *TaskHandler) Results(c *gin.Context) {
	items, err := h.taskService.Results(c.Param("id"), paginationFromQuery(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// @Summary Export task results to a file
// @Tags    tasks
// @Produce json
// @Param   id     path  string true  "task ID"
// @Param   format query string false "json or csv"
// @Success 200 {object} map[string]string "{path}"
// @Router  /api/tasks/{id}/export [post]
func (h *TaskHandler) Export(c *gin.Context) {
	path, err := h.taskService.Export(c.Param("id"), c.Query("format"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (h *TaskHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/tasks", h.Create)
	rg.GET("/tasks", h.List)
	rg.GET("/tasks/:id", h.Get)
	rg.DELETE("/tasks/:id", h.Delete)
	rg.GET("/tasks/:id/status", h.Status)
	rg.PATCH("/tasks/:id/start", h.Start)
	rg.PATCH("/tasks/:id/stop", h.Stop)
	rg.PATCH("/tasks/:id/enqueue", h.Enqueue)
	rg.GET("/tasks/:id/results", h.Results)
	rg.POST("/tasks/:id/export", h.Export)
	rg.GET("/queue/stats", h.QueueStats)
}
