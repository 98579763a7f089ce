package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/kanrun/internal/common/logger"
	execmodels "github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/scheduling/dto"
	"github.com/kandev/kanrun/internal/scheduling/models"
	"github.com/kandev/kanrun/internal/scheduling/service"
	"github.com/kandev/kanrun/internal/scheduling/store"
)

type Handlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewHandlers(svc *service.Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "scheduling-handlers")),
	}
}

func RegisterRoutes(router *gin.Engine, svc *service.Service, log *logger.Logger) {
	handlers := NewHandlers(svc, log)
	api := router.Group("/api/v1")
	api.POST("/scheduled-executions", handlers.httpCreate)
	api.GET("/scheduled-executions", handlers.httpList)
	api.GET("/scheduled-executions/:id", handlers.httpGet)
	api.DELETE("/scheduled-executions/:id", handlers.httpCancel)
}

func (h *Handlers) httpCreate(c *gin.Context) {
	var req dto.CreateScheduledExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	e, err := h.service.Create(c.Request.Context(), req.ToService())
	if err != nil {
		h.writeError(c, err, "failed to create scheduled execution")
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *Handlers) httpList(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_id is required"})
		return
	}
	var filter store.ListFilter
	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Status = status
	}
	if raw := c.Query("executor"); raw != "" {
		executor, err := execmodels.ParseAgentID(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Executor = executor
	}
	items, err := h.service.ListByProject(c.Request.Context(), projectID, filter)
	if err != nil {
		h.writeError(c, err, "failed to list scheduled executions")
		return
	}
	c.JSON(http.StatusOK, dto.NewListResponse(items))
}

func (h *Handlers) httpGet(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to get scheduled execution")
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handlers) httpCancel(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	cancelled, err := h.service.Cancel(ctx, id)
	if err != nil {
		h.writeError(c, err, "failed to cancel scheduled execution")
		return
	}
	e, err := h.service.Get(ctx, id)
	if err != nil {
		h.writeError(c, err, "failed to get scheduled execution")
		return
	}
	c.JSON(http.StatusOK, dto.CancelScheduledExecutionResponse{Cancelled: cancelled, ScheduledExecution: e})
}

func (h *Handlers) writeError(c *gin.Context, err error, msg string) {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error(), "field": vErr.Field})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "scheduled execution not found"})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
