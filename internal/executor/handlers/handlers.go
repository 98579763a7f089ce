package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/kanrun/internal/common/logger"
	"github.com/kandev/kanrun/internal/executor/controller"
	"github.com/kandev/kanrun/internal/executor/dto"
	"github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/executor/profiles"
	"github.com/kandev/kanrun/internal/executor/recency"
	"github.com/kandev/kanrun/internal/executor/scratch"
)

type Handlers struct {
	controller *controller.Controller
	logger     *logger.Logger
}

func NewHandlers(ctrl *controller.Controller, log *logger.Logger) *Handlers {
	return &Handlers{
		controller: ctrl,
		logger:     log.WithFields(zap.String("component", "executor-handlers")),
	}
}

func RegisterRoutes(router *gin.Engine, ctrl *controller.Controller, log *logger.Logger) {
	handlers := NewHandlers(ctrl, log)
	api := router.Group("/api/v1")
	api.GET("/executor-profiles", handlers.httpGetProfiles)
	api.PUT("/executor-profiles", handlers.httpPutProfiles)
	api.POST("/executor-profiles/recent-models", handlers.httpRecordRecentModels)
	api.POST("/executor-config/resolve", handlers.httpResolve)
	api.GET("/executor-config/picker", handlers.wsPicker)
	api.GET("/scratch/:id", handlers.httpGetScratch)
	api.PUT("/scratch/:id", handlers.httpPutScratch)
	api.DELETE("/scratch/:id", handlers.httpDeleteScratch)
	api.GET("/executors/:executor/options", handlers.httpGetOptions)
	api.GET("/executors/:executor/options/stream", handlers.wsStreamOptions)
}

func (h *Handlers) httpGetProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Profiles())
}

func (h *Handlers) httpPutProfiles(c *gin.Context) {
	var doc profiles.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	saved, err := h.controller.ReplaceProfiles(c.Request.Context(), doc)
	if err != nil {
		h.writeError(c, err, "failed to save executor profiles")
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *Handlers) httpRecordRecentModels(c *gin.Context) {
	var req dto.RecentModelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	doc, err := h.controller.RecordRecentModels(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err, "failed to record recent models")
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handlers) httpResolve(c *gin.Context) {
	var req dto.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.controller.Resolve(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err, "failed to resolve executor config")
		return
	}
	c.JSON(http.StatusOK, dto.FromResult(result))
}

func (h *Handlers) httpGetScratch(c *gin.Context) {
	id := c.Param("id")
	cfg, err := h.controller.Scratch(c.Request.Context(), id)
	if errors.Is(err, scratch.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "scratch config not found"})
		return
	}
	if err != nil {
		h.writeError(c, err, "failed to get scratch config")
		return
	}
	c.JSON(http.StatusOK, dto.ScratchResponse{ID: id, Config: cfg})
}

func (h *Handlers) httpPutScratch(c *gin.Context) {
	var cfg models.ExecutorConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	id := c.Param("id")
	if err := h.controller.PutScratch(id, cfg); err != nil {
		h.writeError(c, err, "failed to save scratch config")
		return
	}
	c.JSON(http.StatusAccepted, dto.ScratchResponse{ID: id, Config: cfg})
}

func (h *Handlers) httpDeleteScratch(c *gin.Context) {
	if err := h.controller.DeleteScratch(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err, "failed to delete scratch config")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpGetOptions(c *gin.Context) {
	executor, ok := parseExecutor(c)
	if !ok {
		return
	}
	resp, err := h.controller.Options(c.Request.Context(), executor, parseAlign(c))
	if err != nil {
		h.logger.Error("failed to discover executor options", zap.String("executor", string(executor)), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to discover executor options"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) writeError(c *gin.Context, err error, msg string) {
	var vErr *controller.ValidationError
	if errors.As(err, &vErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error(), "field": vErr.Field})
		return
	}
	h.logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func parseExecutor(c *gin.Context) (models.AgentID, bool) {
	executor, err := models.ParseAgentID(c.Param("executor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return executor, true
}

func parseAlign(c *gin.Context) recency.Alignment {
	if c.Query("align") == "bottom" {
		return recency.AlignBottom
	}
	return recency.AlignTop
}
