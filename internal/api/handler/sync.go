package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/marcusv/ionbridge/internal/domain"
	"github.com/marcusv/ionbridge/internal/logger"
	"github.com/marcusv/ionbridge/internal/repository"
	"github.com/marcusv/ionbridge/internal/service"
)

// SyncHandler exposes the sync engine: start, status, control, listing.
type SyncHandler struct {
	engine  *service.Engine
	jobRepo *repository.SyncJobRepository
}

// NewSyncHandler creates a new sync handler.
// Parameters:
//   - engine: sync engine instance.
//   - jobRepo: ledger repository for job listing.
//
// Returns:
//   - *SyncHandler: initialized handler.
func NewSyncHandler(engine *service.Engine, jobRepo *repository.SyncJobRepository) *SyncHandler {
	return &SyncHandler{
		engine:  engine,
		jobRepo: jobRepo,
	}
}

// StartSyncRequest is the start API request body.
type StartSyncRequest struct {
	Entity        string `json:"entity" binding:"required"`
	WarehouseID   string `json:"warehouse_id" binding:"required"`
	DateFrom      string `json:"date_from"`
	DateTo        string `json:"date_to"`
	TaskType      string `json:"task_type"`
	BatchSize     int64  `json:"batch_size" binding:"omitempty,min=1,max=5000"`
	RecordCeiling int64  `json:"record_ceiling" binding:"omitempty,min=1,max=1000000"`
}

// StartSync launches a sync job. The response is returned as soon as the
// count query has completed and the paging loop has been started.
func (h *SyncHandler) StartSync(c *gin.Context) {
	ctx := c.Request.Context()

	var req StartSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid sync request: client_ip=%s, error=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logger.CtxInfo(ctx, "Received sync request: entity=%s, warehouse=%s, batch_size=%d, ceiling=%d, client_ip=%s",
		req.Entity, req.WarehouseID, req.BatchSize, req.RecordCeiling, c.ClientIP())

	result, err := h.engine.Start(ctx, service.StartParams{
		Entity:        req.Entity,
		WarehouseID:   req.WarehouseID,
		DateFrom:      req.DateFrom,
		DateTo:        req.DateTo,
		TaskType:      req.TaskType,
		BatchSize:     req.BatchSize,
		RecordCeiling: req.RecordCeiling,
	})
	if err != nil {
		if errors.Is(err, service.ErrCountQuery) {
			logger.CtxError(ctx, "Count query failed: entity=%s, error=%v", req.Entity, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		logger.CtxWarn(ctx, "Sync start rejected: entity=%s, error=%v", req.Entity, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, result)
}

// GetStatus returns the ledger entry for a job.
func (h *SyncHandler) GetStatus(c *gin.Context) {
	jobID := c.Param("jobId")

	job, err := h.engine.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, job)
}

// ControlRequest is the control API request body.
type ControlRequest struct {
	Action string `json:"action" binding:"required,oneof=pause resume stop"`
}

// ControlResponse acknowledges a control request with the job's resulting
// state. A request against a terminal job is acknowledged with the actual
// terminal status rather than an error.
type ControlResponse struct {
	JobID          string           `json:"job_id"`
	Status         domain.JobStatus `json:"status"`
	PauseRequested bool             `json:"pause_requested"`
	StopRequested  bool             `json:"stop_requested"`
}

// Control applies a pause/resume/stop request to a job.
func (h *SyncHandler) Control(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("jobId")

	var req ControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logger.CtxInfo(ctx, "Control request: job=%s, action=%s, client_ip=%s", jobID, req.Action, c.ClientIP())

	job, err := h.engine.Control(ctx, jobID, service.ControlAction(req.Action))
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, ControlResponse{
		JobID:          job.JobID,
		Status:         job.Status,
		PauseRequested: job.PauseRequested,
		StopRequested:  job.StopRequested,
	})
}

// ListJobs returns recent jobs, newest first.
func (h *SyncHandler) ListJobs(c *gin.Context) {
	entity := c.Query("entity")

	limit := int64(20)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 || parsed > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 200"})
			return
		}
		limit = parsed
	}

	jobs, err := h.jobRepo.List(c.Request.Context(), entity, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// ListEntities returns the supported entity names.
func (h *SyncHandler) ListEntities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entities": domain.EntityNames()})
}
