package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paperviz/pdf-extract-service/internal/dispatch"
	"github.com/paperviz/pdf-extract-service/internal/storage"
	"github.com/paperviz/pdf-extract-service/pkg/types"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// ExtractService interface for job operations
type ExtractService interface {
	Submit(ctx context.Context, documentID, sourceReference string, mode types.Mode) (*dispatch.SubmitOutcome, error)
	Status(ctx context.Context, documentID string, mode types.Mode) (*storage.JobRecord, error)
	Cancel(ctx context.Context, documentID string, mode types.Mode) (*dispatch.CancelOutcome, error)
	ListJobs(ctx context.Context, filter storage.ListJobsFilter) ([]*storage.JobRecord, error)
	ActiveJobs(ctx context.Context) (int, error)
}

// QueuePinger reports queue backend reachability for health checks.
type QueuePinger interface {
	Ping() error
}

// Handler handles HTTP API requests
type Handler struct {
	service ExtractService
	pinger  QueuePinger
}

// NewHandler creates a new API handler
func NewHandler(service ExtractService, pinger QueuePinger) *Handler {
	return &Handler{
		service: service,
		pinger:  pinger,
	}
}

// SetupRoutes configures the API routes. The auth middleware guards the API
// group only; health and metrics stay open for probes and scrapers.
func SetupRoutes(router *gin.Engine, handler *Handler, authMiddleware gin.HandlerFunc, metricsHandler http.Handler) {
	api := router.Group("/api/v1")
	if authMiddleware != nil {
		api.Use(authMiddleware)
	}
	{
		api.POST("/extract", handler.SubmitExtraction)
		api.GET("/extract/status/:document_id", handler.GetExtractionStatus)
		api.POST("/extract/cancel/:document_id", handler.CancelExtraction)
		api.GET("/extract/jobs", handler.ListJobs)
	}

	router.GET("/health", handler.HealthCheck)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}
}

// SubmitExtraction handles extraction submissions
func (h *Handler) SubmitExtraction(c *gin.Context) {
	var req types.ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid request",
			Message: err.Error(),
			Code:    400,
		})
		return
	}

	mode, err := types.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid request",
			Message: err.Error(),
			Code:    400,
		})
		return
	}

	outcome, err := h.service.Submit(c.Request.Context(), req.DocumentID, req.SourceReference, mode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to submit extraction",
			Message: err.Error(),
			Code:    500,
		})
		return
	}

	response := types.ExtractResponse{
		DocumentID:   req.DocumentID,
		Mode:         mode,
		Accepted:     outcome.Accepted,
		Deduplicated: outcome.Deduplicated,
		JobToken:     outcome.JobToken,
		Message:      outcome.Message,
	}

	if outcome.Accepted {
		c.JSON(http.StatusAccepted, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// GetExtractionStatus returns the current job record for a document
func (h *Handler) GetExtractionStatus(c *gin.Context) {
	documentID := c.Param("document_id")
	mode, ok := h.queryMode(c)
	if !ok {
		return
	}

	record, err := h.service.Status(c.Request.Context(), documentID, mode)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{
				Error:   "job not found",
				Message: "no extraction record for document " + documentID,
				Code:    404,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to query status",
			Message: err.Error(),
			Code:    500,
		})
		return
	}

	c.JSON(http.StatusOK, recordToStatusResponse(record))
}

// CancelExtraction requests cancellation of a queued or running job
func (h *Handler) CancelExtraction(c *gin.Context) {
	documentID := c.Param("document_id")
	mode, ok := h.queryMode(c)
	if !ok {
		return
	}

	outcome, err := h.service.Cancel(c.Request.Context(), documentID, mode)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{
				Error:   "job not found",
				Message: "no extraction record for document " + documentID,
				Code:    404,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to cancel job",
			Message: err.Error(),
			Code:    500,
		})
		return
	}

	response := types.CancelResponse{
		DocumentID: documentID,
		Success:    outcome.Success,
		Message:    outcome.Message,
	}
	if !outcome.Success {
		c.JSON(http.StatusConflict, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// ListJobs returns recent job records, optionally filtered by status
func (h *Handler) ListJobs(c *gin.Context) {
	filter := storage.ListJobsFilter{
		Status: c.Query("status"),
	}
	if limit := c.Query("limit"); limit != "" {
		value, err := strconv.Atoi(limit)
		if err != nil || value < 0 {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "invalid request",
				Message: "limit must be a non-negative integer",
				Code:    400,
			})
			return
		}
		filter.Limit = value
	}
	if offset := c.Query("offset"); offset != "" {
		value, err := strconv.Atoi(offset)
		if err != nil || value < 0 {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "invalid request",
				Message: "offset must be a non-negative integer",
				Code:    400,
			})
			return
		}
		filter.Offset = value
	}

	records, err := h.service.ListJobs(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to list jobs",
			Message: err.Error(),
			Code:    500,
		})
		return
	}

	responses := make([]types.StatusResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, recordToStatusResponse(record))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": responses})
}

// HealthCheck provides service health information
func (h *Handler) HealthCheck(c *gin.Context) {
	activeJobs, err := h.service.ActiveJobs(c.Request.Context())
	if err != nil {
		activeJobs = -1
	}

	response := types.HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Version:    Version,
		ActiveJobs: activeJobs,
		Queue:      "reachable",
	}

	if h.pinger != nil {
		if pingErr := h.pinger.Ping(); pingErr != nil {
			response.Status = "degraded"
			response.Queue = pingErr.Error()
		}
	}
	if err != nil {
		response.Status = "degraded"
	}

	c.JSON(http.StatusOK, response)
}

// queryMode parses the optional mode query parameter. An empty mode means
// "the latest record for the document". Returns ok=false after writing an
// error response.
func (h *Handler) queryMode(c *gin.Context) (types.Mode, bool) {
	raw := c.Query("mode")
	if raw == "" {
		return "", true
	}
	mode, err := types.ParseMode(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid request",
			Message: err.Error(),
			Code:    400,
		})
		return "", false
	}
	return mode, true
}

func recordToStatusResponse(record *storage.JobRecord) types.StatusResponse {
	return types.StatusResponse{
		DocumentID:      record.DocumentID,
		Mode:            record.Mode,
		Status:          record.Status,
		ProgressPercent: record.ProgressPercent,
		PageCount:       record.PageCount,
		TextLength:      record.TextLength,
		RetryCount:      record.RetryCount,
		ErrorMessage:    record.ErrorMessage,
		JobToken:        record.JobToken,
		ResultLocation:  record.ResultLocation,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
		StartedAt:       record.StartedAt,
		CompletedAt:     record.CompletedAt,
	}
}
