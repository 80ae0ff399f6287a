package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agri-trace-api-server/internal/api/middleware"
	"agri-trace-api-server/internal/batch"
	"agri-trace-api-server/internal/models"
)

// BatchWriter is the write side of *batch.Service.
type BatchWriter interface {
	Create(ctx context.Context, batchID string, meta models.ProducerMetadata) (batch.Outcome, error)
	Update(ctx context.Context, batchID string, u models.StatusUpdate) (batch.Outcome, error)
}

type BatchHandler struct {
	Batches BatchWriter
	Logger  *zap.Logger
}

type CreateBatchRequest struct {
	BatchID  string                  `json:"batchId"`
	Metadata models.ProducerMetadata `json:"metadata"`
}

type UpdateBatchRequest struct {
	StatusUpdate json.RawMessage `json:"statusUpdate"`
}

type WriteResponse struct {
	Success  bool     `json:"success"`
	BatchID  string   `json:"batchId"`
	Status   string   `json:"status,omitempty"`
	Owner    string   `json:"currentOwner,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// CreateBatch handles POST /api/batch.
func (h *BatchHandler) CreateBatch(c *gin.Context) {
	logger := orNop(h.Logger)
	var req CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, logger, models.NewValidationError(err.Error(), err))
		return
	}
	out, err := h.Batches.Create(c.Request.Context(), req.BatchID, req.Metadata)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, writeResponse(out))
}

// UpdateBatch handles POST /api/batch/:id/update. An authenticated caller
// may only submit updates tagged with its own role.
func (h *BatchHandler) UpdateBatch(c *gin.Context) {
	logger := orNop(h.Logger)
	var req UpdateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, logger, models.NewValidationError(err.Error(), err))
		return
	}
	if len(req.StatusUpdate) == 0 {
		respondError(c, logger, models.NewValidationError("statusUpdate is required", nil))
		return
	}
	u, err := models.DecodeStatusUpdate(req.StatusUpdate)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	if role, ok := middleware.RoleFrom(c); ok && role != u.UpdateRole() {
		c.JSON(http.StatusForbidden, gin.H{"message": "token role " + string(role) + " cannot submit a " + string(u.UpdateRole()) + " update"})
		return
	}
	out, err := h.Batches.Update(c.Request.Context(), c.Param("id"), u)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, writeResponse(out))
}

func writeResponse(out batch.Outcome) WriteResponse {
	resp := WriteResponse{Success: true, Warnings: out.Warnings}
	if out.Record != nil {
		resp.BatchID = out.Record.BatchID
		resp.Status = out.Record.Status
		resp.Owner = out.Record.CurrentOwner
	}
	return resp
}
