package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agri-trace-api-server/internal/models"
	"agri-trace-api-server/internal/trace"
)

// BatchReader is satisfied by *trace.Reconciler.
type BatchReader interface {
	Read(ctx context.Context, batchID string) (*models.BatchRecord, trace.Source, error)
}

// Projector is satisfied by *trace.Assembler.
type Projector interface {
	Project(ctx context.Context, role models.Role, rec *models.BatchRecord) (any, error)
}

type TraceHandler struct {
	Reader BatchReader
	Views  Projector
	Logger *zap.Logger
}

// GetTrace handles GET /trace/:id, the consumer-facing full history.
func (h *TraceHandler) GetTrace(c *gin.Context) { h.serve(c, models.RoleConsumer) }

// GetDistributorView handles GET /api/batch/:id/distributor.
func (h *TraceHandler) GetDistributorView(c *gin.Context) { h.serve(c, models.RoleDistributor) }

// GetRetailerView handles GET /api/batch/:id/retailer.
func (h *TraceHandler) GetRetailerView(c *gin.Context) { h.serve(c, models.RoleRetailer) }

func (h *TraceHandler) serve(c *gin.Context, role models.Role) {
	logger := orNop(h.Logger)
	id := c.Param("id")
	rec, source, err := h.Reader.Read(c.Request.Context(), id)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	view, err := h.Views.Project(c.Request.Context(), role, rec)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.Header("X-Batch-Source", string(source))
	c.JSON(http.StatusOK, view)
}
