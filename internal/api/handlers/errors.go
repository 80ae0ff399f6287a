package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agri-trace-api-server/internal/batch"
	"agri-trace-api-server/internal/blockchain"
	"agri-trace-api-server/internal/models"
	"agri-trace-api-server/internal/store"
	"agri-trace-api-server/internal/trace"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		ve *models.ValidationError
		se *store.StorageError
		te *blockchain.TransactionError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, batch.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &se):
		return http.StatusInternalServerError
	case errors.Is(err, blockchain.ErrIdentityNotFound):
		return http.StatusInternalServerError
	case errors.As(err, &te), errors.Is(err, trace.ErrInvalidLedgerRecord):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"message": err.Error()})
}

func orNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
