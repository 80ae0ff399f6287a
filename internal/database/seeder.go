// Package database seeds the local store with a demonstration batch.
package database

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"agri-trace-api-server/internal/batch"
	"agri-trace-api-server/internal/geo"
	"agri-trace-api-server/internal/models"
)

// Creator is the create path of *batch.Service.
type Creator interface {
	Create(ctx context.Context, batchID string, meta models.ProducerMetadata) (batch.Outcome, error)
}

// SeedDemoBatch creates batchID with sample producer data unless it already
// exists. It reports whether a batch was created.
func SeedDemoBatch(ctx context.Context, svc Creator, batchID string, logger *zap.Logger) (bool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	price, quantity := 42.5, 500.0
	meta := models.ProducerMetadata{
		Name:        "Demo Farm Cooperative",
		Produce:     "Basmati Rice",
		Price:       &price,
		Quantity:    &quantity,
		Location:    &geo.GeoPoint{Lat: 11.0168, Lng: 76.9558},
		HarvestDate: time.Now().UTC().AddDate(0, 0, -3).Format(time.RFC3339),
	}

	out, err := svc.Create(ctx, batchID, meta)
	if errors.Is(err, batch.ErrDuplicate) {
		logger.Info("demo batch already exists, seeding skipped", zap.String("batch_id", batchID))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	logger.Info("demo batch seeded", zap.String("batch_id", batchID), zap.Strings("warnings", out.Warnings))
	return true, nil
}
