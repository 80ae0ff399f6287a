package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agri-trace-api-server/internal/batch"
	"agri-trace-api-server/internal/models"
	"agri-trace-api-server/internal/store"
)

func TestSeedDemoBatchIsIdempotent(t *testing.T) {
	repo := store.NewMemory(nil)
	svc := batch.NewService(batch.Deps{Repo: repo}, batch.Options{}, nil)
	ctx := context.Background()

	created, err := SeedDemoBatch(ctx, svc, "DEMO-1", nil)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = SeedDemoBatch(ctx, svc, "DEMO-1", nil)
	require.NoError(t, err)
	assert.False(t, created)

	rec, err := repo.Get(ctx, "DEMO-1")
	require.NoError(t, err)
	assert.Len(t, rec.History, 1)
	assert.Equal(t, models.StatusHarvested, rec.Status)
}
