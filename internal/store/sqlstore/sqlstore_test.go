package sqlstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agri-trace-api-server/internal/geo"
	"agri-trace-api-server/internal/models"
	"agri-trace-api-server/internal/store"
)

func newRecord(t *testing.T, id string) *models.BatchRecord {
	t.Helper()
	price, qty := 4.5, 20.0
	meta := models.ProducerMetadata{
		Name: "F", Produce: "Wheat", Price: &price, Quantity: &qty,
		Location: &geo.GeoPoint{Lat: -1.28, Lng: 36.82},
	}
	require.NoError(t, meta.Normalize(time.Now()))
	return models.NewBatchRecord(id, meta, time.Now())
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	repo, err := OpenSQLite(ctx, path, nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}

	rec := newRecord(t, "B1")
	require.NoError(t, repo.Put(ctx, rec))
	require.NoError(t, repo.Put(ctx, newRecord(t, "B2")))
	require.NoError(t, repo.Close())

	reloaded, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reloaded.Close() })

	got, err := reloaded.Get(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, rec.BatchID, got.BatchID)
	assert.Equal(t, *rec.Metadata.Location, *got.Metadata.Location)
	require.NoError(t, got.Verify())

	_, err = reloaded.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLiteSnapshotKeepsSingleBucketRow(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	repo, err := OpenSQLite(ctx, path, nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, repo.Put(ctx, newRecord(t, id)))
	}
	db, err := sql.Open(SQLite.Driver, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	snap, err := NewSnapshot(ctx, db, SQLite)
	require.NoError(t, err)
	var rows int
	require.NoError(t, snap.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM state`).Scan(&rows))
	assert.Equal(t, 1, rows)
	all, err := snap.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("AGRITRACE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AGRITRACE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	repo, err := OpenPostgres(ctx, dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	id := "pg-" + time.Now().Format("150405.000000")
	require.NoError(t, repo.Put(ctx, newRecord(t, id)))
	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.BatchID)
}
