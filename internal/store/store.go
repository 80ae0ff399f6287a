// Package store holds the local, always-available batch repository and the
// read-modify-write discipline shared by every snapshot driver.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"agri-trace-api-server/internal/metrics"
	"agri-trace-api-server/internal/models"
)

// ErrNotFound is returned by Get when the batch id is unknown locally.
var ErrNotFound = errors.New("batch not found")

// StorageError wraps a local I/O failure. It is fatal for the current call.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// Repository is the local batch store.
type Repository interface {
	Get(ctx context.Context, batchID string) (*models.BatchRecord, error)
	Put(ctx context.Context, rec *models.BatchRecord) error
	Close() error
}

// Snapshotter loads and saves the whole batchId → record mapping at once.
type Snapshotter interface {
	Load(ctx context.Context) (map[string]models.BatchRecord, error)
	Save(ctx context.Context, all map[string]models.BatchRecord) error
	Close() error
}

// SnapshotRepository turns a Snapshotter into a Repository. Every Put reloads
// the full mapping, merges one record and rewrites the mapping; the mutex makes
// that cycle atomic within the process.
type SnapshotRepository struct {
	backend Snapshotter
	name    string
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewSnapshotRepository wraps backend; name labels logs and metrics.
func NewSnapshotRepository(name string, backend Snapshotter, logger *zap.Logger) *SnapshotRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotRepository{backend: backend, name: name, logger: logger}
}

func (r *SnapshotRepository) Get(ctx context.Context, batchID string) (*models.BatchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.backend.Load(ctx)
	if err != nil {
		Observe(r.name, "get", err)
		return nil, &StorageError{Op: "load", Err: err}
	}
	rec, ok := all[batchID]
	if !ok {
		Observe(r.name, "get", nil)
		return nil, ErrNotFound
	}
	Observe(r.name, "get", nil)
	return &rec, nil
}

func (r *SnapshotRepository) Put(ctx context.Context, rec *models.BatchRecord) error {
	if rec == nil || rec.BatchID == "" {
		return &StorageError{Op: "put", Err: errors.New("record without batch id")}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.backend.Load(ctx)
	if err != nil {
		Observe(r.name, "put", err)
		return &StorageError{Op: "load", Err: err}
	}
	if all == nil {
		all = make(map[string]models.BatchRecord)
	}
	all[rec.BatchID] = *rec.Clone()
	if err := r.backend.Save(ctx, all); err != nil {
		Observe(r.name, "put", err)
		return &StorageError{Op: "save", Err: err}
	}
	Observe(r.name, "put", nil)
	r.logger.Debug("batch persisted",
		zap.String("batch_id", rec.BatchID),
		zap.Int("history_len", len(rec.History)),
		zap.Int("batches", len(all)))
	return nil
}

func (r *SnapshotRepository) Close() error { return r.backend.Close() }

// Observe records one store operation for the given driver.
func Observe(driver, op string, err error) {
	metrics.StoreOps.WithLabelValues(driver, op, metrics.Outcome(err)).Inc()
}
