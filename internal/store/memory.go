package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"agri-trace-api-server/internal/models"
)

type memorySnapshot struct {
	mu  sync.RWMutex
	all map[string]models.BatchRecord
}

// NewMemory returns a process-local repository. Nothing survives a restart.
func NewMemory(logger *zap.Logger) *SnapshotRepository {
	return NewSnapshotRepository("memory", &memorySnapshot{all: map[string]models.BatchRecord{}}, logger)
}

func (m *memorySnapshot) Load(context.Context) (map[string]models.BatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyAll(m.all), nil
}

func (m *memorySnapshot) Save(_ context.Context, all map[string]models.BatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all = copyAll(all)
	return nil
}

func (m *memorySnapshot) Close() error { return nil }

func copyAll(src map[string]models.BatchRecord) map[string]models.BatchRecord {
	out := make(map[string]models.BatchRecord, len(src))
	for id, rec := range src {
		out[id] = *rec.Clone()
	}
	return out
}
