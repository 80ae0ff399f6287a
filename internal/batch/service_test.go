package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agri-trace-api-server/internal/blockchain"
	"agri-trace-api-server/internal/geo"
	"agri-trace-api-server/internal/mirror"
	"agri-trace-api-server/internal/models"
	"agri-trace-api-server/internal/socket"
	"agri-trace-api-server/internal/store"
	"agri-trace-api-server/internal/store/filestore"
)

type fakeLedger struct{ enabled bool }

func (l fakeLedger) Enabled() bool { return l.enabled }

type fakeMirror struct {
	mu  sync.Mutex
	ops []mirror.Op
	err error
}

func (m *fakeMirror) Mirror(_ context.Context, op mirror.Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
	return m.err
}

type fakeReader struct {
	rec *models.BatchRecord
	err error
}

func (r fakeReader) FromLedger(context.Context, string) (*models.BatchRecord, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.rec.Clone(), nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []socket.Event
}

func (e *fakeEvents) Publish(ev socket.Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func f64(v float64) *float64 { return &v }

func metadata() models.ProducerMetadata {
	return models.ProducerMetadata{
		Name: "Asha", Produce: "Rice", Price: f64(10), Quantity: f64(100),
		Location: &geo.GeoPoint{Lat: 11.01, Lng: 76.95},
	}
}

func distributorUpdate(status string) *models.DistributorUpdate {
	return &models.DistributorUpdate{
		Name: "Ravi", Quantity: f64(90), MarginPrice: f64(2), Location: &geo.GeoPoint{Lat: 12, Lng: 77},
		TransportMode: "truck", ExpectedDelivery: "2025-03-05", Status: status,
	}
}

func TestCreateThenUpdate(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory(nil)
	events := &fakeEvents{}
	svc := NewService(Deps{Repo: repo, Ledger: fakeLedger{}, Events: events}, Options{}, nil)

	out, err := svc.Create(ctx, "B1", metadata())
	require.NoError(t, err)
	assert.Empty(t, out.Warnings)
	assert.False(t, out.Mirrored)

	rec, err := repo.Get(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusHarvested, rec.Status)
	require.Len(t, rec.History, 1)
	assert.Equal(t, models.ActionCreate, rec.History[0].Action)
	assert.Equal(t, "farmerMSP", rec.CurrentOwner)

	out, err = svc.Update(ctx, "B1", distributorUpdate("IN_TRANSIT"))
	require.NoError(t, err)
	assert.Empty(t, out.Warnings)

	rec, err = repo.Get(ctx, "B1")
	require.NoError(t, err)
	assert.Len(t, rec.History, 2)
	assert.Equal(t, "distributorMSP", rec.CurrentOwner)
	assert.Equal(t, "IN_TRANSIT", rec.Status)
	assert.Equal(t, geo.GeoPoint{Lat: 12, Lng: 77}, *rec.History[1].Location)
	require.NoError(t, rec.Verify())

	require.Len(t, events.events, 2)
	assert.Equal(t, socket.EventBatchCreated, events.events[0].Type)
	assert.Equal(t, socket.EventBatchUpdated, events.events[1].Type)
	assert.Equal(t, 2, events.events[1].HistoryLen)
}

func TestCreateRejectsDuplicatesAndBadInput(t *testing.T) {
	ctx := context.Background()
	svc := NewService(Deps{Repo: store.NewMemory(nil)}, Options{}, nil)
	_, err := svc.Create(ctx, "B1", metadata())
	require.NoError(t, err)

	_, err = svc.Create(ctx, "B1", metadata())
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = svc.Create(ctx, "  ", metadata())
	assert.ErrorIs(t, err, models.ErrValidation)

	bad := metadata()
	bad.Price = f64(-1)
	_, err = svc.Create(ctx, "B2", bad)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestUpdateUnknownBatchWithLedgerDisabled(t *testing.T) {
	svc := NewService(Deps{Repo: store.NewMemory(nil), Ledger: fakeLedger{}}, Options{AllowPlaceholder: true}, nil)
	_, err := svc.Update(context.Background(), "ghost", distributorUpdate("IN_TRANSIT"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateRecoversFromLedger(t *testing.T) {
	ctx := context.Background()
	meta := metadata()
	require.NoError(t, meta.Normalize(time.Now()))
	onLedger := models.NewBatchRecord("B7", meta, time.Now())

	repo := store.NewMemory(nil)
	m := &fakeMirror{}
	svc := NewService(Deps{
		Repo: repo, Ledger: fakeLedger{enabled: true}, Mirror: m,
		Reconciler: fakeReader{rec: onLedger},
	}, Options{}, nil)

	out, err := svc.Update(ctx, "B7", distributorUpdate(""))
	require.NoError(t, err)
	assert.True(t, out.Mirrored)
	assert.Len(t, out.Record.History, 2)
	assert.Equal(t, models.StatusHarvested, out.Record.Status, "no status in the update keeps the prior one")

	stored, err := repo.Get(ctx, "B7")
	require.NoError(t, err)
	assert.Len(t, stored.History, 2)
	require.Len(t, m.ops, 1)
	assert.Equal(t, "UpdateBatch", m.ops[0].Transaction)
}

func TestUpdatePlaceholderOnlyWhenAllowed(t *testing.T) {
	ctx := context.Background()
	deps := Deps{
		Repo: store.NewMemory(nil), Ledger: fakeLedger{enabled: true}, Mirror: &fakeMirror{},
		Reconciler: fakeReader{err: store.ErrNotFound},
	}

	_, err := NewService(deps, Options{}, nil).Update(ctx, "B9", distributorUpdate("IN_TRANSIT"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	out, err := NewService(deps, Options{AllowPlaceholder: true}, nil).Update(ctx, "B9", distributorUpdate("IN_TRANSIT"))
	require.NoError(t, err)
	rec := out.Record
	require.NoError(t, rec.Verify())
	assert.Equal(t, "Unknown", rec.Metadata.Name)
	assert.Equal(t, models.UnknownActor, rec.History[0].Actor)
	assert.Equal(t, "IN_TRANSIT", rec.Status)
	assert.Equal(t, "distributorMSP", rec.CurrentOwner)
}

func TestUpdateLedgerFailureDuringRecoveryIsFatal(t *testing.T) {
	boom := &blockchain.TransactionError{Name: "ReadBatch", Err: errors.New("unreachable")}
	svc := NewService(Deps{
		Repo: store.NewMemory(nil), Ledger: fakeLedger{enabled: true},
		Reconciler: fakeReader{err: boom},
	}, Options{AllowPlaceholder: true}, nil)
	_, err := svc.Update(context.Background(), "B1", distributorUpdate("IN_TRANSIT"))
	var te *blockchain.TransactionError
	assert.ErrorAs(t, err, &te)
}

func TestMirrorFailureIsAWarning(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory(nil)
	m := &fakeMirror{err: &blockchain.TransactionError{Name: "CreateBatch", Err: errors.New("timeout")}}
	svc := NewService(Deps{Repo: repo, Ledger: fakeLedger{enabled: true}, Mirror: m}, Options{}, nil)

	out, err := svc.Create(ctx, "B1", metadata())
	require.NoError(t, err, "the local write stands even when the ledger fails")
	assert.False(t, out.Mirrored)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "CreateBatch")

	_, err = repo.Get(ctx, "B1")
	require.NoError(t, err)

	m.err = mirror.ErrQueued
	out, err = svc.Update(ctx, "B1", distributorUpdate("IN_TRANSIT"))
	require.NoError(t, err)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "queued")

	var args struct {
		Role string `json:"role"`
	}
	require.NoError(t, json.Unmarshal([]byte(m.ops[1].Args[1]), &args))
	assert.Equal(t, "distributor", args.Role)
}

type failingRepo struct{ store.Repository }

func (failingRepo) Put(context.Context, *models.BatchRecord) error {
	return &store.StorageError{Op: "save", Err: errors.New("read-only file system")}
}

func TestStorageFailureIsFatal(t *testing.T) {
	m := &fakeMirror{}
	svc := NewService(Deps{Repo: failingRepo{store.NewMemory(nil)}, Ledger: fakeLedger{enabled: true}, Mirror: m}, Options{}, nil)
	_, err := svc.Create(context.Background(), "B1", metadata())
	var se *store.StorageError
	assert.ErrorAs(t, err, &se)
	assert.Empty(t, m.ops, "nothing is mirrored when the local write fails")
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	ctx := context.Background()
	repo, err := filestore.New(filepath.Join(t.TempDir(), "batches.json"), nil)
	require.NoError(t, err)
	m := &fakeMirror{}
	svc := NewService(Deps{Repo: repo, Ledger: fakeLedger{enabled: true}, Mirror: m}, Options{}, nil)
	_, err = svc.Create(ctx, "B1", metadata())
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := distributorUpdate(fmt.Sprintf("HOP_%02d", i))
			_, err := svc.Update(ctx, "B1", u)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec, err := repo.Get(ctx, "B1")
	require.NoError(t, err)
	require.Len(t, rec.History, n+1)
	require.NoError(t, rec.Verify())

	// mirror order matches history order
	require.Len(t, m.ops, n+1)
	for i := 1; i <= n; i++ {
		var sent models.DistributorUpdate
		require.NoError(t, json.Unmarshal([]byte(m.ops[i].Args[1]), &sent))
		assert.Equal(t, rec.History[i].Details.Status(), sent.Status, "op %d", i)
	}
	assert.Equal(t, rec.History[n].Details.Status(), rec.Status)
}

func TestKeyedMutexReleasesKeys(t *testing.T) {
	var k KeyedMutex
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.held())

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("a")
		u()
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("second holder entered while the key was locked")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	<-acquired
	unlockA()
	unlockB()
	assert.Zero(t, k.held())
}

func TestCreateRejectsIDAlreadyOnLedger(t *testing.T) {
	ctx := context.Background()
	meta := metadata()
	require.NoError(t, meta.Normalize(time.Now()))
	onLedger := models.NewBatchRecord("B3", meta, time.Now())

	repo := store.NewMemory(nil)
	m := &fakeMirror{}
	events := &fakeEvents{}
	svc := NewService(Deps{
		Repo: repo, Ledger: fakeLedger{enabled: true}, Mirror: m, Events: events,
		Reconciler: fakeReader{rec: onLedger},
	}, Options{}, nil)

	_, err := svc.Create(ctx, "B3", metadata())
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = repo.Get(ctx, "B3")
	assert.ErrorIs(t, err, store.ErrNotFound, "the local store must not shadow the ledger record")
	assert.Empty(t, m.ops)
	assert.Empty(t, events.events)
}

func TestCreateProceedsWhenLedgerCheckIsInconclusive(t *testing.T) {
	ctx := context.Background()
	for name, readErr := range map[string]error{
		"absent":      store.ErrNotFound,
		"unreachable": &blockchain.TransactionError{Name: "ReadBatch", Err: errors.New("connection refused")},
	} {
		m := &fakeMirror{}
		svc := NewService(Deps{
			Repo: store.NewMemory(nil), Ledger: fakeLedger{enabled: true}, Mirror: m,
			Reconciler: fakeReader{err: readErr},
		}, Options{}, nil)
		out, err := svc.Create(ctx, "B4", metadata())
		require.NoError(t, err, name)
		assert.True(t, out.Mirrored, name)
		require.Len(t, m.ops, 1, name)
		if name == "unreachable" {
			require.Len(t, out.Warnings, 1)
			assert.Contains(t, out.Warnings[0], "duplicate check")
		} else {
			assert.Empty(t, out.Warnings)
		}
	}
}

type ctxMirror struct {
	fakeMirror
	ctxs []context.Context
}

func (m *ctxMirror) Mirror(ctx context.Context, op mirror.Op) error {
	m.mu.Lock()
	m.ctxs = append(m.ctxs, ctx)
	m.mu.Unlock()
	return m.fakeMirror.Mirror(ctx, op)
}

func TestMirrorOutlivesRequestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &ctxMirror{}
	svc := NewService(Deps{Repo: store.NewMemory(nil), Ledger: fakeLedger{enabled: true}, Mirror: m}, Options{}, nil)

	_, err := svc.Create(ctx, "B1", metadata())
	require.NoError(t, err)
	_, err = svc.Update(ctx, "B1", distributorUpdate("IN_TRANSIT"))
	require.NoError(t, err)
	cancel()

	require.Len(t, m.ctxs, 2)
	for _, c := range m.ctxs {
		assert.NoError(t, c.Err(), "a client hang-up must not cancel the ledger write")
	}
	assert.Equal(t, 1, m.ops[0].HistoryLen)
	assert.Equal(t, 2, m.ops[1].HistoryLen)
}

func TestParkedMirrorDoesNotPromiseRetry(t *testing.T) {
	rejected := &blockchain.TransactionError{Name: "CreateBatch", Err: errors.New("batch B1 already exists")}
	m := &fakeMirror{err: fmt.Errorf("%w: %w", mirror.ErrParked, rejected)}
	svc := NewService(Deps{Repo: store.NewMemory(nil), Ledger: fakeLedger{enabled: true}, Mirror: m}, Options{}, nil)

	out, err := svc.Create(context.Background(), "B1", metadata())
	require.NoError(t, err)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "not retried")
	assert.NotContains(t, out.Warnings[0], "will retry")
}

// lockingEvents takes the batch lock from inside Publish, the way a
// subscriber reacting to an event by reading the batch would.
type lockingEvents struct {
	locks   *KeyedMutex
	mu      sync.Mutex
	blocked int
	seen    int
}

func (e *lockingEvents) Publish(ev socket.Event) {
	got := make(chan struct{})
	go func() {
		unlock := e.locks.Lock(ev.BatchID)
		unlock()
		close(got)
	}()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen++
	select {
	case <-got:
	case <-time.After(time.Second):
		e.blocked++
	}
}

func TestPublishRunsOutsideBatchLock(t *testing.T) {
	ctx := context.Background()
	locks := &KeyedMutex{}
	events := &lockingEvents{locks: locks}
	svc := NewService(Deps{Repo: store.NewMemory(nil), Events: events, Locks: locks}, Options{}, nil)

	_, err := svc.Create(ctx, "B1", metadata())
	require.NoError(t, err)
	_, err = svc.Update(ctx, "B1", distributorUpdate("IN_TRANSIT"))
	require.NoError(t, err)

	assert.Equal(t, 2, events.seen)
	assert.Zero(t, events.blocked)
}
