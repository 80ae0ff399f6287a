package trace

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agri-trace-api-server/internal/blockchain"
	"agri-trace-api-server/internal/geo"
	"agri-trace-api-server/internal/models"
	"agri-trace-api-server/internal/store"
)

type fakeLedger struct {
	enabled bool
	result  blockchain.Result
	err     error
	calls   atomic.Int32
}

func (l *fakeLedger) Enabled() bool { return l.enabled }

func (l *fakeLedger) Evaluate(_ context.Context, name string, _ ...string) (blockchain.Result, error) {
	l.calls.Add(1)
	if name != "ReadBatch" {
		return blockchain.Result{}, errors.New("unexpected transaction " + name)
	}
	return l.result, l.err
}

func f64(v float64) *float64 { return &v }

func sampleRecord(t *testing.T) *models.BatchRecord {
	t.Helper()
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	meta := models.ProducerMetadata{
		Name: "Asha", Produce: "Rice", Price: f64(10), Quantity: f64(100),
		Location: &geo.GeoPoint{Lat: 11.01, Lng: 76.95},
	}
	require.NoError(t, meta.Normalize(now))
	rec := models.NewBatchRecord("B1", meta, now)

	d := &models.DistributorUpdate{
		Name: "Ravi", Quantity: f64(90), MarginPrice: f64(2), Location: &geo.GeoPoint{Lat: 12, Lng: 77},
		TransportMode: "truck", ExpectedDelivery: "2025-03-05", Status: "IN_TRANSIT",
	}
	require.NoError(t, d.Normalize(now.Add(time.Hour)))
	rec.ApplyUpdate(d)

	r := &models.RetailerUpdate{
		RetailerName: "Meena", StoreName: "FreshMart", SellingPrice: f64(15), Location: &geo.GeoPoint{Lat: 13.08, Lng: 80.27},
		ShelfLife: "7d", StorageConditions: "cool", Status: "AVAILABLE_FOR_SALE",
	}
	require.NoError(t, r.Normalize(now.Add(2*time.Hour)))
	rec.ApplyUpdate(r)
	return rec
}

const ledgerRecord = `{
	"batchId": "B1",
	"metadata": {"name": "Asha", "produce": "Rice", "price": 10, "quantity": 100,
		"location": "11.01,76.95", "harvestDate": "2025-03-01", "role": "farmer"},
	"currentOwner": "distributorMSP",
	"status": "IN_TRANSIT",
	"history": [
		{"action": "CREATE", "actor": "farmerMSP", "location": "11.01,76.95",
			"timestamp": "2025-03-01T08:00:00Z", "details": {"name": "Asha", "produce": "Rice", "role": "farmer"}},
		{"action": "UPDATE", "actor": "distributorMSP", "location": {"lat": 12, "lng": 77},
			"timestamp": "2025-03-01T09:00:00Z", "details": {"role": "distributor", "name": "Ravi", "transportMode": "truck"}}
	]
}`

func TestReadPrefersLocal(t *testing.T) {
	repo := store.NewMemory(nil)
	ledger := &fakeLedger{enabled: true}
	require.NoError(t, repo.Put(context.Background(), sampleRecord(t)))

	r := NewReconciler(repo, ledger, nil, nil)
	rec, src, err := r.Read(context.Background(), "B1")
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, src)
	assert.Len(t, rec.History, 3)
	assert.Zero(t, ledger.calls.Load())
}

func TestReadMissWithLedgerDisabledIsNotFound(t *testing.T) {
	r := NewReconciler(store.NewMemory(nil), &fakeLedger{}, nil, nil)
	_, _, err := r.Read(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReadFallsBackToLedgerAndWritesBack(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory(nil)
	ledger := &fakeLedger{enabled: true, result: blockchain.Result{JSON: json.RawMessage(ledgerRecord)}}
	r := NewReconciler(repo, ledger, nil, nil)

	rec, src, err := r.Read(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, SourceLedger, src)
	assert.Equal(t, geo.GeoPoint{Lat: 11.01, Lng: 76.95}, *rec.History[0].Location)
	assert.Equal(t, models.RoleDistributor, rec.History[1].Details.Role())

	again, src, err := r.Read(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, src, "the ledger copy was written back")
	assert.Equal(t, rec.History, again.History)
	assert.EqualValues(t, 1, ledger.calls.Load())
}

func TestReadLedgerFailureIsNotNotFound(t *testing.T) {
	boom := &blockchain.TransactionError{Name: "ReadBatch", Err: errors.New("timeout")}
	r := NewReconciler(store.NewMemory(nil), &fakeLedger{enabled: true, err: boom}, nil, nil)
	_, _, err := r.Read(context.Background(), "B1")
	var te *blockchain.TransactionError
	assert.ErrorAs(t, err, &te)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestFromLedgerRejectsBadRecords(t *testing.T) {
	ctx := context.Background()
	cases := map[string]blockchain.Result{
		"text":         {Text: "Batch B1 does not exist"},
		"update first": {JSON: json.RawMessage(`{"batchId":"B1","currentOwner":"x","history":[{"action":"UPDATE","actor":"x"}]}`)},
		"other batch":  {JSON: json.RawMessage(`{"batchId":"B2","currentOwner":"farmerMSP","history":[{"action":"CREATE","actor":"farmerMSP"}]}`)},
	}
	for name, res := range cases {
		r := NewReconciler(store.NewMemory(nil), &fakeLedger{enabled: true, result: res}, nil, nil)
		_, err := r.FromLedger(ctx, "B1")
		assert.ErrorIs(t, err, ErrInvalidLedgerRecord, name)
	}

	empty := NewReconciler(store.NewMemory(nil), &fakeLedger{enabled: true, result: blockchain.Result{JSON: json.RawMessage(`{}`)}}, nil, nil)
	_, err := empty.FromLedger(ctx, "B1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

type fakeEnricher struct {
	fail  map[string]bool
	calls atomic.Int32
}

func (e *fakeEnricher) Reverse(_ context.Context, p geo.GeoPoint) (string, error) {
	e.calls.Add(1)
	if e.fail[p.String()] {
		return "", errors.New("provider down")
	}
	return "near " + p.String(), nil
}

func TestDistributorViewHasProducerOnly(t *testing.T) {
	a := NewAssembler(&fakeEnricher{}, 2, nil)
	v, err := a.Project(context.Background(), models.RoleDistributor, sampleRecord(t))
	require.NoError(t, err)
	dv, ok := v.(*DistributorView)
	require.True(t, ok)
	assert.Equal(t, "Asha", dv.Farmer.Name)
	assert.Equal(t, "11.01,76.95", dv.Farmer.Location)
	require.NotNil(t, dv.Farmer.LocationDetails)
	assert.Equal(t, "near 11.01,76.95", dv.Farmer.LocationDetails.Address)
	assert.Equal(t, "retailerMSP", dv.CurrentOwner)

	raw, err := json.Marshal(dv)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Ravi")
	assert.NotContains(t, string(raw), "FreshMart")
}

func TestRetailerViewIncludesFirstDistributor(t *testing.T) {
	enricher := &fakeEnricher{fail: map[string]bool{"12,77": true}}
	a := NewAssembler(enricher, 2, nil)
	v, err := a.Project(context.Background(), models.RoleRetailer, sampleRecord(t))
	require.NoError(t, err)
	rv := v.(*RetailerView)
	require.NotNil(t, rv.Distributor)
	assert.Equal(t, "Ravi", rv.Distributor.Name)
	assert.Equal(t, "truck", rv.Distributor.TransportMode)
	assert.Equal(t, "12,77", rv.Distributor.Location)
	assert.Equal(t, "12.0000, 77.0000", rv.Distributor.LocationDetails.Address, "failed enrichment falls back to coordinates")
	assert.Equal(t, "near 11.01,76.95", rv.Farmer.LocationDetails.Address)
}

func TestRetailerViewWithoutDistributor(t *testing.T) {
	rec := sampleRecord(t)
	rec.History = rec.History[:1]
	rec.CurrentOwner = "farmerMSP"
	v, err := NewAssembler(nil, 0, nil).Project(context.Background(), models.RoleRetailer, rec)
	require.NoError(t, err)
	assert.Nil(t, v.(*RetailerView).Distributor)
}

func TestTraceViewEnrichesEveryLocation(t *testing.T) {
	enricher := &fakeEnricher{}
	a := NewAssembler(enricher, 3, nil)
	rec := sampleRecord(t)
	v, err := a.Project(context.Background(), models.RoleConsumer, rec)
	require.NoError(t, err)
	tv := v.(*TraceView)

	require.Len(t, tv.History, 3)
	assert.Equal(t, "11.01,76.95", tv.Metadata.Location)
	for i, h := range tv.History {
		assert.Equal(t, rec.History[i].Action, h.Action)
		require.NotNil(t, h.LocationDetails, i)
		assert.Equal(t, "near "+h.Location, h.LocationDetails.Address)
	}
	assert.Equal(t, "13.08,80.27", tv.History[2].Location)
	require.NotNil(t, tv.Retailer)
	assert.Equal(t, "FreshMart", tv.Retailer.StoreName)
	// metadata + three entries + retailer section
	assert.EqualValues(t, 5, enricher.calls.Load())
}

func TestTraceViewWithoutEnricherUsesFallback(t *testing.T) {
	rec := sampleRecord(t)
	rec.History[1].Location = nil
	tv := NewAssembler(nil, 1, nil).Trace(context.Background(), rec)
	assert.Equal(t, "N/A", tv.History[1].Location)
	assert.Nil(t, tv.History[1].LocationDetails)
	assert.Equal(t, "11.0100, 76.9500", tv.History[0].LocationDetails.Address)
}

func TestProjectUnknownRole(t *testing.T) {
	_, err := NewAssembler(nil, 1, nil).Project(context.Background(), models.Role("auditor"), sampleRecord(t))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestFromLedgerMapsChaincodeMissToNotFound(t *testing.T) {
	ctx := context.Background()
	for _, msg := range []string{"Batch B1 does not exist", "batch B1 not found"} {
		miss := &blockchain.TransactionError{Name: "ReadBatch", Err: errors.New(msg)}
		r := NewReconciler(store.NewMemory(nil), &fakeLedger{enabled: true, err: miss}, nil, nil)
		_, err := r.FromLedger(ctx, "B1")
		assert.ErrorIs(t, err, store.ErrNotFound, msg)
	}

	other := &blockchain.TransactionError{Name: "ReadBatch", Err: errors.New("Batch B2 does not exist")}
	r := NewReconciler(store.NewMemory(nil), &fakeLedger{enabled: true, err: other}, nil, nil)
	_, err := r.FromLedger(ctx, "B1")
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestLedgerHistoryLen(t *testing.T) {
	ctx := context.Background()
	hit := NewReconciler(store.NewMemory(nil), &fakeLedger{enabled: true, result: blockchain.Result{JSON: json.RawMessage(ledgerRecord)}}, nil, nil)
	n, err := hit.LedgerHistoryLen(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	miss := NewReconciler(store.NewMemory(nil), &fakeLedger{enabled: true, result: blockchain.Result{JSON: json.RawMessage(`{}`)}}, nil, nil)
	n, err = miss.LedgerHistoryLen(ctx, "B1")
	require.NoError(t, err)
	assert.Zero(t, n)

	down := NewReconciler(store.NewMemory(nil), &fakeLedger{enabled: true, err: errors.New("down")}, nil, nil)
	_, err = down.LedgerHistoryLen(ctx, "B1")
	assert.Error(t, err)
}
