// Package trace answers reads: local store first, ledger on a miss, then the
// role-scoped projections served to each party.
package trace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"agri-trace-api-server/internal/blockchain"
	"agri-trace-api-server/internal/models"
	"agri-trace-api-server/internal/store"
)

// Source says where a record was found.
type Source string

const (
	SourceLocal  Source = "local"
	SourceLedger Source = "ledger"
)

// ErrInvalidLedgerRecord means the ledger answered with something that is not
// a well-formed batch.
var ErrInvalidLedgerRecord = errors.New("ledger returned an invalid batch record")

// Ledger is the read side of *blockchain.Gateway.
type Ledger interface {
	Enabled() bool
	Evaluate(ctx context.Context, name string, args ...string) (blockchain.Result, error)
}

// Locker serializes work per batch id. Lock returns the matching unlock.
type Locker interface {
	Lock(key string) func()
}

type Reconciler struct {
	repo   store.Repository
	ledger Ledger
	locker Locker
	logger *zap.Logger
}

func NewReconciler(repo store.Repository, ledger Ledger, locker Locker, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{repo: repo, ledger: ledger, locker: locker, logger: logger}
}

// Read returns the record from the local store, or from the ledger when the
// store has none. A ledger hit is written back so later reads stay local.
func (r *Reconciler) Read(ctx context.Context, batchID string) (*models.BatchRecord, Source, error) {
	rec, err := r.repo.Get(ctx, batchID)
	if err == nil {
		return rec, SourceLocal, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, "", err
	}

	rec, err = r.FromLedger(ctx, batchID)
	if err != nil {
		return nil, "", err
	}

	if r.locker != nil {
		unlock := r.locker.Lock(batchID)
		defer unlock()
	}
	// a concurrent write may have landed while we were on the ledger
	if local, err := r.repo.Get(ctx, batchID); err == nil {
		return local, SourceLocal, nil
	}
	if err := r.repo.Put(ctx, rec); err != nil {
		r.logger.Warn("ledger write-back failed", zap.String("batch_id", batchID), zap.Error(err))
	} else {
		r.logger.Info("batch restored from ledger", zap.String("batch_id", batchID), zap.Int("history_len", len(rec.History)))
	}
	return rec, SourceLedger, nil
}

// FromLedger evaluates ReadBatch. It reports store.ErrNotFound when the
// ledger is disabled or has no such batch.
func (r *Reconciler) FromLedger(ctx context.Context, batchID string) (*models.BatchRecord, error) {
	if r.ledger == nil || !r.ledger.Enabled() {
		return nil, store.ErrNotFound
	}
	res, err := r.ledger.Evaluate(ctx, "ReadBatch", batchID)
	if err != nil {
		if missingOnLedger(err, batchID) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if res.Disabled {
		return nil, store.ErrNotFound
	}
	if res.JSON == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLedgerRecord, res.Text)
	}
	var rec models.BatchRecord
	if err := res.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLedgerRecord, err)
	}
	if rec.BatchID == "" && len(rec.History) == 0 {
		return nil, store.ErrNotFound
	}
	if rec.BatchID == "" {
		rec.BatchID = batchID
	}
	if rec.BatchID != batchID {
		return nil, fmt.Errorf("%w: asked for %s, got %s", ErrInvalidLedgerRecord, batchID, rec.BatchID)
	}
	if err := rec.Verify(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLedgerRecord, err)
	}
	return &rec, nil
}

// LedgerHistoryLen is the number of history entries the ledger holds for
// batchID, 0 when it has none.
func (r *Reconciler) LedgerHistoryLen(ctx context.Context, batchID string) (int, error) {
	rec, err := r.FromLedger(ctx, batchID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(rec.History), nil
}

// missingOnLedger matches the chaincode's rejection of a read for an unknown
// batch, as opposed to a transport failure.
func missingOnLedger(err error, batchID string) bool {
	var te *blockchain.TransactionError
	if !errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(te.Err.Error())
	if !strings.Contains(msg, strings.ToLower(batchID)) {
		return false
	}
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found")
}
