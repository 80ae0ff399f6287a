// Package batch orchestrates the create and update write paths: validate,
// append, persist locally, then mirror to the ledger.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"agri-trace-api-server/internal/mirror"
	"agri-trace-api-server/internal/models"
	"agri-trace-api-server/internal/socket"
	"agri-trace-api-server/internal/store"
)

// ErrDuplicate is returned by Create when the batch id is already taken.
var ErrDuplicate = errors.New("batch already exists")

const (
	txCreate = "CreateBatch"
	txUpdate = "UpdateBatch"
)

type Ledger interface {
	Enabled() bool
}

// Mirror forwards a committed local write to the ledger. *mirror.Outbox
// satisfies it.
type Mirror interface {
	Mirror(ctx context.Context, op mirror.Op) error
}

// LedgerReader recovers a batch the local store lost. *trace.Reconciler
// satisfies it.
type LedgerReader interface {
	FromLedger(ctx context.Context, batchID string) (*models.BatchRecord, error)
}

type Publisher interface {
	Publish(ev socket.Event)
}

// Deps are the collaborators of a Service. Only Repo is required.
type Deps struct {
	Repo       store.Repository
	Ledger     Ledger
	Mirror     Mirror
	Reconciler LedgerReader
	Events     Publisher
	Locks      *KeyedMutex
}

type Options struct {
	// AllowPlaceholder materializes an "Unknown" origin when an update names a
	// batch neither store knows. Only honoured while the ledger is enabled.
	AllowPlaceholder bool
	Now              func() time.Time
}

// Outcome is a successful write. Warnings carry ledger problems that did
// not fail the call.
type Outcome struct {
	Record   *models.BatchRecord
	Warnings []string
	Mirrored bool
}

type Service struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

func NewService(deps Deps, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Locks == nil {
		deps.Locks = &KeyedMutex{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{deps: deps, opts: opts, logger: logger}
}

func (s *Service) ledgerEnabled() bool {
	return s.deps.Ledger != nil && s.deps.Ledger.Enabled()
}

// Create records a new batch with its CREATE entry.
func (s *Service) Create(ctx context.Context, batchID string, meta models.ProducerMetadata) (Outcome, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return Outcome{}, models.NewValidationError("batchId is required", nil)
	}
	now := s.opts.Now()
	if err := meta.Normalize(now); err != nil {
		return Outcome{}, err
	}

	out, err := s.create(ctx, batchID, meta, now)
	if err != nil {
		return Outcome{}, err
	}
	s.publish(socket.EventBatchCreated, out.Record)
	return out, nil
}

func (s *Service) create(ctx context.Context, batchID string, meta models.ProducerMetadata, now time.Time) (Outcome, error) {
	unlock := s.deps.Locks.Lock(batchID)
	defer unlock()

	out := Outcome{}
	_, err := s.deps.Repo.Get(ctx, batchID)
	switch {
	case err == nil:
		return Outcome{}, fmt.Errorf("%w: %s", ErrDuplicate, batchID)
	case !errors.Is(err, store.ErrNotFound):
		return Outcome{}, err
	}
	if err := s.checkLedgerFree(ctx, batchID, &out); err != nil {
		return Outcome{}, err
	}

	rec := models.NewBatchRecord(batchID, meta, now)
	if err := s.deps.Repo.Put(ctx, rec); err != nil {
		return Outcome{}, err
	}
	s.logger.Info("batch created", zap.String("batch_id", batchID), zap.String("produce", meta.Produce))

	out.Record = rec
	payload, err := json.Marshal(meta)
	if err != nil {
		return Outcome{}, err
	}
	s.mirror(ctx, mirror.Op{
		BatchID:     batchID,
		Transaction: txCreate,
		Args:        []string{batchID, string(payload)},
		HistoryLen:  len(rec.History),
	}, &out)
	return out, nil
}

// checkLedgerFree rejects an id the ledger already holds when the local store
// does not. An unreachable ledger does not block the create.
func (s *Service) checkLedgerFree(ctx context.Context, batchID string, out *Outcome) error {
	if !s.ledgerEnabled() || s.deps.Reconciler == nil {
		return nil
	}
	_, err := s.deps.Reconciler.FromLedger(ctx, batchID)
	switch {
	case err == nil:
		return fmt.Errorf("%w on ledger: %s", ErrDuplicate, batchID)
	case errors.Is(err, store.ErrNotFound):
		return nil
	}
	out.Warnings = append(out.Warnings, fmt.Sprintf("ledger duplicate check failed: %v", err))
	s.logger.Warn("ledger duplicate check failed", zap.String("batch_id", batchID), zap.Error(err))
	return nil
}

// Update appends a downstream party's handoff to an existing batch.
func (s *Service) Update(ctx context.Context, batchID string, u models.StatusUpdate) (Outcome, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return Outcome{}, models.NewValidationError("batchId is required", nil)
	}
	if u == nil {
		return Outcome{}, models.NewValidationError("statusUpdate is required", nil)
	}
	if err := u.Normalize(s.opts.Now()); err != nil {
		return Outcome{}, err
	}

	out, err := s.update(ctx, batchID, u)
	if err != nil {
		return Outcome{}, err
	}
	s.publish(socket.EventBatchUpdated, out.Record)
	return out, nil
}

func (s *Service) update(ctx context.Context, batchID string, u models.StatusUpdate) (Outcome, error) {
	unlock := s.deps.Locks.Lock(batchID)
	defer unlock()

	rec, err := s.load(ctx, batchID, u)
	if err != nil {
		return Outcome{}, err
	}
	rec.ApplyUpdate(u)
	if err := s.deps.Repo.Put(ctx, rec); err != nil {
		return Outcome{}, err
	}
	s.logger.Info("batch updated",
		zap.String("batch_id", batchID),
		zap.String("owner", rec.CurrentOwner),
		zap.String("status", rec.Status),
		zap.Int("history_len", len(rec.History)))

	out := Outcome{Record: rec}
	payload, err := json.Marshal(u)
	if err != nil {
		return Outcome{}, err
	}
	s.mirror(ctx, mirror.Op{
		BatchID:     batchID,
		Transaction: txUpdate,
		Args:        []string{batchID, string(payload)},
		HistoryLen:  len(rec.History),
	}, &out)
	return out, nil
}

// load finds the record to append to, consulting the ledger on a local miss.
// Callers hold the batch lock.
func (s *Service) load(ctx context.Context, batchID string, u models.StatusUpdate) (*models.BatchRecord, error) {
	rec, err := s.deps.Repo.Get(ctx, batchID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) || !s.ledgerEnabled() {
		return nil, err
	}
	if s.deps.Reconciler != nil {
		rec, err = s.deps.Reconciler.FromLedger(ctx, batchID)
		if err == nil {
			s.logger.Info("batch recovered from ledger for update", zap.String("batch_id", batchID))
			return rec, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if !s.opts.AllowPlaceholder {
		return nil, store.ErrNotFound
	}
	s.logger.Warn("materializing placeholder origin", zap.String("batch_id", batchID), zap.String("role", string(u.UpdateRole())))
	return models.NewPlaceholderRecord(batchID, u, s.opts.Now()), nil
}

// mirror ignores ctx cancellation; the local write is already committed.
func (s *Service) mirror(ctx context.Context, op mirror.Op, out *Outcome) {
	if !s.ledgerEnabled() || s.deps.Mirror == nil {
		return
	}
	err := s.deps.Mirror.Mirror(context.WithoutCancel(ctx), op)
	switch {
	case err == nil:
		out.Mirrored = true
	case errors.Is(err, mirror.ErrQueued):
		out.Warnings = append(out.Warnings, fmt.Sprintf("ledger %s queued behind earlier pending writes", op.Transaction))
	case errors.Is(err, mirror.ErrParked):
		out.Warnings = append(out.Warnings, fmt.Sprintf("ledger %s rejected, not retried: %v", op.Transaction, err))
		s.logger.Error("ledger mirror rejected", zap.String("batch_id", op.BatchID), zap.String("transaction", op.Transaction), zap.Error(err))
	default:
		out.Warnings = append(out.Warnings, fmt.Sprintf("ledger %s failed, will retry: %v", op.Transaction, err))
		s.logger.Warn("ledger mirror failed", zap.String("batch_id", op.BatchID), zap.String("transaction", op.Transaction), zap.Error(err))
	}
}

func (s *Service) publish(kind string, rec *models.BatchRecord) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.Publish(socket.NewEvent(kind, rec))
}
