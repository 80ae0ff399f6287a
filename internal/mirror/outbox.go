// Package mirror retries ledger writes that failed after the local store had
// already accepted them. Order is preserved per batch; the backlog lives in
// memory and is lost on restart.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"agri-trace-api-server/internal/blockchain"
	"agri-trace-api-server/internal/metrics"
)

// ErrQueued means the op was appended behind earlier failed writes for the
// same batch and was not attempted now.
var ErrQueued = errors.New("ledger write queued behind earlier failures")

// ErrParked means the op will not be retried. It is kept in the parked list
// and counted on /health.
var ErrParked = errors.New("ledger write parked")

const DefaultMaxAttempts = 10

// Submitter is the ledger write surface; *blockchain.Gateway satisfies it.
type Submitter interface {
	Submit(ctx context.Context, name string, args ...string) (blockchain.Result, error)
}

// Checker reports how many history entries the ledger holds for a batch,
// 0 when it has none. *trace.Reconciler satisfies it.
type Checker interface {
	LedgerHistoryLen(ctx context.Context, batchID string) (int, error)
}

// Op is one ledger transaction waiting to be mirrored.
type Op struct {
	BatchID     string
	Transaction string
	Args        []string
	// HistoryLen is the batch's history length once this op has applied.
	HistoryLen int
	Enqueued   time.Time
	Attempts   int
	LastError  string
	// Uncertain is set when the last attempt timed out, so the ledger may
	// have committed it anyway.
	Uncertain bool
}

type Options struct {
	// MaxAttempts bounds submits per op before it is parked. Zero means
	// DefaultMaxAttempts.
	MaxAttempts int
	// Checker, when set, is asked whether an uncertain op already landed
	// before it is submitted again.
	Checker Checker
}

type Outbox struct {
	ledger  Submitter
	checker Checker
	max     int
	logger  *zap.Logger

	mu     sync.Mutex
	queues map[string][]Op
	order  []string
	parked []Op

	drainMu sync.Mutex
}

func New(ledger Submitter, opts Options, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &Outbox{
		ledger:  ledger,
		checker: opts.Checker,
		max:     opts.MaxAttempts,
		logger:  logger,
		queues:  map[string][]Op{},
	}
}

// Mirror submits op unless its batch already has a backlog. A failed submit
// is queued and its error returned, or parked when it cannot succeed.
func (o *Outbox) Mirror(ctx context.Context, op Op) error {
	o.mu.Lock()
	if len(o.queues[op.BatchID]) > 0 {
		o.enqueueLocked(op)
		o.mu.Unlock()
		return ErrQueued
	}
	o.mu.Unlock()

	_, err := o.ledger.Submit(ctx, op.Transaction, op.Args...)
	metrics.MirrorAttempts.WithLabelValues(metrics.Outcome(err)).Inc()
	if err == nil {
		return nil
	}
	op.Attempts = 1
	op.LastError = err.Error()
	op.Uncertain = uncertain(err)

	o.mu.Lock()
	defer o.mu.Unlock()
	if permanent(err) || op.Attempts >= o.max {
		o.parkLocked(op)
		return fmt.Errorf("%w: %w", ErrParked, err)
	}
	o.enqueueLocked(op)
	return err
}

func (o *Outbox) enqueueLocked(op Op) {
	if op.Enqueued.IsZero() {
		op.Enqueued = time.Now().UTC()
	}
	if _, ok := o.queues[op.BatchID]; !ok {
		o.order = append(o.order, op.BatchID)
	}
	o.queues[op.BatchID] = append(o.queues[op.BatchID], op)
	metrics.MirrorBacklog.Set(float64(o.pendingLocked()))
}

func (o *Outbox) parkLocked(op Op) {
	if op.Enqueued.IsZero() {
		op.Enqueued = time.Now().UTC()
	}
	o.parked = append(o.parked, op)
	metrics.MirrorParked.Set(float64(len(o.parked)))
	o.logger.Error("ledger write parked",
		zap.String("batch_id", op.BatchID),
		zap.String("transaction", op.Transaction),
		zap.Int("attempts", op.Attempts),
		zap.String("last_error", op.LastError))
}

// Drain retries every batch's backlog head-first, stopping a batch at its
// first failure. It returns how many ops reached the ledger.
func (o *Outbox) Drain(ctx context.Context) int {
	o.drainMu.Lock()
	defer o.drainMu.Unlock()

	o.mu.Lock()
	batches := append([]string(nil), o.order...)
	o.mu.Unlock()

	sent := 0
	for _, id := range batches {
		for {
			if ctx.Err() != nil {
				return sent
			}
			op, ok := o.head(id)
			if !ok {
				break
			}
			if op.Uncertain && o.landed(ctx, op) {
				o.logger.Info("ledger already holds write, not resubmitting",
					zap.String("batch_id", id),
					zap.String("transaction", op.Transaction),
					zap.Int("history_len", op.HistoryLen))
				o.pop(id)
				sent++
				continue
			}
			_, err := o.ledger.Submit(ctx, op.Transaction, op.Args...)
			metrics.MirrorAttempts.WithLabelValues(metrics.Outcome(err)).Inc()
			if err != nil {
				if o.recordFailure(id, err) {
					// parked; the rest of the batch may proceed
					continue
				}
				o.logger.Warn("mirror retry failed",
					zap.String("batch_id", id),
					zap.String("transaction", op.Transaction),
					zap.Int("attempts", op.Attempts+1),
					zap.Error(err))
				break
			}
			o.pop(id)
			sent++
		}
	}
	if sent > 0 {
		o.logger.Info("mirror backlog drained", zap.Int("sent", sent), zap.Int("pending", o.Pending()))
	}
	return sent
}

// landed asks the checker whether op is already on the ledger. Any doubt
// answers false and the op is submitted again.
func (o *Outbox) landed(ctx context.Context, op Op) bool {
	if o.checker == nil || op.HistoryLen <= 0 {
		return false
	}
	n, err := o.checker.LedgerHistoryLen(ctx, op.BatchID)
	if err != nil {
		o.logger.Warn("ledger commit check failed", zap.String("batch_id", op.BatchID), zap.Error(err))
		return false
	}
	return n >= op.HistoryLen
}

func (o *Outbox) head(id string) (Op, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queues[id]
	if len(q) == 0 {
		return Op{}, false
	}
	return q[0], true
}

// recordFailure counts a failed attempt on the batch head and parks it once
// it cannot succeed. It reports whether the head was parked.
func (o *Outbox) recordFailure(id string, err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queues[id]
	if len(q) == 0 {
		return false
	}
	q[0].Attempts++
	q[0].LastError = err.Error()
	q[0].Uncertain = uncertain(err)
	if !permanent(err) && q[0].Attempts < o.max {
		return false
	}
	o.parkLocked(q[0])
	o.popLocked(id)
	return true
}

func (o *Outbox) pop(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.popLocked(id)
}

func (o *Outbox) popLocked(id string) {
	q := o.queues[id]
	if len(q) <= 1 {
		delete(o.queues, id)
		for i, b := range o.order {
			if b == id {
				o.order = append(o.order[:i], o.order[i+1:]...)
				break
			}
		}
	} else {
		o.queues[id] = q[1:]
	}
	metrics.MirrorBacklog.Set(float64(o.pendingLocked()))
}

// Pending counts queued ops across all batches.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pendingLocked()
}

func (o *Outbox) pendingLocked() int {
	n := 0
	for _, q := range o.queues {
		n += len(q)
	}
	return n
}

// ParkedCount is the number of ops that gave up on the ledger.
func (o *Outbox) ParkedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.parked)
}

// Parked returns a copy of the parked ops, oldest first.
func (o *Outbox) Parked() []Op {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Op(nil), o.parked...)
}

// Snapshot returns a copy of the backlog for one batch.
func (o *Outbox) Snapshot(batchID string) []Op {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Op(nil), o.queues[batchID]...)
}

func uncertain(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// permanent matches chaincode rejections that no retry can fix.
func permanent(err error) bool {
	var te *blockchain.TransactionError
	if !errors.As(err, &te) {
		return false
	}
	msg := strings.ToLower(te.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "does not exist")
}
