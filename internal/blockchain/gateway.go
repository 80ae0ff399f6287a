// Package blockchain is the optional Hyperledger Fabric mirror. Every call
// opens its own session (connect, invoke, close) and is bounded by a timeout.
package blockchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"agri-trace-api-server/config"
	"agri-trace-api-server/internal/metrics"
)

// ErrIdentityNotFound means the configured label is missing from the wallet.
// Run cmd/provision before enabling the ledger.
var ErrIdentityNotFound = errors.New("fabric identity not found in wallet")

// TransactionError wraps a connect, network or invoke failure, including timeouts.
type TransactionError struct {
	Name string
	Err  error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("fabric transaction %s: %v", e.Name, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// Result is what a ledger call produced. Disabled is set, with no error, when
// the ledger is switched off.
type Result struct {
	Disabled bool
	JSON     json.RawMessage
	Text     string
}

// Decode unmarshals a JSON result into v.
func (r Result) Decode(v any) error {
	if r.Disabled {
		return errors.New("fabric disabled")
	}
	if r.JSON == nil {
		return fmt.Errorf("ledger returned non-JSON payload %q", r.Text)
	}
	return json.Unmarshal(r.JSON, v)
}

// Contract is the subset of *gateway.Contract the gateway calls.
type Contract interface {
	SubmitTransaction(name string, args ...string) ([]byte, error)
	EvaluateTransaction(name string, args ...string) ([]byte, error)
}

// Session is one live connection to the network.
type Session interface {
	Contract() Contract
	Close()
}

// Connector opens sessions. The fabric implementation lives in session.go.
type Connector interface {
	Connect() (Session, error)
}

const (
	kindSubmit   = "submit"
	kindEvaluate = "evaluate"
)

// Gateway is safe for concurrent use; it holds no session between calls.
type Gateway struct {
	enabled   bool
	timeout   time.Duration
	connector Connector
	logger    *zap.Logger
}

// New builds a gateway backed by the fabric-sdk-go gateway package.
func New(cfg config.FabricConfig, logger *zap.Logger) *Gateway {
	if cfg.Active() {
		_ = os.Setenv("DISCOVERY_AS_LOCALHOST", strconv.FormatBool(cfg.DiscoveryAsLocalhost))
	}
	return NewWithConnector(cfg, &fabricConnector{cfg: cfg}, logger)
}

// NewWithConnector is New with an explicit session source.
func NewWithConnector(cfg config.FabricConfig, connector Connector, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		enabled:   cfg.Active(),
		timeout:   timeout,
		connector: connector,
		logger:    logger,
	}
}

// Enabled reports whether calls reach the network.
func (g *Gateway) Enabled() bool { return g != nil && g.enabled }

// Submit endorses and commits a transaction.
func (g *Gateway) Submit(ctx context.Context, name string, args ...string) (Result, error) {
	return g.invoke(ctx, kindSubmit, name, args)
}

// Evaluate queries without committing.
func (g *Gateway) Evaluate(ctx context.Context, name string, args ...string) (Result, error) {
	return g.invoke(ctx, kindEvaluate, name, args)
}

type outcome struct {
	payload []byte
	err     error
}

func (g *Gateway) invoke(ctx context.Context, kind, name string, args []string) (Result, error) {
	if !g.Enabled() {
		return Result{Disabled: true}, nil
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// the goroutine owns the session and closes it even after we stop waiting
	done := make(chan outcome, 1)
	go func() {
		sess, err := g.connector.Connect()
		if err != nil {
			done <- outcome{err: err}
			return
		}
		var payload []byte
		if kind == kindSubmit {
			payload, err = sess.Contract().SubmitTransaction(name, args...)
		} else {
			payload, err = sess.Contract().EvaluateTransaction(name, args...)
		}
		sess.Close()
		done <- outcome{payload: payload, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = outcome{err: fmt.Errorf("no response after %s: %w", g.timeout, ctx.Err())}
	}

	metrics.LedgerDuration.WithLabelValues(name, kind).Observe(time.Since(start).Seconds())
	metrics.LedgerCalls.WithLabelValues(name, kind, metrics.Outcome(out.err)).Inc()

	if out.err != nil {
		if errors.Is(out.err, ErrIdentityNotFound) {
			g.logger.Error("fabric identity missing", zap.String("transaction", name), zap.Error(out.err))
			return Result{}, out.err
		}
		g.logger.Warn("fabric call failed",
			zap.String("transaction", name),
			zap.String("kind", kind),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(out.err))
		return Result{}, &TransactionError{Name: name, Err: out.err}
	}
	g.logger.Debug("fabric call ok",
		zap.String("transaction", name),
		zap.String("kind", kind),
		zap.Duration("elapsed", time.Since(start)))
	return parseResult(out.payload), nil
}

func parseResult(payload []byte) Result {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Result{JSON: json.RawMessage("{}")}
	}
	if json.Valid(trimmed) {
		return Result{JSON: append(json.RawMessage(nil), trimmed...)}
	}
	return Result{Text: string(payload)}
}
