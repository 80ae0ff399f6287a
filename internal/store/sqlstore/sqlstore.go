// Package sqlstore snapshots the batch mapping into a SQL table as a JSON blob.
// SQLite (modernc.org/sqlite) and Postgres (pgx) share the same layout.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"agri-trace-api-server/internal/models"
	"agri-trace-api-server/internal/store"
)

const bucket = "batches"

// Dialect selects driver name and SQL spelling.
type Dialect struct {
	Name   string
	Driver string
	DDL    string
	Select string
	Upsert string
}

var (
	SQLite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite",
		DDL: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
		Select: `SELECT payload FROM state WHERE bucket = ?`,
		Upsert: `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
	}
	Postgres = Dialect{
		Name:   "postgres",
		Driver: "pgx",
		DDL: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
		Select: `SELECT payload FROM state WHERE bucket = $1`,
		Upsert: `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
	}
)

// Snapshot stores the mapping under a single bucket row.
type Snapshot struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*store.SnapshotRepository, error) {
	if path == "" {
		path = "data/agritrace.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open(SQLite.Driver, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer connection; sqlite serializes writes anyway
	db.SetMaxOpenConns(1)
	return open(ctx, db, SQLite, logger)
}

// OpenPostgres connects with the given DSN.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*store.SnapshotRepository, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn required")
	}
	db, err := sql.Open(Postgres.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return open(ctx, db, Postgres, logger)
}

func open(ctx context.Context, db *sql.DB, d Dialect, logger *zap.Logger) (*store.SnapshotRepository, error) {
	snap, err := NewSnapshot(ctx, db, d)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store.NewSnapshotRepository(d.Name, snap, logger), nil
}

// NewSnapshot ensures the state table exists on an already-open database.
func NewSnapshot(ctx context.Context, db *sql.DB, d Dialect) (*Snapshot, error) {
	if _, err := db.ExecContext(ctx, d.DDL); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Snapshot{db: db, dialect: d}, nil
}

// DB exposes the underlying sql.DB for tests.
func (s *Snapshot) DB() *sql.DB { return s.db }

func (s *Snapshot) Load(ctx context.Context) (map[string]models.BatchRecord, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, s.dialect.Select, bucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]models.BatchRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	all := map[string]models.BatchRecord{}
	if err := json.Unmarshal(payload, &all); err != nil {
		return nil, fmt.Errorf("decode %s: %w", bucket, err)
	}
	return all, nil
}

func (s *Snapshot) Save(ctx context.Context, all map[string]models.BatchRecord) (retErr error) {
	data, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("encode %s: %w", bucket, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	var arg any = data
	if s.dialect.Name == Postgres.Name {
		arg = string(data)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.Upsert, bucket, arg); err != nil {
		return fmt.Errorf("upsert %s: %w", bucket, err)
	}
	return tx.Commit()
}

func (s *Snapshot) Close() error { return s.db.Close() }
