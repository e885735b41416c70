package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for checkpoints and delivery failures.
type Store struct {
	db *sql.DB
}

// OpenSQLite initializes a SQLite database and runs minimal schema setup.
func OpenSQLite(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS checkpoints (
  chain_id      TEXT NOT NULL,
  category      TEXT NOT NULL,
  block_number  INTEGER NOT NULL,
  updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(chain_id, category)
);

CREATE TABLE IF NOT EXISTS delivery_failures (
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  category      TEXT NOT NULL,
  chain_id      TEXT NOT NULL,
  records_json  TEXT NOT NULL,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS delivery_failures_category ON delivery_failures(category, id);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ReadCheckpoint returns the last processed block for a chain/category.
func (s *Store) ReadCheckpoint(ctx context.Context, chainID, category string) (uint64, error) {
	var block uint64
	err := s.db.QueryRowContext(ctx, `
SELECT block_number FROM checkpoints WHERE chain_id = ? AND category = ?;
`, chainID, category).Scan(&block)
	switch {
	case err == nil:
		return block, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, ErrNoCheckpoint
	default:
		return 0, fmt.Errorf("get checkpoint: %w", err)
	}
}

// Commit advances the checkpoint and stores the failure batch in one transaction.
// A checkpoint never moves backwards.
func (s *Store) Commit(ctx context.Context, c Commit) error {
	if c.ChainID == "" || c.Category == "" {
		return errors.New("chain id and category required")
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO checkpoints (chain_id, category, block_number, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(chain_id, category) DO UPDATE SET
  block_number=MAX(block_number, excluded.block_number),
  updated_at=CURRENT_TIMESTAMP;
`, c.ChainID, c.Category, c.Block)
		if err != nil {
			return fmt.Errorf("upsert checkpoint: %w", err)
		}
		if len(c.Failures) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO delivery_failures (category, chain_id, records_json) VALUES (?, ?, ?);
`, c.Category, c.ChainID, string(c.Failures)); err != nil {
			return fmt.Errorf("insert failures: %w", err)
		}
		return nil
	})
}

// Failures lists failure batches of a category in insertion order.
func (s *Store) Failures(ctx context.Context, category string) ([]FailureBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT category, chain_id, records_json, created_at FROM delivery_failures
WHERE category = ? ORDER BY id;
`, category)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var out []FailureBatch
	for rows.Next() {
		var (
			b       FailureBatch
			records string
		)
		if err := rows.Scan(&b.Category, &b.ChainID, &records, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		b.Records = []byte(records)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return out, nil
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
