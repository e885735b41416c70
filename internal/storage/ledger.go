package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoCheckpoint is returned when no checkpoint has been recorded yet.
var ErrNoCheckpoint = errors.New("no checkpoint recorded")

// Commit is the persisted outcome of one analysis run: the new checkpoint
// and, when any delivery failed, the JSON array of failure records.
type Commit struct {
	ChainID  string
	Category string
	Block    uint64
	Failures []byte
}

// FailureBatch is one persisted JSON array of delivery failure records.
type FailureBatch struct {
	Category  string
	ChainID   string
	Records   []byte
	CreatedAt time.Time
}

// Ledger persists scan checkpoints and delivery failure batches.
type Ledger interface {
	ReadCheckpoint(ctx context.Context, chainID, category string) (uint64, error)
	Commit(ctx context.Context, c Commit) error
	Failures(ctx context.Context, category string) ([]FailureBatch, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the ledger for the configured backend: "file" keeps plain files
// under dataDir, "sqlite" uses the database at dbPath.
func Open(backend, dataDir, dbPath string) (Ledger, error) {
	switch strings.ToLower(backend) {
	case "", "file":
		return OpenFiles(dataDir)
	case "sqlite":
		return OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}
