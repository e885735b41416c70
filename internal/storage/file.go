package storage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const errorsLogName = "errors.log"

// Files keeps checkpoints as <dir>/<category>/<chainID>.txt and failure
// batches as lines of <dir>/<category>/errors.log.
type Files struct {
	dir string
	mu  sync.Mutex
}

// OpenFiles prepares a file ledger rooted at dir.
func OpenFiles(dir string) (*Files, error) {
	if dir == "" {
		return nil, errors.New("data dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Files{dir: dir}, nil
}

// CheckpointPath is the file holding the checkpoint of a chain/category.
func (f *Files) CheckpointPath(chainID, category string) string {
	return filepath.Join(f.dir, category, chainID+".txt")
}

// ErrorsPath is the append-only failure log of a category.
func (f *Files) ErrorsPath(category string) string {
	return filepath.Join(f.dir, category, errorsLogName)
}

// ReadCheckpoint parses the decimal block number stored for a chain/category.
func (f *Files) ReadCheckpoint(_ context.Context, chainID, category string) (uint64, error) {
	path := f.CheckpointPath(chainID, category)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoCheckpoint
		}
		return 0, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	block, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return block, nil
}

// Commit overwrites the checkpoint file, then appends the failure batch if any.
// A block lower than the stored one leaves the checkpoint as is. Both steps
// are attempted; their errors are joined.
func (f *Files) Commit(ctx context.Context, c Commit) error {
	if c.ChainID == "" || c.Category == "" {
		return errors.New("chain id and category required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	if stored, err := f.ReadCheckpoint(ctx, c.ChainID, c.Category); err != nil || stored <= c.Block {
		if err := f.writeCheckpoint(c.ChainID, c.Category, c.Block); err != nil {
			errs = append(errs, err)
		}
	}
	if len(c.Failures) > 0 {
		if err := f.appendFailures(c.Category, c.Failures); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Files) writeCheckpoint(chainID, category string, block uint64) error {
	path := f.CheckpointPath(chainID, category)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(block, 10)), 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

func (f *Files) appendFailures(category string, records []byte) error {
	path := f.ErrorsPath(category)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create errors dir: %w", err)
	}
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open errors log: %w", err)
	}
	line := make([]byte, 0, len(records)+1)
	line = append(line, records...)
	line = append(line, '\n')
	if _, err := fh.Write(line); err != nil {
		fh.Close()
		return fmt.Errorf("append errors log: %w", err)
	}
	return fh.Close()
}

// Failures reads every batch line of a category's errors log.
func (f *Files) Failures(_ context.Context, category string) ([]FailureBatch, error) {
	fh, err := os.Open(f.ErrorsPath(category))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open errors log: %w", err)
	}
	defer fh.Close()

	var out []FailureBatch
	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		out = append(out, FailureBatch{
			Category: category,
			Records:  append([]byte(nil), line...),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read errors log: %w", err)
	}
	return out, nil
}

// Ping checks that the data directory is still reachable.
func (f *Files) Ping(_ context.Context) error {
	info, err := os.Stat(f.dir)
	if err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data dir %s is not a directory", f.dir)
	}
	return nil
}

// Close is a no-op; files are opened per operation.
func (f *Files) Close() error { return nil }
