package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devblac/chain-inspector/internal/config"
	"github.com/devblac/chain-inspector/internal/engine"
	"github.com/devblac/chain-inspector/internal/source/evm"
	"github.com/devblac/chain-inspector/internal/storage"
)

type stubChain struct {
	head uint64
	err  error
}

func (s stubChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &types.Header{Number: new(big.Int).SetUint64(s.head)}, nil
}

func (s stubChain) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

// closingChain counts Close calls.
type closingChain struct {
	stubChain
	closed *atomic.Int32
}

func (c closingChain) Close() { c.closed.Add(1) }

func stubDial(head uint64) dialFunc {
	return func(string) (evm.BlockClient, error) { return stubChain{head: head}, nil }
}

// scaffold writes the sample config into a temp dir and loads it.
func scaffold(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, writeScaffold(path, sampleConfig, false))

	t.Setenv("API_BASE_URL", "http://api.test")
	t.Setenv("API_SECRET", "secret")
	t.Setenv("BSC_RPC_URL", "http://rpc.test")
	t.Setenv("SLACK_WEBHOOK_URL", "http://hooks.test/slack")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	cfg.Global.DataDir = filepath.Join(dir, "blocks")
	return cfg, dir
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, _ := scaffold(t)

	assert.Equal(t, "file", cfg.Global.Storage)
	assert.Equal(t, uint64(4000), cfg.Global.MaxRange)
	require.Len(t, cfg.Chains, 1)
	assert.Equal(t, uint64(56), cfg.Chains[0].ID)
	require.Len(t, cfg.Notify, 1)
}

func TestWriteScaffoldRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, writeScaffold(path, "a", false))
	assert.Error(t, writeScaffold(path, "b", false))
	require.NoError(t, writeScaffold(path, "c", true))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "c", string(raw))
}

func TestWireBuildsInspectorsPerChain(t *testing.T) {
	cfg, _ := scaffold(t)
	ledger, err := storage.OpenFiles(cfg.Global.DataDir)
	require.NoError(t, err)

	notifiers, err := buildNotifiers(cfg.Notify)
	require.NoError(t, err)
	assert.Len(t, notifiers, 1)

	w, err := wire(cfg, stubDial(100), ledger, notifiers, nil, nil, true, 0)
	require.NoError(t, err)
	require.Len(t, w.inspectors, 1)
	assert.Equal(t, "56", w.inspectors[0].ChainID())
	assert.Contains(t, w.clients, "56")

	res := w.inspectors[0].TradeAnalysis(context.Background())
	assert.Equal(t, engine.StatusCompleted, res.Status)
	assert.Equal(t, engine.Window{From: 0, To: 100}, res.Window)

	_, err = wire(cfg, stubDial(100), ledger, nil, nil, nil, false, 97)
	assert.Error(t, err, "unknown chain filter")

	_, err = wire(cfg, func(string) (evm.BlockClient, error) { return nil, errors.New("dial failed") }, ledger, nil, nil, nil, false, 0)
	assert.ErrorContains(t, err, "dial failed")
}

func TestPrintState(t *testing.T) {
	cfg, _ := scaffold(t)
	ledger, err := storage.OpenFiles(cfg.Global.DataDir)
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(context.Background(), storage.Commit{ChainID: "56", Category: "trade", Block: 900}))

	var out bytes.Buffer
	require.NoError(t, printState(context.Background(), &out, cfg, ledger, stubDial(1000)))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"56", "bsc", "trade", "900", "1000", "100"}, strings.Fields(lines[1]))
	assert.Contains(t, lines[2], "none (genesis 0)")
	assert.True(t, strings.HasSuffix(lines[2], "1000"), lines[2])

	out.Reset()
	require.NoError(t, printState(context.Background(), &out, cfg, ledger, nil))
	assert.Equal(t, []string{"56", "bsc", "trade", "900", "-", "-"}, strings.Fields(strings.Split(out.String(), "\n")[1]))
}

func TestDialedClientsAreClosed(t *testing.T) {
	cfg, _ := scaffold(t)
	ledger, err := storage.OpenFiles(cfg.Global.DataDir)
	require.NoError(t, err)

	var closed atomic.Int32
	dial := func(string) (evm.BlockClient, error) { return closingChain{stubChain{head: 10}, &closed}, nil }

	require.NoError(t, printState(context.Background(), &bytes.Buffer{}, cfg, ledger, dial))
	assert.EqualValues(t, 1, closed.Load())

	w, err := wire(cfg, dial, ledger, nil, nil, nil, true, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, closed.Load())
	w.close()
	assert.EqualValues(t, 2, closed.Load())

	_, err = wire(cfg, dial, ledger, nil, nil, nil, true, 97)
	require.Error(t, err)
	assert.EqualValues(t, 2, closed.Load(), "filtered chains are never dialed")
}

func TestExportFailures(t *testing.T) {
	ledger, err := storage.OpenFiles(t.TempDir())
	require.NoError(t, err)
	batch := `[{"path":"http://api.test/watch-tower","method":"post","chainId":"56","status":503,"taker":"0x1111111111111111111111111111111111111111"},` +
		`{"path":"http://api.test/watch-tower","method":"delete","chainId":"56","error":"connection refused","orderHash":"0x01"}]`
	require.NoError(t, ledger.Commit(context.Background(), storage.Commit{ChainID: "56", Category: "trade", Block: 75, Failures: []byte(batch)}))

	var out bytes.Buffer
	require.NoError(t, exportFailures(context.Background(), &out, ledger, engine.Categories, "json"))
	var records []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "trade", records[0]["category"])
	assert.Equal(t, "post", records[0]["method"])
	assert.EqualValues(t, 503, records[0]["status"])
	assert.Equal(t, "connection refused", records[1]["error"])
	assert.NotContains(t, records[0], "created_at")

	out.Reset()
	require.NoError(t, exportFailures(context.Background(), &out, ledger, []engine.Category{engine.CategoryTrade}, "csv"))
	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "status", rows[0][5])
	assert.Equal(t, "503", rows[1][5])
	assert.Equal(t, "", rows[2][5])

	out.Reset()
	require.NoError(t, exportFailures(context.Background(), &out, ledger, []engine.Category{engine.CategoryStaking}, "json"))
	assert.Equal(t, "[]\n", out.String())

	assert.Error(t, exportFailures(context.Background(), &out, ledger, engine.Categories, "xml"))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.True(t, strings.HasPrefix(out.String(), "inspector dev"), out.String())
}
