package health

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devblac/chain-inspector/internal/source/evm"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestHealthEndpoint(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	fail := func(ctx context.Context) error { return context.DeadlineExceeded }

	tests := []struct {
		name      string
		checker   Checker
		wantCode  int
		wantStore string
		wantRPC   string
		wantSched string
	}{
		{
			name:      "all_ok",
			checker:   Checker{StoragePing: ok, RPCPing: ok, SchedulerPing: ok},
			wantCode:  http.StatusOK,
			wantStore: "ok",
			wantRPC:   "ok",
			wantSched: "ok",
		},
		{
			name:      "storage_fail",
			checker:   Checker{StoragePing: fail, RPCPing: ok},
			wantCode:  http.StatusServiceUnavailable,
			wantStore: "fail",
			wantRPC:   "ok",
		},
		{
			name:      "rpc_fail",
			checker:   Checker{StoragePing: ok, RPCPing: fail},
			wantCode:  http.StatusServiceUnavailable,
			wantStore: "ok",
			wantRPC:   "fail",
		},
		{
			name:      "scheduler_stalled",
			checker:   Checker{StoragePing: ok, RPCPing: ok, SchedulerPing: fail},
			wantCode:  http.StatusServiceUnavailable,
			wantSched: "fail",
		},
		{
			name:     "no_checkers",
			checker:  Checker{},
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://localhost/healthz", nil)
			w := httptest.NewRecorder()

			Handler(tt.checker).ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}

			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}

			if resp["status"] != "ok" {
				t.Errorf("status = %q, want ok", resp["status"])
			}
			if tt.wantStore != "" && resp["storage"] != tt.wantStore {
				t.Errorf("storage = %q, want %q", resp["storage"], tt.wantStore)
			}
			if tt.wantRPC != "" && resp["rpc"] != tt.wantRPC {
				t.Errorf("rpc = %q, want %q", resp["rpc"], tt.wantRPC)
			}
			if tt.wantSched != "" && resp["scheduler"] != tt.wantSched {
				t.Errorf("scheduler = %q, want %q", resp["scheduler"], tt.wantSched)
			}
		})
	}
}

type stubClient struct{ err error }

func (s stubClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &types.Header{Number: big.NewInt(1)}, nil
}

func (s stubClient) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func TestRPCCheckerJoinsFailures(t *testing.T) {
	healthy := NewRPCChecker(map[string]evm.BlockClient{"56": stubClient{}, "1": stubClient{}})
	if err := healthy.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	down := errors.New("dial tcp: connection refused")
	checker := NewRPCChecker(map[string]evm.BlockClient{"56": stubClient{}, "97": stubClient{err: down}})
	err := checker.Ping(context.Background())
	if !errors.Is(err, down) {
		t.Fatalf("expected wrapped rpc error, got %v", err)
	}
}
