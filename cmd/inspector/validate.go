package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/devblac/chain-inspector/internal/config"
	"github.com/devblac/chain-inspector/internal/source/evm"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config, ping RPC endpoints and check contract code",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d, %d chain(s))\n", cfg.Version, len(cfg.Chains))

		client := &http.Client{Timeout: cfg.Global.HTTPTimeoutDuration()}
		failures := 0

		for _, ch := range cfg.Chains {
			if err := checkChain(cmd.Context(), client, ch); err != nil {
				failures++
				fmt.Fprintf(out, "- chain %s (%d): ERROR %v\n", ch.Name, ch.ID, err)
				continue
			}
			fmt.Fprintf(out, "- chain %s (%d): OK\n", ch.Name, ch.ID)
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d chain(s) failed", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

// checkChain confirms the node serves the configured chain and that both
// contracts are deployed there.
func checkChain(ctx context.Context, client *http.Client, ch config.Chain) error {
	rpc, err := evm.NewRPCClient(ch.RPCURL)
	if err != nil {
		return err
	}
	defer rpc.Close()

	var got uint64
	if strings.HasPrefix(ch.RPCURL, "http") {
		raw, err := pingEVM(ctx, client, ch.RPCURL)
		if err != nil {
			return err
		}
		if got, err = hexutil.DecodeUint64(raw); err != nil {
			return fmt.Errorf("decode chainId %q: %w", raw, err)
		}
	} else {
		id, err := rpc.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("call eth_chainId: %w", err)
		}
		got = id.Uint64()
	}
	if got != ch.ID {
		return fmt.Errorf("rpc serves chain %d, configured %d", got, ch.ID)
	}

	for name, addr := range map[string]string{"dex_contract": ch.DexContract, "staking_contract": ch.StakingContract} {
		code, err := rpc.CodeAt(ctx, common.HexToAddress(addr), nil)
		if err != nil {
			return fmt.Errorf("%s code: %w", name, err)
		}
		if len(code) == 0 {
			return fmt.Errorf("%s %s has no code", name, addr)
		}
	}
	return nil
}

func pingEVM(ctx context.Context, client *http.Client, url string) (string, error) {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_chainId",
		"params":  []any{},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call eth_chainId: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var rpcResp struct {
		Result string `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return "", fmt.Errorf("decode rpc response: %w", err)
	}

	if rpcResp.Error != nil {
		return "", fmt.Errorf("rpc error: %s", rpcResp.Error.Message)
	}
	if rpcResp.Result == "" {
		return "", fmt.Errorf("empty chainId result")
	}

	return rpcResp.Result, nil
}
