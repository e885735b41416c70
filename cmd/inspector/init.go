package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var flagInitForce bool

func init() {
	initCmd.Flags().BoolVar(&flagInitForce, "force", false, "Overwrite existing files")
}

const sampleConfig = `version: 1

global:
  storage: file            # file | sqlite
  data_dir: ./blocks
  db_path: ./inspector.db
  interval: 1m
  max_range: 4000
  delivery_workers: 8      # 0 = unbounded
  http_timeout: 8s
  run_timeout: 5m

api:
  base_url: ${API_BASE_URL}
  secret: ${API_SECRET}
  paths:
    watch_tower: /watch-tower
    stacking: /stacking
    stacking_fees: /stacking-fees
    fees_withdrawal: /fees-withdrawal

chains:
  - id: 56
    name: bsc
    rpc_url: ${BSC_RPC_URL}
    dex_contract: "0x00000000000000000000000000000000000000d1"
    staking_contract: "0x00000000000000000000000000000000000000e2"
    genesis_block: 0

notify:
  - id: ops-slack
    type: slack
    webhook_url: ${SLACK_WEBHOOK_URL}
    rate_per_minute: 6
    burst: 3
`

const sampleEnv = `API_BASE_URL=https://api.example.com
API_SECRET=change-me
BSC_RPC_URL=https://bsc-dataseed.binance.org
SLACK_WEBHOOK_URL=https://hooks.slack.com/services/XXX
LOG_LEVEL=info
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config and .env.example",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		envPath := filepath.Join(filepath.Dir(cfgPath), ".env.example")
		for _, f := range []struct {
			path, body string
		}{
			{cfgPath, sampleConfig},
			{envPath, sampleEnv},
		} {
			if err := writeScaffold(f.path, f.body, flagInitForce); err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %s\n", f.path)
		}
		fmt.Fprintln(out, "init: copy .env.example to .env, fill in the contracts, then run `inspector validate`")
		return nil
	},
}

func writeScaffold(path, body string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
