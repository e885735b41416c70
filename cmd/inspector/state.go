package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/devblac/chain-inspector/internal/config"
	"github.com/devblac/chain-inspector/internal/engine"
	"github.com/devblac/chain-inspector/internal/storage"
)

var flagStateOffline bool

func init() {
	stateCmd.Flags().BoolVar(&flagStateOffline, "offline", false, "Skip the RPC head lookup")
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show checkpoints and lag per chain and category",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ledger, err := storage.Open(cfg.Global.Storage, cfg.Global.DataDir, cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer ledger.Close()

		dial := dialRPC
		if flagStateOffline {
			dial = nil
		}
		return printState(cmd.Context(), cmd.OutOrStdout(), cfg, ledger, dial)
	},
}

// printState writes one row per chain and category. A nil dial leaves the
// head and lag columns empty.
func printState(ctx context.Context, out io.Writer, cfg *config.Config, ledger storage.Ledger, dial dialFunc) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAIN\tNAME\tCATEGORY\tCHECKPOINT\tHEAD\tLAG")

	for _, ch := range cfg.Chains {
		head := "-"
		var headBlock uint64
		var haveHead bool
		if dial != nil {
			if cli, err := dial(ch.RPCURL); err != nil {
				head = "error: " + err.Error()
			} else {
				if h, err := cli.HeaderByNumber(ctx, nil); err != nil {
					head = "error: " + err.Error()
				} else {
					headBlock, haveHead = h.Number.Uint64(), true
					head = strconv.FormatUint(headBlock, 10)
				}
				closeClient(cli)
			}
		}

		for _, cat := range engine.Categories {
			checkpoint := "-"
			from := ch.GenesisBlock
			block, err := ledger.ReadCheckpoint(ctx, ch.Key(), string(cat))
			switch {
			case err == nil:
				checkpoint = strconv.FormatUint(block, 10)
				from = block
			case errors.Is(err, storage.ErrNoCheckpoint):
				checkpoint = fmt.Sprintf("none (genesis %d)", ch.GenesisBlock)
			default:
				checkpoint = "error: " + err.Error()
			}

			lag := "-"
			if haveHead {
				lag = "0"
				if headBlock > from {
					lag = strconv.FormatUint(headBlock-from, 10)
				}
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", ch.ID, ch.Name, cat, checkpoint, head, lag)
		}
	}
	return tw.Flush()
}
