package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/devblac/chain-inspector/internal/config"
	"github.com/devblac/chain-inspector/internal/engine"
	"github.com/devblac/chain-inspector/internal/health"
	"github.com/devblac/chain-inspector/internal/logging"
	"github.com/devblac/chain-inspector/internal/metrics"
	"github.com/devblac/chain-inspector/internal/storage"
)

var (
	flagOnce    bool
	flagDryRun  bool
	flagChain   uint64
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Run one tick and exit")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Log events instead of delivering them; checkpoints are not advanced")
	runCmd.Flags().Uint64Var(&flagChain, "chain", 0, "Only inspect the chain with this id")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Analyze trade and staking events on every tick",
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel := os.Getenv("LOG_LEVEL")
		if logLevel == "" {
			logLevel = "info"
		}
		log := logging.NewWithLevel(logLevel)
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ledger, err := storage.Open(cfg.Global.Storage, cfg.Global.DataDir, cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer ledger.Close()

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			log.Info("metrics enabled", "addr", flagMetrics)
		}

		notifiers, err := buildNotifiers(cfg.Notify)
		if err != nil {
			return err
		}

		w, err := wire(cfg, dialRPC, ledger, notifiers, mtr, log, flagDryRun, flagChain)
		if err != nil {
			return err
		}
		defer w.close()
		runner := engine.NewRunner(w.inspectors, log)
		interval := cfg.Global.IntervalDuration()

		if flagHealth != "" {
			rpcChecker := health.NewRPCChecker(w.clients)
			healthSrv := health.Serve(flagHealth, health.Checker{
				StoragePing:   ledger.Ping,
				RPCPing:       rpcChecker.Ping,
				SchedulerPing: runner.Healthy(3 * interval),
			})
			log.Info("health check enabled", "addr", flagHealth)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, healthSrv)
			}()
		}

		if flagMetrics != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: flagMetrics, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server error", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		if flagOnce {
			failed := 0
			for _, res := range runner.Tick(ctx) {
				log.Info("run finished",
					"chain", res.ChainID,
					"category", res.Category,
					"status", res.Status,
					"from", res.Window.From,
					"to", res.Window.To,
					"delivered", res.Delivered,
					"failed", res.Failed,
					"dry_run", res.DryRun,
				)
				if res.Status == engine.StatusFailed {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("run: %d analysis run(s) failed", failed)
			}
			return nil
		}

		log.Info("inspector started", "chains", len(w.inspectors), "interval", interval, "dry_run", flagDryRun)
		err = runner.Run(ctx, interval)
		log.Info("inspector stopped")
		return err
	},
}
