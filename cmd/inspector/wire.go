package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/devblac/chain-inspector/internal/config"
	"github.com/devblac/chain-inspector/internal/engine"
	"github.com/devblac/chain-inspector/internal/event"
	"github.com/devblac/chain-inspector/internal/metrics"
	"github.com/devblac/chain-inspector/internal/sink"
	"github.com/devblac/chain-inspector/internal/source/evm"
	"github.com/devblac/chain-inspector/internal/storage"
)

// dialFunc opens the RPC client of a chain.
type dialFunc func(rpcURL string) (evm.BlockClient, error)

func dialRPC(rpcURL string) (evm.BlockClient, error) {
	return evm.NewRPCClient(rpcURL)
}

// closeClient releases the connection of clients that hold one.
func closeClient(cli evm.BlockClient) {
	if c, ok := cli.(interface{ Close() }); ok {
		c.Close()
	}
}

type wiring struct {
	inspectors []*engine.Inspector
	clients    map[string]evm.BlockClient
}

func (w *wiring) close() {
	for _, cli := range w.clients {
		closeClient(cli)
	}
}

// wire builds one inspector per selected chain. chainFilter 0 selects all chains.
func wire(cfg *config.Config, dial dialFunc, ledger storage.Ledger, notifiers []sink.Notifier, mtr *metrics.Metrics, log *slog.Logger, dryRun bool, chainFilter uint64) (*wiring, error) {
	client, err := sink.NewClient(cfg.API.BaseURL, apiPaths(cfg.API.Paths), cfg.Global.HTTPTimeoutDuration())
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}
	signer := sink.NewSigner(cfg.API.Secret)

	w := &wiring{clients: map[string]evm.BlockClient{}}
	for _, ch := range cfg.Chains {
		if chainFilter != 0 && ch.ID != chainFilter {
			continue
		}
		cli, err := dial(ch.RPCURL)
		if err != nil {
			w.close()
			return nil, fmt.Errorf("chain %s: %w", ch.Name, err)
		}
		w.clients[ch.Key()] = cli
		src, err := chainSource(ch, cli)
		if err != nil {
			w.close()
			return nil, fmt.Errorf("chain %s: %w", ch.Name, err)
		}
		insp, err := engine.NewInspector(engine.Options{
			ChainID:         ch.ID,
			DexContract:     ch.DexContract,
			StakingContract: ch.StakingContract,
			GenesisBlock:    ch.GenesisBlock,
			MaxRange:        cfg.Global.MaxRange,
			DeliveryWorkers: cfg.Global.DeliveryWorkers,
			RunTimeout:      cfg.Global.RunTimeoutDuration(),
			DryRun:          dryRun,
		}, src, client, signer, ledger, notifiers, mtr, log)
		if err != nil {
			w.close()
			return nil, fmt.Errorf("chain %s: %w", ch.Name, err)
		}
		w.inspectors = append(w.inspectors, insp)
	}
	if len(w.inspectors) == 0 {
		w.close()
		return nil, fmt.Errorf("no configured chain matches id %d", chainFilter)
	}
	return w, nil
}

// chainSource binds the built-in ABIs, overlaid with any abi_dirs, to the
// chain's two contracts.
func chainSource(ch config.Chain, cli evm.BlockClient) (*evm.Source, error) {
	dex, err := evm.DexABI()
	if err != nil {
		return nil, err
	}
	staking, err := evm.StakingABI()
	if err != nil {
		return nil, err
	}
	if len(ch.ABIDirs) > 0 {
		loaded, err := evm.LoadABIs(ch.ABIDirs)
		if err != nil {
			return nil, fmt.Errorf("load abi dirs: %w", err)
		}
		dex = evm.Overlay(dex, loaded)
		staking = evm.Overlay(staking, loaded)
	}
	return evm.NewSource(cli, map[string]*abi.ABI{
		ch.DexContract:     dex,
		ch.StakingContract: staking,
	})
}

func apiPaths(p config.Paths) map[event.Endpoint]string {
	return map[event.Endpoint]string{
		event.EndpointWatchTower:     p.WatchTower,
		event.EndpointStacking:       p.Stacking,
		event.EndpointStackingFees:   p.StackingFees,
		event.EndpointFeesWithdrawal: p.FeesWithdrawal,
	}
}

func buildNotifiers(cfgs []config.Notify) ([]sink.Notifier, error) {
	out := make([]sink.Notifier, 0, len(cfgs))
	for _, n := range cfgs {
		var limiter *sink.TokenBucket
		if n.RatePerMinute > 0 {
			burst := n.Burst
			if burst == 0 {
				burst = 1
			}
			limiter = sink.NewTokenBucket(burst, n.RatePerMinute/60)
		}
		var (
			notifier sink.Notifier
			err      error
		)
		switch strings.ToLower(n.Type) {
		case "slack":
			notifier, err = sink.NewSlackNotifier(n.WebhookURL, n.Template, limiter)
		case "teams":
			notifier, err = sink.NewTeamsNotifier(n.WebhookURL, n.Template, limiter)
		case "webhook":
			notifier, err = sink.NewWebhookNotifier(n.URL, n.Method, n.Template, nil, limiter)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("notify %s: %w", n.ID, err)
		}
		out = append(out, notifier)
	}
	return out, nil
}
