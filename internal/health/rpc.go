package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/devblac/chain-inspector/internal/source/evm"
)

// RPCChecker pings the RPC endpoint of every tracked chain.
type RPCChecker struct {
	clients map[string]evm.BlockClient
}

// NewRPCChecker creates a checker keyed by chain id.
func NewRPCChecker(clients map[string]evm.BlockClient) *RPCChecker {
	return &RPCChecker{clients: clients}
}

// Ping fetches the latest header of every chain and joins the failures.
func (c *RPCChecker) Ping(ctx context.Context) error {
	var errs []error
	for id, cli := range c.clients {
		if _, err := cli.HeaderByNumber(ctx, nil); err != nil {
			errs = append(errs, fmt.Errorf("chain %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
