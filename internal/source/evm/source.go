package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/devblac/chain-inspector/internal/event"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// BlockClient captures the subset of ethclient used by the source.
type BlockClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// RPCClient is a thin wrapper over ethclient.Client that satisfies BlockClient.
type RPCClient struct {
	*ethclient.Client
}

// NewRPCClient builds an RPC client to an EVM node. Both http(s) and ws(s) URLs are accepted.
func NewRPCClient(rpcURL string) (*RPCClient, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return &RPCClient{Client: c}, nil
}

// Source is the read-only view of one chain: head height and decoded event ranges
// for the contracts bound to it.
type Source struct {
	client    BlockClient
	contracts map[common.Address]*abi.ABI
}

// NewSource builds a source over client. bindings maps contract addresses to their ABI.
func NewSource(client BlockClient, bindings map[string]*abi.ABI) (*Source, error) {
	contracts := make(map[common.Address]*abi.ABI, len(bindings))
	for addr, a := range bindings {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid contract address %q", addr)
		}
		if a == nil {
			return nil, fmt.Errorf("contract %s: nil abi", addr)
		}
		key := common.HexToAddress(addr)
		if _, dup := contracts[key]; dup {
			return nil, fmt.Errorf("contract %s bound twice", key.Hex())
		}
		contracts[key] = a
	}
	return &Source{client: client, contracts: contracts}, nil
}

// HeadBlock returns the number of the latest block known to the node.
func (s *Source) HeadBlock(ctx context.Context) (uint64, error) {
	latest, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}
	if latest == nil || latest.Number == nil {
		return 0, fmt.Errorf("latest header: empty response")
	}
	return latest.Number.Uint64(), nil
}

// QueryEvents returns every q.Event log emitted by q.Contract within
// [q.FromBlock, q.ToBlock], decoded with the contract's ABI, in node order.
func (s *Source) QueryEvents(ctx context.Context, q Query) ([]event.Raw, error) {
	addr := common.HexToAddress(q.Contract)
	contractABI, ok := s.contracts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, q.Contract)
	}
	dec, err := NewDecoder(contractABI, eventName(q.Event))
	if err != nil {
		return nil, err
	}

	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(q.FromBlock),
		ToBlock:   new(big.Int).SetUint64(q.ToBlock),
		Addresses: []common.Address{addr},
		Topics:    [][]common.Hash{{dec.event.ID}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter %s logs [%d,%d]: %w", q.Event, q.FromBlock, q.ToBlock, err)
	}

	out := make([]event.Raw, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		raw, err := dec.Decode(lg)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func eventName(signature string) string {
	if i := strings.Index(signature, "("); i > 0 {
		return signature[:i]
	}
	return signature
}
