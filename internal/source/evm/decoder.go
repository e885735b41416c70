package evm

import (
	"fmt"

	"github.com/devblac/chain-inspector/internal/event"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
)

// Decoder turns logs of a single ABI event into raw events.
type Decoder struct {
	event *abi.Event
}

// NewDecoder builds a decoder for the named event of a contract ABI.
func NewDecoder(contract *abi.ABI, name string) (*Decoder, error) {
	ev, ok := contract.Events[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	return &Decoder{event: &ev}, nil
}

// Decode checks topic0 and unpacks indexed and non-indexed arguments.
func (d *Decoder) Decode(log types.Log) (event.Raw, error) {
	if len(log.Topics) == 0 || log.Topics[0] != d.event.ID {
		return event.Raw{}, fmt.Errorf("log %s#%d is not a %s event", log.TxHash.Hex(), log.Index, d.event.Name)
	}

	args := map[string]any{}
	indexed, nonIndexed := splitIndexed(d.event.Inputs)
	if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
		return event.Raw{}, fmt.Errorf("parse topics: %w", err)
	}
	if err := nonIndexed.UnpackIntoMap(args, log.Data); err != nil {
		return event.Raw{}, fmt.Errorf("unpack data: %w", err)
	}

	return event.Raw{
		Kind:        event.Kind(d.event.Name),
		Contract:    log.Address.Hex(),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    log.Index,
		Args:        args,
	}, nil
}

func splitIndexed(args abi.Arguments) (indexed abi.Arguments, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}
