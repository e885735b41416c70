package evm

import (
	"errors"
)

// ErrUnknownContract is returned when a query targets an address with no bound ABI.
var ErrUnknownContract = errors.New("no abi bound to contract")

// ErrUnknownEvent is returned when the bound ABI has no event of the requested name.
var ErrUnknownEvent = errors.New("event not found in abi")

// Query selects one event kind emitted by one contract over an inclusive block range.
type Query struct {
	Contract  string
	Event     string
	FromBlock uint64
	ToBlock   uint64
}
