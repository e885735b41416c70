package event

import (
	"errors"
	"net/http"
)

// Kind names a raw contract event as it appears in the ABI.
type Kind string

const (
	KindNewTrade           Kind = "NewTrade"
	KindCancel             Kind = "Cancel"
	KindNewStackDeposit    Kind = "NewStackDeposit"
	KindNewStackWithdrawal Kind = "NewStackWithdrawal"
	KindNewFeesDeposit     Kind = "NewFeesDeposit"
	KindNewFeesWithdrawal  Kind = "NewFeesWithdrawal"
)

// ErrUnknownKind is returned when a raw event has no translation.
var ErrUnknownKind = errors.New("unknown event kind")

// Raw is a decoded contract log. Args holds the ABI-decoded arguments keyed by
// their ABI names.
type Raw struct {
	Kind        Kind
	Contract    string
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	Args        map[string]any
}

// Endpoint identifies a downstream API route independently of its configured path.
type Endpoint string

const (
	EndpointWatchTower     Endpoint = "watch_tower"
	EndpointStacking       Endpoint = "stacking"
	EndpointStackingFees   Endpoint = "stacking_fees"
	EndpointFeesWithdrawal Endpoint = "fees_withdrawal"
)

// Route tells the delivery client where a domain event goes.
type Route struct {
	Method   string
	Endpoint Endpoint
}

// Domain is a normalized event ready to be signed and delivered.
type Domain interface {
	Route() Route
	Fields() Fields
}

// Trade is a filled order on the dex.
type Trade struct {
	Taker       string
	OrderHash   string
	Amount      string
	Fees        string
	BaseFees    string
	IsBuyer     bool
	BlockNumber uint64
}

func (Trade) Route() Route { return Route{Method: http.MethodPost, Endpoint: EndpointWatchTower} }

func (t Trade) Fields() Fields {
	return Fields{
		{Key: "taker", Value: t.Taker},
		{Key: "block", Value: t.BlockNumber},
		{Key: "trades", Value: Fields{
			{Key: t.OrderHash, Value: Fields{
				{Key: "amount", Value: t.Amount},
				{Key: "fees", Value: t.Fees},
				{Key: "base_fees", Value: t.BaseFees},
				{Key: "is_buyer", Value: t.IsBuyer},
			}},
		}},
	}
}

// Cancel is an order cancellation on the dex.
type Cancel struct {
	OrderHash  string
	BaseToken  string
	QuoteToken string
}

func (Cancel) Route() Route { return Route{Method: http.MethodDelete, Endpoint: EndpointWatchTower} }

func (c Cancel) Fields() Fields {
	return Fields{
		{Key: "orderHash", Value: c.OrderHash},
		{Key: "baseToken", Value: c.BaseToken},
		{Key: "quoteToken", Value: c.QuoteToken},
	}
}

// StakeMovement is a deposit into or withdrawal from a staking slot.
type StakeMovement struct {
	ChainID  uint64
	Slot     string
	Amount   string
	Address  string
	Withdraw bool
}

func (StakeMovement) Route() Route { return Route{Method: http.MethodPost, Endpoint: EndpointStacking} }

func (s StakeMovement) Fields() Fields {
	return Fields{
		{Key: "address", Value: s.Address},
		{Key: "withdraw", Value: s.Withdraw},
		{Key: "amount", Value: s.Amount},
		{Key: "slot", Value: s.Slot},
		{Key: "chain_id", Value: s.ChainID},
	}
}

// FeeDeposit credits fees of one token to a staking slot.
type FeeDeposit struct {
	ChainID uint64
	Slot    string
	Token   string
	Amount  string
}

func (FeeDeposit) Route() Route { return Route{Method: http.MethodPost, Endpoint: EndpointStackingFees} }

func (f FeeDeposit) Fields() Fields {
	return Fields{
		{Key: "slot", Value: f.Slot},
		{Key: "token", Value: f.Token},
		{Key: "amount", Value: f.Amount},
		{Key: "chain_id", Value: f.ChainID},
	}
}

// FeeWithdrawal is the withdrawal of one token's fees from a staking slot.
type FeeWithdrawal struct {
	ChainID uint64
	Slot    string
	Address string
	Token   string
}

func (FeeWithdrawal) Route() Route {
	return Route{Method: http.MethodPost, Endpoint: EndpointFeesWithdrawal}
}

func (f FeeWithdrawal) Fields() Fields {
	return Fields{
		{Key: "slot", Value: f.Slot},
		{Key: "address", Value: f.Address},
		{Key: "token", Value: f.Token},
		{Key: "chain_id", Value: f.ChainID},
	}
}
