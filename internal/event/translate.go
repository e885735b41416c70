package event

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Translate maps a raw contract event to the domain events it produces.
// NewFeesWithdrawal fans out to one FeeWithdrawal per token; every other kind
// yields exactly one event. Translate performs no I/O.
func Translate(chainID uint64, raw Raw) ([]Domain, error) {
	switch raw.Kind {
	case KindNewTrade:
		return translateTrade(raw)
	case KindCancel:
		return translateCancel(raw)
	case KindNewStackDeposit:
		return translateStake(chainID, raw, false)
	case KindNewStackWithdrawal:
		return translateStake(chainID, raw, true)
	case KindNewFeesDeposit:
		return translateFeesDeposit(chainID, raw)
	case KindNewFeesWithdrawal:
		return translateFeesWithdrawal(chainID, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, raw.Kind)
	}
}

func translateTrade(raw Raw) ([]Domain, error) {
	a := argReader{kind: raw.Kind, args: raw.Args}
	t := Trade{
		Taker:       a.address("taker"),
		OrderHash:   a.hash("orderHash"),
		Amount:      a.decimal("amount"),
		Fees:        a.decimal("fees"),
		BaseFees:    a.decimal("baseFees"),
		IsBuyer:     !a.boolean("isSeller"),
		BlockNumber: raw.BlockNumber,
	}
	if a.err != nil {
		return nil, a.err
	}
	return []Domain{t}, nil
}

func translateCancel(raw Raw) ([]Domain, error) {
	a := argReader{kind: raw.Kind, args: raw.Args}
	c := Cancel{
		OrderHash:  a.hash("orderHash"),
		BaseToken:  a.address("baseToken"),
		QuoteToken: a.address("quoteToken"),
	}
	if a.err != nil {
		return nil, a.err
	}
	return []Domain{c}, nil
}

func translateStake(chainID uint64, raw Raw, withdraw bool) ([]Domain, error) {
	a := argReader{kind: raw.Kind, args: raw.Args}
	s := StakeMovement{
		ChainID:  chainID,
		Slot:     a.decimal("slot"),
		Amount:   a.decimal("amount"),
		Address:  a.address("account"),
		Withdraw: withdraw,
	}
	if a.err != nil {
		return nil, a.err
	}
	return []Domain{s}, nil
}

func translateFeesDeposit(chainID uint64, raw Raw) ([]Domain, error) {
	a := argReader{kind: raw.Kind, args: raw.Args}
	f := FeeDeposit{
		ChainID: chainID,
		Slot:    a.decimal("slot"),
		Token:   a.address("token"),
		Amount:  a.decimal("amount"),
	}
	if a.err != nil {
		return nil, a.err
	}
	return []Domain{f}, nil
}

func translateFeesWithdrawal(chainID uint64, raw Raw) ([]Domain, error) {
	a := argReader{kind: raw.Kind, args: raw.Args}
	slot := a.decimal("slot")
	account := a.address("account")
	tokens := a.addresses("tokens")
	if a.err != nil {
		return nil, a.err
	}
	out := make([]Domain, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, FeeWithdrawal{
			ChainID: chainID,
			Slot:    slot,
			Address: account,
			Token:   token,
		})
	}
	return out, nil
}

// argReader pulls typed values out of ABI-decoded args and keeps the first error.
type argReader struct {
	kind Kind
	args map[string]any
	err  error
}

func (a *argReader) get(name string) (any, bool) {
	if a.err != nil {
		return nil, false
	}
	v, ok := a.args[name]
	if !ok {
		a.err = fmt.Errorf("%s: missing argument %q", a.kind, name)
		return nil, false
	}
	return v, true
}

func (a *argReader) fail(name string, v any) {
	a.err = fmt.Errorf("%s: argument %q has unexpected type %T", a.kind, name, v)
}

func (a *argReader) bigInt(name string) *big.Int {
	v, ok := a.get(name)
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			a.fail(name, v)
			return nil
		}
		return n
	case uint64:
		return new(big.Int).SetUint64(n)
	default:
		a.fail(name, v)
		return nil
	}
}

func (a *argReader) decimal(name string) string {
	n := a.bigInt(name)
	if n == nil {
		return ""
	}
	return n.String()
}

// hash renders an order identifier as 0x followed by 64 lowercase hex digits.
func (a *argReader) hash(name string) string {
	v, ok := a.get(name)
	if !ok {
		return ""
	}
	switch h := v.(type) {
	case [32]byte:
		return common.Hash(h).Hex()
	case common.Hash:
		return h.Hex()
	case *big.Int:
		if h == nil || h.Sign() < 0 || h.BitLen() > 256 {
			a.fail(name, v)
			return ""
		}
		return common.BigToHash(h).Hex()
	default:
		a.fail(name, v)
		return ""
	}
}

func (a *argReader) address(name string) string {
	v, ok := a.get(name)
	if !ok {
		return ""
	}
	addr, ok := v.(common.Address)
	if !ok {
		a.fail(name, v)
		return ""
	}
	return addr.Hex()
}

func (a *argReader) addresses(name string) []string {
	v, ok := a.get(name)
	if !ok {
		return nil
	}
	list, ok := v.([]common.Address)
	if !ok {
		a.fail(name, v)
		return nil
	}
	out := make([]string, 0, len(list))
	for _, addr := range list {
		out = append(out, addr.Hex())
	}
	return out
}

func (a *argReader) boolean(name string) bool {
	v, ok := a.get(name)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		a.fail(name, v)
		return false
	}
	return b
}
