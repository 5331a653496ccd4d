package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Position is a single tokenized call spread.
type Position struct {
	ID          uint64         `json:"id"`
	StrikeLow   *big.Int       `json:"strike_low"`
	StrikeHigh  *big.Int       `json:"strike_high"`
	Expiry      uint64         `json:"expiry"`
	Collateral  *big.Int       `json:"collateral"`
	Seller      common.Address `json:"seller"`
	Owner       common.Address `json:"owner"`
	Buyer       common.Address `json:"buyer"`
	Exercised   bool           `json:"exercised"`
	MetadataURI string         `json:"metadata_uri"`
	CreatedAt   uint64         `json:"created_at"`
}

// Clone returns a deep copy so callers cannot mutate ledger state through shared big.Int values.
func (p Position) Clone() Position {
	out := p
	out.StrikeLow = cloneInt(p.StrikeLow)
	out.StrikeHigh = cloneInt(p.StrikeHigh)
	out.Collateral = cloneInt(p.Collateral)
	return out
}

// Purchased reports whether the position went through the purchase operation.
func (p Position) Purchased() bool {
	return p.Buyer != (common.Address{})
}

// ExercisableAt reports whether an exercise at timestamp now would pass the expiry and exercised checks.
func (p Position) ExercisableAt(now uint64) bool {
	return !p.Exercised && now > p.Expiry
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
