package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SnapshotVersion is bumped whenever the snapshot layout changes incompatibly.
const SnapshotVersion = 1

// Snapshot is the full persisted market state between CLI invocations.
type Snapshot struct {
	Version      int                 `json:"version"`
	NextID       uint64              `json:"next_id"`
	Positions    []Position          `json:"positions"`
	Escrow       map[uint64]*big.Int `json:"escrow"`
	Asset        AssetState          `json:"asset"`
	Events       []Event             `json:"events"`
	KeeperCursor uint64              `json:"keeper_cursor"`
	UpdatedAt    string              `json:"updated_at"`
}

// AssetState holds balances and allowances of the collateral asset.
type AssetState struct {
	Balances   map[common.Address]*big.Int                    `json:"balances"`
	Allowances map[common.Address]map[common.Address]*big.Int `json:"allowances"`
}
