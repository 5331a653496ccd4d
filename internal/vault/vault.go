package vault

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"callSpread/internal/model"
)

// Asset is the subset of the collateral asset interface the vault depends on.
type Asset interface {
	BalanceOf(holder common.Address) *big.Int
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
	Transfer(from, to common.Address, amount *big.Int) error
}

// Vault holds escrowed collateral and tracks the live balance per position.
type Vault struct {
	mu      sync.Mutex
	address common.Address
	asset   Asset
	escrow  map[uint64]*big.Int
}

// New builds a vault that custodies funds at address.
func New(address common.Address, asset Asset) *Vault {
	return &Vault{
		address: address,
		asset:   asset,
		escrow:  make(map[uint64]*big.Int),
	}
}

// Address is the account holding escrowed collateral.
func (v *Vault) Address() common.Address {
	return v.address
}

// Escrow pulls amount from `from` and books it against position id.
func (v *Vault) Escrow(id uint64, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("escrow: %w", model.ErrInvalidAmount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.asset.TransferFrom(v.address, from, v.address, amount); err != nil {
		return fmt.Errorf("escrow position %d: %w", id, err)
	}
	bal := v.balanceLocked(id)
	v.escrow[id] = bal.Add(bal, amount)
	return nil
}

// Escrowed returns the live escrowed balance for a position.
func (v *Vault) Escrowed(id uint64) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balanceLocked(id)
}

// Release pays amount to `to` out of position id's escrow.
func (v *Vault) Release(id uint64, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("release: %w", model.ErrInvalidAmount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.checkLocked(id, amount); err != nil {
		return err
	}
	return v.releaseLocked(id, to, amount)
}

// Payout is one leg of a settlement.
type Payout struct {
	To     common.Address
	Amount *big.Int
}

// CanSettle reports whether position id could release total right now.
func (v *Vault) CanSettle(id uint64, total *big.Int) error {
	if total == nil || total.Sign() < 0 {
		return fmt.Errorf("settle: %w", model.ErrInvalidAmount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.checkLocked(id, total)
}

// Settle releases every payout for a position or none of them. Bookkeeping is
// updated before any transfer is issued; if a leg fails, legs already paid are
// pulled back and the escrow is restored.
func (v *Vault) Settle(id uint64, payouts ...Payout) error {
	total := new(big.Int)
	for _, p := range payouts {
		if p.Amount == nil || p.Amount.Sign() < 0 {
			return fmt.Errorf("settle: %w", model.ErrInvalidAmount)
		}
		total.Add(total, p.Amount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.checkLocked(id, total); err != nil {
		return err
	}

	bal := v.balanceLocked(id)
	v.escrow[id] = new(big.Int).Sub(bal, total)
	for i, p := range payouts {
		if p.Amount.Sign() == 0 {
			continue
		}
		if err := v.asset.Transfer(v.address, p.To, p.Amount); err != nil {
			if rerr := v.unwindLocked(payouts[:i]); rerr != nil {
				return fmt.Errorf("settle position %d to %s: %w (unwind: %v)", id, p.To.Hex(), err, rerr)
			}
			v.escrow[id] = bal
			return fmt.Errorf("settle position %d to %s: %w", id, p.To.Hex(), err)
		}
	}
	return nil
}

// unwindLocked returns already paid legs to the vault, newest first.
func (v *Vault) unwindLocked(paid []Payout) error {
	for i := len(paid) - 1; i >= 0; i-- {
		p := paid[i]
		if p.Amount.Sign() == 0 {
			continue
		}
		if err := v.asset.Transfer(p.To, v.address, p.Amount); err != nil {
			return fmt.Errorf("reclaim %s from %s: %w", p.Amount, p.To.Hex(), err)
		}
	}
	return nil
}

// Balances exports live escrow balances keyed by position id.
func (v *Vault) Balances() map[uint64]*big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make(map[uint64]*big.Int, len(v.escrow))
	for id, bal := range v.escrow {
		out[id] = new(big.Int).Set(bal)
	}
	return out
}

// Restore replaces escrow balances with persisted values.
func (v *Vault) Restore(balances map[uint64]*big.Int) error {
	restored := make(map[uint64]*big.Int, len(balances))
	for id, bal := range balances {
		if bal == nil || bal.Sign() < 0 {
			return fmt.Errorf("escrow of position %d: %w", id, model.ErrInvalidAmount)
		}
		restored[id] = new(big.Int).Set(bal)
	}

	v.mu.Lock()
	v.escrow = restored
	v.mu.Unlock()
	return nil
}

func (v *Vault) checkLocked(id uint64, amount *big.Int) error {
	if v.balanceLocked(id).Cmp(amount) < 0 {
		return fmt.Errorf("release %s from position %d: %w", amount, id, model.ErrInsufficientEscrow)
	}
	if v.asset.BalanceOf(v.address).Cmp(amount) < 0 {
		return fmt.Errorf("vault holdings below %s: %w", amount, model.ErrInsufficientBalance)
	}
	return nil
}

func (v *Vault) releaseLocked(id uint64, to common.Address, amount *big.Int) error {
	bal := v.balanceLocked(id)
	v.escrow[id] = bal.Sub(bal, amount)
	if amount.Sign() == 0 {
		return nil
	}
	if err := v.asset.Transfer(v.address, to, amount); err != nil {
		v.escrow[id] = bal.Add(bal, amount)
		return fmt.Errorf("release position %d to %s: %w", id, to.Hex(), err)
	}
	return nil
}

func (v *Vault) balanceLocked(id uint64) *big.Int {
	bal, ok := v.escrow[id]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}
