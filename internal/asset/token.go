package asset

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"callSpread/internal/model"
)

// Token is an in-memory fungible asset with ERC20 semantics. It backs local
// simulations and tests; amounts are base units.
type Token struct {
	mu         sync.RWMutex
	symbol     string
	decimals   uint8
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

func NewToken(symbol string, decimals uint8) *Token {
	return &Token{
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *Token) Symbol() string  { return t.symbol }
func (t *Token) Decimals() uint8 { return t.decimals }

// BalanceOf returns a copy of the holder's balance.
func (t *Token) BalanceOf(holder common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyOrZero(t.balances[holder])
}

// Allowance returns how much spender may pull from owner.
func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyOrZero(t.allowances[owner][spender])
}

// Approve sets the allowance of spender over owner's balance.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return fmt.Errorf("approve spender: %w", model.ErrZeroAddress)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

// Mint credits new units to holder.
func (t *Token) Mint(to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("mint recipient: %w", model.ErrZeroAddress)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(to, amount)
	return nil
}

// Transfer moves amount from one holder to another.
func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("transfer recipient: %w", model.ErrZeroAddress)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if copyOrZero(t.balances[from]).Cmp(amount) < 0 {
		return fmt.Errorf("transfer %s from %s: %w", amount, from.Hex(), model.ErrInsufficientBalance)
	}
	t.debit(from, amount)
	t.credit(to, amount)
	return nil
}

// TransferFrom moves amount from owner to recipient using spender's allowance.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("transfer recipient: %w", model.ErrZeroAddress)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := copyOrZero(t.allowances[from][spender])
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("pull %s from %s: %w", amount, from.Hex(), model.ErrInsufficientAllowance)
	}
	if copyOrZero(t.balances[from]).Cmp(amount) < 0 {
		return fmt.Errorf("pull %s from %s: %w", amount, from.Hex(), model.ErrInsufficientBalance)
	}

	if t.allowances[from] == nil {
		t.allowances[from] = make(map[common.Address]*big.Int)
	}
	t.allowances[from][spender] = allowance.Sub(allowance, amount)
	t.debit(from, amount)
	t.credit(to, amount)
	return nil
}

// State exports balances and allowances for persistence.
func (t *Token) State() model.AssetState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state := model.AssetState{
		Balances:   make(map[common.Address]*big.Int, len(t.balances)),
		Allowances: make(map[common.Address]map[common.Address]*big.Int, len(t.allowances)),
	}
	for holder, bal := range t.balances {
		state.Balances[holder] = new(big.Int).Set(bal)
	}
	for owner, spenders := range t.allowances {
		inner := make(map[common.Address]*big.Int, len(spenders))
		for spender, amount := range spenders {
			inner[spender] = new(big.Int).Set(amount)
		}
		state.Allowances[owner] = inner
	}
	return state
}

// Restore replaces balances and allowances with a persisted state.
func (t *Token) Restore(state model.AssetState) error {
	balances := make(map[common.Address]*big.Int, len(state.Balances))
	for holder, bal := range state.Balances {
		if err := checkAmount(bal); err != nil {
			return fmt.Errorf("balance of %s: %w", holder.Hex(), err)
		}
		balances[holder] = new(big.Int).Set(bal)
	}
	allowances := make(map[common.Address]map[common.Address]*big.Int, len(state.Allowances))
	for owner, spenders := range state.Allowances {
		inner := make(map[common.Address]*big.Int, len(spenders))
		for spender, amount := range spenders {
			if err := checkAmount(amount); err != nil {
				return fmt.Errorf("allowance of %s: %w", owner.Hex(), err)
			}
			inner[spender] = new(big.Int).Set(amount)
		}
		allowances[owner] = inner
	}

	t.mu.Lock()
	t.balances = balances
	t.allowances = allowances
	t.mu.Unlock()
	return nil
}

func (t *Token) credit(holder common.Address, amount *big.Int) {
	bal := copyOrZero(t.balances[holder])
	t.balances[holder] = bal.Add(bal, amount)
}

func (t *Token) debit(holder common.Address, amount *big.Int) {
	bal := copyOrZero(t.balances[holder])
	t.balances[holder] = bal.Sub(bal, amount)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return model.ErrInvalidAmount
	}
	return nil
}

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
