package ledger

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"callSpread/internal/model"
)

// CreateParams describes a new position.
type CreateParams struct {
	StrikeLow   *big.Int
	StrikeHigh  *big.Int
	Expiry      uint64
	Collateral  *big.Int
	MetadataURI string
	Creator     common.Address
}

// Ledger is the authoritative store of positions keyed by id.
//
// The operator address may move ownership on behalf of a holder; it stands for
// the settlement engine's purchase operation.
type Ledger struct {
	mu        sync.RWMutex
	operator  common.Address
	nextID    uint64
	positions map[uint64]*model.Position
}

func New(operator common.Address) *Ledger {
	return &Ledger{
		operator:  operator,
		positions: make(map[uint64]*model.Position),
	}
}

// Operator returns the address allowed to transfer any position.
func (l *Ledger) Operator() common.Address {
	return l.operator
}

// Create validates params against now and stores a new open position.
func (l *Ledger) Create(p CreateParams, now uint64) (uint64, error) {
	if p.StrikeLow == nil || p.StrikeHigh == nil || p.StrikeLow.Sign() < 0 || p.StrikeLow.Cmp(p.StrikeHigh) >= 0 {
		return 0, model.ErrInvalidStrikes
	}
	if p.Expiry <= now {
		return 0, model.ErrInvalidExpiry
	}
	if p.Collateral == nil || p.Collateral.Sign() <= 0 {
		return 0, fmt.Errorf("collateral: %w", model.ErrInvalidAmount)
	}
	if p.Creator == (common.Address{}) {
		return 0, fmt.Errorf("creator: %w", model.ErrZeroAddress)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.positions[id] = &model.Position{
		ID:          id,
		StrikeLow:   new(big.Int).Set(p.StrikeLow),
		StrikeHigh:  new(big.Int).Set(p.StrikeHigh),
		Expiry:      p.Expiry,
		Collateral:  new(big.Int).Set(p.Collateral),
		Seller:      p.Creator,
		Owner:       p.Creator,
		MetadataURI: p.MetadataURI,
		CreatedAt:   now,
	}
	return id, nil
}

// Get returns a copy of the position.
func (l *Ledger) Get(id uint64) (model.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[id]
	if !ok {
		return model.Position{}, fmt.Errorf("position %d: %w", id, model.ErrUnknownPosition)
	}
	return pos.Clone(), nil
}

// OwnerOf returns the current holder of a position.
func (l *Ledger) OwnerOf(id uint64) (common.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[id]
	if !ok {
		return common.Address{}, fmt.Errorf("position %d: %w", id, model.ErrUnknownPosition)
	}
	return pos.Owner, nil
}

// Count returns the number of ids ever allocated. Ids are dense in [0, Count).
func (l *Ledger) Count() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextID
}

// TransferOwnership moves a position to newOwner. Only the current owner or the
// operator may call it. It returns the previous owner.
func (l *Ledger) TransferOwnership(id uint64, caller, newOwner common.Address) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.authorize(id, caller, newOwner)
	if err != nil {
		return common.Address{}, err
	}
	prev := pos.Owner
	pos.Owner = newOwner
	return prev, nil
}

// Purchase is the operator transfer used by the purchase operation. It also
// records the buyer.
func (l *Ledger) Purchase(id uint64, buyer common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.authorize(id, l.operator, buyer)
	if err != nil {
		return err
	}
	pos.Owner = buyer
	pos.Buyer = buyer
	return nil
}

// MarkExercised flips the exercised flag. It is the single guard against
// settling a position twice. The returned undo clears the flag again and is
// only meant for a settlement that failed before any funds moved.
func (l *Ledger) MarkExercised(id uint64) (undo func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %d: %w", id, model.ErrUnknownPosition)
	}
	if pos.Exercised {
		return nil, fmt.Errorf("position %d: %w", id, model.ErrAlreadyExercised)
	}
	pos.Exercised = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.positions[id]; ok && cur == pos {
				cur.Exercised = false
			}
		})
	}, nil
}

// Positions returns copies of every position ordered by id.
func (l *Ledger) Positions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore replaces the ledger contents with persisted positions.
func (l *Ledger) Restore(nextID uint64, positions []model.Position) error {
	restored := make(map[uint64]*model.Position, len(positions))
	for _, pos := range positions {
		if pos.ID >= nextID {
			return fmt.Errorf("position %d beyond next id %d", pos.ID, nextID)
		}
		if pos.StrikeLow == nil || pos.StrikeHigh == nil || pos.StrikeLow.Cmp(pos.StrikeHigh) >= 0 {
			return fmt.Errorf("position %d: %w", pos.ID, model.ErrInvalidStrikes)
		}
		if _, dup := restored[pos.ID]; dup {
			return fmt.Errorf("duplicate position %d", pos.ID)
		}
		clone := pos.Clone()
		restored[pos.ID] = &clone
	}

	l.mu.Lock()
	l.nextID = nextID
	l.positions = restored
	l.mu.Unlock()
	return nil
}

func (l *Ledger) authorize(id uint64, caller, newOwner common.Address) (*model.Position, error) {
	pos, ok := l.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %d: %w", id, model.ErrUnknownPosition)
	}
	if newOwner == (common.Address{}) {
		return nil, fmt.Errorf("new owner: %w", model.ErrZeroAddress)
	}
	if caller != pos.Owner && (l.operator == (common.Address{}) || caller != l.operator) {
		return nil, fmt.Errorf("transfer position %d by %s: %w", id, caller.Hex(), model.ErrUnauthorized)
	}
	return pos, nil
}
