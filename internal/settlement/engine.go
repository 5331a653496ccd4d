package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"callSpread/internal/ledger"
	"callSpread/internal/model"
	"callSpread/internal/oracle"
	"callSpread/internal/payoff"
	"callSpread/internal/vault"
)

// Config holds engine settings.
type Config struct {
	// Address is the account that custodies collateral and acts as the
	// ledger operator for purchases.
	Address common.Address
	Scale   payoff.Scale
}

// CreateRequest carries the parameters of a new call spread.
type CreateRequest struct {
	StrikeLow   *big.Int
	StrikeHigh  *big.Int
	Expiry      uint64
	Collateral  *big.Int
	MetadataURI string
}

// ExerciseResult describes a completed settlement.
type ExerciseResult struct {
	ID           uint64
	PriceUsed    *big.Int
	RawPayoff    *big.Int
	PayoffAmount *big.Int
	Remainder    *big.Int
	Owner        common.Address
	Seller       common.Address
}

// Engine is the only writer of the position ledger and the collateral vault.
// Every mutating operation runs under one lock, so its ledger and vault
// effects are applied together or not at all.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	ledger *ledger.Ledger
	vault  *vault.Vault
	feed   oracle.Feed
	clock  Clock
	logger *zap.Logger
	events []model.Event
}

// NewEngine wires an engine around a collateral asset and a price feed.
func NewEngine(cfg Config, asset vault.Asset, feed oracle.Feed, clock Clock, logger *zap.Logger) (*Engine, error) {
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("engine address: %w", model.ErrZeroAddress)
	}
	if err := cfg.Scale.Validate(); err != nil {
		return nil, fmt.Errorf("scale: %w", err)
	}
	if asset == nil {
		return nil, fmt.Errorf("collateral asset is nil")
	}
	if feed == nil {
		return nil, fmt.Errorf("price feed is nil")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cfg:    cfg,
		ledger: ledger.New(cfg.Address),
		vault:  vault.New(cfg.Address, asset),
		feed:   feed,
		clock:  clock,
		logger: logger,
	}, nil
}

// Address returns the custody account callers must approve.
func (e *Engine) Address() common.Address {
	return e.cfg.Address
}

// Scale returns the payoff conversion settings.
func (e *Engine) Scale() payoff.Scale {
	return e.cfg.Scale
}

// Now returns the engine clock reading.
func (e *Engine) Now() uint64 {
	return e.clock.Now()
}

// CreateCallSpread escrows collateral from caller and mints a position owned by caller.
func (e *Engine) CreateCallSpread(ctx context.Context, caller common.Address, req CreateRequest) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if req.StrikeLow == nil || req.StrikeHigh == nil || req.StrikeLow.Sign() < 0 || req.StrikeLow.Cmp(req.StrikeHigh) >= 0 {
		return 0, model.ErrInvalidStrikes
	}
	if req.Expiry <= now {
		return 0, model.ErrInvalidExpiry
	}
	if req.Collateral == nil || req.Collateral.Sign() <= 0 {
		return 0, fmt.Errorf("collateral: %w", model.ErrInvalidAmount)
	}
	if caller == (common.Address{}) {
		return 0, fmt.Errorf("caller: %w", model.ErrZeroAddress)
	}
	maxPayout := e.cfg.Scale.MaxPayout(req.StrikeLow, req.StrikeHigh)
	if req.Collateral.Cmp(maxPayout) < 0 {
		return 0, fmt.Errorf("collateral %s below max payout %s: %w", req.Collateral, maxPayout, model.ErrUndercollateralized)
	}

	next := e.ledger.Count()
	if err := e.vault.Escrow(next, caller, req.Collateral); err != nil {
		return 0, err
	}

	id, err := e.ledger.Create(ledger.CreateParams{
		StrikeLow:   req.StrikeLow,
		StrikeHigh:  req.StrikeHigh,
		Expiry:      req.Expiry,
		Collateral:  req.Collateral,
		MetadataURI: req.MetadataURI,
		Creator:     caller,
	}, now)
	if err == nil && id != next {
		err = fmt.Errorf("ledger allocated id %d, escrowed against %d", id, next)
	}
	if err != nil {
		if refundErr := e.vault.Release(next, caller, req.Collateral); refundErr != nil {
			e.logger.Error("refund escrow failed", zap.Uint64("id", next), zap.Error(refundErr))
		}
		return 0, fmt.Errorf("create position: %w", err)
	}

	e.emit(model.Event{
		Name:       model.EventCallSpreadCreated,
		PositionID: id,
		Timestamp:  now,
		Seller:     caller.Hex(),
		StrikeLow:  req.StrikeLow.String(),
		StrikeHigh: req.StrikeHigh.String(),
		Expiry:     req.Expiry,
	})
	e.logger.Info("call spread created",
		zap.Uint64("id", id),
		zap.String("seller", caller.Hex()),
		zap.String("strike_low", req.StrikeLow.String()),
		zap.String("strike_high", req.StrikeHigh.String()),
		zap.Uint64("expiry", req.Expiry),
		zap.String("collateral", req.Collateral.String()),
	)
	return id, nil
}

// BuyCallSpread transfers position id to caller. No premium is exchanged here.
func (e *Engine) BuyCallSpread(ctx context.Context, caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ledger.Purchase(id, caller); err != nil {
		return err
	}

	e.emit(model.Event{
		Name:       model.EventCallSpreadPurchased,
		PositionID: id,
		Timestamp:  e.clock.Now(),
		Buyer:      caller.Hex(),
	})
	e.logger.Info("call spread purchased", zap.Uint64("id", id), zap.String("buyer", caller.Hex()))
	return nil
}

// TransferPosition moves a position held by caller to another holder. The
// current holder at exercise time receives the payoff.
func (e *Engine) TransferPosition(ctx context.Context, caller common.Address, id uint64, to common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, err := e.ledger.TransferOwnership(id, caller, to)
	if err != nil {
		return err
	}

	e.emit(model.Event{
		Name:       model.EventPositionTransferred,
		PositionID: id,
		Timestamp:  e.clock.Now(),
		From:       prev.Hex(),
		To:         to.Hex(),
	})
	e.logger.Info("position transferred", zap.Uint64("id", id), zap.String("from", prev.Hex()), zap.String("to", to.Hex()))
	return nil
}

// ExerciseCallSpread settles an expired position from a single oracle read:
// the owner receives the payoff and the seller the remaining collateral.
func (e *Engine) ExerciseCallSpread(ctx context.Context, id uint64) (ExerciseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.ledger.Get(id)
	if err != nil {
		return ExerciseResult{}, err
	}
	now := e.clock.Now()
	if now <= pos.Expiry {
		return ExerciseResult{}, fmt.Errorf("position %d expires at %d, now %d: %w", id, pos.Expiry, now, model.ErrNotExpired)
	}
	if pos.Exercised {
		return ExerciseResult{}, fmt.Errorf("position %d: %w", id, model.ErrAlreadyExercised)
	}

	price, err := e.feed.LatestPrice(ctx)
	if err != nil {
		if !errors.Is(err, model.ErrOracleUnavailable) {
			err = fmt.Errorf("%w: %v", model.ErrOracleUnavailable, err)
		}
		return ExerciseResult{}, fmt.Errorf("exercise position %d: %w", id, err)
	}

	settlePrice := payoff.Rescale(price.Value, price.Decimals, e.cfg.Scale.PriceDecimals)
	raw := payoff.Payoff(pos.StrikeLow, pos.StrikeHigh, settlePrice)
	amount := e.cfg.Scale.ToCollateral(raw)
	if amount.Cmp(pos.Collateral) > 0 {
		e.logger.Warn("payoff capped at collateral", zap.Uint64("id", id), zap.String("payoff", amount.String()), zap.String("collateral", pos.Collateral.String()))
		amount = new(big.Int).Set(pos.Collateral)
	}
	remainder := new(big.Int).Sub(pos.Collateral, amount)

	if escrowed := e.vault.Escrowed(id); escrowed.Cmp(pos.Collateral) < 0 {
		return ExerciseResult{}, fmt.Errorf("position %d escrow %s below collateral %s: %w", id, escrowed, pos.Collateral, model.ErrInsufficientEscrow)
	}
	if err := e.vault.CanSettle(id, pos.Collateral); err != nil {
		return ExerciseResult{}, fmt.Errorf("settle position %d: %w", id, err)
	}

	undo, err := e.ledger.MarkExercised(id)
	if err != nil {
		return ExerciseResult{}, err
	}
	if err := e.vault.Settle(id,
		vault.Payout{To: pos.Owner, Amount: amount},
		vault.Payout{To: pos.Seller, Amount: remainder},
	); err != nil {
		undo()
		e.logger.Error("settlement transfer failed, position left open", zap.Uint64("id", id), zap.Error(err))
		return ExerciseResult{}, fmt.Errorf("settle position %d: %w", id, err)
	}

	e.emit(model.Event{
		Name:         model.EventCallSpreadExercised,
		PositionID:   id,
		Timestamp:    now,
		PayoffAmount: amount.String(),
		PriceUsed:    price.Value.String(),
	})
	e.logger.Info("call spread exercised",
		zap.Uint64("id", id),
		zap.String("price", price.Value.String()),
		zap.String("payoff", amount.String()),
		zap.String("remainder", remainder.String()),
		zap.String("owner", pos.Owner.Hex()),
		zap.String("seller", pos.Seller.Hex()),
	)

	return ExerciseResult{
		ID:           id,
		PriceUsed:    new(big.Int).Set(price.Value),
		RawPayoff:    raw,
		PayoffAmount: amount,
		Remainder:    remainder,
		Owner:        pos.Owner,
		Seller:       pos.Seller,
	}, nil
}

// CalculatePayoff quotes the raw payoff of position id at an arbitrary price in
// strike units. It does not read the oracle or change state.
func (e *Engine) CalculatePayoff(id uint64, price *big.Int) (*big.Int, error) {
	if price == nil || price.Sign() < 0 {
		return nil, fmt.Errorf("price: %w", model.ErrInvalidAmount)
	}
	pos, err := e.ledger.Get(id)
	if err != nil {
		return nil, err
	}
	return payoff.Payoff(pos.StrikeLow, pos.StrikeHigh, price), nil
}

// Position returns a copy of position id.
func (e *Engine) Position(id uint64) (model.Position, error) {
	return e.ledger.Get(id)
}

// OwnerOf returns the current holder of position id.
func (e *Engine) OwnerOf(id uint64) (common.Address, error) {
	return e.ledger.OwnerOf(id)
}

// Count returns the number of positions ever created.
func (e *Engine) Count() uint64 {
	return e.ledger.Count()
}

// Escrowed returns the live collateral held for position id.
func (e *Engine) Escrowed(id uint64) *big.Int {
	return e.vault.Escrowed(id)
}

// EventCount returns the length of the event log.
func (e *Engine) EventCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return uint64(len(e.events))
}

// Events returns up to limit events starting at sequence number from.
func (e *Engine) Events(from uint64, limit int) []model.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if from >= uint64(len(e.events)) || limit <= 0 {
		return nil
	}
	end := from + uint64(limit)
	if end > uint64(len(e.events)) {
		end = uint64(len(e.events))
	}
	out := make([]model.Event, end-from)
	copy(out, e.events[from:end])
	return out
}

// Snapshot captures ledger, escrow and event log state.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	events := make([]model.Event, len(e.events))
	copy(events, e.events)
	return model.Snapshot{
		Version:   model.SnapshotVersion,
		NextID:    e.ledger.Count(),
		Positions: e.ledger.Positions(),
		Escrow:    e.vault.Balances(),
		Events:    events,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Restore loads ledger, escrow and event log state from a snapshot.
func (e *Engine) Restore(snap model.Snapshot) error {
	if snap.Version != 0 && snap.Version != model.SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ledger.Restore(snap.NextID, snap.Positions); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	if err := e.vault.Restore(snap.Escrow); err != nil {
		return fmt.Errorf("restore vault: %w", err)
	}
	e.events = make([]model.Event, len(snap.Events))
	copy(e.events, snap.Events)
	for i := range e.events {
		e.events[i].Seq = uint64(i)
	}
	return nil
}

func (e *Engine) emit(ev model.Event) {
	ev.Seq = uint64(len(e.events))
	e.events = append(e.events, ev)
}
