package keeper

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"callSpread/internal/asset"
	"callSpread/internal/model"
	"callSpread/internal/oracle"
	"callSpread/internal/payoff"
	"callSpread/internal/settlement"
)

const oneDay = uint64(24 * 60 * 60)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	seller     = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func usd(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000))
}

type harness struct {
	engine *settlement.Engine
	feed   *oracle.MockFeed
	clock  *settlement.ManualClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	token := asset.NewToken("USDT", 18)
	require.NoError(t, token.Mint(seller, tokens(1_000_000)))
	require.NoError(t, token.Approve(seller, engineAddr, tokens(1_000_000)))

	feed := oracle.NewMockFeed(8, usd(27000))
	clock := settlement.NewManualClock(1_700_000_000)
	engine, err := settlement.NewEngine(settlement.Config{Address: engineAddr, Scale: payoff.DefaultScale()}, token, feed, clock, zap.NewNop())
	require.NoError(t, err)
	return &harness{engine: engine, feed: feed, clock: clock}
}

// open creates a position expiring offset seconds from now.
func (h *harness) open(t *testing.T, offset uint64) uint64 {
	t.Helper()
	id, err := h.engine.CreateCallSpread(context.Background(), seller, settlement.CreateRequest{
		StrikeLow:  usd(25000),
		StrikeHigh: usd(30000),
		Expiry:     h.clock.Now() + offset,
		Collateral: tokens(10),
	})
	require.NoError(t, err)
	return id
}

func (h *harness) expire() {
	h.clock.Set(h.clock.Now() + 2*oneDay)
}

func newKeeper(t *testing.T, h *harness, cfg Config) *Keeper {
	t.Helper()
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 10
	}
	k, err := New(cfg, h.engine, nil, zap.NewNop())
	require.NoError(t, err)
	return k
}

func TestScanSkipsIneligible(t *testing.T) {
	h := newHarness(t)
	early := h.open(t, oneDay)
	h.open(t, 10*oneDay)
	h.expire()

	k := newKeeper(t, h, Config{})
	require.Equal(t, []uint64{early}, k.Scan(10))

	_, err := h.engine.ExerciseCallSpread(context.Background(), early)
	require.NoError(t, err)
	require.Empty(t, k.Scan(10))
}

func TestScanEmptyLedger(t *testing.T) {
	h := newHarness(t)
	k := newKeeper(t, h, Config{})
	require.Empty(t, k.Scan(10))

	needed, payload, err := k.CheckUpkeep(nil)
	require.NoError(t, err)
	require.False(t, needed)
	require.Nil(t, payload)
}

func TestScannerWrapsAround(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.open(t, oneDay)
	}
	h.expire()

	s := NewScanner(h.engine, 0, 3)
	require.Equal(t, []uint64{3, 4}, s.Scan(2))
	require.Equal(t, uint64(0), s.Cursor())

	s.SetCursor(3)
	require.Equal(t, []uint64{3, 4, 0, 1, 2}, s.Scan(10))
	require.Equal(t, uint64(3), s.Cursor())
}

func TestScannerInspectLimit(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 6; i++ {
		h.open(t, oneDay)
	}
	h.expire()

	s := NewScanner(h.engine, 4, 0)
	ids, next := s.Peek(10)
	require.Equal(t, []uint64{0, 1, 2, 3}, ids)
	require.Equal(t, uint64(4), next)
	require.Equal(t, uint64(0), s.Cursor())

	require.Equal(t, []uint64{0, 1, 2, 3}, s.Scan(10))
	require.Equal(t, []uint64{4, 5, 0, 1}, s.Scan(10))
}

func TestRunBatchBounds(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 15; i++ {
		h.open(t, oneDay)
	}
	h.expire()

	k := newKeeper(t, h, Config{MaxBatchSize: 10})

	_, err := k.Run(context.Background(), 0)
	require.ErrorIs(t, err, model.ErrBatchSize)

	report, err := k.Run(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 10)
	require.Empty(t, report.Failed)
	require.NotEmpty(t, report.RunID)

	report, err = k.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, []uint64{10, 11, 12, 13, 14}, report.Succeeded)

	report, err = k.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, report.Attempted())
}

func TestRunIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	h.open(t, oneDay)
	h.open(t, oneDay)
	h.expire()

	h.feed.SetError(errors.New("feed down"))
	k := newKeeper(t, h, Config{})
	report, err := k.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, report.Succeeded)
	require.Len(t, report.Failed, 2)
	for _, f := range report.Failed {
		require.Equal(t, "oracle_unavailable", f.Kind)
		require.ErrorIs(t, f.Err, model.ErrOracleUnavailable)
	}

	h.feed.SetError(nil)
	report, err = k.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1}, report.Succeeded)
}

type panicky struct {
	*settlement.Engine
	bad uint64
}

func (p panicky) ExerciseCallSpread(ctx context.Context, id uint64) (settlement.ExerciseResult, error) {
	if id == p.bad {
		panic("boom")
	}
	return p.Engine.ExerciseCallSpread(ctx, id)
}

func TestRunRecoversPanic(t *testing.T) {
	h := newHarness(t)
	h.open(t, oneDay)
	h.open(t, oneDay)
	h.expire()

	k, err := New(Config{MaxBatchSize: 10}, panicky{Engine: h.engine, bad: 0}, nil, zap.NewNop())
	require.NoError(t, err)

	report, err := k.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	require.Equal(t, uint64(0), report.Failed[0].ID)
	require.Equal(t, "other", report.Failed[0].Kind)
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t)
	h.open(t, oneDay)
	h.open(t, oneDay)
	h.expire()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	k := newKeeper(t, h, Config{})
	report, err := k.Run(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, report.Succeeded)
	require.Len(t, report.Failed, 2)
	require.Equal(t, "cancelled", report.Failed[0].Kind)

	pos, err := h.engine.Position(0)
	require.NoError(t, err)
	require.False(t, pos.Exercised)
}

func TestCheckAndPerformUpkeep(t *testing.T) {
	h := newHarness(t)
	h.open(t, oneDay)
	h.open(t, 10*oneDay)
	h.open(t, oneDay)
	h.expire()

	k := newKeeper(t, h, Config{})
	needed, payload, err := k.CheckUpkeep(nil)
	require.NoError(t, err)
	require.True(t, needed)
	require.Equal(t, uint64(0), k.Cursor())

	ids, invalid, next, err := DecodePayload(payload)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 2}, ids)
	require.Empty(t, invalid)
	require.Equal(t, uint64(0), next)

	report, err := k.PerformUpkeep(context.Background(), payload)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 2}, report.Succeeded)

	// Replaying the same payload exercises nothing twice.
	report, err = k.PerformUpkeep(context.Background(), payload)
	require.NoError(t, err)
	require.Empty(t, report.Succeeded)
	require.Len(t, report.Failed, 2)
	require.Equal(t, "already_exercised", report.Failed[0].Kind)

	needed, _, err = k.CheckUpkeep(nil)
	require.NoError(t, err)
	require.False(t, needed)
}

func TestPerformUpkeepUntrustedPayload(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 12; i++ {
		h.open(t, oneDay)
	}
	notExpired := h.open(t, 10*oneDay)
	h.expire()

	k := newKeeper(t, h, Config{MaxBatchSize: 10})

	ids := []uint64{notExpired, 99}
	for i := uint64(0); i < 12; i++ {
		ids = append(ids, i)
	}
	payload, err := EncodePayload(ids, 7)
	require.NoError(t, err)

	report, err := k.PerformUpkeep(context.Background(), payload)
	require.NoError(t, err)
	require.Equal(t, 10, report.Attempted())
	require.Len(t, report.Succeeded, 8)
	require.Equal(t, "not_expired", report.Failed[0].Kind)
	require.Equal(t, "unknown_position", report.Failed[1].Kind)
	require.Equal(t, uint64(7), k.Cursor())

	_, err = k.PerformUpkeep(context.Background(), []byte{0x01, 0x02})
	require.Error(t, err)
}

func TestPerformUpkeepBoundsInvalidIDs(t *testing.T) {
	h := newHarness(t)
	h.open(t, oneDay)
	h.open(t, oneDay)
	h.expire()

	k := newKeeper(t, h, Config{MaxBatchSize: 4})
	args, err := upkeepArguments()
	require.NoError(t, err)
	raw := []*big.Int{big.NewInt(0)}
	for i := 0; i < 20; i++ {
		raw = append(raw, new(big.Int).Lsh(big.NewInt(1), uint(70+i)))
	}
	raw = append(raw, big.NewInt(1))
	payload, err := args.Pack(raw, big.NewInt(0))
	require.NoError(t, err)

	report, err := k.PerformUpkeep(context.Background(), payload)
	require.NoError(t, err)
	require.Equal(t, 4, report.Attempted())
	require.ElementsMatch(t, []uint64{0, 1}, report.Succeeded)
	require.Len(t, report.Failed, 2)
	for _, f := range report.Failed {
		require.Equal(t, "unknown_position", f.Kind)
	}
}

func TestDecodePayloadOversizedID(t *testing.T) {
	args, err := upkeepArguments()
	require.NoError(t, err)
	huge := new(big.Int).Lsh(big.NewInt(1), 80)
	payload, err := args.Pack([]*big.Int{big.NewInt(3), huge}, big.NewInt(1))
	require.NoError(t, err)

	ids, invalid, next, err := DecodePayload(payload)
	require.NoError(t, err)
	require.Equal(t, []uint64{3}, ids)
	require.Len(t, invalid, 1)
	require.Zero(t, invalid[0].Cmp(huge))
	require.Equal(t, uint64(1), next)
}

func TestMetricsObserveReport(t *testing.T) {
	h := newHarness(t)
	h.open(t, oneDay)
	h.open(t, oneDay)
	h.expire()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	k, err := New(Config{MaxBatchSize: 10}, h.engine, metrics, zap.NewNop())
	require.NoError(t, err)

	_, err = k.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.Runs))
	require.Equal(t, float64(2), testutil.ToFloat64(metrics.Exercised))
	require.Equal(t, float64(2), testutil.ToFloat64(metrics.LastBatch))
}

func TestNewValidation(t *testing.T) {
	h := newHarness(t)
	_, err := New(Config{MaxBatchSize: 0}, h.engine, nil, nil)
	require.ErrorIs(t, err, model.ErrBatchSize)
	_, err = New(Config{MaxBatchSize: 1}, nil, nil, nil)
	require.Error(t, err)
}

type fakeLocker struct {
	held     bool
	acquired int
	released int
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.held {
		return nil, model.ErrLockHeld
	}
	l.acquired++
	return func() { l.released++ }, nil
}

func TestLoopTick(t *testing.T) {
	h := newHarness(t)
	h.open(t, oneDay)
	h.expire()

	locker := &fakeLocker{}
	var saved []model.Report
	reloads := 0
	loop := NewLoop(LoopConfig{Interval: time.Second, BatchSize: 5}, newKeeper(t, h, Config{}), locker, Hooks{
		Before: func(ctx context.Context) error {
			reloads++
			return nil
		},
		After: func(ctx context.Context, report model.Report) error {
			saved = append(saved, report)
			return nil
		},
	}, zap.NewNop())

	report, err := loop.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint64{0}, report.Succeeded)
	require.Len(t, saved, 1)
	require.Equal(t, 1, reloads)
	require.Equal(t, 1, locker.acquired)
	require.Equal(t, 1, locker.released)

	locker.held = true
	_, err = loop.Tick(context.Background())
	require.ErrorIs(t, err, model.ErrLockHeld)
	require.Len(t, saved, 1)
	require.Equal(t, 1, reloads)
}

func TestLoopBeforeHookFailure(t *testing.T) {
	h := newHarness(t)
	h.open(t, oneDay)
	h.expire()

	loop := NewLoop(LoopConfig{Interval: time.Second, BatchSize: 5}, newKeeper(t, h, Config{}), nil, Hooks{
		Before: func(ctx context.Context) error { return errors.New("state unreadable") },
	}, zap.NewNop())

	_, err := loop.Tick(context.Background())
	require.Error(t, err)

	pos, err := h.engine.Position(0)
	require.NoError(t, err)
	require.False(t, pos.Exercised)
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.open(t, oneDay)
	h.expire()

	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(LoopConfig{Interval: 10 * time.Millisecond, BatchSize: 5}, newKeeper(t, h, Config{}), nil, Hooks{
		After: func(ctx context.Context, report model.Report) error {
			cancel()
			return nil
		},
	}, zap.NewNop())

	err := loop.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	pos, err := h.engine.Position(0)
	require.NoError(t, err)
	require.True(t, pos.Exercised)

	require.Error(t, NewLoop(LoopConfig{}, nil, nil, Hooks{}, nil).Run(context.Background()))
}

type blockHead struct{ ts atomic.Uint64 }

func (b *blockHead) LatestTimestamp(ctx context.Context) (uint64, error) {
	return b.ts.Load(), nil
}

func TestLoopFollowsChainClock(t *testing.T) {
	ctx := context.Background()
	token := asset.NewToken("USDT", 18)
	require.NoError(t, token.Mint(seller, tokens(1000)))
	require.NoError(t, token.Approve(seller, engineAddr, tokens(1000)))

	head := &blockHead{}
	head.ts.Store(1_700_000_000)
	clock, err := settlement.NewChainClock(ctx, head)
	require.NoError(t, err)
	engine, err := settlement.NewEngine(settlement.Config{Address: engineAddr, Scale: payoff.DefaultScale()}, token, oracle.NewMockFeed(8, usd(28000)), clock, zap.NewNop())
	require.NoError(t, err)

	id, err := engine.CreateCallSpread(ctx, seller, settlement.CreateRequest{
		StrikeLow:  usd(25000),
		StrikeHigh: usd(30000),
		Expiry:     clock.Now() + 60,
		Collateral: tokens(10),
	})
	require.NoError(t, err)

	k, err := New(Config{MaxBatchSize: 10}, engine, nil, zap.NewNop())
	require.NoError(t, err)
	loop := NewLoop(LoopConfig{Interval: time.Second, BatchSize: 5}, k, nil, Hooks{
		Before: func(ctx context.Context) error { return clock.Sync(ctx) },
	}, zap.NewNop())

	report, err := loop.Tick(ctx)
	require.NoError(t, err)
	require.Empty(t, report.Succeeded)

	head.ts.Store(1_700_000_061)
	report, err = loop.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{id}, report.Succeeded)

	pos, err := engine.Position(id)
	require.NoError(t, err)
	require.True(t, pos.Exercised)
}
