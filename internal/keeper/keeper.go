package keeper

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callSpread/internal/model"
	"callSpread/internal/settlement"
)

// Exerciser is the settlement surface the keeper drives. It never touches the
// ledger or vault directly.
type Exerciser interface {
	Source
	ExerciseCallSpread(ctx context.Context, id uint64) (settlement.ExerciseResult, error)
}

// Config bounds the work of a single keeper invocation.
type Config struct {
	// MaxBatchSize caps the ids exercised per Run or PerformUpkeep.
	MaxBatchSize int
	// MaxScan caps the positions inspected per scan.
	MaxScan uint64
	// Cursor is the persisted scan start.
	Cursor uint64
}

// Keeper finds expired, unexercised positions and exercises them in bounded batches.
type Keeper struct {
	mu      sync.Mutex
	cfg     Config
	engine  Exerciser
	scanner *Scanner
	metrics *Metrics
	logger  *zap.Logger
}

func New(cfg Config, engine Exerciser, metrics *Metrics, logger *zap.Logger) (*Keeper, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is nil")
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("max batch size %d: %w", cfg.MaxBatchSize, model.ErrBatchSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Keeper{
		cfg:     cfg,
		engine:  engine,
		scanner: NewScanner(engine, cfg.MaxScan, cfg.Cursor),
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Cursor returns the persisted scan position.
func (k *Keeper) Cursor() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.scanner.Cursor()
}

// SetCursor moves the scan position, e.g. after reloading persisted state.
func (k *Keeper) SetCursor(cursor uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.scanner.SetCursor(cursor)
}

// Scan lists up to maxCandidates currently eligible ids without moving the cursor.
func (k *Keeper) Scan(maxCandidates int) []uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	ids, _ := k.scanner.Peek(maxCandidates)
	return ids
}

// Run exercises up to batchSize eligible positions. batchSize is clamped to
// the configured maximum. Per-id failures are recorded in the report and do
// not stop the batch.
func (k *Keeper) Run(ctx context.Context, batchSize int) (model.Report, error) {
	if batchSize <= 0 {
		return model.Report{}, fmt.Errorf("batch size %d: %w", batchSize, model.ErrBatchSize)
	}
	if batchSize > k.cfg.MaxBatchSize {
		k.logger.Debug("batch size clamped", zap.Int("requested", batchSize), zap.Int("max", k.cfg.MaxBatchSize))
		batchSize = k.cfg.MaxBatchSize
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	ids := k.scanner.Scan(batchSize)
	return k.execute(ctx, ids, nil), nil
}

// CheckUpkeep reports whether any position is ready and, if so, the payload
// PerformUpkeep should receive. It never changes state. data is ignored.
func (k *Keeper) CheckUpkeep(data []byte) (bool, []byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	ids, next := k.scanner.Peek(k.cfg.MaxBatchSize)
	if len(ids) == 0 {
		return false, nil, nil
	}
	payload, err := EncodePayload(ids, next)
	if err != nil {
		return false, nil, err
	}
	return true, payload, nil
}

// PerformUpkeep exercises the ids in payload. The payload is untrusted: it is
// truncated to the batch maximum and every id goes through the engine's own
// expiry and double-exercise guards, so repeated calls are harmless.
func (k *Keeper) PerformUpkeep(ctx context.Context, payload []byte) (model.Report, error) {
	ids, invalid, next, err := DecodePayload(payload)
	if err != nil {
		return model.Report{}, err
	}
	if total := len(ids) + len(invalid); total > k.cfg.MaxBatchSize {
		k.logger.Warn("upkeep payload truncated", zap.Int("ids", total), zap.Int("max", k.cfg.MaxBatchSize))
		if len(ids) > k.cfg.MaxBatchSize {
			ids = ids[:k.cfg.MaxBatchSize]
		}
		invalid = invalid[:k.cfg.MaxBatchSize-len(ids)]
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	report := k.execute(ctx, ids, invalid)
	if count := k.engine.Count(); count > 0 {
		k.scanner.SetCursor(next % count)
	}
	return report, nil
}

func (k *Keeper) execute(ctx context.Context, ids []uint64, invalid []*big.Int) model.Report {
	started := time.Now()
	report := model.Report{RunID: uuid.NewString()}
	logger := k.logger.With(zap.String("run_id", report.RunID))

	for _, raw := range invalid {
		report.Failed = append(report.Failed, model.ExerciseFailure{
			Kind:   "unknown_position",
			Reason: fmt.Sprintf("id %s out of range", raw),
			Err:    model.ErrUnknownPosition,
		})
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			for _, rest := range ids[i:] {
				report.Failed = append(report.Failed, model.ExerciseFailure{ID: rest, Kind: "cancelled", Reason: err.Error(), Err: err})
			}
			logger.Warn("batch cancelled", zap.Int("remaining", len(ids)-i), zap.Error(err))
			break
		}

		res, err := k.exerciseOne(ctx, id)
		if err != nil {
			kind := FailureKind(err)
			report.Failed = append(report.Failed, model.ExerciseFailure{ID: id, Kind: kind, Reason: err.Error(), Err: err})
			logger.Warn("exercise failed", zap.Uint64("id", id), zap.String("kind", kind), zap.Error(err))
			continue
		}
		report.Succeeded = append(report.Succeeded, id)
		logger.Debug("exercised", zap.Uint64("id", id), zap.String("payoff", res.PayoffAmount.String()))
	}

	k.metrics.observe(report, time.Since(started).Seconds())
	logger.Info("keeper batch complete",
		zap.Int("attempted", report.Attempted()),
		zap.Int("succeeded", len(report.Succeeded)),
		zap.Int("failed", len(report.Failed)),
		zap.Uint64("cursor", k.scanner.Cursor()),
	)
	return report
}

func (k *Keeper) exerciseOne(ctx context.Context, id uint64) (res settlement.ExerciseResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exercise position %d panicked: %v", id, r)
		}
	}()
	return k.engine.ExerciseCallSpread(ctx, id)
}
