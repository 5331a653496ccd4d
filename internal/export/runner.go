package export

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"callSpread/internal/model"
	"callSpread/internal/storage"
)

// Source is the engine's append-only event log.
type Source interface {
	EventCount() uint64
	Events(from uint64, limit int) []model.Event
}

// RunConfig holds runtime settings for the exporter.
type RunConfig struct {
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// Runner copies new events from the engine into a sink, recording progress
// after every batch so an interrupted export resumes where it stopped.
type Runner struct {
	cfg    RunConfig
	source Source
	sink   storage.EventSink
	state  StateStore
	logger *zap.Logger
}

// NewRunner builds a Runner. state may be nil, in which case every run
// starts from the first event.
func NewRunner(cfg RunConfig, source Source, sink storage.EventSink, state StateStore, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, source: source, sink: sink, state: state, logger: logger}
}

// Run exports every event not yet delivered and returns how many it wrote.
func (r *Runner) Run(ctx context.Context) (uint64, error) {
	if r.source == nil {
		return 0, fmt.Errorf("event source is nil")
	}
	if r.sink == nil {
		return 0, fmt.Errorf("event sink is nil")
	}
	if r.cfg.BatchSize == 0 {
		return 0, fmt.Errorf("batch size must be greater than zero")
	}

	var from uint64
	if r.state != nil {
		exported, ok, err := r.state.Load(ctx)
		if err != nil {
			return 0, fmt.Errorf("load export state: %w", err)
		}
		if ok {
			from = exported
			r.logger.Info("resume from checkpoint", zap.Uint64("exported", exported))
		}
	}

	total := r.source.EventCount()
	if from >= total {
		r.logger.Info("nothing to export", zap.Uint64("from", from), zap.Uint64("total", total))
		return 0, nil
	}

	ranges, err := SplitRange(from, total-1, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var written uint64
	for _, seqRange := range ranges {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		events := r.source.Events(seqRange.From, seqRange.Len())
		if len(events) != seqRange.Len() {
			return written, fmt.Errorf("event log returned %d events for %d..%d", len(events), seqRange.From, seqRange.To)
		}

		err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
			err := r.sink.PutEventBatch(ctx, events)
			if err != nil {
				r.logger.Warn("store events failed", zap.Error(err), zap.Uint64("from", seqRange.From), zap.Uint64("to", seqRange.To))
			}
			return err
		})
		if err != nil {
			return written, fmt.Errorf("store events: %w", err)
		}

		if r.state != nil {
			if err := r.state.Save(ctx, seqRange.To+1); err != nil {
				return written, fmt.Errorf("save export state: %w", err)
			}
		}
		written += uint64(len(events))

		r.logger.Info("batch complete", zap.Int("events", len(events)), zap.Uint64("from", seqRange.From), zap.Uint64("to", seqRange.To))
	}
	return written, nil
}
