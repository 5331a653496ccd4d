package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"callSpread/internal/config"
	"callSpread/internal/export"
	"callSpread/internal/storage"
	"callSpread/internal/storage/postgres"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy new engine events to JSONL or Postgres",
		RunE:  runExport,
	}
	cmd.Flags().String("out", "./data/events.jsonl", "output JSONL path (ignored with --pg-dsn)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().Uint64("batch-size", 500, "events per batch")
	cmd.Flags().String("checkpoint", "./data/export_checkpoint.json", "checkpoint file for JSONL export")
	cmd.Flags().String("state-name", "callspread_events", "export_state row name for Postgres export")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts per batch")
	cmd.Flags().Duration("retry-backoff", 0, "initial retry backoff")
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadExport(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	m, err := openMarket(ctx, cfg.Market, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	var (
		sink  storage.EventSink
		state export.StateStore
		pg    *postgres.Store
	)
	if cfg.PGDSN != "" {
		pg, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		sink = pg
		state = &export.DBStateStore{Store: pg, Name: cfg.StateName}
	} else {
		sink = storage.NewJsonlStorage(cfg.Out)
		state = &export.CheckpointStore{Path: cfg.Checkpoint}
	}

	logger.Info("export start",
		zap.Uint64("events", m.engine.EventCount()),
		zap.Bool("postgres", pg != nil),
		zap.String("out", cfg.Out),
		zap.Uint64("batch_size", cfg.BatchSize),
	)

	runner := export.NewRunner(export.RunConfig{
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, m.engine, sink, state, logger)

	written, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if pg != nil {
		positions := m.engine.Snapshot().Positions
		if err := pg.UpsertPositions(ctx, positions); err != nil {
			return fmt.Errorf("upsert positions: %w", err)
		}
		logger.Info("positions upserted", zap.Int("positions", len(positions)))
	}
	return printJSON(cmd, map[string]any{"exported": written})
}
