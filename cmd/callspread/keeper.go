package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"callSpread/internal/cache/redis"
	"callSpread/internal/config"
	"callSpread/internal/keeper"
	"callSpread/internal/model"
)

func newKeeperCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keeper",
		Short: "Automated exercise of expired positions",
	}
	cmd.PersistentFlags().Int("max-batch-size", 10, "maximum positions exercised per batch")
	cmd.PersistentFlags().Uint64("scan-limit", 2000, "maximum positions inspected per scan")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Exercise expired positions periodically",
		RunE:  runKeeper,
	}
	runCmd.Flags().Int("batch-size", 10, "positions per batch (clamped to --max-batch-size)")
	runCmd.Flags().Duration("interval", time.Minute, "time between batches")
	runCmd.Flags().Bool("once", false, "run a single batch and exit")
	runCmd.Flags().String("redis-addr", "", "redis address for the cross-instance lock")
	runCmd.Flags().String("redis-password", "", "redis password")
	runCmd.Flags().Int("redis-db", 0, "redis database")
	runCmd.Flags().String("lock-key", "callspread:keeper", "lock key")
	runCmd.Flags().Duration("lock-ttl", 30*time.Second, "lock expiry")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether upkeep is needed and print the perform payload",
		RunE:  runKeeperCheck,
	}

	performCmd := &cobra.Command{
		Use:   "perform",
		Short: "Exercise the positions named in an upkeep payload",
		RunE:  runKeeperPerform,
	}
	performCmd.Flags().String("payload", "", "hex payload from keeper check")

	cmd.AddCommand(runCmd, checkCmd, performCmd)
	return cmd
}

type keeperSession struct {
	cfg     config.Keeper
	logger  *zap.Logger
	market  *market
	keeper  *keeper.Keeper
	metrics *keeper.Metrics
	reg     *prometheus.Registry
}

func openKeeper(cmd *cobra.Command) (*keeperSession, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadKeeper(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	m, err := openMarket(cmd.Context(), cfg.Market, logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := keeper.NewMetrics(reg)

	k, err := keeper.New(keeper.Config{
		MaxBatchSize: cfg.MaxBatchSize,
		MaxScan:      cfg.ScanLimit,
		Cursor:       m.cursor,
	}, m.engine, metrics, logger)
	if err != nil {
		m.Close()
		return nil, err
	}
	return &keeperSession{cfg: cfg, logger: logger, market: m, keeper: k, metrics: metrics, reg: reg}, nil
}

func (s *keeperSession) Close() {
	s.market.Close()
	_ = s.logger.Sync()
}

// persist records the keeper cursor alongside market state.
func (s *keeperSession) persist() error {
	s.market.cursor = s.keeper.Cursor()
	return s.market.save()
}

func runKeeper(cmd *cobra.Command, _ []string) error {
	s, err := openKeeper(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	if s.cfg.Once {
		report, err := s.keeper.Run(ctx, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if err := s.persist(); err != nil {
			return err
		}
		return printJSON(cmd, report)
	}

	var locker keeper.Locker
	if s.cfg.RedisAddr != "" {
		client, err := redis.New(ctx, redis.ClientConfig{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		locker = redis.NewLeaseManager(client, s.logger)
	}

	loop := keeper.NewLoop(keeper.LoopConfig{
		Interval:  s.cfg.Interval,
		BatchSize: s.cfg.BatchSize,
		LockKey:   s.cfg.LockKey,
		LockTTL:   s.cfg.LockTTL,
	}, s.keeper, locker, keeper.Hooks{
		Before: func(ctx context.Context) error {
			if err := s.market.load(); err != nil {
				return err
			}
			if err := s.market.syncClock(ctx); err != nil {
				return err
			}
			s.keeper.SetCursor(s.market.cursor)
			return nil
		},
		After: func(ctx context.Context, report model.Report) error {
			return s.persist()
		},
	}, s.logger)

	s.logger.Info("keeper start",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Int("max_batch_size", s.cfg.MaxBatchSize),
		zap.Uint64("scan_limit", s.cfg.ScanLimit),
		zap.Bool("redis_lock", locker != nil),
		zap.String("metrics_addr", s.cfg.MetricsAddr),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := loop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if s.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func runKeeperCheck(cmd *cobra.Command, _ []string) error {
	s, err := openKeeper(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	needed, payload, err := s.keeper.CheckUpkeep(nil)
	if err != nil {
		return err
	}
	out := map[string]any{"upkeep_needed": needed}
	if needed {
		ids, _, next, err := keeper.DecodePayload(payload)
		if err != nil {
			return err
		}
		out["perform_data"] = hexutil.Encode(payload)
		out["ids"] = ids
		out["next_cursor"] = next
	}
	return printJSON(cmd, out)
}

func runKeeperPerform(cmd *cobra.Command, _ []string) error {
	s, err := openKeeper(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	text, _ := cmd.Flags().GetString("payload")
	payload, err := hexutil.Decode(text)
	if err != nil {
		return fmt.Errorf("--payload: %w", err)
	}
	report, err := s.keeper.PerformUpkeep(cmd.Context(), payload)
	if err != nil {
		return err
	}
	if err := s.persist(); err != nil {
		return err
	}
	return printJSON(cmd, report)
}
