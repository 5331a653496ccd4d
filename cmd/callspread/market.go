package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"callSpread/internal/asset"
	"callSpread/internal/chain"
	"callSpread/internal/config"
	"callSpread/internal/oracle"
	"callSpread/internal/payoff"
	"callSpread/internal/settlement"
	"callSpread/internal/storage"
)

// market is the engine rebuilt from the state file for one command.
type market struct {
	cfg    config.Market
	logger *zap.Logger
	store  storage.SnapshotFile
	token  *asset.Token
	engine *settlement.Engine
	client *chain.Client
	clock  settlement.Clock
	cursor uint64
}

func openMarket(ctx context.Context, cfg config.Market, logger *zap.Logger) (*market, error) {
	engineAddr, err := parseAddress("engine-address", cfg.EngineAddress)
	if err != nil {
		return nil, err
	}

	m := &market{cfg: cfg, logger: logger, store: storage.SnapshotFile{Path: cfg.StatePath}}
	scale := payoff.Scale{
		PriceDecimals:      cfg.PriceDecimals,
		CollateralDecimals: cfg.CollateralDecimals,
		QuotePerCollateral: new(big.Int).SetUint64(cfg.QuotePerCollateral),
	}
	symbol := cfg.CollateralSymbol

	if cfg.RPCURL != "" {
		client, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("connect rpc: %w", err)
		}
		m.client = client

		if chainID, err := client.GetChainID(ctx); err == nil {
			logger.Info("rpc connected", zap.String("chain_id", chainID.String()))
		} else {
			logger.Warn("chain id lookup failed", zap.Error(err))
		}

		if cfg.CollateralToken != "" {
			tokenAddr, err := parseAddress("collateral-token", cfg.CollateralToken)
			if err != nil {
				m.Close()
				return nil, err
			}
			meta, err := chain.FetchTokenMeta(ctx, client, tokenAddr, logger)
			if err != nil {
				m.Close()
				return nil, fmt.Errorf("collateral token metadata: %w", err)
			}
			scale.CollateralDecimals = meta.Decimals
			if meta.Symbol != "" {
				symbol = meta.Symbol
			}
			logger.Info("collateral token from chain",
				zap.String("token", meta.Address),
				zap.String("symbol", meta.Symbol),
				zap.Uint8("decimals", meta.Decimals),
			)
		}
	}

	feed, err := m.newFeed(scale)
	if err != nil {
		m.Close()
		return nil, err
	}
	clock, err := m.newClock(ctx)
	if err != nil {
		m.Close()
		return nil, err
	}
	m.clock = clock

	m.token = asset.NewToken(symbol, scale.CollateralDecimals)
	m.engine, err = settlement.NewEngine(settlement.Config{Address: engineAddr, Scale: scale}, m.token, feed, clock, logger)
	if err != nil {
		m.Close()
		return nil, err
	}
	if err := m.load(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *market) newFeed(scale payoff.Scale) (oracle.Feed, error) {
	if m.cfg.FeedAddress != "" {
		if m.client == nil {
			return nil, fmt.Errorf("--feed-address requires --rpc")
		}
		addr, err := parseAddress("feed-address", m.cfg.FeedAddress)
		if err != nil {
			return nil, err
		}
		return oracle.NewChainlinkFeed(m.client, addr, m.logger), nil
	}

	var price *big.Int
	if m.cfg.Price != "" {
		value, err := payoff.ParseUnits(m.cfg.Price, scale.PriceDecimals)
		if err != nil {
			return nil, fmt.Errorf("--price: %w", err)
		}
		price = value
	}
	return oracle.NewMockFeed(scale.PriceDecimals, price), nil
}

func (m *market) newClock(ctx context.Context) (settlement.Clock, error) {
	switch {
	case m.cfg.Now > 0:
		return settlement.FixedClock(m.cfg.Now), nil
	case m.cfg.ChainClock:
		if m.client == nil {
			return nil, fmt.Errorf("--chain-clock requires --rpc")
		}
		clock, err := settlement.NewChainClock(ctx, m.client)
		if err != nil {
			return nil, err
		}
		return clock, nil
	default:
		return settlement.SystemClock{}, nil
	}
}

// syncClock moves a chain-backed clock to the latest block. Other clocks are
// left alone; --now pins time on purpose.
func (m *market) syncClock(ctx context.Context) error {
	if c, ok := m.clock.(*settlement.ChainClock); ok {
		return c.Sync(ctx)
	}
	return nil
}

// load replaces in-memory state with the state file, if it exists.
func (m *market) load() error {
	snap, ok, err := m.store.Load()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := m.engine.Restore(snap); err != nil {
		return fmt.Errorf("restore engine: %w", err)
	}
	if err := m.token.Restore(snap.Asset); err != nil {
		return fmt.Errorf("restore collateral: %w", err)
	}
	m.cursor = snap.KeeperCursor
	return nil
}

func (m *market) save() error {
	snap := m.engine.Snapshot()
	snap.Asset = m.token.State()
	snap.KeeperCursor = m.cursor
	return m.store.Save(snap)
}

func (m *market) Close() {
	if m.client != nil {
		m.client.Close()
	}
}

func (m *market) collateralUnits(value *big.Int) string {
	return payoff.FormatUnits(value, m.token.Decimals())
}

func (m *market) priceUnits(value *big.Int) string {
	return payoff.FormatUnits(value, m.engine.Scale().PriceDecimals)
}

// withMarket loads config and state, runs fn, and saves state when persist is
// set and fn succeeded.
func withMarket(cmd *cobra.Command, persist bool, fn func(ctx context.Context, m *market) error) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	m, err := openMarket(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := fn(ctx, m); err != nil {
		return err
	}
	if persist {
		return m.save()
	}
	return nil
}
