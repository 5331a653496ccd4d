package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Market holds the settings every command needs to rebuild the engine.
type Market struct {
	StatePath          string
	EngineAddress      string
	PriceDecimals      uint8
	CollateralDecimals uint8
	QuotePerCollateral uint64
	CollateralSymbol   string
	RPCURL             string
	FeedAddress        string
	CollateralToken    string
	Price              string
	Now                uint64
	ChainClock         bool
	LogLevel           string
}

// Load merges .env, config file, environment variables, and flags into Market.
func Load(cfgFile string, flags *pflag.FlagSet) (Market, error) {
	v, err := newViper(cfgFile, flags, nil)
	if err != nil {
		return Market{}, err
	}
	return marketFrom(v)
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]any) (*viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CALLSPREAD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("state", "./data/state.json")
	v.SetDefault("engine-address", "0x00000000000000000000000000000000c0ffee01")
	v.SetDefault("price-decimals", 8)
	v.SetDefault("collateral-decimals", 18)
	v.SetDefault("quote-per-collateral", uint64(1000))
	v.SetDefault("collateral-symbol", "USDT")
	v.SetDefault("log-level", "info")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("callspread")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func marketFrom(v *viper.Viper) (Market, error) {
	priceDecimals, err := decimals(v, "price-decimals")
	if err != nil {
		return Market{}, err
	}
	collateralDecimals, err := decimals(v, "collateral-decimals")
	if err != nil {
		return Market{}, err
	}

	return Market{
		StatePath:          v.GetString("state"),
		EngineAddress:      v.GetString("engine-address"),
		PriceDecimals:      priceDecimals,
		CollateralDecimals: collateralDecimals,
		QuotePerCollateral: v.GetUint64("quote-per-collateral"),
		CollateralSymbol:   v.GetString("collateral-symbol"),
		RPCURL:             v.GetString("rpc"),
		FeedAddress:        v.GetString("feed-address"),
		CollateralToken:    v.GetString("collateral-token"),
		Price:              v.GetString("price"),
		Now:                v.GetUint64("now"),
		ChainClock:         v.GetBool("chain-clock"),
		LogLevel:           v.GetString("log-level"),
	}, nil
}

func decimals(v *viper.Viper, key string) (uint8, error) {
	n := v.GetInt64(key)
	if n < 0 || n > math.MaxUint8 {
		return 0, fmt.Errorf("%s %d out of range 0-%d", key, n, math.MaxUint8)
	}
	return uint8(n), nil
}

// Keeper holds settings for the keeper commands.
type Keeper struct {
	Market
	MaxBatchSize  int
	ScanLimit     uint64
	BatchSize     int
	Interval      time.Duration
	Once          bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockKey       string
	LockTTL       time.Duration
	MetricsAddr   string
}

// LoadKeeper merges .env, config file, environment variables, and flags into Keeper.
func LoadKeeper(cfgFile string, flags *pflag.FlagSet) (Keeper, error) {
	v, err := newViper(cfgFile, flags, map[string]any{
		"max-batch-size": 10,
		"scan-limit":     uint64(2000),
		"batch-size":     10,
		"interval":       time.Minute,
		"lock-key":       "callspread:keeper",
		"lock-ttl":       30 * time.Second,
	})
	if err != nil {
		return Keeper{}, err
	}

	market, err := marketFrom(v)
	if err != nil {
		return Keeper{}, err
	}
	cfg := Keeper{
		Market:        market,
		MaxBatchSize:  v.GetInt("max-batch-size"),
		ScanLimit:     v.GetUint64("scan-limit"),
		BatchSize:     v.GetInt("batch-size"),
		Interval:      v.GetDuration("interval"),
		Once:          v.GetBool("once"),
		RedisAddr:     v.GetString("redis-addr"),
		RedisPassword: v.GetString("redis-password"),
		RedisDB:       v.GetInt("redis-db"),
		LockKey:       v.GetString("lock-key"),
		LockTTL:       v.GetDuration("lock-ttl"),
		MetricsAddr:   v.GetString("metrics-addr"),
	}
	if cfg.MaxBatchSize <= 0 {
		return Keeper{}, fmt.Errorf("max-batch-size must be positive")
	}
	return cfg, nil
}

// Export holds settings for the export command.
type Export struct {
	Market
	Out          string
	PGDSN        string
	BatchSize    uint64
	Checkpoint   string
	StateName    string
	MaxRetries   int
	RetryBackoff time.Duration
}

// LoadExport merges .env, config file, environment variables, and flags into Export.
func LoadExport(cfgFile string, flags *pflag.FlagSet) (Export, error) {
	v, err := newViper(cfgFile, flags, map[string]any{
		"out":           "./data/events.jsonl",
		"batch-size":    uint64(500),
		"checkpoint":    "./data/export_checkpoint.json",
		"state-name":    "callspread_events",
		"max-retries":   5,
		"retry-backoff": 500 * time.Millisecond,
	})
	if err != nil {
		return Export{}, err
	}

	market, err := marketFrom(v)
	if err != nil {
		return Export{}, err
	}
	return Export{
		Market:       market,
		Out:          v.GetString("out"),
		PGDSN:        v.GetString("pg-dsn"),
		BatchSize:    v.GetUint64("batch-size"),
		Checkpoint:   v.GetString("checkpoint"),
		StateName:    v.GetString("state-name"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
	}, nil
}
