package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "callspread",
		Short:        "Tokenized call spread settlement engine",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file path")
	flags.String("state", "./data/state.json", "market state file")
	flags.String("engine-address", "0x00000000000000000000000000000000c0ffee01", "custody address of the settlement engine")
	flags.Uint("price-decimals", 8, "strike and oracle price decimals")
	flags.Uint("collateral-decimals", 18, "collateral token decimals")
	flags.Uint64("quote-per-collateral", 1000, "whole quote units paid per whole collateral token")
	flags.String("collateral-symbol", "USDT", "collateral token symbol")
	flags.String("rpc", "", "EVM RPC URL for the Chainlink feed and chain clock")
	flags.String("feed-address", "", "Chainlink aggregator address (empty uses --price)")
	flags.String("collateral-token", "", "ERC20 address whose decimals() configures the collateral scale")
	flags.String("price", "", "fixed oracle price in whole quote units when no feed is configured")
	flags.Uint64("now", 0, "override the clock with a unix timestamp")
	flags.Bool("chain-clock", false, "use the latest block timestamp as the clock")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newCreateCmd(),
		newBuyCmd(),
		newTransferCmd(),
		newExerciseCmd(),
		newQuoteCmd(),
		newShowCmd(),
		newEventsCmd(),
		newMintCmd(),
		newApproveCmd(),
		newBalanceCmd(),
		newKeeperCmd(),
		newExportCmd(),
	)

	return root
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}

	return cfg.Build()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func unixTime(ts uint64) string {
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}
