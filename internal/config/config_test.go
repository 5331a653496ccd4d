package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PriceDecimals != 8 || cfg.CollateralDecimals != 18 || cfg.QuotePerCollateral != 1000 {
		t.Fatalf("unexpected scale defaults: %+v", cfg)
	}
	if cfg.StatePath != "./data/state.json" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFlagsAndEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CALLSPREAD_PRICE", "2700000000000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("state", "", "")
	if err := flags.Parse([]string{"--state", "/tmp/market.json"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StatePath != "/tmp/market.json" {
		t.Fatalf("flag not applied: %q", cfg.StatePath)
	}
	if cfg.Price != "2700000000000" {
		t.Fatalf("env not applied: %q", cfg.Price)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("max-batch-size: 4\ninterval: 15s\nredis-addr: localhost:6379\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadKeeper(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxBatchSize != 4 || cfg.Interval != 15*time.Second || cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected keeper config: %+v", cfg)
	}
	if cfg.ScanLimit != 2000 || cfg.LockTTL != 30*time.Second {
		t.Fatalf("unexpected keeper defaults: %+v", cfg)
	}
}

func TestLoadKeeperRejectsZeroBatch(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CALLSPREAD_MAX_BATCH_SIZE", "0")
	if _, err := LoadKeeper("", nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadRejectsWrappingDecimals(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CALLSPREAD_PRICE_DECIMALS", "264")
	if _, err := Load("", nil); err == nil {
		t.Fatalf("expected error for price decimals 264")
	}

	t.Setenv("CALLSPREAD_PRICE_DECIMALS", "8")
	t.Setenv("CALLSPREAD_COLLATERAL_DECIMALS", "-1")
	if _, err := LoadKeeper("", nil); err == nil {
		t.Fatalf("expected error for negative collateral decimals")
	}

	t.Setenv("CALLSPREAD_COLLATERAL_DECIMALS", "255")
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CollateralDecimals != 255 {
		t.Fatalf("collateral decimals %d", cfg.CollateralDecimals)
	}
}

func TestLoadExportDefaults(t *testing.T) {
	chdirTemp(t)
	cfg, err := LoadExport("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchSize != 500 || cfg.Out != "./data/events.jsonl" || cfg.StateName != "callspread_events" {
		t.Fatalf("unexpected export config: %+v", cfg)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdirTemp(t)
	if _, err := Load("does-not-exist.yaml", nil); err == nil {
		t.Fatalf("expected error")
	}
}
