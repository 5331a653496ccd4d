package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"callSpread/internal/model"
)

func TestJsonlStorageAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.jsonl")
	sink := NewJsonlStorage(path)
	ctx := context.Background()

	if err := sink.PutEventBatch(ctx, []model.Event{{Seq: 0, Name: model.EventCallSpreadCreated}}); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if err := sink.PutEventBatch(ctx, nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if err := sink.PutEventBatch(ctx, []model.Event{{Seq: 1, Name: model.EventCallSpreadExercised, PayoffAmount: "2"}}); err != nil {
		t.Fatalf("second batch: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var got []model.Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var ev model.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		got = append(got, ev)
	}
	if len(got) != 2 || got[1].Seq != 1 || got[1].PayoffAmount != "2" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestSnapshotFileMissing(t *testing.T) {
	store := SnapshotFile{Path: filepath.Join(t.TempDir(), "state.json")}
	_, ok, err := store.Load()
	if err != nil || ok {
		t.Fatalf("expected missing snapshot, got ok=%v err=%v", ok, err)
	}
}

func TestSnapshotFileRoundTrip(t *testing.T) {
	store := SnapshotFile{Path: filepath.Join(t.TempDir(), "nested", "state.json")}
	holder := common.HexToAddress("0x1111111111111111111111111111111111111111")

	snap := model.Snapshot{
		Version: model.SnapshotVersion,
		NextID:  1,
		Positions: []model.Position{{
			ID:         0,
			StrikeLow:  big.NewInt(25),
			StrikeHigh: big.NewInt(30),
			Collateral: big.NewInt(100),
			Seller:     holder,
			Owner:      holder,
		}},
		Escrow: map[uint64]*big.Int{0: big.NewInt(100)},
		Asset: model.AssetState{
			Balances: map[common.Address]*big.Int{holder: big.NewInt(900)},
		},
		KeeperCursor: 1,
	}
	if err := store.Save(snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(store.Path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	got, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.NextID != 1 || got.KeeperCursor != 1 || len(got.Positions) != 1 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if got.Escrow[0].Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("escrow mismatch: %v", got.Escrow[0])
	}
	if got.Asset.Balances[holder].Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("balance mismatch: %v", got.Asset.Balances[holder])
	}
}

func TestSnapshotFileRejectsDirectory(t *testing.T) {
	store := SnapshotFile{Path: t.TempDir()}
	if _, _, err := store.Load(); err == nil {
		t.Fatalf("expected error for directory path")
	}
}
