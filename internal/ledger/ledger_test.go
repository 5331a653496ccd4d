package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"callSpread/internal/model"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	seller   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	stranger = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func params() CreateParams {
	return CreateParams{
		StrikeLow:   big.NewInt(25000),
		StrikeHigh:  big.NewInt(30000),
		Expiry:      2000,
		Collateral:  big.NewInt(100),
		MetadataURI: "https://example.com/metadata/0",
		Creator:     seller,
	}
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	l := New(operator)

	for want := uint64(0); want < 3; want++ {
		id, err := l.Create(params(), 1000)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if id != want {
			t.Fatalf("id %d != %d", id, want)
		}
	}
	if l.Count() != 3 {
		t.Fatalf("count %d", l.Count())
	}

	pos, err := l.Get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pos.Owner != seller || pos.Seller != seller || pos.Exercised || pos.Purchased() {
		t.Fatalf("unexpected position: %+v", pos)
	}
	if pos.CreatedAt != 1000 {
		t.Fatalf("created at %d", pos.CreatedAt)
	}
}

func TestCreateValidation(t *testing.T) {
	l := New(operator)

	p := params()
	p.StrikeHigh = big.NewInt(25000)
	if _, err := l.Create(p, 1000); !errors.Is(err, model.ErrInvalidStrikes) {
		t.Fatalf("equal strikes: %v", err)
	}

	p = params()
	p.StrikeLow = big.NewInt(40000)
	if _, err := l.Create(p, 1000); !errors.Is(err, model.ErrInvalidStrikes) {
		t.Fatalf("inverted strikes: %v", err)
	}

	p = params()
	p.Expiry = 1000
	if _, err := l.Create(p, 1000); !errors.Is(err, model.ErrInvalidExpiry) {
		t.Fatalf("expiry at now: %v", err)
	}

	p = params()
	p.Collateral = big.NewInt(0)
	if _, err := l.Create(p, 1000); !errors.Is(err, model.ErrInvalidAmount) {
		t.Fatalf("zero collateral: %v", err)
	}

	if l.Count() != 0 {
		t.Fatalf("failed creates allocated ids: %d", l.Count())
	}
}

func TestGetReturnsCopy(t *testing.T) {
	l := New(operator)
	id, _ := l.Create(params(), 1000)

	pos, _ := l.Get(id)
	pos.StrikeLow.SetInt64(1)
	pos.Owner = stranger

	again, _ := l.Get(id)
	if again.StrikeLow.Int64() != 25000 || again.Owner != seller {
		t.Fatalf("ledger mutated through copy: %+v", again)
	}
}

func TestTransferOwnershipAuthority(t *testing.T) {
	l := New(operator)
	id, _ := l.Create(params(), 1000)

	if _, err := l.TransferOwnership(id, stranger, stranger); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("stranger transfer: %v", err)
	}

	prev, err := l.TransferOwnership(id, seller, buyer)
	if err != nil {
		t.Fatalf("owner transfer: %v", err)
	}
	if prev != seller {
		t.Fatalf("previous owner %s", prev.Hex())
	}
	if owner, _ := l.OwnerOf(id); owner != buyer {
		t.Fatalf("owner %s", owner.Hex())
	}

	if _, err := l.TransferOwnership(id, operator, stranger); err != nil {
		t.Fatalf("operator transfer: %v", err)
	}
	if _, err := l.TransferOwnership(id, stranger, common.Address{}); !errors.Is(err, model.ErrZeroAddress) {
		t.Fatalf("zero owner: %v", err)
	}
	if _, err := l.TransferOwnership(99, seller, buyer); !errors.Is(err, model.ErrUnknownPosition) {
		t.Fatalf("unknown id: %v", err)
	}
}

func TestPurchaseRecordsBuyer(t *testing.T) {
	l := New(operator)
	id, _ := l.Create(params(), 1000)

	if err := l.Purchase(id, buyer); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	pos, _ := l.Get(id)
	if pos.Owner != buyer || pos.Buyer != buyer || pos.Seller != seller {
		t.Fatalf("unexpected position after purchase: %+v", pos)
	}
	if err := l.Purchase(42, buyer); !errors.Is(err, model.ErrUnknownPosition) {
		t.Fatalf("unknown purchase: %v", err)
	}
}

func TestMarkExercisedOnce(t *testing.T) {
	l := New(operator)
	id, _ := l.Create(params(), 1000)

	if _, err := l.MarkExercised(id); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if _, err := l.MarkExercised(id); !errors.Is(err, model.ErrAlreadyExercised) {
		t.Fatalf("second mark: %v", err)
	}
	pos, _ := l.Get(id)
	if !pos.Exercised {
		t.Fatalf("exercised flag not set")
	}
}

func TestMarkExercisedUndo(t *testing.T) {
	l := New(operator)
	id, _ := l.Create(params(), 1000)

	undo, err := l.MarkExercised(id)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	undo()
	if pos, _ := l.Get(id); pos.Exercised {
		t.Fatalf("flag survived undo")
	}

	if _, err := l.MarkExercised(id); err != nil {
		t.Fatalf("mark after undo: %v", err)
	}
	undo()
	if pos, _ := l.Get(id); !pos.Exercised {
		t.Fatalf("stale undo cleared a later mark")
	}
}

func TestRestore(t *testing.T) {
	src := New(operator)
	src.Create(params(), 1000)
	src.Create(params(), 1000)
	src.MarkExercised(0)

	dst := New(operator)
	if err := dst.Restore(src.Count(), src.Positions()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if dst.Count() != 2 {
		t.Fatalf("count %d", dst.Count())
	}
	pos, _ := dst.Get(0)
	if !pos.Exercised {
		t.Fatalf("restored position lost exercised flag")
	}
	id, _ := dst.Create(params(), 1000)
	if id != 2 {
		t.Fatalf("restored ledger reused id %d", id)
	}

	if err := dst.Restore(1, src.Positions()); err == nil {
		t.Fatalf("expected error for id beyond next id")
	}
}
