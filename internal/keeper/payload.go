package keeper

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	upkeepArgs     abi.Arguments
	upkeepArgsOnce sync.Once
	upkeepArgsErr  error
)

func upkeepArguments() (abi.Arguments, error) {
	upkeepArgsOnce.Do(func() {
		idsType, err := abi.NewType("uint256[]", "", nil)
		if err != nil {
			upkeepArgsErr = err
			return
		}
		cursorType, err := abi.NewType("uint256", "", nil)
		if err != nil {
			upkeepArgsErr = err
			return
		}
		upkeepArgs = abi.Arguments{
			{Name: "ids", Type: idsType},
			{Name: "nextCursor", Type: cursorType},
		}
	})
	return upkeepArgs, upkeepArgsErr
}

// EncodePayload ABI-encodes the ids to exercise and the cursor to resume from.
func EncodePayload(ids []uint64, nextCursor uint64) ([]byte, error) {
	args, err := upkeepArguments()
	if err != nil {
		return nil, fmt.Errorf("upkeep abi: %w", err)
	}
	values := make([]*big.Int, 0, len(ids))
	for _, id := range ids {
		values = append(values, new(big.Int).SetUint64(id))
	}
	return args.Pack(values, new(big.Int).SetUint64(nextCursor))
}

// DecodePayload reverses EncodePayload. Ids that do not fit uint64 are
// returned in invalid rather than failing the whole payload.
func DecodePayload(payload []byte) (ids []uint64, invalid []*big.Int, nextCursor uint64, err error) {
	args, err := upkeepArguments()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("upkeep abi: %w", err)
	}
	values, err := args.Unpack(payload)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("unpack upkeep payload: %w", err)
	}
	if len(values) != 2 {
		return nil, nil, 0, fmt.Errorf("unpack upkeep payload: %d values", len(values))
	}
	rawIDs, ok := values[0].([]*big.Int)
	if !ok {
		return nil, nil, 0, fmt.Errorf("upkeep ids: unexpected type %T", values[0])
	}
	rawCursor, ok := values[1].(*big.Int)
	if !ok {
		return nil, nil, 0, fmt.Errorf("upkeep cursor: unexpected type %T", values[1])
	}

	for _, raw := range rawIDs {
		if !raw.IsUint64() {
			invalid = append(invalid, raw)
			continue
		}
		ids = append(ids, raw.Uint64())
	}
	if rawCursor.IsUint64() {
		nextCursor = rawCursor.Uint64()
	}
	return ids, invalid, nextCursor, nil
}
