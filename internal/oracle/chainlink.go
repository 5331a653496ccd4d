package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"callSpread/internal/model"
)

const aggregatorABIJSON = `[
  {"inputs": [], "name": "latestAnswer", "outputs": [{"internalType": "int256", "name": "", "type": "int256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "decimals", "outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}], "stateMutability": "view", "type": "function"}
]`

var (
	aggregatorABI     abi.ABI
	aggregatorABIOnce sync.Once
	aggregatorABIErr  error
)

// AggregatorABI returns the parsed price aggregator ABI.
func AggregatorABI() (abi.ABI, error) {
	aggregatorABIOnce.Do(func() {
		aggregatorABI, aggregatorABIErr = abi.JSON(strings.NewReader(aggregatorABIJSON))
	})
	return aggregatorABI, aggregatorABIErr
}

// ContractCaller performs read-only contract calls. chain.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkFeed reads latestAnswer/decimals from an on-chain aggregator.
// Decimals are read once and cached.
type ChainlinkFeed struct {
	caller  ContractCaller
	address common.Address
	logger  *zap.Logger

	mu          sync.Mutex
	decimals    uint8
	hasDecimals bool
}

func NewChainlinkFeed(caller ContractCaller, address common.Address, logger *zap.Logger) *ChainlinkFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainlinkFeed{caller: caller, address: address, logger: logger}
}

func (f *ChainlinkFeed) LatestPrice(ctx context.Context) (Price, error) {
	decimals, err := f.Decimals(ctx)
	if err != nil {
		return Price{}, err
	}

	values, err := f.call(ctx, "latestAnswer")
	if err != nil {
		return Price{}, err
	}
	answer, ok := values[0].(*big.Int)
	if !ok {
		return Price{}, fmt.Errorf("%w: latestAnswer type %T", model.ErrOracleUnavailable, values[0])
	}
	if answer.Sign() <= 0 {
		f.logger.Warn("non-positive oracle answer", zap.String("feed", f.address.Hex()), zap.String("answer", answer.String()))
		return Price{}, fmt.Errorf("%w: non-positive answer %s", model.ErrOracleUnavailable, answer)
	}
	return Price{Value: answer, Decimals: decimals}, nil
}

// Decimals returns the feed precision.
func (f *ChainlinkFeed) Decimals(ctx context.Context) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasDecimals {
		return f.decimals, nil
	}

	values, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: decimals type %T", model.ErrOracleUnavailable, values[0])
	}
	f.decimals = decimals
	f.hasDecimals = true
	return decimals, nil
}

func (f *ChainlinkFeed) call(ctx context.Context, method string) ([]interface{}, error) {
	if f.caller == nil {
		return nil, fmt.Errorf("%w: contract caller is nil", model.ErrOracleUnavailable)
	}
	aggABI, err := AggregatorABI()
	if err != nil {
		return nil, fmt.Errorf("%w: parse aggregator abi: %v", model.ErrOracleUnavailable, err)
	}
	data, err := aggABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", model.ErrOracleUnavailable, method, err)
	}
	resp, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &f.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s: %v", model.ErrOracleUnavailable, method, err)
	}
	values, err := aggABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", model.ErrOracleUnavailable, method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty %s response", model.ErrOracleUnavailable, method)
	}
	return values, nil
}
