package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"callSpread/internal/model"
)

// MockFeed is a deterministic feed whose price is set explicitly.
type MockFeed struct {
	mu       sync.RWMutex
	decimals uint8
	value    *big.Int
	err      error
	reads    int
}

// NewMockFeed returns a feed with fixed decimals and an optional initial price.
func NewMockFeed(decimals uint8, initial *big.Int) *MockFeed {
	f := &MockFeed{decimals: decimals}
	if initial != nil {
		f.value = new(big.Int).Set(initial)
	}
	return f
}

// SetPrice replaces the reported price and clears any injected failure.
func (f *MockFeed) SetPrice(value *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = new(big.Int).Set(value)
	f.err = nil
}

// SetError makes subsequent reads fail with err.
func (f *MockFeed) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Reads returns how many times LatestPrice was called.
func (f *MockFeed) Reads() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.reads
}

func (f *MockFeed) LatestPrice(ctx context.Context) (Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if f.err != nil {
		return Price{}, fmt.Errorf("%w: %v", model.ErrOracleUnavailable, f.err)
	}
	if f.value == nil || f.value.Sign() <= 0 {
		return Price{}, fmt.Errorf("%w: no price set", model.ErrOracleUnavailable)
	}
	return Price{Value: new(big.Int).Set(f.value), Decimals: f.decimals}, nil
}
