// Package oracle provides read-only access to an external latest-price feed.
package oracle

import (
	"context"
	"math/big"
)

// Price is a fixed-point price: Value / 10^Decimals.
type Price struct {
	Value    *big.Int
	Decimals uint8
}

// Feed reports the latest price. Implementations wrap every failure in
// model.ErrOracleUnavailable.
type Feed interface {
	LatestPrice(ctx context.Context) (Price, error)
}
