package payoff

import "math/big"

// Payoff returns the capped call spread payoff at price. All three values share
// one fixed-point scale and the result is always in [0, strikeHigh-strikeLow].
func Payoff(strikeLow, strikeHigh, price *big.Int) *big.Int {
	if price.Cmp(strikeLow) <= 0 {
		return new(big.Int)
	}
	if price.Cmp(strikeHigh) >= 0 {
		return new(big.Int).Sub(strikeHigh, strikeLow)
	}
	return new(big.Int).Sub(price, strikeLow)
}

// MaxPayoff is the payoff ceiling for a spread.
func MaxPayoff(strikeLow, strikeHigh *big.Int) *big.Int {
	return new(big.Int).Sub(strikeHigh, strikeLow)
}
