package payoff

import (
	"fmt"
	"math/big"
	"strings"
)

// Scale converts a raw payoff in price units into collateral base units.
//
// QuotePerCollateral is the number of whole quote units (e.g. USD) one whole
// collateral token pays out. With 8 price decimals, 18 collateral decimals and
// 1000 quote per collateral, a payoff of 3000e8 converts to 3e18.
type Scale struct {
	PriceDecimals      uint8
	CollateralDecimals uint8
	QuotePerCollateral *big.Int
}

// DefaultScale matches a Chainlink USD feed settling into an 18-decimal stablecoin.
func DefaultScale() Scale {
	return Scale{
		PriceDecimals:      8,
		CollateralDecimals: 18,
		QuotePerCollateral: big.NewInt(1000),
	}
}

// Validate checks the scale can be used for conversion.
func (s Scale) Validate() error {
	if s.QuotePerCollateral == nil || s.QuotePerCollateral.Sign() <= 0 {
		return fmt.Errorf("quote per collateral must be positive")
	}
	if s.PriceDecimals > 36 || s.CollateralDecimals > 36 {
		return fmt.Errorf("decimals out of range")
	}
	return nil
}

// ToCollateral converts a raw payoff to collateral base units, rounding down.
func (s Scale) ToCollateral(raw *big.Int) *big.Int {
	if raw == nil || raw.Sign() <= 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(raw, pow10(s.CollateralDecimals))
	den := new(big.Int).Mul(pow10(s.PriceDecimals), s.QuotePerCollateral)
	return num.Quo(num, den)
}

// MaxPayout is the largest collateral amount a spread with these strikes can pay.
func (s Scale) MaxPayout(strikeLow, strikeHigh *big.Int) *big.Int {
	return s.ToCollateral(MaxPayoff(strikeLow, strikeHigh))
}

// Rescale moves value from one decimal precision to another, truncating when
// precision is reduced.
func Rescale(value *big.Int, from, to uint8) *big.Int {
	switch {
	case from == to:
		return new(big.Int).Set(value)
	case from < to:
		return new(big.Int).Mul(value, pow10(to-from))
	default:
		return new(big.Int).Quo(value, pow10(from-to))
	}
}

// FormatUnits renders a base-unit amount as a decimal string with the given precision.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	rat := new(big.Rat).SetFrac(abs, pow10(decimals))
	text := rat.FloatString(int(decimals))
	if sign < 0 {
		return "-" + text
	}
	return text
}

// ParseUnits reads a decimal string such as "25000" or "1.5" into base units.
// More fractional digits than decimals is an error.
func ParseUnits(text string, decimals uint8) (*big.Int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty amount")
	}
	whole, frac, _ := strings.Cut(text, ".")
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", text, decimals)
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok || strings.ContainsAny(digits, "+-") {
		return nil, fmt.Errorf("invalid amount %s", text)
	}
	return value, nil
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
