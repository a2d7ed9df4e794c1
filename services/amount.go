package services

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the precision of the USDC/USDT base unit.
const TokenDecimals = 6

var baseUnitScale = decimal.New(1, TokenDecimals)

// ToBaseUnits converts a display amount to integer base units, floor(amount × 10^6).
// Digits below 10^-6 are dropped toward zero.
func ToBaseUnits(amount decimal.Decimal) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, newError(KindInvalidAmount, "negative amount %s", amount.String())
	}
	return amount.Mul(baseUnitScale).Truncate(0).BigInt(), nil
}

// ToDecimal is the display inverse of ToBaseUnits. Do not feed its result back into
// arithmetic on base units.
func ToDecimal(baseUnits *big.Int) decimal.Decimal {
	if baseUnits == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(baseUnits, -TokenDecimals)
}

// ParseAmount parses a user supplied amount such as "1000" or "1,250.50".
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, newError(KindInvalidAmount, "empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, wrapError(KindInvalidAmount, err)
	}
	if d.IsNegative() {
		return decimal.Zero, newError(KindInvalidAmount, "negative amount %s", s)
	}
	return d, nil
}
