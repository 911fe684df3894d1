// Package coins converts between USD and the internal coin unit.
//
// The rate is fixed at 100 coins per dollar. Conversions round half-up to the
// nearest whole coin (or cent) and are exact for every amount representable
// under the rate, so UsdToCoins(CoinsToUsd(n)) == n for all n >= 0.
package coins

import (
	"errors"

	"github.com/shopspring/decimal"
)

// PerUSD is the number of coins in one US dollar.
const PerUSD = 100

// Currency is the only fiat currency coins are priced in.
const Currency = "USD"

// ErrNegativeAmount is returned when a price below zero is converted.
var ErrNegativeAmount = errors.New("coins: negative amount")

var perUSD = decimal.NewFromInt(PerUSD)

// UsdToCoins converts a dollar amount to coins, rounding half-up.
func UsdToCoins(usd decimal.Decimal) int64 {
	return roundHalfUp(usd.Mul(perUSD)).IntPart()
}

// CoinsToUsd converts coins to an exact dollar amount.
func CoinsToUsd(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}

// ToMinorUnits converts a dollar amount to cents. One cent is one coin.
func ToMinorUnits(usd decimal.Decimal) int64 {
	return UsdToCoins(usd)
}

// ParseUSD parses a non-negative dollar string such as "12.50".
func ParseUSD(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	return d, nil
}

// roundHalfUp rounds toward +inf on a tie. decimal.Round rounds ties away
// from zero, which only differs for negative values.
func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return d.Add(decimal.New(5, -1)).Floor()
	}
	return d.Round(0)
}
