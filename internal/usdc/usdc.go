// Package usdc converts between decimal USDC prices and atomic units.
//
// USDC uses 6 decimal places, so 1 USDC = 1,000,000 atomic units. x402
// payment requirements carry amounts as base-10 strings of atomic units.
package usdc

import (
	"errors"
	"math/big"
	"strings"
)

const Decimals = 6

var ErrInvalidAmount = errors.New("invalid USDC amount")

// Parse converts a decimal string such as "0.05" to atomic units (50000).
// Negative values, more than one decimal point and more than six
// fractional digits are rejected rather than rounded.
func Parse(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, ErrInvalidAmount
	}

	whole, frac, _ := strings.Cut(s, ".")
	if strings.Contains(frac, ".") || len(frac) > Decimals {
		return nil, ErrInvalidAmount
	}
	if whole == "" {
		whole = "0"
	}
	frac += strings.Repeat("0", Decimals-len(frac))

	amount, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}
	return amount, nil
}

// Atomic is Parse returning the base-10 atomic string used on the wire.
func Atomic(s string) (string, error) {
	amount, err := Parse(s)
	if err != nil {
		return "", err
	}
	return amount.String(), nil
}

// Format renders atomic units as a decimal string, dropping trailing zeros
// but always keeping two fractional digits ("10000" -> "0.01").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	neg := amount.Sign() < 0
	s := new(big.Int).Abs(amount).String()
	if len(s) <= Decimals {
		s = strings.Repeat("0", Decimals+1-len(s)) + s
	}

	point := len(s) - Decimals
	frac := strings.TrimRight(s[point:], "0")
	for len(frac) < 2 {
		frac += "0"
	}
	result := s[:point] + "." + frac
	if neg {
		result = "-" + result
	}
	return result
}
