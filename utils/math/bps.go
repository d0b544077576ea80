// Package math holds the fixed-point helpers shared by the pricing code.
package math

import (
	"math/big"
)

// BpsDenominator is the number of basis points in one whole
const BpsDenominator = 10000

var (
	bpsBase = big.NewInt(BpsDenominator)
	hundred = big.NewRat(100, 1)
)

// Clone returns a copy of x, treating nil as zero
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// MulBps returns x*bps/10000 truncated toward zero
func MulBps(x *big.Int, bps uint32) *big.Int {
	out := new(big.Int).Mul(x, big.NewInt(int64(bps)))
	return out.Quo(out, bpsBase)
}

// DiscountBps returns x*(10000-bps)/10000 truncated toward zero.
// bps above 10000 yields zero.
func DiscountBps(x *big.Int, bps uint32) *big.Int {
	if bps >= BpsDenominator {
		return new(big.Int)
	}
	return MulBps(x, BpsDenominator-bps)
}

// PremiumBps returns x*(10000+bps)/10000 truncated toward zero
func PremiumBps(x *big.Int, bps uint32) *big.Int {
	return MulBps(x, BpsDenominator+bps)
}

// PercentDrop returns 100*(1-after/before) as a float. A zero before yields 0.
func PercentDrop(before, after *big.Rat) float64 {
	if before.Sign() == 0 {
		return 0
	}
	ratio := new(big.Rat).Quo(after, before)
	drop := new(big.Rat).Sub(big.NewRat(1, 1), ratio)
	f, _ := drop.Mul(drop, hundred).Float64()
	return f
}

// FormatUnits renders an integer amount with the given decimals, e.g. 1500000 @6 -> "1.5"
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r := new(big.Rat).SetFrac(amount, scale)
	s := r.FloatString(int(decimals))
	if decimals == 0 {
		return s
	}
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}

// ParseUnits parses a decimal string such as "5" or "0.25" into the smallest unit
func ParseUnits(value string, decimals uint8) (*big.Int, bool) {
	r, ok := new(big.Rat).SetString(value)
	if !ok || r.Sign() < 0 {
		return nil, false
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	if !r.IsInt() {
		return nil, false
	}
	return new(big.Int).Set(r.Num()), true
}
