// Package fixedpoint implements the 9-decimal unsigned arithmetic shared by the
// vault and oracle engines. Intermediates are carried as 256-bit integers so
// products of two Fixed64 values never wrap.
package fixedpoint

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

const (
	// Decimals is the number of fractional digits in every amount and price.
	Decimals = 9
	// Unit is the fixed-point representation of 1.0.
	Unit uint64 = 1_000_000_000
	// Max is the largest representable Fixed64 value.
	Max uint64 = math.MaxUint64
)

var (
	ErrDivisionByZero  = errors.New("fixedpoint: division by zero")
	ErrWitnessMismatch = errors.New("fixedpoint: quotient witness does not reconstruct numerator")
	ErrOverflow        = errors.New("fixedpoint: value exceeds 64 bits")
)

var maxInt = uint256.NewInt(Max)

// VerifiedDiv returns floor(numerator/denominator). The quotient and remainder
// are computed first and then checked against numerator == q*denominator + r
// with 0 <= r < denominator, using overflow-checked arithmetic.
func VerifiedDiv(numerator, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator == nil || denominator.IsZero() {
		return nil, ErrDivisionByZero
	}
	if numerator == nil {
		numerator = new(uint256.Int)
	}
	quotient, remainder := new(uint256.Int).DivMod(numerator, denominator, new(uint256.Int))
	if err := checkWitness(numerator, denominator, quotient, remainder); err != nil {
		return nil, err
	}
	return quotient, nil
}

func checkWitness(numerator, denominator, quotient, remainder *uint256.Int) error {
	if !remainder.Lt(denominator) {
		return ErrWitnessMismatch
	}
	product, overflow := new(uint256.Int).MulOverflow(quotient, denominator)
	if overflow {
		return ErrWitnessMismatch
	}
	sum, overflow := new(uint256.Int).AddOverflow(product, remainder)
	if overflow || !sum.Eq(numerator) {
		return ErrWitnessMismatch
	}
	return nil
}

// SafeDiv is the total counterpart of VerifiedDiv. A zero denominator is
// replaced by one for the witness check and the result is Max.
func SafeDiv(numerator, denominator *uint256.Int) *uint256.Int {
	zero := denominator == nil || denominator.IsZero()
	if zero {
		denominator = uint256.NewInt(1)
	}
	quotient, err := VerifiedDiv(numerator, denominator)
	if zero || err != nil {
		return new(uint256.Int).Set(maxInt)
	}
	return quotient
}

// Saturate clamps v to the Fixed64 range.
func Saturate(v *uint256.Int) uint64 {
	if v == nil {
		return 0
	}
	if v.Gt(maxInt) {
		return Max
	}
	return v.Uint64()
}

// ToUint64 narrows v, failing when it does not fit.
func ToUint64(v *uint256.Int) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	if !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}

// MulDiv returns floor(a*b/d) with a 256-bit intermediate product.
func MulDiv(a, b, d uint64) (uint64, error) {
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	quotient, err := VerifiedDiv(product, uint256.NewInt(d))
	if err != nil {
		return 0, err
	}
	return ToUint64(quotient)
}

// Mul returns a*b as a 256-bit integer.
func Mul(a, b uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
}
