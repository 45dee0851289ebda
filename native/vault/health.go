package vault

import (
	"github.com/holiman/uint256"

	"zkusd/native/fixedpoint"
)

const (
	// MinHealthFactor is the 150% collateralization boundary expressed x100.
	MinHealthFactor uint64 = 100
	// CollateralRatioPercent is the minimum collateral value as a percentage of debt.
	CollateralRatioPercent uint64 = 150

	basisPoints uint64 = 10_000
)

var (
	hundred = uint256.NewInt(100)
	ratio   = uint256.NewInt(CollateralRatioPercent)
	unit    = uint256.NewInt(fixedpoint.Unit)
)

// HealthFactor returns the collateralization score of a position:
//
//	collateralValue = floor(collateral * price / Unit)
//	maxDebt         = floor(collateralValue * 100 / 150) * 100
//	healthFactor    = maxDebt / debt
//
// A zero debt yields fixedpoint.Max. Values of at least MinHealthFactor are
// safe; anything below may be liquidated.
func HealthFactor(collateral, debt, price uint64) (uint64, error) {
	collateralValue, err := fixedpoint.VerifiedDiv(fixedpoint.Mul(collateral, price), unit)
	if err != nil {
		return 0, err
	}
	scaled := new(uint256.Int).Mul(collateralValue, hundred)
	maxDebt, err := fixedpoint.VerifiedDiv(scaled, ratio)
	if err != nil {
		return 0, err
	}
	maxDebt.Mul(maxDebt, hundred)
	return fixedpoint.Saturate(fixedpoint.SafeDiv(maxDebt, uint256.NewInt(debt))), nil
}
