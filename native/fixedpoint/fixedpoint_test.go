package fixedpoint

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestVerifiedDiv(t *testing.T) {
	cases := []struct {
		name string
		n, d uint64
		want uint64
	}{
		{"exact", 1_500_000_000, Unit, 1},
		{"floor", 7, 2, 3},
		{"zero numerator", 0, 9, 0},
		{"larger denominator", 3, 10, 0},
		{"one", Max, 1, Max},
	}
	for _, tc := range cases {
		got, err := VerifiedDiv(uint256.NewInt(tc.n), uint256.NewInt(tc.d))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got.Uint64() != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got.Uint64())
		}
	}
}

func TestVerifiedDivRejectsZeroDenominator(t *testing.T) {
	if _, err := VerifiedDiv(uint256.NewInt(5), new(uint256.Int)); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
	if _, err := VerifiedDiv(uint256.NewInt(5), nil); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero for nil, got %v", err)
	}
}

func TestVerifiedDivWideNumerator(t *testing.T) {
	product := Mul(Max, Max)
	got, err := VerifiedDiv(product, uint256.NewInt(Max))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Uint64() != Max {
		t.Fatalf("expected %d, got %s", Max, got)
	}
}

func TestCheckWitnessRejectsBadQuotient(t *testing.T) {
	n := uint256.NewInt(10)
	d := uint256.NewInt(3)
	if err := checkWitness(n, d, uint256.NewInt(2), uint256.NewInt(4)); !errors.Is(err, ErrWitnessMismatch) {
		t.Fatalf("expected remainder bound failure, got %v", err)
	}
	if err := checkWitness(n, d, uint256.NewInt(2), uint256.NewInt(1)); !errors.Is(err, ErrWitnessMismatch) {
		t.Fatalf("expected reconstruction failure, got %v", err)
	}
	if err := checkWitness(n, d, uint256.NewInt(3), uint256.NewInt(1)); err != nil {
		t.Fatalf("expected valid witness, got %v", err)
	}
}

func TestSafeDivZeroDenominatorReturnsMax(t *testing.T) {
	got := SafeDiv(uint256.NewInt(12345), new(uint256.Int))
	if Saturate(got) != Max {
		t.Fatalf("expected Max, got %s", got)
	}
	got = SafeDiv(uint256.NewInt(0), nil)
	if Saturate(got) != Max {
		t.Fatalf("expected Max for nil denominator, got %s", got)
	}
}

func TestSafeDivMatchesVerifiedDiv(t *testing.T) {
	for _, d := range []uint64{1, 3, 150, Unit} {
		want, err := VerifiedDiv(uint256.NewInt(66_666_666_600), uint256.NewInt(d))
		if err != nil {
			t.Fatalf("verified div: %v", err)
		}
		if got := SafeDiv(uint256.NewInt(66_666_666_600), uint256.NewInt(d)); !got.Eq(want) {
			t.Fatalf("denominator %d: expected %s, got %s", d, want, got)
		}
	}
}

func TestSaturateAndToUint64(t *testing.T) {
	wide := Mul(Max, 2)
	if Saturate(wide) != Max {
		t.Fatalf("expected saturation to Max")
	}
	if _, err := ToUint64(wide); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	v, err := ToUint64(uint256.NewInt(42))
	if err != nil || v != 42 {
		t.Fatalf("expected 42, got %d (%v)", v, err)
	}
}

func TestMulDiv(t *testing.T) {
	got, err := MulDiv(100*Unit, Unit, Unit)
	if err != nil || got != 100*Unit {
		t.Fatalf("expected %d, got %d (%v)", 100*Unit, got, err)
	}
	if _, err := MulDiv(1, 1, 0); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
	if _, err := MulDiv(Max, Max, 1); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}
