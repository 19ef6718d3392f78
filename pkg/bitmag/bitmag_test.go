package bitmag

import (
	"math/big"
	"testing"
)

func TestOrder(t *testing.T) {
	cases := []struct {
		in   int64
		want uint
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{3, 1},
		{4, 2},
		{255, 7},
		{256, 8},
		{1 << 40, 40},
	}
	for _, c := range cases {
		if got := Order(big.NewInt(c.in)); got != c.want {
			t.Fatalf("Order(%d) = %d, want %d", c.in, got, c.want)
		}
		if c.in >= 0 {
			if got := OrderUint64(uint64(c.in)); got != c.want {
				t.Fatalf("OrderUint64(%d) = %d, want %d", c.in, got, c.want)
			}
		}
	}
}

func TestOrderNegative(t *testing.T) {
	if got := Order(big.NewInt(-8)); got != 0 {
		t.Fatalf("Order(-8) = %d, want 0", got)
	}
	if got := Order(nil); got != 0 {
		t.Fatalf("Order(nil) = %d, want 0", got)
	}
}

func TestOrderLargeValues(t *testing.T) {
	x := new(big.Int).Lsh(big.NewInt(1), 255)
	if got := Order(x); got != 255 {
		t.Fatalf("Order(1<<255) = %d, want 255", got)
	}
}

func TestScaleMonotoneWithinOrder(t *testing.T) {
	// For x2 > x1 > 0 with equal order, Scale(x2) >= Scale(x1).
	x1 := big.NewInt(1 << 20)
	x2 := big.NewInt(1<<21 - 1)
	if Order(x1) != Order(x2) {
		t.Fatalf("test values must share an order")
	}
	if Scale(x2).Cmp(Scale(x1)) < 0 {
		t.Fatalf("Scale not monotone: Scale(%v)=%v < Scale(%v)=%v", x2, Scale(x2), x1, Scale(x1))
	}
}

func TestScaleSmallValuesCollapse(t *testing.T) {
	// Values below 256 with tiny order scale to zero.
	if got := Scale(big.NewInt(3)); got.Sign() != 0 {
		t.Fatalf("Scale(3) = %v, want 0", got)
	}
	if got := Scale(big.NewInt(1)); got.Sign() != 0 {
		t.Fatalf("Scale(1) = %v, want 0", got)
	}
}

func TestScaleZeroAndNil(t *testing.T) {
	if got := Scale(new(big.Int)); got.Sign() != 0 {
		t.Fatalf("Scale(0) = %v, want 0", got)
	}
	if got := Scale(nil); got.Sign() != 0 {
		t.Fatalf("Scale(nil) = %v, want 0", got)
	}
}
