package fixedpoint

import (
	"math"
	"testing"
)

func TestAddSubRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b FixedPoint
	}{
		{"both positive", FromFloat64(100.25), FromFloat64(3.5)},
		{"negative b", FromFloat64(50), FromFloat64(-12.125)},
		{"zero", FromFloat64(7), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.a.Add(tt.b).Sub(tt.b)
			if got != tt.a {
				t.Errorf("(a+b)-b = %v, want %v", got, tt.a)
			}
		})
	}
}

func TestFromFloat64ToFloat64RoundTrip(t *testing.T) {
	t.Parallel()

	for _, x := range []float64{0, 1, -1, 50123.45, -0.00000001, 1e6} {
		got := FromFloat64(x).ToFloat64()
		if math.Abs(got-x) > 1e-8 {
			t.Errorf("round trip of %v = %v, diff > 1e-8", x, got)
		}
	}
}

func TestApplyBpsSubtractBps(t *testing.T) {
	t.Parallel()

	x := FromFloat64(100.0)
	k := 25.0

	up := x.ApplyBps(k)
	down := x.SubtractBps(k)

	diff := up.Sub(down).ToFloat64()
	want := 2 * x.ToFloat64() * k / 10000.0

	if math.Abs(diff-want) > 1e-6 {
		t.Errorf("apply_bps - subtract_bps = %v, want %v", diff, want)
	}
}

func TestMulScalePrecision(t *testing.T) {
	t.Parallel()

	price := FromFloat64(50000.12345678)
	size := FromFloat64(0.001)

	got := price.Mul(size).ToFloat64()
	want := 50000.12345678 * 0.001

	if math.Abs(got-want) > 1e-6 {
		t.Errorf("price*size = %v, want ~%v", got, want)
	}
}

func TestParseDecimalBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    float64
		wantErr bool
	}{
		{"integer", "50000", 50000, false},
		{"full precision", "50123.45000000", 50123.45, false},
		{"truncates extra digits", "1.123456789", 1.12345678, false},
		{"pads short fraction", "1.5", 1.5, false},
		{"negative", "-12.25", -12.25, false},
		{"no digits", "", 0, true},
		{"bad character", "12.3a", 0, true},
		{"double dot", "1.2.3", 0, true},
		{"lone sign", "-", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDecimalBytes([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got.ToFloat64()-tt.want) > 1e-8 {
				t.Errorf("ParseDecimalBytes(%q) = %v, want %v", tt.input, got.ToFloat64(), tt.want)
			}
		})
	}
}

func TestCmpOrdering(t *testing.T) {
	t.Parallel()

	a := FromFloat64(1)
	b := FromFloat64(2)

	if a.Cmp(b) != -1 || b.Cmp(a) != 1 || a.Cmp(a) != 0 {
		t.Fatalf("Cmp ordering broken: a<b=%d b<a=%d a=a=%d", a.Cmp(b), b.Cmp(a), a.Cmp(a))
	}
}
