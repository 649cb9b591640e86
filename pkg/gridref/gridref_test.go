package gridref

import "testing"

func TestEncode(t *testing.T) {
	tests := []struct {
		e, n      float64
		precision int
		want      string
	}{
		{0, 0, 1, "SV00"},
		{435000, 105000, 1, "SU30"},
		{430000, 100000, 1, "SU30"},
		{530000, 180000, 1, "TQ38"},
		{325000, 675000, 1, "NT27"},
		{435123, 105987, 3, "SU351059"},
		{435000, 105000, 0, "SU"},
	}

	for _, tt := range tests {
		if got := Encode(tt.e, tt.n, tt.precision); got != tt.want {
			t.Errorf("Encode(%g, %g, %d) = %q, want %q", tt.e, tt.n, tt.precision, got, tt.want)
		}
	}
}

func TestEncodeOutsideGrid(t *testing.T) {
	tests := []struct {
		e, n float64
	}{
		{-1, 0},
		{0, -1},
		{700000, 0},
		{0, 1300000},
	}

	for _, tt := range tests {
		if got := Encode(tt.e, tt.n, 1); got != "" {
			t.Errorf("Encode(%g, %g) = %q, want empty", tt.e, tt.n, got)
		}
	}
}
