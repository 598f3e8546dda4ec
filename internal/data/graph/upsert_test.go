package graph

import "testing"

func TestMemberStrengthMapping(t *testing.T) {
	cases := []struct {
		importance int
		want       float64
	}{
		{1, 0.1},
		{5, 0.5},
		{10, 1.0},
		{0, 0.1},   // clamped low
		{-3, 0.1},  // clamped low
		{11, 1.0},  // clamped high
		{100, 1.0}, // clamped high
	}
	for _, c := range cases {
		if got := MemberStrength(c.importance); got != c.want {
			t.Errorf("MemberStrength(%d) = %v, want %v", c.importance, got, c.want)
		}
	}
}
