package repositories

import "testing"

func TestCanonicalPair(t *testing.T) {
	cases := []struct {
		a, b         int
		want1, want2 int
	}{
		{1, 2, 1, 2},
		{2, 1, 1, 2},
		{7, 7, 7, 7},
		{100, 3, 3, 100},
	}

	for _, tc := range cases {
		got1, got2 := canonicalPair(tc.a, tc.b)
		if got1 != tc.want1 || got2 != tc.want2 {
			t.Fatalf("canonicalPair(%d, %d) = (%d, %d), want (%d, %d)", tc.a, tc.b, got1, got2, tc.want1, tc.want2)
		}
	}
}
