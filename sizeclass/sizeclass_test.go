package sizeclass

import "testing"

func TestRoundUp(t *testing.T) {
	cases := []struct{ n, want int64 }{
		{0, 8}, {1, 8}, {8, 8}, {9, 16}, {32, 32}, {33, 40}, {256, 256},
	}
	for _, c := range cases {
		if got := RoundUp(c.n); got != c.want {
			t.Errorf("RoundUp(%v) = %v, want %v", c.n, got, c.want)
		}
	}
}

func TestIndex(t *testing.T) {
	cases := []struct {
		n    int64
		want int
	}{
		{0, 0}, {1, 0}, {8, 0}, {9, 1}, {16, 1}, {17, 2}, {32, 3},
	}
	for _, c := range cases {
		if got := Index(c.n); got != c.want {
			t.Errorf("Index(%v) = %v, want %v", c.n, got, c.want)
		}
	}
}

func TestClassSize(t *testing.T) {
	for i := 0; i < 10; i++ {
		if got := ClassSize(i); got != int64(i+1)*Alignment {
			t.Errorf("ClassSize(%v) = %v", i, got)
		}
	}
}

func TestIndexClassSizeRoundtrip(t *testing.T) {
	for n := int64(1); n < 4096; n++ {
		i := Index(n)
		size := ClassSize(i)
		if size < n {
			t.Fatalf("class size %v smaller than request %v (index %v)", size, n, i)
		}
		if size != RoundUp(n) {
			t.Fatalf("ClassSize(Index(%v))=%v != RoundUp(%v)=%v", n, size, n, RoundUp(n))
		}
	}
}

func TestK(t *testing.T) {
	if K != 32768 {
		t.Errorf("expected K=32768, got %v", K)
	}
	if MaxBytes/Alignment != int64(K) {
		t.Errorf("K must derive from MaxBytes/Alignment")
	}
}

func TestBatchHint(t *testing.T) {
	cases := []struct {
		size int64
		want int64
	}{
		{8, 512}, {64, 512}, {65, 128}, {512, 128}, {513, 32},
		{4096, 32}, {4097, 4}, {MaxBytes, 4},
	}
	for _, c := range cases {
		if got := BatchHint(c.size); got != c.want {
			t.Errorf("BatchHint(%v) = %v, want %v", c.size, got, c.want)
		}
	}
}
