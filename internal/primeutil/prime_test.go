package primeutil

import "testing"

func TestIsPrime(t *testing.T) {
	primes := []uint32{2, 3, 5, 7, 11, 97, 65537, 1299827, 5003}
	for _, p := range primes {
		if !IsPrime(p) {
			t.Errorf("IsPrime(%d) = false, want true", p)
		}
	}

	composites := []uint32{0, 1, 4, 6, 8, 9, 100, 65536, 1000000}
	for _, c := range composites {
		if IsPrime(c) {
			t.Errorf("IsPrime(%d) = true, want false", c)
		}
	}
}

func TestMix64Avalanche(t *testing.T) {
	a := Mix64(0)
	b := Mix64(1)
	if a == b {
		t.Fatalf("Mix64(0) == Mix64(1): %d", a)
	}
	if a == 0 || b == 0 {
		t.Fatalf("Mix64 must never return 0: got %d, %d", a, b)
	}
}

func TestMix64Deterministic(t *testing.T) {
	for _, x := range []uint64{0, 1, 5, 1<<63 - 1} {
		if Mix64(x) != Mix64(x) {
			t.Fatalf("Mix64(%d) not deterministic", x)
		}
	}
}
