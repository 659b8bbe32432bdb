package rng

import "testing"

func TestNextISNVaries(t *testing.T) {
	a := NextISN()
	b := NextISN()
	c := NextISN()
	if a == b && b == c {
		t.Fatalf("NextISN returned the same value three times in a row: %d", a)
	}
}

func TestInt63nRespectsBound(t *testing.T) {
	for i := 0; i < 1000; i++ {
		v := Int63n(10)
		if v < 0 || v >= 10 {
			t.Fatalf("Int63n(10) = %d, out of range", v)
		}
	}
}
