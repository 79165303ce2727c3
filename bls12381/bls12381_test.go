package bls12381

import (
	"math/big"
	"testing"
)

func TestFrReducesAboveOrder(t *testing.T) {
	above := new(big.Int).Add(frOrder, big.NewInt(7))
	f := NewFr(above)
	if f.v.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("expected reduction to 7, got %s", f.v.String())
	}
}

func TestFrInverse(t *testing.T) {
	f := NewFr(big.NewInt(12345))
	inv := f.Inverse()
	product := f.Mul(inv)
	if product.v.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("f * f^-1 should be 1, got %s", product.v.String())
	}
}

func TestHashToScalarDeterministic(t *testing.T) {
	a := HashToScalar([]byte("hello"))
	b := HashToScalar([]byte("hello"))
	if a.v.Cmp(b.v) != 0 {
		t.Fatal("HashToScalar must be deterministic")
	}
	c := HashToScalar([]byte("world"))
	if a.v.Cmp(c.v) == 0 {
		t.Fatal("different inputs should hash to different scalars (overwhelmingly)")
	}
}

func TestHashToG1Deterministic(t *testing.T) {
	a := HashToG1("domain", []byte("x"))
	b := HashToG1("domain", []byte("x"))
	if string(a.Compress()) != string(b.Compress()) {
		t.Fatal("HashToG1 must be deterministic")
	}
}
