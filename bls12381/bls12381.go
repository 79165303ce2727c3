// Package bls12381 wraps github.com/supranational/blst for the BLS12-381
// scalar field, G1/G2 group arithmetic, compressed serialization, and
// pairing checks needed by the bbs package. The wrapping style follows the
// blst adapter pattern in the reference corpus: thin Go types around blst's
// affine/projective points, with domain-specific hashing layered on top.
package bls12381

import (
	"crypto/rand"
	"crypto/sha256"
	"math/big"

	blst "github.com/supranational/blst/bindings/go"

	"github.com/hashledger/hashledger/apperr"
)

// frOrder is r = 0x73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001,
// the prime order of the BLS12-381 scalar field and of G1/G2.
var frOrder, _ = new(big.Int).SetString(
	"73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001", 16)

// FrOrder returns a copy of the scalar field order r.
func FrOrder() *big.Int { return new(big.Int).Set(frOrder) }

// Fr is an element of the scalar field, always kept reduced into [0, r).
type Fr struct{ v *big.Int }

// NewFr reduces v modulo r. Implementations MUST accept any 256-bit integer,
// including values straddling r, and reduce them here.
func NewFr(v *big.Int) Fr {
	reduced := new(big.Int).Mod(v, frOrder)
	if reduced.Sign() < 0 {
		reduced.Add(reduced, frOrder)
	}
	return Fr{reduced}
}

// FrFromBytes interprets b as a big-endian unsigned integer and reduces it mod r.
func FrFromBytes(b []byte) Fr { return NewFr(new(big.Int).SetBytes(b)) }

// RandomFr samples a uniform nonzero element of Fr.
func RandomFr() (Fr, error) {
	for {
		v, err := rand.Int(rand.Reader, frOrder)
		if err != nil {
			return Fr{}, apperr.Wrap(500, apperr.CodeInternal, "scalar sampling failed", err)
		}
		if v.Sign() != 0 {
			return NewFr(v), nil
		}
	}
}

// Bytes returns the 32-byte big-endian encoding of f.
func (f Fr) Bytes() []byte {
	out := make([]byte, 32)
	f.v.FillBytes(out)
	return out
}

func (f Fr) Add(g Fr) Fr { return NewFr(new(big.Int).Add(f.v, g.v)) }
func (f Fr) Sub(g Fr) Fr { return NewFr(new(big.Int).Sub(f.v, g.v)) }
func (f Fr) Mul(g Fr) Fr { return NewFr(new(big.Int).Mul(f.v, g.v)) }
func (f Fr) Neg() Fr     { return NewFr(new(big.Int).Neg(f.v)) }

// Inverse returns f^-1 mod r. Panics if f is zero; callers must not invert
// zero scalars.
func (f Fr) Inverse() Fr {
	if f.v.Sign() == 0 {
		panic("bls12381: inverse of zero scalar")
	}
	return NewFr(new(big.Int).ModInverse(f.v, frOrder))
}

func (f Fr) IsZero() bool { return f.v.Sign() == 0 }

func (f Fr) blstScalar() *blst.Scalar {
	var s blst.Scalar
	s.FromBEndian(f.Bytes())
	return &s
}

// HashToScalar implements Fr(BE_to_int(SHA256(SHA256(concat(inputs)) ||
// "expand")) mod r).
func HashToScalar(inputs ...[]byte) Fr {
	h1 := sha256.New()
	for _, in := range inputs {
		h1.Write(in)
	}
	inner := h1.Sum(nil)

	h2 := sha256.New()
	h2.Write(inner)
	h2.Write([]byte("expand"))
	outer := h2.Sum(nil)

	return FrFromBytes(outer)
}

// G1 is a point on the BLS12-381 G1 curve, held in Jacobian form.
type G1 struct{ pt blst.P1 }

// G1Generator returns the standard BLS12-381 G1 generator.
func G1Generator() G1 { return G1{*blst.P1Generator()} }

// G1Identity returns the G1 point at infinity.
func G1Identity() G1 { return G1{} }

func (g G1) Add(h G1) G1 {
	return G1{*g.pt.Add(&h.pt)}
}

// Mul returns g scaled by the scalar f.
func (g G1) Mul(f Fr) G1 {
	return G1{*g.pt.Mult(f.blstScalar())}
}

// Neg returns the additive inverse of g, computed as g * (r-1) since blst's
// projective type exposes no direct negation in this binding surface.
func (g G1) Neg() G1 {
	minusOne := NewFr(new(big.Int).Sub(frOrder, big.NewInt(1)))
	return g.Mul(minusOne)
}

func (g G1) IsIdentity() bool { return g.pt.Equals(&blst.P1{}) }

// Compress returns the 48-byte compressed serialization of g.
func (g G1) Compress() []byte {
	aff := g.pt.ToAffine()
	return aff.Compress()
}

// DecompressG1 parses a 48-byte compressed G1 point.
func DecompressG1(b []byte) (G1, error) {
	if len(b) != 48 {
		return G1{}, apperr.New(400, apperr.CodeInvalidLength, "G1 compressed point must be 48 bytes")
	}
	aff := new(blst.P1Affine).Uncompress(b)
	if aff == nil {
		return G1{}, apperr.New(400, apperr.CodeInvalidKey, "invalid G1 compressed point")
	}
	var pt blst.P1
	pt.FromAffine(aff)
	return G1{pt}, nil
}

// AffineX returns the 32-byte big-endian x-coordinate used in BBS+ challenge
// hashing: the compressed form's flag bits are cleared, and the coordinate
// (an Fp element, 48 bytes) is truncated to its low 32 bytes.
func (g G1) AffineX() []byte {
	c := g.Compress()
	x := make([]byte, 48)
	copy(x, c)
	x[0] &^= 0xE0
	return x[16:]
}

// G2 is a point on the BLS12-381 G2 curve, held in Jacobian form.
type G2 struct{ pt blst.P2 }

func G2Generator() G2 { return G2{*blst.P2Generator()} }
func G2Identity() G2  { return G2{} }

func (g G2) Add(h G2) G2 {
	return G2{*g.pt.Add(&h.pt)}
}

func (g G2) Mul(f Fr) G2 {
	return G2{*g.pt.Mult(f.blstScalar())}
}

func (g G2) IsIdentity() bool { return g.pt.Equals(&blst.P2{}) }

// Compress returns the 96-byte compressed serialization of g.
func (g G2) Compress() []byte {
	aff := g.pt.ToAffine()
	return aff.Compress()
}

// DecompressG2 parses a 96-byte compressed G2 point.
func DecompressG2(b []byte) (G2, error) {
	if len(b) != 96 {
		return G2{}, apperr.New(400, apperr.CodeInvalidLength, "G2 compressed point must be 96 bytes")
	}
	aff := new(blst.P2Affine).Uncompress(b)
	if aff == nil {
		return G2{}, apperr.New(400, apperr.CodeInvalidKey, "invalid G2 compressed point")
	}
	var pt blst.P2
	pt.FromAffine(aff)
	return G2{pt}, nil
}

// HashToG1 implements the fixed (non-standard) scheme this system requires:
// scalar = HashToScalar(utf8(domain) || concat(inputs)); return scalar * G1
// generator. This is not a random-oracle hash-to-curve; it is preserved
// exactly for compatibility per the design notes.
func HashToG1(domain string, inputs ...[]byte) G1 {
	all := append([][]byte{[]byte(domain)}, inputs...)
	scalar := HashToScalar(all...)
	return G1Generator().Mul(scalar)
}

// PairingEqual reports whether e(a, x) == e(b, y), using blst's Miller-loop
// plus shared final exponentiation so the two sides need not each pay for a
// separate final exponentiation.
func PairingEqual(a G1, x G2, b G1, y G2) bool {
	aAff := a.pt.ToAffine()
	xAff := x.pt.ToAffine()
	bAff := b.pt.ToAffine()
	yAff := y.pt.ToAffine()

	left := blst.Fp12MillerLoop(xAff, aAff)
	right := blst.Fp12MillerLoop(yAff, bAff)
	return blst.Fp12FinalVerify(left, right)
}
