// Package bbs implements the BBS+ anonymous group membership credential and
// signature scheme over BLS12-381, per the manager/issuance/sign/verify/
// revoke design in the chain core's group-log family.
package bbs

import (
	"github.com/hashledger/hashledger/apperr"
	"github.com/hashledger/hashledger/bls12381"
)

// GroupPublicKey is the manager's public parameters shared with all members
// and with the server for verification.
type GroupPublicKey struct {
	W  bls12381.G2 // g2^gamma
	H0 bls12381.G1
	H1 bls12381.G1
}

// ManagerPrivateKey is the group manager's secret, kept off-device from members.
type ManagerPrivateKey struct {
	Gamma     bls12381.Fr
	PublicKey GroupPublicKey
}

// Setup samples gamma and derives w, h0, h1. The generators are deliberately
// derived from gamma (not domain-separated on w) per the open-question
// decision to preserve the source scheme exactly.
func Setup() (*ManagerPrivateKey, error) {
	gamma, err := bls12381.RandomFr()
	if err != nil {
		return nil, err
	}
	w := bls12381.G2Generator().Mul(gamma)
	gammaBytes := gamma.Bytes()
	h0 := bls12381.HashToG1("BBS+Generator-h0", gammaBytes)
	h1 := bls12381.HashToG1("BBS+Generator-h1", gammaBytes)
	return &ManagerPrivateKey{
		Gamma:     gamma,
		PublicKey: GroupPublicKey{W: w, H0: h0, H1: h1},
	}, nil
}

// MemberCredential is a member's blinded issuance credential.
type MemberCredential struct {
	X bls12381.Fr
	A bls12381.G1
	E bls12381.Fr
	S bls12381.Fr
}

// Issue samples x, e, s and computes A = (g1 + h0*s + h1*x) * (gamma+e)^-1.
// The invariant e(A, w + g2*e) = e(B, g2) holds by construction.
func Issue(mgr *ManagerPrivateKey) (*MemberCredential, error) {
	x, err := bls12381.RandomFr()
	if err != nil {
		return nil, err
	}
	e, err := bls12381.RandomFr()
	if err != nil {
		return nil, err
	}
	s, err := bls12381.RandomFr()
	if err != nil {
		return nil, err
	}

	g1 := bls12381.G1Generator()
	b := g1.Add(mgr.PublicKey.H0.Mul(s)).Add(mgr.PublicKey.H1.Mul(x))
	denom := mgr.Gamma.Add(e)
	a := b.Mul(denom.Inverse())

	return &MemberCredential{X: x, A: a, E: e, S: s}, nil
}

// GroupSignature is a randomized zero-knowledge proof of possession of a
// valid credential, signing a UTF-8 message.
type GroupSignature struct {
	APrime bls12381.G1
	ABar   bls12381.G1
	D      bls12381.G1
	C      bls12381.Fr
	SX     bls12381.Fr
	SR2    bls12381.Fr
	SE     bls12381.Fr
	SS     bls12381.Fr
}

// Sign produces a GroupSignature over message using cred and the group's
// public parameters, via a randomize/commit/challenge/respond
// construction.
func Sign(pub GroupPublicKey, cred *MemberCredential, message string) (*GroupSignature, error) {
	r, err := bls12381.RandomFr()
	if err != nil {
		return nil, err
	}
	r2, err := bls12381.RandomFr()
	if err != nil {
		return nil, err
	}
	rX, err := bls12381.RandomFr()
	if err != nil {
		return nil, err
	}
	rR2, err := bls12381.RandomFr()
	if err != nil {
		return nil, err
	}
	rE, err := bls12381.RandomFr()
	if err != nil {
		return nil, err
	}
	rS, err := bls12381.RandomFr()
	if err != nil {
		return nil, err
	}

	g1 := bls12381.G1Generator()
	aPrime := cred.A.Mul(r)
	xr := cred.X.Mul(r)
	sr := cred.S.Mul(r)
	bPrime := g1.Mul(r).Add(pub.H0.Mul(sr)).Add(pub.H1.Mul(xr))

	// Abar = B' + A'*(-e), so e(A', w) == e(Abar, g2).
	abar := bPrime.Add(aPrime.Mul(cred.E.Neg()))

	d := pub.H0.Mul(r2).Add(pub.H1.Mul(xr))
	t := pub.H0.Mul(rR2).Add(pub.H1.Mul(rX))

	c := bls12381.HashToScalar(
		[]byte(message),
		aPrime.AffineX(),
		abar.AffineX(),
		d.AffineX(),
		t.AffineX(),
	)

	sX := rX.Add(c.Mul(xr))
	sR2 := rR2.Add(c.Mul(r2))
	sE := rE.Add(c.Mul(cred.E))
	sS := rS.Add(c.Mul(cred.S))

	return &GroupSignature{
		APrime: aPrime,
		ABar:   abar,
		D:      d,
		C:      c,
		SX:     sX,
		SR2:    sR2,
		SE:     sE,
		SS:     sS,
	}, nil
}

// Verify checks sig over message against pub via a three-step check.
func Verify(pub GroupPublicKey, sig *GroupSignature, message string) error {
	if sig.APrime.IsIdentity() || sig.ABar.IsIdentity() {
		return apperr.New(400, apperr.CodeInvalidGroupSig, "identity A' or Abar")
	}

	tPrime := pub.H0.Mul(sig.SR2).Add(pub.H1.Mul(sig.SX)).Add(sig.D.Mul(sig.C.Neg()))

	cPrime := bls12381.HashToScalar(
		[]byte(message),
		sig.APrime.AffineX(),
		sig.ABar.AffineX(),
		sig.D.AffineX(),
		tPrime.AffineX(),
	)

	if !equalFr(cPrime, sig.C) {
		return apperr.New(400, apperr.CodeInvalidGroupSig, "challenge mismatch")
	}

	if !bls12381.PairingEqual(sig.APrime, pub.W, sig.ABar, bls12381.G2Generator()) {
		return apperr.New(400, apperr.CodeInvalidGroupSig, "pairing failure")
	}
	return nil
}

// MarshalSignature serializes sig as APrime||ABar||D (48 bytes compressed G1
// each) followed by C||SX||SR2||SE||SS (32-byte Fr each): 304 bytes total.
func MarshalSignature(sig *GroupSignature) []byte {
	out := make([]byte, 0, 304)
	out = append(out, sig.APrime.Compress()...)
	out = append(out, sig.ABar.Compress()...)
	out = append(out, sig.D.Compress()...)
	out = append(out, sig.C.Bytes()...)
	out = append(out, sig.SX.Bytes()...)
	out = append(out, sig.SR2.Bytes()...)
	out = append(out, sig.SE.Bytes()...)
	out = append(out, sig.SS.Bytes()...)
	return out
}

// UnmarshalSignature parses the format produced by MarshalSignature.
func UnmarshalSignature(b []byte) (*GroupSignature, error) {
	if len(b) != 304 {
		return nil, apperr.New(400, apperr.CodeInvalidLength, "group signature must be 304 bytes")
	}
	aPrime, err := bls12381.DecompressG1(b[0:48])
	if err != nil {
		return nil, apperr.Wrap(400, apperr.CodeInvalidKey, "invalid A' point", err)
	}
	abar, err := bls12381.DecompressG1(b[48:96])
	if err != nil {
		return nil, apperr.Wrap(400, apperr.CodeInvalidKey, "invalid Abar point", err)
	}
	d, err := bls12381.DecompressG1(b[96:144])
	if err != nil {
		return nil, apperr.Wrap(400, apperr.CodeInvalidKey, "invalid D point", err)
	}
	rest := b[144:]
	return &GroupSignature{
		APrime: aPrime,
		ABar:   abar,
		D:      d,
		C:      bls12381.FrFromBytes(rest[0:32]),
		SX:     bls12381.FrFromBytes(rest[32:64]),
		SR2:    bls12381.FrFromBytes(rest[64:96]),
		SE:     bls12381.FrFromBytes(rest[96:128]),
		SS:     bls12381.FrFromBytes(rest[128:160]),
	}, nil
}

// MarshalPublicKey serializes pub as W (96 bytes compressed G2) followed by
// H0||H1 (48 bytes compressed G1 each): 192 bytes total. Used to persist a
// group's public parameters alongside its state in a storage backend.
func MarshalPublicKey(pub GroupPublicKey) []byte {
	out := make([]byte, 0, 192)
	out = append(out, pub.W.Compress()...)
	out = append(out, pub.H0.Compress()...)
	out = append(out, pub.H1.Compress()...)
	return out
}

// UnmarshalPublicKey parses the format produced by MarshalPublicKey.
func UnmarshalPublicKey(b []byte) (GroupPublicKey, error) {
	if len(b) != 192 {
		return GroupPublicKey{}, apperr.New(400, apperr.CodeInvalidLength, "group public key must be 192 bytes")
	}
	w, err := bls12381.DecompressG2(b[0:96])
	if err != nil {
		return GroupPublicKey{}, apperr.Wrap(400, apperr.CodeInvalidKey, "invalid W point", err)
	}
	h0, err := bls12381.DecompressG1(b[96:144])
	if err != nil {
		return GroupPublicKey{}, apperr.Wrap(400, apperr.CodeInvalidKey, "invalid H0 point", err)
	}
	h1, err := bls12381.DecompressG1(b[144:192])
	if err != nil {
		return GroupPublicKey{}, apperr.Wrap(400, apperr.CodeInvalidKey, "invalid H1 point", err)
	}
	return GroupPublicKey{W: w, H0: h0, H1: h1}, nil
}

// MarshalCredential serializes cred as A (48 bytes compressed G1) followed
// by X||E||S (32-byte Fr each): 144 bytes total. The credential is a
// member's private proof of membership and must be stored at rest with the
// same protection as the identity private key.
func MarshalCredential(cred *MemberCredential) []byte {
	out := make([]byte, 0, 144)
	out = append(out, cred.A.Compress()...)
	out = append(out, cred.X.Bytes()...)
	out = append(out, cred.E.Bytes()...)
	out = append(out, cred.S.Bytes()...)
	return out
}

// UnmarshalCredential parses the format produced by MarshalCredential.
func UnmarshalCredential(b []byte) (*MemberCredential, error) {
	if len(b) != 144 {
		return nil, apperr.New(400, apperr.CodeInvalidLength, "member credential must be 144 bytes")
	}
	a, err := bls12381.DecompressG1(b[0:48])
	if err != nil {
		return nil, apperr.Wrap(400, apperr.CodeInvalidKey, "invalid A point", err)
	}
	rest := b[48:]
	return &MemberCredential{
		A: a,
		X: bls12381.FrFromBytes(rest[0:32]),
		E: bls12381.FrFromBytes(rest[32:64]),
		S: bls12381.FrFromBytes(rest[64:96]),
	}, nil
}

func equalFr(a, b bls12381.Fr) bool {
	ab, bb := a.Bytes(), b.Bytes()
	if len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}

// RevocationAccumulator tracks revoked credentials via a single accumulator
// point.
type RevocationAccumulator struct {
	alpha bls12381.Fr
	Value bls12381.G1
}

// NewRevocationAccumulator initializes the accumulator as alpha*g1 for a
// freshly sampled alpha.
func NewRevocationAccumulator() (*RevocationAccumulator, error) {
	alpha, err := bls12381.RandomFr()
	if err != nil {
		return nil, err
	}
	return &RevocationAccumulator{alpha: alpha, Value: bls12381.G1Generator().Mul(alpha)}, nil
}

// Revoke updates the accumulator for a credential with component e, returning
// the witness (the accumulator value prior to this revocation).
func (ra *RevocationAccumulator) Revoke(e bls12381.Fr) (witness bls12381.G1) {
	witness = ra.Value
	ra.Value = ra.Value.Mul(e.Inverse())
	return witness
}

// VerifyNotRevoked reports whether a credential with component e is NOT
// covered by any recorded revocation: e(acc, g2) == e(witness*e, g2).
func VerifyNotRevoked(acc bls12381.G1, witness bls12381.G1, e bls12381.Fr) bool {
	g2 := bls12381.G2Generator()
	return bls12381.PairingEqual(acc, g2, witness.Mul(e), g2)
}
