package bbs

import (
	"testing"

	"github.com/hashledger/hashledger/bls12381"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	mgr, err := Setup()
	if err != nil {
		t.Fatal(err)
	}
	cred, err := Issue(mgr)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := Sign(mgr.PublicKey, cred, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(mgr.PublicKey, sig, "hello"); err != nil {
		t.Fatalf("expected valid signature to verify, got %v", err)
	}
}

func TestVerifyRejectsFlippedChallenge(t *testing.T) {
	mgr, err := Setup()
	if err != nil {
		t.Fatal(err)
	}
	cred, err := Issue(mgr)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := Sign(mgr.PublicKey, cred, "hello")
	if err != nil {
		t.Fatal(err)
	}
	tampered := *sig
	cBytes := tampered.C.Bytes()
	cBytes[len(cBytes)-1] ^= 0x01
	tampered.C = bls12381.FrFromBytes(cBytes)

	if err := Verify(mgr.PublicKey, &tampered, "hello"); err == nil {
		t.Fatal("expected verification to fail for tampered challenge")
	}
}

func TestUnlinkability(t *testing.T) {
	mgr, err := Setup()
	if err != nil {
		t.Fatal(err)
	}
	cred, err := Issue(mgr)
	if err != nil {
		t.Fatal(err)
	}
	sig1, err := Sign(mgr.PublicKey, cred, "hello")
	if err != nil {
		t.Fatal(err)
	}
	sig2, err := Sign(mgr.PublicKey, cred, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if string(sig1.APrime.Compress()) == string(sig2.APrime.Compress()) {
		t.Fatal("two signatures over the same message should have distinct A'")
	}
}
