package identity

import (
	"bytes"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	addr, err := ChecksumAddress(kp.Public)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("hello world")
	sig, err := Sign(kp, msg)
	if err != nil {
		t.Fatal(err)
	}
	if !Verify(msg, sig, addr) {
		t.Fatal("expected signature to verify")
	}

	flipped := append([]byte{}, msg...)
	flipped[0] ^= 0x01
	if Verify(flipped, sig, addr) {
		t.Fatal("flipped message unexpectedly verified")
	}

	badSig := append([]byte{}, sig...)
	badSig[0] ^= 0x01
	if Verify(msg, badSig, addr) {
		t.Fatal("flipped signature unexpectedly verified")
	}
}

func TestECIESRoundTrip(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("the quick brown fox")
	envelope, err := EncryptECIES(kp.Public, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecryptECIES(kp, envelope)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestECIESRejectsShortEnvelope(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptECIES(kp, "AAAA"); err == nil {
		t.Fatal("expected error for short envelope")
	}
}
