package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/hashledger/hashledger/apperr"
	"github.com/hashledger/hashledger/hexcodec"
	"github.com/hashledger/hashledger/identity"
)

// TestS1GenesisVector reproduces the literal scenario: owner address A,
// content "[]", nonce "00"*32, index 0, prevHash = 64 zeros.
func TestS1GenesisVector(t *testing.T) {
	kp, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	addr, err := identity.ChecksumAddress(kp.Public)
	if err != nil {
		t.Fatal(err)
	}

	nonce := strings.Repeat("00", 32)
	canonical := CanonicalString(0, GenesisHash, "[]", nonce)
	wantSum := sha256.Sum256([]byte(canonical))
	wantHash := hex.EncodeToString(wantSum[:])

	gotHash := EntryHash(canonical)
	if gotHash != wantHash {
		t.Fatalf("hash mismatch: got %s want %s", gotHash, wantHash)
	}

	sig, err := identity.Sign(kp, []byte(canonical))
	if err != nil {
		t.Fatal(err)
	}
	recovered, err := identity.RecoverAddress([]byte(canonical), sig)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.EqualFold(recovered, addr) {
		t.Fatalf("recovered address %s does not match owner %s", recovered, addr)
	}
}

func mustAppend(t *testing.T, kp *identity.KeyPair, prev *PersonalEntry, content string) *PersonalEntry {
	t.Helper()
	index := int64(0)
	prevHash := GenesisHash
	if prev != nil {
		index = prev.Index + 1
		prevHash = prev.Hash
	}
	nonce, err := NewNonce()
	if err != nil {
		t.Fatal(err)
	}
	canonical := CanonicalString(index, prevHash, content, nonce)
	hash := EntryHash(canonical)
	sig, err := identity.Sign(kp, []byte(canonical))
	if err != nil {
		t.Fatal(err)
	}
	return &PersonalEntry{
		Index:     index,
		PrevHash:  prevHash,
		Content:   content,
		Nonce:     nonce,
		Hash:      hash,
		Signature: hexcodec.Emit(sig, false),
		CreatedAt: 0,
	}
}

// TestGenesisPersonalEntry asserts that a first entry at index 0 anchoring
// to the genesis prevHash verifies.
func TestGenesisPersonalEntry(t *testing.T) {
	kp, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	addr, err := identity.ChecksumAddress(kp.Public)
	if err != nil {
		t.Fatal(err)
	}
	genesis := mustAppend(t, kp, nil, "hello")

	outcome, err := ValidatePersonalEntry(nil, genesis, addr)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeAccepted {
		t.Fatalf("expected accepted, got %s", outcome)
	}
}

// TestChainLinkAndTamperDetection asserts that flipping any byte in a
// linked chain is caught, either as a hash mismatch or a broken prevHash
// link.
func TestChainLinkAndTamperDetection(t *testing.T) {
	kp, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	addr, err := identity.ChecksumAddress(kp.Public)
	if err != nil {
		t.Fatal(err)
	}

	e0 := mustAppend(t, kp, nil, "a")
	e1 := mustAppend(t, kp, e0, "b")
	e2 := mustAppend(t, kp, e1, "c")

	entries := []*PersonalEntry{e0, e1, e2}
	if err := VerifyPersonalChain(entries, addr, nil); err != nil {
		t.Fatalf("untampered chain must verify: %v", err)
	}

	tampered := *e1
	tampered.Content = "b-tampered"
	tamperedEntries := []*PersonalEntry{e0, &tampered, e2}
	err = VerifyPersonalChain(tamperedEntries, addr, nil)
	if err == nil {
		t.Fatal("expected tamper to be detected")
	}
	if !apperr.IsCode(err, apperr.CodeChainBroken) {
		t.Fatalf("expected chain_broken code, got %v", err)
	}
}

// TestGapDetected covers a chain missing an intermediate entry.
func TestGapDetected(t *testing.T) {
	kp, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	addr, err := identity.ChecksumAddress(kp.Public)
	if err != nil {
		t.Fatal(err)
	}

	e0 := mustAppend(t, kp, nil, "a")
	e1 := mustAppend(t, kp, e0, "b")
	e2 := mustAppend(t, kp, e1, "c")

	err = VerifyPersonalChain([]*PersonalEntry{e0, e2}, addr, nil)
	if !apperr.IsCode(err, apperr.CodeGapDetected) {
		t.Fatalf("expected gap_detected, got %v", err)
	}
}

// TestDuplicateIgnored covers replaying an already-seen index.
func TestDuplicateIgnored(t *testing.T) {
	kp, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	addr, err := identity.ChecksumAddress(kp.Public)
	if err != nil {
		t.Fatal(err)
	}
	e0 := mustAppend(t, kp, nil, "a")
	e1 := mustAppend(t, kp, e0, "b")

	if err := VerifyPersonalChain([]*PersonalEntry{e0, e1, e0}, addr, nil); err != nil {
		t.Fatalf("duplicate replay must be ignored, not error: %v", err)
	}
}

// TestWrongSignerRejected covers a personal entry signed by someone other
// than the claimed owner.
func TestWrongSignerRejected(t *testing.T) {
	owner, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	attacker, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	ownerAddr, err := identity.ChecksumAddress(owner.Public)
	if err != nil {
		t.Fatal(err)
	}

	forged := mustAppend(t, attacker, nil, "forged")
	_, err = ValidatePersonalEntry(nil, forged, ownerAddr)
	if !apperr.IsCode(err, apperr.CodeInvalidSignature) {
		t.Fatalf("expected invalid_signature, got %v", err)
	}
}

// TestConflictDetected covers the append-path conflict surfacing when the
// server's reported head diverges at the same index.
func TestConflictDetected(t *testing.T) {
	kp, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	e0 := mustAppend(t, kp, nil, "a")
	rival := mustAppend(t, kp, nil, "a-rival")

	err = DetectConflict(e0, rival)
	var conflict *ConflictDetected
	if err == nil {
		t.Fatal("expected conflict")
	}
	if _, ok := err.(*ConflictDetected); !ok {
		t.Fatalf("expected *ConflictDetected, got %T", err)
	}
	_ = conflict
}
