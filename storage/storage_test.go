package storage

import (
	"os"
	"testing"

	"github.com/hashledger/hashledger/bbs"
	"github.com/hashledger/hashledger/epochproof"
	"github.com/hashledger/hashledger/mls"
)

func testStores(t *testing.T) map[string]KeyStateStore {
	t.Helper()

	dir, err := os.MkdirTemp("", "hashledger-storage-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	fileStore, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = fileStore.Close() })

	return map[string]KeyStateStore{
		"memory":     NewMemoryStore(),
		"filesystem": fileStore,
	}
}

func TestKeyStateStore_GroupStateRoundTrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			groupID := "g1"
			want := GroupState{
				MLS: mls.GroupState{
					GroupID:     groupID,
					Epoch:       3,
					GroupKey:    []byte{1, 2, 3, 4},
					PathSecrets: [][]byte{{5, 6}, {7, 8}},
				},
				AccessKeys: map[uint32]epochproof.EpochAccessKey{
					3: {Key: []byte{9, 9, 9}, Epoch: 3},
				},
				GroupKeysByEpoch: map[uint32][]byte{3: {1, 2, 3, 4}},
				TrustedEpoch:     3,
			}

			if _, ok, err := store.LoadGroupState(groupID); err != nil || ok {
				t.Fatalf("expected no state before save, got ok=%v err=%v", ok, err)
			}

			if err := store.SaveGroupState(groupID, want); err != nil {
				t.Fatal(err)
			}

			got, ok, err := store.LoadGroupState(groupID)
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				t.Fatal("expected state to be found after save")
			}
			if got.MLS.Epoch != want.MLS.Epoch || got.TrustedEpoch != want.TrustedEpoch {
				t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
			}

			ids, err := store.ListGroupIDs()
			if err != nil {
				t.Fatal(err)
			}
			if len(ids) != 1 || ids[0] != groupID {
				t.Fatalf("expected [%s], got %v", groupID, ids)
			}

			if err := store.DeleteGroupState(groupID); err != nil {
				t.Fatal(err)
			}
			if _, ok, err := store.LoadGroupState(groupID); err != nil || ok {
				t.Fatalf("expected state gone after delete, got ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestKeyStateStore_CredentialAndPublicKeyRoundTrip(t *testing.T) {
	mgr, err := bbs.Setup()
	if err != nil {
		t.Fatal(err)
	}
	cred, err := bbs.Issue(mgr)
	if err != nil {
		t.Fatal(err)
	}

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			groupID := "g2"

			if err := store.SaveCredential(groupID, cred); err != nil {
				t.Fatal(err)
			}
			gotCred, ok, err := store.LoadCredential(groupID)
			if err != nil || !ok {
				t.Fatalf("expected credential to round-trip, ok=%v err=%v", ok, err)
			}
			if gotCred.A.Compress() != nil && len(gotCred.A.Compress()) != 48 {
				t.Fatalf("unexpected credential A length: %d", len(gotCred.A.Compress()))
			}

			if err := store.SavePublicKey(groupID, mgr.PublicKey); err != nil {
				t.Fatal(err)
			}
			gotPub, ok, err := store.LoadPublicKey(groupID)
			if err != nil || !ok {
				t.Fatalf("expected public key to round-trip, ok=%v err=%v", ok, err)
			}
			if err := bbs.Verify(gotPub, mustSign(t, gotPub, gotCred), "hello"); err != nil {
				t.Fatalf("round-tripped credential/public key failed to verify a fresh signature: %v", err)
			}

			if err := store.DeleteCredential(groupID); err != nil {
				t.Fatal(err)
			}
			if _, ok, err := store.LoadCredential(groupID); err != nil || ok {
				t.Fatalf("expected credential gone after delete, got ok=%v err=%v", ok, err)
			}

			if err := store.DeletePublicKey(groupID); err != nil {
				t.Fatal(err)
			}
			if _, ok, err := store.LoadPublicKey(groupID); err != nil || ok {
				t.Fatalf("expected public key gone after delete, got ok=%v err=%v", ok, err)
			}
		})
	}
}

func mustSign(t *testing.T, pub bbs.GroupPublicKey, cred *bbs.MemberCredential) *bbs.GroupSignature {
	t.Helper()
	sig, err := bbs.Sign(pub, cred, "hello")
	if err != nil {
		t.Fatal(err)
	}
	return sig
}
