// Package epochproof derives per-epoch server-facing access keys from an
// MLS group key and produces/verifies HMAC-based access and transition
// proofs, so a non-member server can bind entries to an epoch without
// learning group membership.
package epochproof

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/hashledger/hashledger/apperr"
)

// EpochAccessKey is a derived per-epoch HMAC key bound to a group and epoch.
type EpochAccessKey struct {
	Key   []byte // 32 bytes
	Epoch uint32
}

// Derive computes EpochAccessKey(groupKey, groupId, epoch) = HKDF-SHA256(
// IKM = groupKey || "server-access" || groupId || u32_le(epoch), salt=∅,
// info=∅, L=32).
func Derive(groupKey []byte, groupID string, epoch uint32) (EpochAccessKey, error) {
	epochBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(epochBytes, epoch)

	ikm := make([]byte, 0, len(groupKey)+len("server-access")+len(groupID)+4)
	ikm = append(ikm, groupKey...)
	ikm = append(ikm, []byte("server-access")...)
	ikm = append(ikm, []byte(groupID)...)
	ikm = append(ikm, epochBytes...)

	r := hkdf.New(sha256.New, ikm, nil, nil)
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return EpochAccessKey{}, apperr.Wrap(500, apperr.CodeInternal, "epoch access key derivation failed", err)
	}
	return EpochAccessKey{Key: key, Epoch: epoch}, nil
}

// AccessProof computes HMAC-SHA256(accessKey, utf8(entryHash)).
func AccessProof(key EpochAccessKey, entryHash string) []byte {
	mac := hmac.New(sha256.New, key.Key)
	mac.Write([]byte(entryHash))
	return mac.Sum(nil)
}

// VerifyAccessProof reports whether proof is the correct access proof for
// entryHash under key, using constant-time comparison.
func VerifyAccessProof(key EpochAccessKey, entryHash string, proof []byte) bool {
	return constantTimeEqual(AccessProof(key, entryHash), proof)
}

// TransitionProof computes HMAC-SHA256(accessKey_i, accessKey_{i+1}.Key),
// binding consecutive epoch keys so a server can adopt the next epoch's key
// only after verifying continuity from the one it already trusts.
func TransitionProof(prev, next EpochAccessKey) []byte {
	mac := hmac.New(sha256.New, prev.Key)
	mac.Write(next.Key)
	return mac.Sum(nil)
}

// VerifyTransitionProof checks proof against the server's already-trusted
// prev key and the candidate next key.
func VerifyTransitionProof(prev, next EpochAccessKey, proof []byte) bool {
	return constantTimeEqual(TransitionProof(prev, next), proof)
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var result byte
	for i := range a {
		result |= a[i] ^ b[i]
	}
	return result == 0
}
