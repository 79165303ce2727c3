package chain

import (
	"crypto/subtle"
	"strings"

	"github.com/hashledger/hashledger/apperr"
	"github.com/hashledger/hashledger/bbs"
	"github.com/hashledger/hashledger/epochproof"
	"github.com/hashledger/hashledger/identity"
)

// Outcome classifies how a candidate entry relates to the local head.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate_ignored"
	OutcomeGap       Outcome = "gap_detected"
)

// LinkedEntry is the minimal shape shared by personal and group entries that
// the index/prevHash/hash linkage check needs.
type LinkedEntry interface {
	GetIndex() int64
	GetPrevHash() string
	GetHash() string
}

// checkHashLink verifies that candidate sits correctly against head in the
// chain's index/prevHash space, independent of what the entry actually
// contains. head == nil means candidate is proposed as genesis.
func checkHashLink(head, candidate LinkedEntry) (Outcome, error) {
	idx := candidate.GetIndex()

	if head == nil {
		if idx != 0 {
			return "", apperr.New(409, apperr.CodeGapDetected, "first entry must be index 0")
		}
		if !isGenesisPrevHash(candidate.GetPrevHash()) {
			return "", apperr.New(400, apperr.CodeChainBroken, "genesis entry must anchor to the genesis prevHash")
		}
		return OutcomeAccepted, nil
	}

	switch {
	case idx <= head.GetIndex():
		return OutcomeDuplicate, nil
	case idx == head.GetIndex()+1:
		if candidate.GetPrevHash() != head.GetHash() {
			return "", apperr.New(409, apperr.CodeChainBroken, "prevHash does not match local head's hash")
		}
		return OutcomeAccepted, nil
	default:
		return OutcomeGap, nil
	}
}

// verifyHash recomputes the entry hash from its canonical string and checks
// it against the claimed hash.
func verifyHash(index int64, prevHash, payload, nonce, claimedHash string) error {
	want := EntryHash(CanonicalString(index, prevHash, payload, nonce))
	if !strings.EqualFold(want, claimedHash) {
		return apperr.New(400, apperr.CodeChainBroken, "entry hash does not match recomputed hash")
	}
	return nil
}

// ValidatePersonalEntry checks candidate against the local head and, on
// index continuity, verifies its recomputed hash and owner signature.
// head may be nil for an empty chain. ownerAddress is the checksummed
// address expected to have signed every entry (EIP-191 personal-sign over
// the entry's canonical string).
func ValidatePersonalEntry(head *PersonalEntry, candidate *PersonalEntry, ownerAddress string) (Outcome, error) {
	var headLinked LinkedEntry
	if head != nil {
		headLinked = head
	}
	outcome, err := checkHashLink(headLinked, candidate)
	if err != nil || outcome != OutcomeAccepted {
		return outcome, err
	}

	if err := verifyHash(candidate.Index, candidate.PrevHash, candidate.Payload(), candidate.Nonce, candidate.Hash); err != nil {
		return "", err
	}

	sig, err := hexToBytes(candidate.Signature)
	if err != nil {
		return "", err
	}
	canonical := CanonicalString(candidate.Index, candidate.PrevHash, candidate.Payload(), candidate.Nonce)
	if !identity.Verify([]byte(canonical), sig, ownerAddress) {
		return "", apperr.New(401, apperr.CodeInvalidSignature, "personal entry signature does not match owner address")
	}
	return OutcomeAccepted, nil
}

// AccessKeyResolver returns the access key a group entry at the given epoch
// should be checked against, and (when the entry is advancing the epoch) the
// key the local caller currently trusts for transition-proof verification.
type AccessKeyResolver interface {
	KeyForEpoch(epoch uint32) (epochproof.EpochAccessKey, bool)
	TrustedKey() epochproof.EpochAccessKey
}

// ValidateGroupEntry checks candidate against the local head, verifies its
// recomputed hash, its BBS+ group signature against pub, and its epoch
// access proof (plus, on an epoch_transition system op, the transition
// proof binding the new epoch key to the previously trusted one). decrypted
// is the entry's DecryptedGroupPayload, already opened by the caller; its
// Epoch selects the access key.
func ValidateGroupEntry(head *GroupEntry, candidate *GroupEntry, pub bbs.GroupPublicKey, keys AccessKeyResolver, decrypted *DecryptedGroupPayload) (Outcome, error) {
	var headLinked LinkedEntry
	if head != nil {
		headLinked = head
	}
	outcome, err := checkHashLink(headLinked, candidate)
	if err != nil || outcome != OutcomeAccepted {
		return outcome, err
	}

	if err := verifyHash(candidate.Index, candidate.PrevHash, candidate.Ciphertext, candidate.Nonce, candidate.Hash); err != nil {
		return "", err
	}

	sig, err := decodeGroupSignature(candidate.GroupSignature)
	if err != nil {
		return "", err
	}
	if err := bbs.Verify(pub, sig, candidate.Hash); err != nil {
		return "", apperr.Wrap(401, apperr.CodeInvalidGroupSig, "group signature verification failed", err)
	}

	accessKey, ok := keys.KeyForEpoch(decrypted.Epoch)
	if !ok {
		return "", apperr.New(403, apperr.CodeInvalidEpoch, "no access key available for entry's claimed epoch")
	}
	proof, err := hexToBytes(candidate.AccessProof)
	if err != nil {
		return "", err
	}
	if !epochproof.VerifyAccessProof(accessKey, candidate.Hash, proof) {
		return "", apperr.New(403, apperr.CodeInvalidAccessProof, "access proof does not verify under the entry's claimed epoch key")
	}

	if decrypted.SystemOp != nil && decrypted.SystemOp.Type == SystemOpEpochTransition {
		transitionProof, err := hexToBytes(decrypted.SystemOp.TransitionProof)
		if err != nil {
			return "", err
		}
		trusted := keys.TrustedKey()
		if !epochproof.VerifyTransitionProof(trusted, accessKey, transitionProof) {
			return "", apperr.New(403, apperr.CodeInvalidAccessProof, "transition proof does not chain from the previously trusted epoch key")
		}
	}

	return OutcomeAccepted, nil
}

// ConflictDetected is returned by the append path when the server reports a
// head that has diverged from the local optimistic head: same index, but a
// different hash than what was just submitted.
type ConflictDetected struct {
	ServerHead LinkedEntry
}

func (c *ConflictDetected) Error() string {
	return "remote head diverged from local head at index " + itoa(c.ServerHead.GetIndex())
}

// DetectConflict compares a just-submitted entry's index/hash against the
// server's reported head for the same index.
func DetectConflict(submitted, serverHead LinkedEntry) error {
	if serverHead.GetIndex() != submitted.GetIndex() {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(serverHead.GetHash())), []byte(strings.ToLower(submitted.GetHash()))) == 1 {
		return nil
	}
	return &ConflictDetected{ServerHead: serverHead}
}
