// Package chain implements the canonical hash-linked entry types for both
// the personal and group log families, their canonical hashing, and the
// validation rules that detect gaps, conflicts, and tampering.
package chain

import (
	"crypto/sha256"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hashledger/hashledger/apperr"
)

// GenesisHash anchors index 0: 64 zero hex characters.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// NewNonce returns 32 random bytes as lowercase hex, for the per-entry
// nonce field.
func NewNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", apperr.Wrap(500, apperr.CodeInternal, "nonce generation failed", err)
	}
	return hex.EncodeToString(b), nil
}

// CanonicalString builds "{index}:{prevHash}:{payload}:{nonce}", the exact
// string that is hashed and signed for every entry variant.
func CanonicalString(index int64, prevHash, payload, nonce string) string {
	return fmt.Sprintf("%d:%s:%s:%s", index, prevHash, payload, nonce)
}

// EntryHash returns the lowercase-hex SHA-256 of the UTF-8 canonical string.
func EntryHash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// PersonalEntry is a personal-chain entry as materialized locally, after the
// wire ciphertext has been decrypted back to content (or before it has been
// encrypted, on the append path). It doubles as the plaintext owner view and
// (with Content left empty and Ciphertext populated) the wire form.
type PersonalEntry struct {
	Index      int64  `json:"index"`
	PrevHash   string `json:"prevHash"`
	Content    string `json:"content,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
	Nonce      string `json:"nonce"`
	Hash       string `json:"hash"`
	Signature  string `json:"signature"`
	CreatedAt  int64  `json:"createdAt"`
}

// Payload returns the value the entry's hash was computed over: content when
// present (plaintext owner view), otherwise the wire ciphertext.
func (e *PersonalEntry) Payload() string {
	if e.Content != "" {
		return e.Content
	}
	return e.Ciphertext
}

func (e *PersonalEntry) GetIndex() int64    { return e.Index }
func (e *PersonalEntry) GetPrevHash() string { return e.PrevHash }
func (e *PersonalEntry) GetHash() string    { return e.Hash }

// SystemOpType tags the group payload's optional system operation union.
type SystemOpType string

const (
	SystemOpEpochTransition SystemOpType = "epoch_transition"
	SystemOpJoinRequest     SystemOpType = "join_request"
	SystemOpJoinAccepted    SystemOpType = "join_accepted"
	SystemOpMemberRemoved   SystemOpType = "member_removed"
)

// SystemOp is the tagged union of group control-plane operations carried
// inside a DecryptedGroupPayload.
type SystemOp struct {
	Type             SystemOpType `json:"type"`
	NewAccessKeyHex  string       `json:"newAccessKey,omitempty"`
	TransitionProof  string       `json:"transitionProof,omitempty"`
	RequesterAddress string       `json:"requesterAddress,omitempty"`
	MemberAddress    string       `json:"memberAddress,omitempty"`
}

// DecryptedGroupPayload is the plaintext carried inside a group entry's
// ciphertext.
type DecryptedGroupPayload struct {
	Content         string    `json:"content"`
	SenderAddress   string    `json:"senderAddress"`
	SenderSignature string    `json:"senderSignature"`
	Epoch           uint32    `json:"epoch"`
	Timestamp       int64     `json:"timestamp"`
	SystemOp        *SystemOp `json:"systemOp,omitempty"`
}

// GroupEntry is a group-chain entry as seen by the server: ciphertext plus
// the anonymous group signature and epoch access proof.
type GroupEntry struct {
	Index          int64  `json:"index"`
	PrevHash       string `json:"prevHash"`
	Nonce          string `json:"nonce"`
	Hash           string `json:"hash"`
	CreatedAt      int64  `json:"createdAt"`
	Ciphertext     string `json:"ciphertext"`
	GroupSignature string `json:"groupSignature"`
	AccessProof    string `json:"accessProof"`
}

func (e *GroupEntry) GetIndex() int64     { return e.Index }
func (e *GroupEntry) GetPrevHash() string { return e.PrevHash }
func (e *GroupEntry) GetHash() string     { return e.Hash }

// ChainAnchor is an optional checkpoint (index, hash) a verifier can resume
// validation from instead of replaying from genesis.
type ChainAnchor struct {
	Index int64
	Hash  string
}

func isGenesisPrevHash(s string) bool { return strings.EqualFold(s, GenesisHash) }
