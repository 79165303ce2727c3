// Package storage defines the abstract key-state backend a host application
// plugs in to persist a member's group membership material (MLS ratchet
// state, BBS+ credential, group public key) between process runs.
// It provides two reference implementations: an in-memory one for tests and
// short-lived processes, and a filesystem-backed one for durable local
// storage. Implementations are responsible for at-rest protection
// appropriate to their platform; neither reference implementation encrypts
// its files.
package storage

import (
	"github.com/hashledger/hashledger/bbs"
	"github.com/hashledger/hashledger/epochproof"
	"github.com/hashledger/hashledger/mls"
)

// GroupState is the full snapshot of a group membership's local material
// that a KeyStateStore persists under one groupID: the MLS ratchet state, the
// per-epoch server-facing access keys the group controller has learned, and
// which epoch it currently trusts.
type GroupState struct {
	MLS              mls.GroupState
	AccessKeys       map[uint32]epochproof.EpochAccessKey
	GroupKeysByEpoch map[uint32][]byte
	TrustedEpoch     uint32
}

// KeyStateStore is the abstract key-value backend for a member's group
// membership material. All load methods report (zero value, false, nil)
// when the key is absent; they return an error only on an actual storage
// failure or corrupt record.
type KeyStateStore interface {
	SaveGroupState(groupID string, state GroupState) error
	LoadGroupState(groupID string) (GroupState, bool, error)
	DeleteGroupState(groupID string) error
	ListGroupIDs() ([]string, error)

	SaveCredential(groupID string, cred *bbs.MemberCredential) error
	LoadCredential(groupID string) (*bbs.MemberCredential, bool, error)
	DeleteCredential(groupID string) error

	SavePublicKey(groupID string, pub bbs.GroupPublicKey) error
	LoadPublicKey(groupID string) (bbs.GroupPublicKey, bool, error)
	DeletePublicKey(groupID string) error

	Close() error
}
