package mls

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/hashledger/hashledger/apperr"
	"github.com/hashledger/hashledger/identity"
)

// GroupState is one participant's view of an MLS group.
type GroupState struct {
	GroupID      string // 16-byte random, lowercase hex, no prefix
	Epoch        uint64
	Tree         Tree
	MyLeafIndex  uint32 // leaf position, not node index
	MyPrivateKey []byte // 32 bytes
	PathSecrets  [][]byte
	GroupKey     []byte // 32 bytes
}

func hkdfDerive(secret []byte, label []byte) []byte {
	r := hkdf.New(sha256.New, secret, nil, label)
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		panic("mls: hkdf derivation failed: " + err.Error())
	}
	return out
}

func labelNodeKey() []byte        { return []byte("mls-node-key") }
func labelNodePrivateKey() []byte { return []byte("mls-node-private-key") }
func labelGroupKey() []byte       { return []byte("mls-group-key") }

func labelPathSecret(nodeIndex uint32) []byte {
	b := make([]byte, len("mls-path-secret")+4)
	copy(b, "mls-path-secret")
	binary.LittleEndian.PutUint32(b[len("mls-path-secret"):], nodeIndex)
	return b
}

func labelWelcomeKey(pub65 []byte) []byte {
	return append([]byte("mls-welcome-key"), pub65...)
}

// NewGroupID samples a fresh 16-byte group identifier.
func NewGroupID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", apperr.Wrap(500, apperr.CodeInternal, "group id generation failed", err)
	}
	return hex.EncodeToString(b), nil
}

// pathStep is one level of the bottom-up path walk: the ancestor node that
// receives a new public key, and the copath sibling whose resolution
// receives the encrypted path secret for that level.
type pathStep struct {
	ancestor uint32
	copathOf uint32 // 0 with hasCopath=false when no copath node is given
	hasCopath bool
}

// runPathSteps derives new node private/public keys and the chain of path
// secrets for steps, starting from startSecret, mutating tree in place.
// It is deterministic given startSecret and the tree's current public keys
// — no CSPRNG is consulted here, which is what lets a receiver reproduce the
// same root secret the sender derived.
func runPathSteps(tree *Tree, startSecret []byte, steps []pathStep) (pathSecrets [][]byte, err error) {
	current := startSecret
	pathSecrets = append(pathSecrets, current)

	for _, step := range steps {
		nodePriv := hkdfDerive(current, labelNodePrivateKey())
		nodePub, perr := identity.PublicKeyFromPrivate(nodePriv)
		if perr != nil {
			return nil, perr
		}
		tree.Slots[step.ancestor] = Slot{Parent: &ParentNode{PublicKey: nodePub}}

		var next []byte
		if step.hasCopath {
			if siblingPub := tree.publicKeyAt(step.copathOf); siblingPub != nil {
				ecdh, eerr := identity.ECDH(nodePriv, siblingPub)
				if eerr != nil {
					return nil, eerr
				}
				next = hkdfDerive(ecdh, labelNodeKey())
			} else {
				next = hkdfDerive(current, labelPathSecret(step.ancestor))
			}
		} else {
			next = hkdfDerive(current, labelPathSecret(step.ancestor))
		}
		pathSecrets = append(pathSecrets, next)
		current = next
	}
	return pathSecrets, nil
}

func buildSteps(ancestors, cp []uint32) []pathStep {
	steps := make([]pathStep, len(ancestors))
	for i, a := range ancestors {
		if i < len(cp) {
			steps[i] = pathStep{ancestor: a, copathOf: cp[i], hasCopath: true}
		} else {
			steps[i] = pathStep{ancestor: a, hasCopath: false}
		}
	}
	return steps
}

// EncryptedPathSecret is one ECIES-wrapped path secret addressed to a single
// resolution member's public key.
type EncryptedPathSecret struct {
	RecipientPublicKey string // hex, 65-byte uncompressed
	Envelope           string // base64 ECIES envelope
}

// UpdatePathMessage is the distribution artifact of a path update: the new
// public key at each ancestor, plus encrypted path secrets for the nodes in
// each copath sibling's resolution.
type UpdatePathMessage struct {
	Type            string `json:"type"`
	SenderLeafIndex uint32
	Epoch           uint64
	NewPublicKeys   map[uint32]string // node index -> hex pubkey
	EncryptedPaths  map[uint32][]EncryptedPathSecret

	// NewLeafIndex/NewLeafPublicKey are set on "add" messages so that other
	// members can install the same leaf (extending their tree identically)
	// before walking the announced direct path.
	NewLeafIndex     *uint32
	NewLeafPublicKey string // hex, only meaningful with NewLeafIndex set

	// RemovedLeafIndex is set on "remove" messages so that other members
	// blank the same leaf (and any now-empty parents) before walking the
	// announced direct path.
	RemovedLeafIndex *uint32
}

// pathUpdate performs the signer's own path update from a fresh leaf secret,
// updating gs in place and returning the distribution message.
func (gs *GroupState) pathUpdate() (*UpdatePathMessage, error) {
	leafIdx := leafNodeIndex(gs.MyLeafIndex)
	rootIdx := gs.Tree.rootIndex()

	leafSecret := make([]byte, 32)
	if _, err := rand.Read(leafSecret); err != nil {
		return nil, apperr.Wrap(500, apperr.CodeInternal, "leaf secret generation failed", err)
	}

	ancestors := directPath(leafIdx, rootIdx)
	cp := copath(leafIdx, rootIdx)
	steps := buildSteps(ancestors, cp)

	pathSecrets, err := runPathSteps(&gs.Tree, leafSecret, steps)
	if err != nil {
		return nil, err
	}

	msg := &UpdatePathMessage{
		Type:            "update",
		SenderLeafIndex: gs.MyLeafIndex,
		Epoch:           gs.Epoch + 1,
		NewPublicKeys:   map[uint32]string{},
		EncryptedPaths:  map[uint32][]EncryptedPathSecret{},
	}
	for i, step := range steps {
		msg.NewPublicKeys[step.ancestor] = hex.EncodeToString(gs.Tree.publicKeyAt(step.ancestor))
		if !step.hasCopath {
			continue
		}
		secretAtLevel := pathSecrets[i]
		for _, nodeIdx := range gs.Tree.resolution(step.copathOf) {
			pub := gs.Tree.publicKeyAt(nodeIdx)
			if pub == nil {
				continue
			}
			env, eerr := identity.EncryptECIES(pub, secretAtLevel)
			if eerr != nil {
				return nil, eerr
			}
			msg.EncryptedPaths[step.copathOf] = append(msg.EncryptedPaths[step.copathOf], EncryptedPathSecret{
				RecipientPublicKey: hex.EncodeToString(pub),
				Envelope:           env,
			})
		}
	}

	newLeafPub, err := identity.PublicKeyFromPrivate(leafSecret)
	if err != nil {
		return nil, err
	}
	gs.Tree.Slots[leafIdx] = Slot{Leaf: &LeafNode{Index: gs.MyLeafIndex, PublicKey: newLeafPub}}
	gs.MyPrivateKey = leafSecret
	gs.PathSecrets = pathSecrets
	gs.Epoch++
	gs.GroupKey = hkdfDerive(pathSecrets[len(pathSecrets)-1], labelGroupKey())
	return msg, nil
}

// UpdateOwnKey is the self-update membership operation: a path update with a
// fresh leaf key.
func (gs *GroupState) UpdateOwnKey() (*UpdatePathMessage, error) {
	return gs.pathUpdate()
}

// ProcessUpdatePath applies a received update-path message: installs the
// sender's new leaf key and direct-path public keys, then deterministically
// rederives the local view of the group key by decrypting the one path
// secret addressed to this participant and walking the remainder of the
// sender's path to the root without resampling, so every member that can
// decrypt the path secret rederives the identical group key.
func (gs *GroupState) ProcessUpdatePath(msg *UpdatePathMessage) error {
	if msg.Epoch != gs.Epoch+1 {
		return apperr.New(400, apperr.CodeInvalidEpoch, "update-path epoch is not local epoch + 1")
	}

	if msg.NewLeafIndex != nil {
		pos := *msg.NewLeafIndex
		if gs.Tree.NumLeaves() <= pos {
			gs.extendTree(pos + 1)
		}
		pub, err := hex.DecodeString(msg.NewLeafPublicKey)
		if err != nil {
			return apperr.Wrap(400, apperr.CodeInvalidHex, "invalid new leaf public key hex", err)
		}
		gs.Tree.Slots[leafNodeIndex(pos)] = Slot{Leaf: &LeafNode{Index: pos, PublicKey: pub}}
	}
	if msg.RemovedLeafIndex != nil {
		pos := *msg.RemovedLeafIndex
		removedLeaf := leafNodeIndex(pos)
		gs.Tree.Slots[removedLeaf] = Slot{}
		for _, a := range directPath(removedLeaf, gs.Tree.rootIndex()) {
			if gs.Tree.Slots[left(a)].blank() && gs.Tree.Slots[right(a)].blank() {
				gs.Tree.Slots[a] = Slot{}
			}
		}
	}

	senderLeaf := leafNodeIndex(msg.SenderLeafIndex)
	rootIdx := gs.Tree.rootIndex()
	ancestors := directPath(senderLeaf, rootIdx)
	cp := copath(senderLeaf, rootIdx)

	for _, a := range ancestors {
		pubHex, ok := msg.NewPublicKeys[a]
		if !ok {
			return apperr.New(400, apperr.CodeInvalidJSON, "update-path message missing a direct-path public key")
		}
		pub, err := hex.DecodeString(pubHex)
		if err != nil {
			return apperr.Wrap(400, apperr.CodeInvalidHex, "invalid public key hex in update-path", err)
		}
		gs.Tree.Slots[a] = Slot{Parent: &ParentNode{PublicKey: pub}}
	}

	myLeaf := leafNodeIndex(gs.MyLeafIndex)
	if myLeaf == senderLeaf {
		// The sender is us replaying our own message (e.g. after a round
		// trip through the server); our local state is already current.
		return nil
	}

	overlapIdx := -1
	var decryptedSecret []byte
	for i, copathNode := range cp {
		inResolution := false
		for _, nodeIdx := range gs.Tree.resolution(copathNode) {
			if nodeIdx == myLeaf {
				inResolution = true
				break
			}
		}
		if !inResolution {
			continue
		}
		myPub, err := identity.PublicKeyFromPrivate(gs.MyPrivateKey)
		if err != nil {
			return err
		}
		myPubHex := hex.EncodeToString(myPub)
		for _, enc := range msg.EncryptedPaths[copathNode] {
			if enc.RecipientPublicKey != myPubHex {
				continue
			}
			kp, err := identity.FromPrivateKeyBytes(gs.MyPrivateKey)
			if err != nil {
				return err
			}
			secret, derr := identity.DecryptECIES(kp, enc.Envelope)
			if derr != nil {
				return derr
			}
			decryptedSecret = secret
			overlapIdx = i
			break
		}
		if overlapIdx >= 0 {
			break
		}
	}
	if overlapIdx < 0 {
		return apperr.New(400, apperr.CodeNotMember, "no path secret addressed to this participant")
	}

	remainingSteps := buildSteps(ancestors[overlapIdx:], cp[overlapIdx:])
	pathSecrets, err := runPathSteps(&gs.Tree, decryptedSecret, remainingSteps)
	if err != nil {
		return err
	}

	gs.PathSecrets = pathSecrets
	gs.Epoch = msg.Epoch
	gs.GroupKey = hkdfDerive(pathSecrets[len(pathSecrets)-1], labelGroupKey())
	return nil
}

// Welcome is the plaintext body of a welcome message, ECIES-encrypted to the
// new member's public key. Per the open-question decision, it does not carry
// myPrivateKey — the invitee already holds their own leaf keypair.
type Welcome struct {
	GroupID     string
	Epoch       uint64
	Tree        Tree
	LeafIndex   uint32
	PathSecrets [][]byte
}

// CreateGroup initializes a fresh single-leaf MLS group for the creator, with
// its group key derived from a fresh random root secret, and returns the
// initial state and add messages for the given initial member public keys.
func CreateGroup(creatorLeafPriv32, creatorLeafPub65 []byte, initialMemberPubs [][]byte) (*GroupState, []*UpdatePathMessage, []*Welcome, error) {
	groupID, err := NewGroupID()
	if err != nil {
		return nil, nil, nil, err
	}
	rootSecret := make([]byte, 32)
	if _, err := rand.Read(rootSecret); err != nil {
		return nil, nil, nil, apperr.Wrap(500, apperr.CodeInternal, "initial group secret generation failed", err)
	}
	gs := &GroupState{
		GroupID:      groupID,
		Epoch:        0,
		Tree:         Tree{Slots: []Slot{{Leaf: &LeafNode{Index: 0, PublicKey: creatorLeafPub65}}}},
		MyLeafIndex:  0,
		MyPrivateKey: creatorLeafPriv32,
		PathSecrets:  [][]byte{rootSecret},
		GroupKey:     hkdfDerive(rootSecret, labelGroupKey()),
	}

	var updates []*UpdatePathMessage
	var welcomes []*Welcome
	for _, pub := range initialMemberPubs {
		msg, welcome, aerr := gs.Add(pub)
		if aerr != nil {
			return nil, nil, nil, aerr
		}
		updates = append(updates, msg)
		welcomes = append(welcomes, welcome)
	}
	return gs, updates, welcomes, nil
}

// Add allocates the first blank leaf (extending the tree if none is free),
// installs newMemberPub there, performs a path update, and returns both the
// update-path message for existing members and the welcome for the new one.
func (gs *GroupState) Add(newMemberPub65 []byte) (*UpdatePathMessage, *Welcome, error) {
	leafPos, _ := gs.firstBlankLeafOrExtend()
	leafIdx := leafNodeIndex(leafPos)
	gs.Tree.Slots[leafIdx] = Slot{Leaf: &LeafNode{Index: leafPos, PublicKey: newMemberPub65}}

	msg, err := gs.pathUpdate()
	if err != nil {
		return nil, nil, err
	}
	msg.Type = "add"
	msg.NewLeafIndex = &leafPos
	msg.NewLeafPublicKey = hex.EncodeToString(newMemberPub65)

	welcome := &Welcome{
		GroupID:     gs.GroupID,
		Epoch:       gs.Epoch,
		Tree:        gs.Tree,
		LeafIndex:   leafPos,
		PathSecrets: gs.PathSecrets,
	}
	return msg, welcome, nil
}

// firstBlankLeafOrExtend returns the leaf position of the first blank leaf,
// extending the tree to the next size class if every leaf is populated.
func (gs *GroupState) firstBlankLeafOrExtend() (pos uint32, extended bool) {
	n := gs.Tree.NumLeaves()
	for p := uint32(0); p < n; p++ {
		if gs.Tree.Slots[leafNodeIndex(p)].blank() {
			return p, false
		}
	}
	gs.extendTree(n + 1)
	return n, true
}

// extendTree grows the slot array to accommodate newNumLeaves leaves,
// preserving existing populated nodes at their original indices (the
// left-balanced layout keeps earlier subtrees' indices stable on growth by
// at most one leaf at a time).
func (gs *GroupState) extendTree(newNumLeaves uint32) {
	newSize := size(newNumLeaves)
	grown := make([]Slot, newSize)
	copy(grown, gs.Tree.Slots)
	gs.Tree.Slots = grown
}

// JoinFromWelcome builds a new member's GroupState from a decrypted Welcome,
// using the leaf private key the invitee already holds locally.
func JoinFromWelcome(w *Welcome, myLeafPrivateKey []byte) *GroupState {
	return &GroupState{
		GroupID:      w.GroupID,
		Epoch:        w.Epoch,
		Tree:         w.Tree,
		MyLeafIndex:  w.LeafIndex,
		MyPrivateKey: myLeafPrivateKey,
		PathSecrets:  w.PathSecrets,
		GroupKey:     hkdfDerive(w.PathSecrets[len(w.PathSecrets)-1], labelGroupKey()),
	}
}

// Remove blanks the target leaf and any ancestor parent whose children are
// both now blank, then performs a path update. Fails if removing self.
func (gs *GroupState) Remove(targetLeafPos uint32) (*UpdatePathMessage, error) {
	if targetLeafPos == gs.MyLeafIndex {
		return nil, apperr.New(400, apperr.CodeNotMember, "cannot remove self")
	}
	leafIdx := leafNodeIndex(targetLeafPos)
	if int(leafIdx) >= len(gs.Tree.Slots) || gs.Tree.Slots[leafIdx].blank() {
		return nil, apperr.New(400, apperr.CodeNotMember, "target leaf is already blank")
	}
	gs.Tree.Slots[leafIdx] = Slot{}

	rootIdx := gs.Tree.rootIndex()
	for _, a := range directPath(leafIdx, rootIdx) {
		if gs.Tree.Slots[left(a)].blank() && gs.Tree.Slots[right(a)].blank() {
			gs.Tree.Slots[a] = Slot{}
		}
	}

	msg, err := gs.pathUpdate()
	if err != nil {
		return nil, err
	}
	msg.Type = "remove"
	msg.RemovedLeafIndex = &targetLeafPos
	return msg, nil
}
