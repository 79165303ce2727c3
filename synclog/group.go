package synclog

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/hashledger/hashledger/apperr"
	"github.com/hashledger/hashledger/bbs"
	"github.com/hashledger/hashledger/chain"
	"github.com/hashledger/hashledger/dblog"
	"github.com/hashledger/hashledger/epochproof"
	"github.com/hashledger/hashledger/identity"
	"github.com/hashledger/hashledger/mls"
	"github.com/hashledger/hashledger/transport"
)

const groupHeadMetaKey = "synclog_group_head"

// GroupController keeps one group's chain and its local database converged
// with a server, mirroring PersonalController but signing with a BBS+
// anonymous credential and gating entries on per-epoch access proofs
// instead of a single owner's EIP-191 signature.
type GroupController struct {
	mu sync.Mutex

	db        string
	groupID   string
	transport transport.PullTransport
	engine    *dblog.Engine

	group *mls.GroupState
	cred  *bbs.MemberCredential
	pub   bbs.GroupPublicKey
	self  *identity.KeyPair
	addr  string

	// groupKeysByEpoch and accessKeys track, per epoch, the MLS symmetric
	// key used to seal content and the server-facing HMAC key derived from
	// it. Both are seeded at the group's current epoch at construction and
	// extended by BindEpochKey/applyEntry as epoch_transition entries land.
	groupKeysByEpoch map[uint32][]byte
	accessKeys       map[uint32]epochproof.EpochAccessKey
	trustedEpoch     uint32

	head      *chain.GroupEntry
	syncing   bool
	appending bool
}

// NewGroupController wires a controller for a group's db, backed by engine,
// reaching the server through t. group is the caller's current MLS state for
// this group; cred/pub are the member's BBS+ credential and the group's
// public verification parameters; self signs the plaintext sender fields.
func NewGroupController(db, groupID string, t transport.PullTransport, engine *dblog.Engine, group *mls.GroupState, cred *bbs.MemberCredential, pub bbs.GroupPublicKey, self *identity.KeyPair) (*GroupController, error) {
	addr, err := identity.ChecksumAddress(self.Public)
	if err != nil {
		return nil, err
	}
	epoch := uint32(group.Epoch)
	accessKey, err := epochproof.Derive(group.GroupKey, group.GroupID, epoch)
	if err != nil {
		return nil, err
	}
	return &GroupController{
		db:               db,
		groupID:          groupID,
		transport:        t,
		engine:           engine,
		group:            group,
		cred:             cred,
		pub:              pub,
		self:             self,
		addr:             addr,
		groupKeysByEpoch: map[uint32][]byte{epoch: group.GroupKey},
		accessKeys:       map[uint32]epochproof.EpochAccessKey{epoch: accessKey},
		trustedEpoch:     epoch,
	}, nil
}

// BindEpochKey registers the MLS symmetric key in effect at epoch, deriving
// and caching its matching server-facing access key. Callers that run the
// group's MLS membership ratchet (Add/Remove/UpdateOwnKey/ProcessUpdatePath)
// call this after advancing so the controller can decrypt and verify
// content encrypted at that epoch without re-deriving on every entry.
func (c *GroupController) BindEpochKey(epoch uint32, groupKey []byte) error {
	accessKey, err := epochproof.Derive(groupKey, c.group.GroupID, epoch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.groupKeysByEpoch[epoch] = groupKey
	c.accessKeys[epoch] = accessKey
	c.mu.Unlock()
	return nil
}

// KeyForEpoch implements chain.AccessKeyResolver.
func (c *GroupController) KeyForEpoch(epoch uint32) (epochproof.EpochAccessKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k, ok := c.accessKeys[epoch]
	return k, ok
}

// TrustedKey implements chain.AccessKeyResolver.
func (c *GroupController) TrustedKey() epochproof.EpochAccessKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessKeys[c.trustedEpoch]
}

// Initialize loads the durable chain head recorded alongside the DBLog
// replay cursor, warming the controller to resume from where it left off.
func (c *GroupController) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok, err := c.engine.GetMeta(ctx, groupHeadMetaKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var head chain.GroupEntry
	if err := json.Unmarshal([]byte(raw), &head); err != nil {
		return apperr.Wrap(500, apperr.CodeSerialization, "failed to decode stored group chain head", err)
	}
	c.head = &head
	return nil
}

// Head returns the current local chain head, or nil if the chain is empty.
func (c *GroupController) Head() *chain.GroupEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head == nil {
		return nil
	}
	cp := *c.head
	return &cp
}

// Sync fetches the server's head for this group's db; if the local head
// trails, it pulls and applies entries page by page until caught up.
func (c *GroupController) Sync(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	if c.syncing {
		c.mu.Unlock()
		return nil, apperr.New(409, apperr.CodeOperationInProgress, "group sync already in progress")
	}
	c.syncing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
	}()

	serverHead, err := c.transport.GroupHead(ctx, c.groupID, c.db)
	if err != nil {
		return nil, err
	}
	if serverHead == nil {
		return nil, nil
	}

	localIndex := int64(-1)
	c.mu.Lock()
	if c.head != nil {
		localIndex = c.head.Index
	}
	c.mu.Unlock()
	if serverHead.Index <= localIndex {
		return nil, nil
	}

	var affected []string
	next := localIndex + 1
	for next <= serverHead.Index {
		entries, hasMore, err := c.transport.GroupList(ctx, c.groupID, c.db, next, pageSize)
		if err != nil {
			return affected, err
		}
		if len(entries) == 0 {
			break
		}
		for i := range entries {
			tables, err := c.applyEntry(ctx, &entries[i])
			if err != nil {
				return affected, err
			}
			affected = append(affected, tables...)
		}
		next += int64(len(entries))
		if !hasMore {
			break
		}
	}
	return dedupe(affected), nil
}

// applyEntry decrypts e, verifies its chain link, BBS+ signature, and epoch
// access proof, replays its DBLog actions, and — on a system epoch
// transition — adopts the new epoch's access key.
func (c *GroupController) applyEntry(ctx context.Context, e *chain.GroupEntry) ([]string, error) {
	c.mu.Lock()
	head := c.head
	c.mu.Unlock()

	decrypted, err := c.decrypt(e)
	if err != nil {
		return nil, err
	}

	var rollback func()
	if decrypted != nil && decrypted.SystemOp != nil && decrypted.SystemOp.Type == chain.SystemOpEpochTransition {
		newKeyBytes, derr := hexToBytesLocal(decrypted.SystemOp.NewAccessKeyHex)
		if derr != nil {
			return nil, derr
		}
		c.mu.Lock()
		prior, hadPrior := c.accessKeys[decrypted.Epoch]
		c.accessKeys[decrypted.Epoch] = epochproof.EpochAccessKey{Key: newKeyBytes, Epoch: decrypted.Epoch}
		c.mu.Unlock()
		rollback = func() {
			c.mu.Lock()
			if hadPrior {
				c.accessKeys[decrypted.Epoch] = prior
			} else {
				delete(c.accessKeys, decrypted.Epoch)
			}
			c.mu.Unlock()
		}
	}

	outcome, err := chain.ValidateGroupEntry(head, e, c.pub, c, decrypted)
	if err != nil {
		if rollback != nil {
			rollback()
		}
		return nil, err
	}
	switch outcome {
	case chain.OutcomeDuplicate:
		if rollback != nil {
			rollback()
		}
		return nil, nil
	case chain.OutcomeGap:
		if rollback != nil {
			rollback()
		}
		return nil, apperr.New(409, apperr.CodeGapDetected, "group chain has a gap before index "+itoa(e.Index))
	}

	if decrypted.SystemOp != nil && decrypted.SystemOp.Type == chain.SystemOpEpochTransition {
		c.mu.Lock()
		c.trustedEpoch = decrypted.Epoch
		c.mu.Unlock()
	}

	var actions []dblog.Action
	if decrypted.Content != "" {
		if err := json.Unmarshal([]byte(decrypted.Content), &actions); err != nil {
			return nil, apperr.Wrap(400, apperr.CodeInvalidJSON, "group entry content is not a valid DBLog action list", err)
		}
	}

	var tables []string
	if len(actions) > 0 {
		tables, err = c.engine.ApplyEntry(ctx, e.Index, actions)
		if err != nil {
			return nil, err
		}
	}

	headJSON, err := json.Marshal(e)
	if err != nil {
		return nil, apperr.Wrap(500, apperr.CodeSerialization, "failed to serialize group chain head", err)
	}
	if err := c.engine.SetMeta(ctx, groupHeadMetaKey, string(headJSON)); err != nil {
		return nil, err
	}

	c.mu.Lock()
	cp := *e
	c.head = &cp
	c.mu.Unlock()
	return tables, nil
}

// decrypt opens e's ciphertext against every MLS key this controller holds
// for an epoch, newest first, since the entry's own claimed epoch is only
// known once decryption succeeds.
func (c *GroupController) decrypt(e *chain.GroupEntry) (*chain.DecryptedGroupPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(e.Ciphertext)
	if err != nil {
		return nil, apperr.Wrap(400, apperr.CodeInvalidBase64, "invalid group ciphertext base64", err)
	}

	c.mu.Lock()
	candidates := make([]uint32, 0, len(c.groupKeysByEpoch))
	for epoch := range c.groupKeysByEpoch {
		candidates = append(candidates, epoch)
	}
	keys := c.groupKeysByEpoch
	c.mu.Unlock()
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] > candidates[j] })

	var lastErr error
	for _, epoch := range candidates {
		gs := &mls.GroupState{GroupKey: keys[epoch], Epoch: uint64(epoch)}
		plaintext, derr := mls.DecryptApplicationMessage(gs, &mls.ApplicationMessage{Epoch: uint64(epoch), Ciphertext: raw})
		if derr != nil {
			lastErr = derr
			continue
		}
		var payload chain.DecryptedGroupPayload
		if err := json.Unmarshal(plaintext, &payload); err != nil {
			return nil, apperr.Wrap(400, apperr.CodeInvalidJSON, "decrypted group payload is not valid JSON", err)
		}
		return &payload, nil
	}
	if lastErr == nil {
		lastErr = apperr.New(400, apperr.CodeDecryptionFailed, "no known epoch key decrypted this entry")
	}
	return nil, apperr.Wrap(400, apperr.CodeDecryptionFailed, "failed to decrypt group entry under any known epoch key", lastErr)
}

// Append assembles a DBLog action list into a new group entry, signs it
// with this member's BBS+ credential, submits it, and replays it through
// the same pipeline used for received entries.
func (c *GroupController) Append(ctx context.Context, actions []dblog.Action) ([]string, error) {
	c.mu.Lock()
	if c.appending {
		c.mu.Unlock()
		return nil, apperr.New(409, apperr.CodeOperationInProgress, "group append already in progress")
	}
	c.appending = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.appending = false
		c.mu.Unlock()
	}()

	content, err := json.Marshal(actions)
	if err != nil {
		return nil, apperr.Wrap(400, apperr.CodeInvalidJSON, "failed to encode DBLog actions", err)
	}

	c.mu.Lock()
	index := int64(0)
	prevHash := chain.GenesisHash
	if c.head != nil {
		index = c.head.Index + 1
		prevHash = c.head.Hash
	}
	epoch := uint32(c.group.Epoch)
	accessKey := c.accessKeys[epoch]
	c.mu.Unlock()

	senderSig, err := identity.Sign(c.self, content)
	if err != nil {
		return nil, err
	}
	payload := chain.DecryptedGroupPayload{
		Content:         string(content),
		SenderAddress:   c.addr,
		SenderSignature: hex.EncodeToString(senderSig),
		Epoch:           epoch,
		Timestamp:       time.Now().UnixMilli(),
	}
	entry, err := c.assembleAndSubmit(ctx, index, prevHash, &payload, accessKey)
	if err != nil {
		return nil, err
	}
	return c.applyEntry(ctx, entry)
}

// assembleAndSubmit encrypts payload under the caller's current MLS group
// key, computes the canonical hash, BBS+-signs it, attaches the access
// proof under accessKey, and submits it through the transport.
func (c *GroupController) assembleAndSubmit(ctx context.Context, index int64, prevHash string, payload *chain.DecryptedGroupPayload, accessKey epochproof.EpochAccessKey) (*chain.GroupEntry, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(500, apperr.CodeSerialization, "failed to serialize group payload", err)
	}
	msg, err := mls.EncryptApplicationMessage(c.group, plaintext)
	if err != nil {
		return nil, err
	}
	ciphertext := base64.StdEncoding.EncodeToString(msg.Ciphertext)

	nonce, err := chain.NewNonce()
	if err != nil {
		return nil, err
	}
	hash := chain.EntryHash(chain.CanonicalString(index, prevHash, ciphertext, nonce))

	sig, err := bbs.Sign(c.pub, c.cred, hash)
	if err != nil {
		return nil, err
	}
	accessProof := epochproof.AccessProof(accessKey, hash)

	entry := chain.GroupEntry{
		Index:          index,
		PrevHash:       prevHash,
		Nonce:          nonce,
		Hash:           hash,
		CreatedAt:      time.Now().UnixMilli(),
		Ciphertext:     ciphertext,
		GroupSignature: hex.EncodeToString(bbs.MarshalSignature(sig)),
		AccessProof:    hex.EncodeToString(accessProof),
	}
	return c.transport.AppendGroup(ctx, c.groupID, c.db, entry)
}

// AppendEpochTransition announces a move to newEpoch, disclosing the
// server-facing access key derived from newGroupKey and binding it to the
// epoch this controller currently trusts via a transition proof. The
// announcement entry itself is sealed under the *current* epoch's MLS key
// (every existing member can already decrypt it); newGroupKey never crosses
// the wire — only the access key derived from it does. newGroupKey is also
// bound locally via BindEpochKey so this controller can decrypt subsequent
// content sealed at newEpoch once the caller's own MLS state advances there.
func (c *GroupController) AppendEpochTransition(ctx context.Context, newEpoch uint32, newGroupKey []byte) ([]string, error) {
	c.mu.Lock()
	if c.appending {
		c.mu.Unlock()
		return nil, apperr.New(409, apperr.CodeOperationInProgress, "group append already in progress")
	}
	c.appending = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.appending = false
		c.mu.Unlock()
	}()

	newAccessKey, err := epochproof.Derive(newGroupKey, c.group.GroupID, newEpoch)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	index := int64(0)
	prevHash := chain.GenesisHash
	if c.head != nil {
		index = c.head.Index + 1
		prevHash = c.head.Hash
	}
	trusted := c.accessKeys[c.trustedEpoch]
	c.mu.Unlock()

	transitionProof := epochproof.TransitionProof(trusted, newAccessKey)

	senderSig, err := identity.Sign(c.self, []byte{})
	if err != nil {
		return nil, err
	}
	payload := chain.DecryptedGroupPayload{
		SenderAddress:   c.addr,
		SenderSignature: hex.EncodeToString(senderSig),
		Epoch:           newEpoch,
		Timestamp:       time.Now().UnixMilli(),
		SystemOp: &chain.SystemOp{
			Type:            chain.SystemOpEpochTransition,
			NewAccessKeyHex: hex.EncodeToString(newAccessKey.Key),
			TransitionProof: hex.EncodeToString(transitionProof),
		},
	}

	if err := c.BindEpochKey(newEpoch, newGroupKey); err != nil {
		return nil, err
	}

	// Sealed (via mls.EncryptApplicationMessage below, over c.group's
	// ambient — still current — epoch) under the sender's already-
	// distributed epoch key, so every existing member can open the
	// announcement; only the access proof itself is computed under the
	// newly announced epoch's key, matching what a verifier resolves from
	// the decrypted payload's claimed epoch.
	entry, err := c.assembleAndSubmit(ctx, index, prevHash, &payload, newAccessKey)
	if err != nil {
		return nil, err
	}
	return c.applyEntry(ctx, entry)
}

// HandlePush processes an out-of-band group-log event delivered by the
// transport's push stream. When a gap is detected, it triggers a background
// sync instead of failing.
func (c *GroupController) HandlePush(ctx context.Context, ev transport.Event) ([]string, error) {
	if ev.Type != transport.EventNewGroupLog || ev.GroupEntry == nil || ev.GroupID != c.groupID {
		return nil, nil
	}
	tables, err := c.applyEntry(ctx, ev.GroupEntry)
	if apperr.IsCode(err, apperr.CodeGapDetected) {
		go func() { _, _ = c.Sync(context.Background()) }()
		return nil, nil
	}
	return tables, err
}

func hexToBytesLocal(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, apperr.Wrap(400, apperr.CodeInvalidHex, "invalid hex", err)
	}
	return b, nil
}
