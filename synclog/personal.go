// Package synclog implements the sync controller: it drives a transport and
// a DBLog replay engine to keep a local database converged with a personal
// or group chain, on demand (sync), on append, and on out-of-band push
// delivery.
package synclog

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/hashledger/hashledger/apperr"
	"github.com/hashledger/hashledger/chain"
	"github.com/hashledger/hashledger/dblog"
	"github.com/hashledger/hashledger/identity"
	"github.com/hashledger/hashledger/transport"
)

const pageSize = 100

const personalHeadMetaKey = "synclog_personal_head"

// PersonalController keeps one owner's personal chain and its local
// database converged with a server.
type PersonalController struct {
	mu sync.Mutex

	db        string
	transport transport.PullTransport
	engine    *dblog.Engine
	identity  *identity.KeyPair
	address   string

	head      *chain.PersonalEntry
	syncing   bool
	appending bool
}

// NewPersonalController wires a controller for db, backed by engine and
// reaching the server through t, signing/encrypting with kp.
func NewPersonalController(db string, t transport.PullTransport, engine *dblog.Engine, kp *identity.KeyPair) (*PersonalController, error) {
	addr, err := identity.ChecksumAddress(kp.Public)
	if err != nil {
		return nil, err
	}
	return &PersonalController{db: db, transport: t, engine: engine, identity: kp, address: addr}, nil
}

// Initialize loads the durable chain head recorded alongside the DBLog
// replay cursor, warming the controller to resume from where it left off.
func (c *PersonalController) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok, err := c.engine.GetMeta(ctx, personalHeadMetaKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var head chain.PersonalEntry
	if err := json.Unmarshal([]byte(raw), &head); err != nil {
		return apperr.Wrap(500, apperr.CodeSerialization, "failed to decode stored chain head", err)
	}
	c.head = &head
	return nil
}

// Head returns the current local chain head, or nil if the chain is empty.
func (c *PersonalController) Head() *chain.PersonalEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head == nil {
		return nil
	}
	cp := *c.head
	return &cp
}

// Sync fetches the server's head; if the local head trails, it pulls and
// applies entries page by page until caught up. Returns the set of table
// names touched by newly applied entries.
func (c *PersonalController) Sync(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	if c.syncing {
		c.mu.Unlock()
		return nil, apperr.New(409, apperr.CodeOperationInProgress, "sync already in progress")
	}
	c.syncing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
	}()

	serverHead, err := c.transport.PersonalHead(ctx, c.db)
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
		entries, hasMore, err := c.transport.PersonalList(ctx, c.db, next, pageSize)
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

// applyEntry verifies e against the local head, decrypts it, and feeds its
// DBLog actions to the replay engine, advancing the head only on success.
func (c *PersonalController) applyEntry(ctx context.Context, e *chain.PersonalEntry) ([]string, error) {
	c.mu.Lock()
	head := c.head
	c.mu.Unlock()

	outcome, err := chain.ValidatePersonalEntry(head, e, c.address)
	if err != nil {
		return nil, err
	}
	switch outcome {
	case chain.OutcomeDuplicate:
		return nil, nil
	case chain.OutcomeGap:
		return nil, apperr.New(409, apperr.CodeGapDetected, "chain has a gap before index "+itoa(e.Index))
	}

	plaintext := e.Content
	if plaintext == "" {
		pt, err := identity.DecryptECIES(c.identity, e.Ciphertext)
		if err != nil {
			return nil, err
		}
		plaintext = string(pt)
	}

	var actions []dblog.Action
	if err := json.Unmarshal([]byte(plaintext), &actions); err != nil {
		return nil, apperr.Wrap(400, apperr.CodeInvalidJSON, "entry content is not a valid DBLog action list", err)
	}

	tables, err := c.engine.ApplyEntry(ctx, e.Index, actions)
	if err != nil {
		return nil, err
	}

	headJSON, err := json.Marshal(e)
	if err != nil {
		return nil, apperr.Wrap(500, apperr.CodeSerialization, "failed to serialize chain head", err)
	}
	if err := c.engine.SetMeta(ctx, personalHeadMetaKey, string(headJSON)); err != nil {
		return nil, err
	}

	c.mu.Lock()
	cp := *e
	c.head = &cp
	c.mu.Unlock()
	return tables, nil
}

// Append assembles a DBLog action list into a new entry, encrypts it to the
// owner's own key, signs it, submits it to the transport, and — on success —
// feeds it through the same pipeline used for received entries, so the
// local database reaches the same state deterministically.
func (c *PersonalController) Append(ctx context.Context, actions []dblog.Action) ([]string, error) {
	c.mu.Lock()
	if c.appending {
		c.mu.Unlock()
		return nil, apperr.New(409, apperr.CodeOperationInProgress, "append already in progress")
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
	c.mu.Unlock()

	ciphertext, err := identity.EncryptECIES(c.identity.Public, content)
	if err != nil {
		return nil, err
	}
	nonce, err := chain.NewNonce()
	if err != nil {
		return nil, err
	}
	canonical := chain.CanonicalString(index, prevHash, ciphertext, nonce)
	hash := chain.EntryHash(canonical)
	sig, err := identity.Sign(c.identity, []byte(canonical))
	if err != nil {
		return nil, err
	}

	entry := chain.PersonalEntry{
		Index:      index,
		PrevHash:   prevHash,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		Hash:       hash,
		Signature:  hex.EncodeToString(sig),
		CreatedAt:  time.Now().UnixMilli(),
	}

	accepted, err := c.transport.AppendPersonal(ctx, c.db, entry)
	if err != nil {
		return nil, err
	}
	return c.applyEntry(ctx, accepted)
}

// HandlePush processes an out-of-band personal-log event delivered by the
// transport's push stream. When a gap is detected, it triggers a background
// sync instead of failing.
func (c *PersonalController) HandlePush(ctx context.Context, ev transport.Event) ([]string, error) {
	if ev.Type != transport.EventNewLog || ev.Entry == nil {
		return nil, nil
	}
	tables, err := c.applyEntry(ctx, ev.Entry)
	if apperr.IsCode(err, apperr.CodeGapDetected) {
		go func() { _, _ = c.Sync(context.Background()) }()
		return nil, nil
	}
	return tables, err
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
