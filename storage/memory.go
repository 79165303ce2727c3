package storage

import (
	"sync"

	"github.com/hashledger/hashledger/bbs"
)

// MemoryStore is an in-memory KeyStateStore. It stores each group's state,
// credential, and public key in its own map, making it useful for tests and
// short-lived processes. Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	states      map[string]GroupState
	credentials map[string]*bbs.MemberCredential
	publicKeys  map[string]bbs.GroupPublicKey
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:      make(map[string]GroupState),
		credentials: make(map[string]*bbs.MemberCredential),
		publicKeys:  make(map[string]bbs.GroupPublicKey),
	}
}

func (m *MemoryStore) SaveGroupState(groupID string, state GroupState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[groupID] = state
	return nil
}

func (m *MemoryStore) LoadGroupState(groupID string) (GroupState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[groupID]
	return s, ok, nil
}

func (m *MemoryStore) DeleteGroupState(groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, groupID)
	return nil
}

func (m *MemoryStore) ListGroupIDs() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MemoryStore) SaveCredential(groupID string, cred *bbs.MemberCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[groupID] = cred
	return nil
}

func (m *MemoryStore) LoadCredential(groupID string) (*bbs.MemberCredential, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[groupID]
	return c, ok, nil
}

func (m *MemoryStore) DeleteCredential(groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials, groupID)
	return nil
}

func (m *MemoryStore) SavePublicKey(groupID string, pub bbs.GroupPublicKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publicKeys[groupID] = pub
	return nil
}

func (m *MemoryStore) LoadPublicKey(groupID string) (bbs.GroupPublicKey, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.publicKeys[groupID]
	return p, ok, nil
}

func (m *MemoryStore) DeletePublicKey(groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.publicKeys, groupID)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

var _ KeyStateStore = (*MemoryStore)(nil)
